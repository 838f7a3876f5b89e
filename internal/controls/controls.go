// Package controls defines the declarative compliance control unit and the
// process-wide catalog. A control is a descriptor record plus a function
// table: detect is required, remediate and rollback are optional
// capabilities.
package controls

import (
	"context"
	"sort"
	"sync"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
)

// DetectFunc evaluates one control against the account behind the adapter.
// It is read-only and returns one seed per violating resource; an empty
// result means the control passes.
type DetectFunc func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error)

// RemediateFunc fixes one finding. Implementations are idempotent and fill
// RollbackData with everything needed to restore the prior state without
// reading live state again. With dryRun set, no cloud mutation happens and
// AfterState is a projection.
type RemediateFunc func(ctx context.Context, adapter providers.Adapter, finding *models.Finding, dryRun bool) (*models.RemediationOutcome, error)

// RollbackFunc restores the state captured in rollbackData. Idempotent.
type RollbackFunc func(ctx context.Context, adapter providers.Adapter, rollbackData map[string]interface{}) (*models.RemediationOutcome, error)

// Control is one registered compliance control. Immutable once registered.
type Control struct {
	ControlID        string
	Title            string
	Description      string
	Severity         models.Severity
	Category         string
	Provider         models.Provider
	Frameworks       map[string][]string
	CanAutoRemediate bool
	RemediationRisk  models.Risk

	Detect    DetectFunc
	Remediate RemediateFunc
	Rollback  RollbackFunc
}

// Remediable reports whether the control carries a remediation capability.
func (c *Control) Remediable() bool {
	return c.Remediate != nil
}

// Catalog is the process-wide control registry. It is populated at startup
// and read-only afterwards; Freeze enforces the cutoff.
type Catalog struct {
	mu       sync.RWMutex
	frozen   bool
	controls map[string]*Control
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{controls: make(map[string]*Control)}
}

// Register adds a control. Duplicate ids and registration after Freeze are
// programming errors surfaced as validation failures.
func (c *Catalog) Register(control *Control) error {
	if control.ControlID == "" {
		return errors.NewValidation("control id is required")
	}
	if control.Detect == nil {
		return errors.Newf(errors.KindValidation, "control %s has no detect", control.ControlID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return errors.Newf(errors.KindValidation, "catalog is frozen, cannot register %s", control.ControlID)
	}
	if _, exists := c.controls[control.ControlID]; exists {
		return errors.Newf(errors.KindValidation, "control %s already registered", control.ControlID)
	}
	c.controls[control.ControlID] = control
	return nil
}

// Freeze marks the catalog read-only.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// Get returns a control by id.
func (c *Catalog) Get(controlID string) (*Control, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	control, ok := c.controls[controlID]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "control %s not found", controlID)
	}
	return control, nil
}

// ByProvider returns the provider's controls sorted by id.
func (c *Catalog) ByProvider(provider models.Provider) []*Control {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []*Control
	for _, control := range c.controls {
		if control.Provider == provider {
			result = append(result, control)
		}
	}
	sortControls(result)
	return result
}

// ByFramework returns the controls mapped to a compliance framework,
// sorted by id.
func (c *Catalog) ByFramework(framework string) []*Control {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []*Control
	for _, control := range c.controls {
		if _, ok := control.Frameworks[framework]; ok {
			result = append(result, control)
		}
	}
	sortControls(result)
	return result
}

// All returns every registered control sorted by id.
func (c *Catalog) All() []*Control {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Control, 0, len(c.controls))
	for _, control := range c.controls {
		result = append(result, control)
	}
	sortControls(result)
	return result
}

// Len returns the number of registered controls.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.controls)
}

func sortControls(cs []*Control) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ControlID < cs[j].ControlID })
}

// Select intersects a provider's controls with an optional explicit id
// filter. An empty filter selects all of the provider's controls; unknown
// ids in the filter are reported.
func (c *Catalog) Select(provider models.Provider, controlIDs []string) ([]*Control, error) {
	available := c.ByProvider(provider)
	if len(controlIDs) == 0 {
		return available, nil
	}

	byID := make(map[string]*Control, len(available))
	for _, control := range available {
		byID[control.ControlID] = control
	}

	var selected []*Control
	for _, id := range controlIDs {
		control, ok := byID[id]
		if !ok {
			return nil, errors.Newf(errors.KindNotFound, "control %s not registered for provider %s", id, provider)
		}
		selected = append(selected, control)
	}
	sortControls(selected)
	return selected, nil
}
