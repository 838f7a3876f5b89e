// Package detect implements the scan orchestrator. A scan fans detection
// out over the selected controls against one account's adapter, persists
// findings, and emits the detection and scan audit entries.
package detect

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/avelinecloud/compliancemgr/internal/audit"
	"github.com/avelinecloud/compliancemgr/internal/config"
	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/logger"
	"github.com/avelinecloud/compliancemgr/internal/metrics"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	"github.com/avelinecloud/compliancemgr/internal/store"
)

// Engine orchestrates scans. Scans across accounts run in parallel under a
// global cap; controls within a scan run under a per-scan pool.
type Engine struct {
	store    *store.Store
	catalog  *controls.Catalog
	auditLog *audit.Writer
	adapters providers.Factory
	cfg      config.ScanConfig
	scanSem  *semaphore.Weighted
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewEngine creates a detection engine
func NewEngine(s *store.Store, catalog *controls.Catalog, auditLog *audit.Writer,
	adapters providers.Factory, cfg config.ScanConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		store:    s,
		catalog:  catalog,
		auditLog: auditLog,
		adapters: adapters,
		cfg:      cfg,
		scanSem:  semaphore.NewWeighted(int64(cfg.GlobalMaxScans)),
		metrics:  m,
		log:      logger.New("detect"),
	}
}

// ScanOptions tunes one StartScan call.
type ScanOptions struct {
	// ControlIDs restricts the scan; empty means all provider controls.
	ControlIDs []string
	// NonBlocking fails fast instead of waiting when the global scan cap
	// is saturated.
	NonBlocking bool
}

// controlOutcome carries one control's results to the aggregation step.
type controlOutcome struct {
	control  *controls.Control
	findings []*models.Finding
}

// StartScan runs one scan to completion and returns its summary. At most
// one scan is active per account; a second request conflicts.
func (e *Engine) StartScan(ctx context.Context, accountID int64, opts ScanOptions) (*models.ScanResult, error) {
	if opts.NonBlocking {
		if !e.scanSem.TryAcquire(1) {
			return nil, errors.New(errors.KindConflict, "scan capacity saturated")
		}
	} else if err := e.scanSem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "waiting for scan capacity")
	}
	defer e.scanSem.Release(1)

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	selected, err := e.catalog.Select(account.Provider, opts.ControlIDs)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, errors.Newf(errors.KindValidation, "no controls registered for provider %s", account.Provider)
	}

	if err := e.store.TryBeginScan(ctx, accountID); err != nil {
		return nil, err
	}

	scanID := uuid.NewString()
	scanStart := time.Now().UTC()
	log := e.log.WithScanID(scanID).WithFields(logger.Int64("account_id", accountID))
	log.Info("starting scan", logger.Int("controls", len(selected)))

	scanCtx, cancel := context.WithTimeout(ctx, e.cfg.ScanTimeout)
	defer cancel()

	summary, scanErr := e.runScan(scanCtx, log, account, selected, scanID, scanStart)

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(scanStart)

	status := models.ScanSuccess
	outcome := models.OutcomeSuccess
	var errMsg string
	if scanErr != nil {
		status = models.ScanFailed
		outcome = models.OutcomeFailure
		errMsg = scanErr.Error()
	}

	if err := e.store.FinishScan(context.WithoutCancel(ctx), accountID, status, completedAt); err != nil {
		log.Error("failed to record scan outcome", logger.Error(err))
	}

	auditErr := e.auditLog.Append(context.WithoutCancel(ctx), &models.AuditEntry{
		EventType:      models.EventScan,
		Action:         "Completed scan " + scanID,
		Actor:          "system",
		OrganizationID: account.OrganizationID,
		CloudAccountID: account.ID,
		Outcome:        outcome,
		ErrorMessage:   errMsg,
		EventData: map[string]interface{}{
			"scan_id":          scanID,
			"controls_run":     summary.TotalControls,
			"pass":             summary.Pass,
			"fail":             summary.Fail,
			"error":            summary.Error,
			"total_findings":   summary.TotalFindings,
			"duration_seconds": duration.Seconds(),
		},
	})
	if auditErr != nil {
		log.Error("failed to append scan audit entry", logger.Error(auditErr))
	}

	if e.metrics != nil {
		e.metrics.ScansTotal.WithLabelValues(string(status)).Inc()
		e.metrics.ScanDuration.Observe(duration.Seconds())
	}

	if scanErr != nil {
		log.Error("scan failed", logger.Error(scanErr), logger.Duration("duration", duration))
		return nil, scanErr
	}

	log.Info("scan completed",
		logger.Int("pass", summary.Pass),
		logger.Int("fail", summary.Fail),
		logger.Int("error", summary.Error),
		logger.Duration("duration", duration))

	return &models.ScanResult{
		ScanID:      scanID,
		AccountID:   accountID,
		Status:      "completed",
		Summary:     summary,
		StartedAt:   scanStart,
		CompletedAt: completedAt,
	}, nil
}

// runScan fans detection out over the control pool and persists results.
// Returns the summary and the orchestrator-level error, if any. Control
// failures never abort the scan; they become ERROR findings.
func (e *Engine) runScan(ctx context.Context, log logger.Logger, account *models.CloudAccount,
	selected []*controls.Control, scanID string, scanStart time.Time) (models.ScanSummary, error) {

	summary := models.ScanSummary{TotalControls: len(selected)}

	// The adapter is built once and shared read-only across the scan's
	// controls. A credential failure here short-circuits every control to
	// ERROR with the shared cause.
	adapter, adapterErr := e.adapters(ctx, string(account.Provider), account.Region, account.Credentials)

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.WorkersPerScan)

	for _, control := range selected {
		control := control
		group.Go(func() error {
			findings := e.detectOne(groupCtx, adapter, adapterErr, control, account, scanID, scanStart)

			// A cancelled scan lets in-flight detections finish but
			// discards their results.
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}

			if err := e.persistControlResults(groupCtx, account, findings); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for _, f := range findings {
				switch f.Status {
				case models.StatusPass:
					summary.Pass++
				case models.StatusFail:
					summary.Fail++
					summary.TotalFindings++
				case models.StatusError:
					summary.Error++
				}
				if e.metrics != nil {
					e.metrics.FindingsTotal.WithLabelValues(string(f.Status)).Inc()
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return summary, errors.Wrap(ctx.Err(), errors.KindInternal, "scan cancelled")
		}
		return summary, err
	}
	return summary, nil
}

// detectOne runs a single control detection under its own timeout and maps
// the outcome onto findings: N seeds to N FAIL rows, no seeds to one
// synthetic PASS row, a detect error to one ERROR row.
func (e *Engine) detectOne(ctx context.Context, adapter providers.Adapter, adapterErr error,
	control *controls.Control, account *models.CloudAccount, scanID string, scanStart time.Time) []*models.Finding {

	base := models.Finding{
		ScanID:         scanID,
		CloudAccountID: account.ID,
		ControlID:      control.ControlID,
		RiskLevel:      control.Severity,
		DetectedAt:     scanStart,
		Metadata: map[string]interface{}{
			"control_title":       control.Title,
			"control_description": control.Description,
			"category":            control.Category,
			"frameworks":          control.Frameworks,
		},
	}

	if adapterErr != nil {
		f := base
		f.Status = models.StatusError
		f.FindingDetails = map[string]interface{}{"error": adapterErr.Error()}
		return []*models.Finding{&f}
	}

	detectCtx, cancel := context.WithTimeout(ctx, e.cfg.ControlTimeout)
	defer cancel()

	started := time.Now()
	seeds, err := control.Detect(detectCtx, adapter)
	if e.metrics != nil {
		e.metrics.ControlDuration.WithLabelValues(control.ControlID).Observe(time.Since(started).Seconds())
	}

	if err != nil {
		e.log.Warn("control detection failed",
			logger.String("control_id", control.ControlID),
			logger.String("error_class", string(providers.ClassOf(err))),
			logger.Error(err))
		f := base
		f.Status = models.StatusError
		f.FindingDetails = map[string]interface{}{
			"error":       err.Error(),
			"error_class": string(providers.ClassOf(err)),
		}
		return []*models.Finding{&f}
	}

	if len(seeds) == 0 {
		f := base
		f.Status = models.StatusPass
		return []*models.Finding{&f}
	}

	findings := make([]*models.Finding, 0, len(seeds))
	for _, s := range seeds {
		f := base
		f.Status = models.StatusFail
		f.ResourceID = s.ResourceID
		f.ResourceType = s.ResourceType
		f.FindingDetails = s.FindingDetails
		f.EvidenceBefore = s.Evidence
		findings = append(findings, &f)
	}
	return findings
}

// persistControlResults writes one control's findings and their detection
// audit entries in a single transaction.
func (e *Engine) persistControlResults(ctx context.Context, account *models.CloudAccount, findings []*models.Finding) error {
	tx, err := e.store.DB().BeginTx(ctx)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "beginning detection transaction")
	}
	defer tx.Rollback()

	for _, f := range findings {
		if _, err := e.store.InsertFindingTx(ctx, tx, f); err != nil {
			return err
		}
		entry := &models.AuditEntry{
			EventType:      models.EventDetection,
			Action:         "Control " + f.ControlID + ": " + string(f.Status),
			Actor:          "system",
			OrganizationID: account.OrganizationID,
			CloudAccountID: account.ID,
			ControlID:      f.ControlID,
			ResourceID:     f.ResourceID,
			FindingID:      f.ID,
			EventData: map[string]interface{}{
				"scan_id":  f.ScanID,
				"status":   string(f.Status),
				"severity": string(f.RiskLevel),
				"finding":  f.FindingDetails,
			},
		}
		if err := e.auditLog.AppendTx(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "committing detection transaction")
	}
	return nil
}
