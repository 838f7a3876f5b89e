// Package remediation implements the per-finding state machine: dry-run,
// approval-gated execution, persisted rollback tokens, and idempotent
// retries. Work serializes per finding through an optimistic claim on
// remediation_status; findings remediate in parallel with each other.
package remediation

import (
	"context"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/audit"
	"github.com/avelinecloud/compliancemgr/internal/config"
	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/evidence"
	"github.com/avelinecloud/compliancemgr/internal/logger"
	"github.com/avelinecloud/compliancemgr/internal/metrics"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	"github.com/avelinecloud/compliancemgr/internal/store"
)

// Engine executes remediations and rollbacks.
type Engine struct {
	store    *store.Store
	catalog  *controls.Catalog
	auditLog *audit.Writer
	adapters providers.Factory
	evidence *evidence.Store
	cfg      config.ScanConfig
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewEngine creates a remediation engine
func NewEngine(s *store.Store, catalog *controls.Catalog, auditLog *audit.Writer,
	adapters providers.Factory, ev *evidence.Store, cfg config.ScanConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		store:    s,
		catalog:  catalog,
		auditLog: auditLog,
		adapters: adapters,
		evidence: ev,
		cfg:      cfg,
		metrics:  m,
		log:      logger.New("remediation"),
	}
}

// Options tunes one Remediate call.
type Options struct {
	DryRun     bool
	ApprovedBy string
	// Verify re-queries the adapter before declaring a noop on an
	// already-FIXED finding.
	Verify bool
}

// Result is the outcome surfaced to the caller.
type Result struct {
	Success     bool                   `json:"success"`
	DryRun      bool                   `json:"dry_run"`
	Noop        bool                   `json:"noop"`
	FindingID   int64                  `json:"finding_id"`
	ControlID   string                 `json:"control_id"`
	ResourceID  string                 `json:"resource_id,omitempty"`
	BeforeState map[string]interface{} `json:"before_state,omitempty"`
	AfterState  map[string]interface{} `json:"after_state,omitempty"`
	Message     string                 `json:"message"`
}

// Remediate runs the state machine for one finding. Retrying an already
// remediated finding returns noop=true without re-applying or emitting a
// second transition audit entry.
func (e *Engine) Remediate(ctx context.Context, findingID int64, opts Options) (*Result, error) {
	finding, err := e.store.GetFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}

	control, err := e.catalog.Get(finding.ControlID)
	if err != nil {
		return nil, err
	}

	account, err := e.store.GetAccount(ctx, finding.CloudAccountID)
	if err != nil {
		return nil, err
	}

	// Idempotence: the target state already holds.
	if finding.Status == models.StatusFixed {
		if opts.Verify {
			if err := e.verifyFixed(ctx, account, control, finding); err != nil {
				return nil, err
			}
		}
		return &Result{
			Success:    true,
			DryRun:     opts.DryRun,
			Noop:       true,
			FindingID:  finding.ID,
			ControlID:  finding.ControlID,
			ResourceID: finding.ResourceID,
			Message:    "finding already remediated",
		}, nil
	}

	if !finding.Remediable() {
		return nil, errors.Newf(errors.KindConflict, "finding %d is in state %s, not remediable", findingID, finding.Status)
	}
	if !control.Remediable() {
		return nil, errors.Newf(errors.KindValidation, "control %s does not support remediation", control.ControlID)
	}
	if !opts.DryRun && opts.ApprovedBy == "" {
		return nil, errors.New(errors.KindValidation, "approvedBy is required for non-dry-run remediation")
	}

	adapter, err := e.adapters(ctx, string(account.Provider), account.Region, account.Credentials)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "constructing cloud adapter")
	}

	if opts.DryRun {
		return e.dryRun(ctx, adapter, control, account, finding)
	}
	return e.execute(ctx, adapter, control, account, finding, opts.ApprovedBy)
}

// verifyFixed re-runs the control's detection and confirms the finding's
// resource no longer violates.
func (e *Engine) verifyFixed(ctx context.Context, account *models.CloudAccount,
	control *controls.Control, finding *models.Finding) error {
	adapter, err := e.adapters(ctx, string(account.Provider), account.Region, account.Credentials)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "constructing cloud adapter")
	}
	seeds, err := control.Detect(ctx, adapter)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "re-verifying resource state")
	}
	for _, s := range seeds {
		if s.ResourceID == finding.ResourceID {
			return errors.Newf(errors.KindConflict,
				"finding %d is marked FIXED but resource %s still violates %s",
				finding.ID, finding.ResourceID, control.ControlID)
		}
	}
	return nil
}

// dryRun simulates the remediation. The finding is not mutated; one
// remediation audit entry records the projection.
func (e *Engine) dryRun(ctx context.Context, adapter providers.Adapter, control *controls.Control,
	account *models.CloudAccount, finding *models.Finding) (*Result, error) {

	outcome, err := e.invokeRemediate(ctx, adapter, control, finding, true)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "dry-run remediation failed")
	}

	auditErr := e.auditLog.Append(ctx, &models.AuditEntry{
		EventType:      models.EventRemediation,
		Action:         "Dry-run remediation for " + finding.ControlID,
		Actor:          "system",
		OrganizationID: account.OrganizationID,
		CloudAccountID: account.ID,
		ControlID:      finding.ControlID,
		ResourceID:     finding.ResourceID,
		FindingID:      finding.ID,
		BeforeState:    outcome.BeforeState,
		AfterState:     outcome.AfterState,
		EventData: map[string]interface{}{
			"dry_run":    true,
			"success":    true,
			"finding_id": finding.ID,
		},
	})
	if auditErr != nil {
		return nil, auditErr
	}

	if e.metrics != nil {
		e.metrics.RemediationsTotal.WithLabelValues("success", "true").Inc()
	}

	return &Result{
		Success:     true,
		DryRun:      true,
		FindingID:   finding.ID,
		ControlID:   finding.ControlID,
		ResourceID:  finding.ResourceID,
		BeforeState: outcome.BeforeState,
		AfterState:  outcome.AfterState,
		Message:     "remediation simulated successfully",
	}, nil
}

// execute applies the remediation for real. The finding transition and its
// audit entry commit in one transaction.
func (e *Engine) execute(ctx context.Context, adapter providers.Adapter, control *controls.Control,
	account *models.CloudAccount, finding *models.Finding, approvedBy string) (*Result, error) {

	if err := e.store.ClaimRemediation(ctx, finding.ID); err != nil {
		return nil, err
	}

	outcome, err := e.invokeRemediate(ctx, adapter, control, finding, false)
	if err != nil || !outcome.Success {
		message := "remediation failed"
		if err != nil {
			message = err.Error()
		} else if outcome.ErrorMessage != "" {
			message = outcome.ErrorMessage
		}
		if failErr := e.recordFailure(ctx, account, finding, message); failErr != nil {
			e.releaseClaim(ctx, finding.ID)
			return nil, failErr
		}
		if e.metrics != nil {
			e.metrics.RemediationsTotal.WithLabelValues("failure", "false").Inc()
		}
		return &Result{
			Success:    false,
			FindingID:  finding.ID,
			ControlID:  finding.ControlID,
			ResourceID: finding.ResourceID,
			Message:    message,
		}, nil
	}

	executedAt := time.Now().UTC()

	// Snapshot before/after to object storage; the pointer lands on the
	// finding with the transition. Storage being down degrades to a
	// finding without an external pointer, never to a lost transition.
	evidenceKey := ""
	if e.evidence.Available() {
		key, evErr := e.evidence.StoreSnapshot(ctx, finding.ID, executedAt, map[string]interface{}{
			"before": outcome.BeforeState,
			"after":  outcome.AfterState,
		})
		if evErr != nil {
			e.log.Warn("evidence snapshot failed", logger.Int64("finding_id", finding.ID), logger.Error(evErr))
		} else {
			evidenceKey = key
		}
	}

	tx, err := e.store.DB().BeginTx(ctx)
	if err != nil {
		e.releaseClaim(ctx, finding.ID)
		return nil, errors.Wrap(err, errors.KindInternal, "beginning remediation transaction")
	}
	defer tx.Rollback()

	if err := e.store.FinalizeRemediationTx(ctx, tx, finding.ID, approvedBy, executedAt,
		outcome.AfterState, outcome.RollbackData, evidenceKey); err != nil {
		e.releaseClaim(ctx, finding.ID)
		return nil, err
	}

	if err := e.auditLog.AppendTx(ctx, tx, &models.AuditEntry{
		EventType:      models.EventRemediation,
		Action:         "Executed remediation for " + finding.ControlID,
		Actor:          approvedBy,
		OrganizationID: account.OrganizationID,
		CloudAccountID: account.ID,
		ControlID:      finding.ControlID,
		ResourceID:     finding.ResourceID,
		FindingID:      finding.ID,
		BeforeState:    outcome.BeforeState,
		AfterState:     outcome.AfterState,
		EventData: map[string]interface{}{
			"dry_run":      false,
			"success":      true,
			"finding_id":   finding.ID,
			"evidence_key": evidenceKey,
		},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		e.releaseClaim(ctx, finding.ID)
		return nil, errors.Wrap(err, errors.KindInternal, "committing remediation transaction")
	}

	if e.metrics != nil {
		e.metrics.RemediationsTotal.WithLabelValues("success", "false").Inc()
	}
	e.log.Info("remediation executed",
		logger.Int64("finding_id", finding.ID),
		logger.String("control_id", finding.ControlID),
		logger.String("approved_by", approvedBy))

	return &Result{
		Success:     true,
		FindingID:   finding.ID,
		ControlID:   finding.ControlID,
		ResourceID:  finding.ResourceID,
		BeforeState: outcome.BeforeState,
		AfterState:  outcome.AfterState,
		Message:     "remediation executed successfully",
	}, nil
}

// releaseClaim returns a claimed finding to failed so a later retry can
// claim it again. The cloud change already applied; the retry's noop
// detection or the control's idempotence absorbs it.
func (e *Engine) releaseClaim(ctx context.Context, findingID int64) {
	if err := e.store.ReleaseRemediation(ctx, findingID, models.RemediationFailed); err != nil {
		e.log.Error("releasing remediation claim", logger.Int64("finding_id", findingID), logger.Error(err))
	}
}

func (e *Engine) invokeRemediate(ctx context.Context, adapter providers.Adapter, control *controls.Control,
	finding *models.Finding, dryRun bool) (*models.RemediationOutcome, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.RemediationTimeout)
	defer cancel()
	return control.Remediate(stepCtx, adapter, finding, dryRun)
}

// recordFailure persists the failed attempt and its audit entry together.
func (e *Engine) recordFailure(ctx context.Context, account *models.CloudAccount, finding *models.Finding, message string) error {
	tx, err := e.store.DB().BeginTx(ctx)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "beginning remediation failure transaction")
	}
	defer tx.Rollback()

	if err := e.store.FailRemediationTx(ctx, tx, finding.ID, map[string]interface{}{"error": message}); err != nil {
		return err
	}
	if err := e.auditLog.AppendTx(ctx, tx, &models.AuditEntry{
		EventType:      models.EventRemediation,
		Action:         "Failed remediation for " + finding.ControlID,
		Actor:          "system",
		OrganizationID: account.OrganizationID,
		CloudAccountID: account.ID,
		ControlID:      finding.ControlID,
		ResourceID:     finding.ResourceID,
		FindingID:      finding.ID,
		Outcome:        models.OutcomeFailure,
		ErrorMessage:   message,
		EventData: map[string]interface{}{
			"dry_run":    false,
			"success":    false,
			"finding_id": finding.ID,
		},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "committing remediation failure")
	}
	return nil
}

// Rollback reverses an executed remediation using the persisted token.
// evidence_after and rollback_data remain behind as forensic record.
func (e *Engine) Rollback(ctx context.Context, findingID int64, actor string) (*Result, error) {
	if actor == "" {
		return nil, errors.New(errors.KindValidation, "actor is required for rollback")
	}

	finding, err := e.store.GetFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}

	// Idempotence: already rolled back.
	if finding.RemediationStatus == models.RemediationRolledBack {
		return &Result{
			Success:    true,
			Noop:       true,
			FindingID:  finding.ID,
			ControlID:  finding.ControlID,
			ResourceID: finding.ResourceID,
			Message:    "remediation already rolled back",
		}, nil
	}

	if finding.Status != models.StatusFixed {
		return nil, errors.Newf(errors.KindConflict, "finding %d is in state %s, not rollback-able", findingID, finding.Status)
	}
	if finding.RollbackData == nil {
		return nil, errors.Newf(errors.KindConflict, "finding %d has no rollback data", findingID)
	}

	control, err := e.catalog.Get(finding.ControlID)
	if err != nil {
		return nil, err
	}
	if control.Rollback == nil {
		return nil, errors.Newf(errors.KindValidation, "control %s does not support rollback", control.ControlID)
	}

	account, err := e.store.GetAccount(ctx, finding.CloudAccountID)
	if err != nil {
		return nil, err
	}
	adapter, err := e.adapters(ctx, string(account.Provider), account.Region, account.Credentials)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "constructing cloud adapter")
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.RemediationTimeout)
	outcome, err := control.Rollback(stepCtx, adapter, finding.RollbackData)
	cancel()
	if err != nil || !outcome.Success {
		message := "rollback failed"
		if err != nil {
			message = err.Error()
		} else if outcome.ErrorMessage != "" {
			message = outcome.ErrorMessage
		}
		if e.metrics != nil {
			e.metrics.RollbacksTotal.WithLabelValues("failure").Inc()
		}
		return &Result{
			Success:    false,
			FindingID:  finding.ID,
			ControlID:  finding.ControlID,
			ResourceID: finding.ResourceID,
			Message:    message,
		}, nil
	}

	rolledBackAt := time.Now().UTC()
	details := finding.RemediationDetails
	if details == nil {
		details = make(map[string]interface{})
	}
	details["rolled_back_at"] = rolledBackAt.Format(time.RFC3339)
	details["rolled_back_by"] = actor

	tx, err := e.store.DB().BeginTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "beginning rollback transaction")
	}
	defer tx.Rollback()

	if err := e.store.FinalizeRollbackTx(ctx, tx, finding.ID, details); err != nil {
		return nil, err
	}
	if err := e.auditLog.AppendTx(ctx, tx, &models.AuditEntry{
		EventType:      models.EventRollback,
		Action:         "Rolled back remediation for " + finding.ControlID,
		Actor:          actor,
		OrganizationID: account.OrganizationID,
		CloudAccountID: account.ID,
		ControlID:      finding.ControlID,
		ResourceID:     finding.ResourceID,
		FindingID:      finding.ID,
		BeforeState:    finding.EvidenceAfter,
		AfterState:     finding.EvidenceBefore,
		EventData: map[string]interface{}{
			"finding_id": finding.ID,
			"success":    true,
		},
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "committing rollback transaction")
	}

	if e.metrics != nil {
		e.metrics.RollbacksTotal.WithLabelValues("success").Inc()
	}
	e.log.Info("remediation rolled back",
		logger.Int64("finding_id", finding.ID),
		logger.String("control_id", finding.ControlID),
		logger.String("actor", actor))

	return &Result{
		Success:    true,
		FindingID:  finding.ID,
		ControlID:  finding.ControlID,
		ResourceID: finding.ResourceID,
		Message:    "remediation rolled back successfully",
	}, nil
}
