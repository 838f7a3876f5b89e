// Package service is the facade the surrounding API layer calls into. It
// owns the wiring of catalog, engines, evidence store, and report builder;
// it does not own HTTP.
package service

import (
	"context"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/audit"
	"github.com/avelinecloud/compliancemgr/internal/config"
	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/detect"
	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/evidence"
	"github.com/avelinecloud/compliancemgr/internal/logger"
	"github.com/avelinecloud/compliancemgr/internal/metrics"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	awsprovider "github.com/avelinecloud/compliancemgr/internal/providers/aws"
	azprovider "github.com/avelinecloud/compliancemgr/internal/providers/azure"
	"github.com/avelinecloud/compliancemgr/internal/remediation"
	"github.com/avelinecloud/compliancemgr/internal/report"
	"github.com/avelinecloud/compliancemgr/internal/store"
)

// DefaultAdapterFactory builds the production adapter for an account.
func DefaultAdapterFactory(ctx context.Context, provider string, region string, credentials map[string]interface{}) (providers.Adapter, error) {
	switch models.Provider(provider) {
	case models.ProviderAWS:
		return awsprovider.New(ctx, region, credentials)
	case models.ProviderAzure:
		return azprovider.New(ctx, credentials)
	default:
		return nil, errors.Newf(errors.KindValidation, "unsupported provider %q", provider)
	}
}

// Service bundles the core operations.
type Service struct {
	store       *store.Store
	catalog     *controls.Catalog
	auditLog    *audit.Writer
	detection   *detect.Engine
	remediation *remediation.Engine
	reports     *report.Builder
	log         logger.Logger
}

// New wires a Service over an already-populated catalog.
func New(s *store.Store, catalog *controls.Catalog, adapters providers.Factory,
	ev *evidence.Store, cfg config.ScanConfig, m *metrics.Metrics) *Service {
	auditLog := audit.NewWriter(s)
	return &Service{
		store:       s,
		catalog:     catalog,
		auditLog:    auditLog,
		detection:   detect.NewEngine(s, catalog, auditLog, adapters, cfg, m),
		remediation: remediation.NewEngine(s, catalog, auditLog, adapters, ev, cfg, m),
		reports:     report.NewBuilder(s, auditLog, ev, m),
		log:         logger.New("service"),
	}
}

// Store exposes the repositories, for the scheduler and callers that need
// read access.
func (s *Service) Store() *store.Store {
	return s.store
}

// Catalog exposes the control registry.
func (s *Service) Catalog() *controls.Catalog {
	return s.catalog
}

// SyncCatalog writes the catalog's persistable mirror rows, called once at
// startup after the catalog freezes.
func (s *Service) SyncCatalog(ctx context.Context) error {
	for _, c := range s.catalog.All() {
		row := store.ControlRow{
			ControlID:        c.ControlID,
			Title:            c.Title,
			Description:      c.Description,
			Category:         c.Category,
			Severity:         c.Severity,
			Provider:         c.Provider,
			Frameworks:       c.Frameworks,
			CanAutoRemediate: c.CanAutoRemediate,
			RemediationRisk:  c.RemediationRisk,
		}
		if err := s.store.UpsertControl(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// StartScanInput parameterizes StartScan.
type StartScanInput struct {
	AccountID   int64
	ControlIDs  []string
	NonBlocking bool
}

// StartScan runs one scan and returns its summary.
func (s *Service) StartScan(ctx context.Context, in StartScanInput) (*models.ScanResult, error) {
	if in.AccountID == 0 {
		return nil, errors.New(errors.KindValidation, "accountId is required")
	}
	return s.detection.StartScan(ctx, in.AccountID, detect.ScanOptions{
		ControlIDs:  in.ControlIDs,
		NonBlocking: in.NonBlocking,
	})
}

// ScoreInput scopes GetComplianceScore. Exactly one of the fields is set.
type ScoreInput struct {
	AccountID      int64
	OrganizationID int64
}

// GetComplianceScore derives the score for the scope.
func (s *Service) GetComplianceScore(ctx context.Context, in ScoreInput) (*models.ComplianceScore, error) {
	if in.AccountID == 0 && in.OrganizationID == 0 {
		return nil, errors.New(errors.KindValidation, "accountId or organizationId is required")
	}
	return s.store.ComplianceScore(ctx, store.ScoreScope{
		AccountID:      in.AccountID,
		OrganizationID: in.OrganizationID,
	})
}

// ListFindings returns finding projections matching the filter.
func (s *Service) ListFindings(ctx context.Context, filter store.FindingFilter) ([]*models.Finding, error) {
	return s.store.ListFindings(ctx, filter)
}

// RemediateInput parameterizes Remediate.
type RemediateInput struct {
	FindingID  int64
	DryRun     bool
	ApprovedBy string
	Verify     bool
}

// Remediate runs the remediation state machine for one finding.
func (s *Service) Remediate(ctx context.Context, in RemediateInput) (*remediation.Result, error) {
	if in.FindingID == 0 {
		return nil, errors.New(errors.KindValidation, "findingId is required")
	}
	return s.remediation.Remediate(ctx, in.FindingID, remediation.Options{
		DryRun:     in.DryRun,
		ApprovedBy: in.ApprovedBy,
		Verify:     in.Verify,
	})
}

// RollbackInput parameterizes Rollback.
type RollbackInput struct {
	FindingID int64
	Actor     string
}

// Rollback reverses an executed remediation.
func (s *Service) Rollback(ctx context.Context, in RollbackInput) (*remediation.Result, error) {
	if in.FindingID == 0 {
		return nil, errors.New(errors.KindValidation, "findingId is required")
	}
	return s.remediation.Rollback(ctx, in.FindingID, in.Actor)
}

// ExportInput parameterizes ExportReport.
type ExportInput struct {
	OrganizationID int64
	StartDate      time.Time
	EndDate        time.Time
	Format         report.Format
}

// ExportReport materializes and stores the window's report artifact.
func (s *Service) ExportReport(ctx context.Context, in ExportInput) (*report.Result, error) {
	if in.OrganizationID == 0 {
		return nil, errors.New(errors.KindValidation, "organizationId is required")
	}
	format := in.Format
	if format == "" {
		format = report.FormatPDF
	}
	return s.reports.Export(ctx, in.OrganizationID, in.StartDate, in.EndDate, format)
}

// ListAuditEntries returns audit entries matching the filter.
func (s *Service) ListAuditEntries(ctx context.Context, filter store.AuditFilter) ([]*models.AuditEntry, error) {
	return s.store.ListAuditEntries(ctx, filter)
}

// VerifyAuditChain replays an organization's hash chain.
func (s *Service) VerifyAuditChain(ctx context.Context, organizationID int64) error {
	return s.auditLog.VerifyChain(ctx, organizationID)
}
