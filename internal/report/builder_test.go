package report

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinecloud/compliancemgr/internal/audit"
	"github.com/avelinecloud/compliancemgr/internal/database"
	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/store"
)

type fixture struct {
	store   *store.Store
	builder *Builder
	orgID   int64
	account int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.New(db)
	auditLog := audit.NewWriter(s)

	ctx := context.Background()
	orgID, err := s.CreateOrganization(ctx, &models.Organization{
		Name:                 "Acme",
		ComplianceFrameworks: []string{"ISO27001", "SOC2"},
		IsActive:             true,
	})
	require.NoError(t, err)
	accountID, err := s.CreateAccount(ctx, &models.CloudAccount{
		OrganizationID: orgID, Name: "prod", Provider: models.ProviderAWS,
		AccountID: "123456789012", Region: "us-east-1", IsActive: true,
	})
	require.NoError(t, err)

	// No evidence store configured: exports degrade to inline artifacts.
	return &fixture{
		store:   s,
		builder: NewBuilder(s, auditLog, nil, nil),
		orgID:   orgID,
		account: accountID,
	}
}

func (fx *fixture) insertFinding(t *testing.T, f *models.Finding) int64 {
	t.Helper()
	ctx := context.Background()
	f.CloudAccountID = fx.account
	if f.DetectedAt.IsZero() {
		f.DetectedAt = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	}
	tx, err := fx.store.DB().BeginTx(ctx)
	require.NoError(t, err)
	id, err := fx.store.InsertFindingTx(ctx, tx, f)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func (fx *fixture) appendAudit(t *testing.T, eventType models.EventType, action string) {
	t.Helper()
	require.NoError(t, audit.NewWriter(fx.store).Append(context.Background(), &models.AuditEntry{
		EventType:      eventType,
		Action:         action,
		OrganizationID: fx.orgID,
	}))
}

func TestExportJSONReport(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resolvedAt := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	fx.insertFinding(t, &models.Finding{
		ScanID: "scan-1", ControlID: "AWS-S3-001", Status: models.StatusFixed,
		RiskLevel: models.SeverityCritical, ResourceID: "arn:aws:s3:::b1",
		ResourceType: "S3::Bucket", ResolvedAt: &resolvedAt,
	})
	fx.insertFinding(t, &models.Finding{
		ScanID: "scan-1", ControlID: "AWS-IAM-001", Status: models.StatusPass,
		RiskLevel: models.SeverityCritical,
	})
	fx.appendAudit(t, models.EventDetection, "Control AWS-S3-001: FAIL")
	fx.appendAudit(t, models.EventRemediation, "Executed remediation for AWS-S3-001")
	fx.appendAudit(t, models.EventScan, "Completed scan scan-1")

	result, err := fx.builder.Export(ctx, fx.orgID, time.Time{}, time.Time{}, FormatJSON)
	require.NoError(t, err)
	assert.True(t, result.Degraded, "no object storage, artifact comes back inline")
	require.NotEmpty(t, result.Artifact)
	assert.Contains(t, result.ReportKey, "audit-reports/")

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Artifact, &report))

	summary := report["summary"].(map[string]interface{})
	assert.EqualValues(t, 1, summary["fixed"])
	assert.EqualValues(t, 1, summary["pass"])

	results := report["control_results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "AWS-IAM-001", first["control_id"], "results sort by control id")
	second := results[1].(map[string]interface{})
	assert.Equal(t, "AWS-S3-001", second["control_id"])
	assert.Equal(t, "FIXED", second["status"])

	logs := report["audit_logs"].([]interface{})
	require.Len(t, logs, 3)
	assert.Equal(t, "detection", logs[0].(map[string]interface{})["event_type"])
	assert.Equal(t, "remediation", logs[1].(map[string]interface{})["event_type"])
	assert.Equal(t, "scan", logs[2].(map[string]interface{})["event_type"])

	// The export itself lands on the audit trail.
	exports, err := fx.store.ListAuditEntries(ctx, store.AuditFilter{
		OrganizationID: fx.orgID, EventType: models.EventExport,
	})
	require.NoError(t, err)
	assert.Len(t, exports, 1)
}

func TestExportPDFReport(t *testing.T) {
	fx := newFixture(t)

	fx.insertFinding(t, &models.Finding{
		ScanID: "scan-1", ControlID: "AWS-S3-001", Status: models.StatusFail,
		RiskLevel: models.SeverityCritical, ResourceID: "arn:aws:s3:::b1",
		Metadata: map[string]interface{}{"control_title": "Block Public Access"},
	})

	result, err := fx.builder.Export(context.Background(), fx.orgID, time.Time{}, time.Time{}, FormatPDF)
	require.NoError(t, err)
	require.NotEmpty(t, result.Artifact)
	assert.Equal(t, "%PDF", string(result.Artifact[:4]))
	assert.Contains(t, result.ReportKey, ".pdf")
}

func TestExportUnknownOrganization(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.builder.Export(context.Background(), 999, time.Time{}, time.Time{}, FormatJSON)
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func TestExportUnknownFormat(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.builder.Export(context.Background(), fx.orgID, time.Time{}, time.Time{}, Format("xml"))
	assert.True(t, errors.Is(err, errors.KindValidation))
}

func fixedReportData() *reportData {
	detected := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return &reportData{
		Organization: &models.Organization{
			ID: 1, Name: "Acme", ComplianceFrameworks: []string{"ISO27001"},
		},
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Findings: []*models.Finding{
			{ControlID: "AWS-S3-001", Status: models.StatusFail, RiskLevel: models.SeverityCritical,
				ResourceID: "arn:aws:s3:::b1", DetectedAt: detected,
				Metadata: map[string]interface{}{"control_title": "Block Public Access"}},
		},
		AuditLogs: []*models.AuditEntry{
			{Timestamp: detected, EventType: models.EventDetection, Action: "detect", Actor: "system",
				Outcome: models.OutcomeSuccess},
		},
		Summary: summary{Total: 1, Fail: 1},
	}
}

func TestRenderJSONDeterministic(t *testing.T) {
	first, err := renderJSON(fixedReportData())
	require.NoError(t, err)
	second, err := renderJSON(fixedReportData())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderPDFDeterministic(t *testing.T) {
	first, err := renderPDF(fixedReportData())
	require.NoError(t, err)
	second, err := renderPDF(fixedReportData())
	require.NoError(t, err)
	assert.Equal(t, first, second, "pinned timestamps make the PDF byte-stable")
}

func TestSummarize(t *testing.T) {
	findings := []*models.Finding{
		{Status: models.StatusPass},
		{Status: models.StatusFail},
		{Status: models.StatusFixed},
		{Status: models.StatusError},
	}
	s := summarize(findings)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Pass)
	assert.Equal(t, 1, s.Fail)
	assert.Equal(t, 1, s.Fixed)
	assert.Equal(t, 1, s.Error)
	assert.InDelta(t, 66.666, s.Score, 0.01)
}
