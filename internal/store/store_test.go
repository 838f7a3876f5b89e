package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinecloud/compliancemgr/internal/database"
	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func seedAccount(t *testing.T, s *Store) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	orgID, err := s.CreateOrganization(ctx, &models.Organization{
		Name:                 "Acme",
		ComplianceFrameworks: []string{"ISO27001", "SOC2"},
		ContactEmail:         "security@acme.test",
		IsActive:             true,
	})
	require.NoError(t, err)

	accountID, err := s.CreateAccount(ctx, &models.CloudAccount{
		OrganizationID: orgID,
		Name:           "prod",
		Provider:       models.ProviderAWS,
		AccountID:      "123456789012",
		Region:         "us-east-1",
		Credentials:    map[string]interface{}{"role_arn": "arn:aws:iam::123456789012:role/scanner"},
		IsActive:       true,
	})
	require.NoError(t, err)
	return orgID, accountID
}

func insertFinding(t *testing.T, s *Store, accountID int64, f *models.Finding) int64 {
	t.Helper()
	ctx := context.Background()
	f.CloudAccountID = accountID
	if f.DetectedAt.IsZero() {
		f.DetectedAt = time.Now().UTC()
	}
	tx, err := s.DB().BeginTx(ctx)
	require.NoError(t, err)
	id, err := s.InsertFindingTx(ctx, tx, f)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	orgID, accountID := seedAccount(t, s)

	account, err := s.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, orgID, account.OrganizationID)
	assert.Equal(t, models.ProviderAWS, account.Provider)
	assert.Equal(t, models.ScanIdle, account.LastScanStatus)
	assert.Equal(t, "arn:aws:iam::123456789012:role/scanner", account.Credentials["role_arn"])
	assert.Nil(t, account.LastScanAt)
}

func TestGetAccountNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAccount(context.Background(), 999)
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func TestTryBeginScanIsExclusive(t *testing.T) {
	s := newTestStore(t)
	_, accountID := seedAccount(t, s)
	ctx := context.Background()

	require.NoError(t, s.TryBeginScan(ctx, accountID))

	err := s.TryBeginScan(ctx, accountID)
	assert.True(t, errors.Is(err, errors.KindConflict))

	require.NoError(t, s.FinishScan(ctx, accountID, models.ScanSuccess, time.Now()))
	account, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanSuccess, account.LastScanStatus)
	assert.NotNil(t, account.LastScanAt)

	// Released account can be claimed again.
	require.NoError(t, s.TryBeginScan(ctx, accountID))
}

func TestFindingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, accountID := seedAccount(t, s)

	detectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := insertFinding(t, s, accountID, &models.Finding{
		ScanID:         "scan-1",
		ControlID:      "AWS-S3-001",
		Status:         models.StatusFail,
		RiskLevel:      models.SeverityCritical,
		ResourceID:     "arn:aws:s3:::b1",
		ResourceType:   "S3::Bucket",
		FindingDetails: map[string]interface{}{"bucket": "b1"},
		EvidenceBefore: map[string]interface{}{"bucket": "b1", "block_public_acls": false},
		DetectedAt:     detectedAt,
	})

	f, err := s.GetFinding(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, f.Status)
	assert.Equal(t, models.RemediationNone, f.RemediationStatus)
	assert.Equal(t, "b1", f.FindingDetails["bucket"])
	assert.Equal(t, false, f.EvidenceBefore["block_public_acls"])
	assert.True(t, f.DetectedAt.Equal(detectedAt))
	assert.Nil(t, f.RollbackData)
}

func TestFindingUniquePerScanControlResource(t *testing.T) {
	s := newTestStore(t)
	_, accountID := seedAccount(t, s)
	ctx := context.Background()

	f := func() *models.Finding {
		return &models.Finding{
			ScanID:     "scan-1",
			ControlID:  "AWS-S3-001",
			Status:     models.StatusFail,
			ResourceID: "arn:aws:s3:::b1",
			DetectedAt: time.Now().UTC(),
		}
	}
	insertFinding(t, s, accountID, f())

	dup := f()
	dup.CloudAccountID = accountID
	tx, err := s.DB().BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = s.InsertFindingTx(ctx, tx, dup)
	assert.Error(t, err)
}

func TestListFindingsFilters(t *testing.T) {
	s := newTestStore(t)
	orgID, accountID := seedAccount(t, s)

	insertFinding(t, s, accountID, &models.Finding{
		ScanID: "scan-1", ControlID: "AWS-S3-001", Status: models.StatusFail,
		RiskLevel: models.SeverityCritical, ResourceID: "arn:aws:s3:::b1",
	})
	insertFinding(t, s, accountID, &models.Finding{
		ScanID: "scan-1", ControlID: "AWS-IAM-001", Status: models.StatusPass,
		RiskLevel: models.SeverityCritical,
	})
	insertFinding(t, s, accountID, &models.Finding{
		ScanID: "scan-2", ControlID: "AWS-S3-002", Status: models.StatusFail,
		RiskLevel: models.SeverityHigh, ResourceID: "arn:aws:s3:::b2",
	})

	ctx := context.Background()

	all, err := s.ListFindings(ctx, FindingFilter{AccountID: accountID})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := s.ListFindings(ctx, FindingFilter{AccountID: accountID, Status: models.StatusFail})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	critical, err := s.ListFindings(ctx, FindingFilter{AccountID: accountID, Severity: models.SeverityCritical})
	require.NoError(t, err)
	assert.Len(t, critical, 2)

	byOrg, err := s.ListFindings(ctx, FindingFilter{OrganizationID: orgID, ScanID: "scan-2"})
	require.NoError(t, err)
	require.Len(t, byOrg, 1)
	assert.Equal(t, "AWS-S3-002", byOrg[0].ControlID)
}

func TestClaimRemediationCAS(t *testing.T) {
	s := newTestStore(t)
	_, accountID := seedAccount(t, s)
	ctx := context.Background()

	id := insertFinding(t, s, accountID, &models.Finding{
		ScanID: "scan-1", ControlID: "AWS-S3-001", Status: models.StatusFail,
		ResourceID: "arn:aws:s3:::b1",
	})

	require.NoError(t, s.ClaimRemediation(ctx, id))

	err := s.ClaimRemediation(ctx, id)
	assert.True(t, errors.Is(err, errors.KindConflict))

	require.NoError(t, s.ReleaseRemediation(ctx, id, models.RemediationFailed))
	require.NoError(t, s.ClaimRemediation(ctx, id))
}

func TestFinalizeRemediationAndRollback(t *testing.T) {
	s := newTestStore(t)
	_, accountID := seedAccount(t, s)
	ctx := context.Background()

	id := insertFinding(t, s, accountID, &models.Finding{
		ScanID: "scan-1", ControlID: "AWS-S3-001", Status: models.StatusFail,
		ResourceID:     "arn:aws:s3:::b1",
		EvidenceBefore: map[string]interface{}{"block_public_acls": false},
	})

	executedAt := time.Now().UTC()
	tx, err := s.DB().BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FinalizeRemediationTx(ctx, tx, id, "a@x", executedAt,
		map[string]interface{}{"blocked": true},
		map[string]interface{}{"bucket": "b1", "block_public_acls": false},
		"evidence/1/2026.json"))
	require.NoError(t, tx.Commit())

	f, err := s.GetFinding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFixed, f.Status)
	assert.Equal(t, models.RemediationExecuted, f.RemediationStatus)
	assert.Equal(t, "a@x", f.RemediationApprovedBy)
	assert.NotNil(t, f.RemediationExecutedAt)
	assert.NotNil(t, f.ResolvedAt)
	assert.NotNil(t, f.RollbackData)
	assert.Equal(t, false, f.EvidenceBefore["block_public_acls"], "evidence_before is immutable")
	assert.Equal(t, "evidence/1/2026.json", f.EvidenceKey)

	tx, err = s.DB().BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FinalizeRollbackTx(ctx, tx, id, map[string]interface{}{"rolled_back_by": "a@x"}))
	require.NoError(t, tx.Commit())

	f, err = s.GetFinding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, f.Status)
	assert.Equal(t, models.RemediationRolledBack, f.RemediationStatus)
	assert.Nil(t, f.ResolvedAt)
	assert.NotNil(t, f.RollbackData, "rollback data remains as forensic record")
	assert.NotNil(t, f.EvidenceAfter, "evidence_after remains as forensic record")
}

func TestComplianceScore(t *testing.T) {
	s := newTestStore(t)
	orgID, accountID := seedAccount(t, s)
	ctx := context.Background()

	statuses := []struct {
		status models.FindingStatus
		risk   models.Severity
	}{
		{models.StatusPass, models.SeverityLow},
		{models.StatusPass, models.SeverityLow},
		{models.StatusFail, models.SeverityCritical},
		{models.StatusFixed, models.SeverityHigh},
		{models.StatusError, models.SeverityMedium},
		{models.StatusManual, models.SeverityLow},
	}
	for i, st := range statuses {
		insertFinding(t, s, accountID, &models.Finding{
			ScanID: "scan-1", ControlID: "AWS-T-00" + string(rune('1'+i)),
			Status: st.status, RiskLevel: st.risk,
		})
	}

	score, err := s.ComplianceScore(ctx, ScoreScope{AccountID: accountID})
	require.NoError(t, err)
	assert.Equal(t, 6, score.Total)
	assert.Equal(t, 2, score.Pass)
	assert.Equal(t, 1, score.Fail)
	assert.Equal(t, 1, score.Fixed)
	// ERROR and MANUAL are excluded from the denominator: (2+1)/(2+1+1).
	assert.InDelta(t, 75.0, score.Score, 0.001)
	assert.Equal(t, 1, score.BySeverity[models.SeverityCritical])

	byOrg, err := s.ComplianceScore(ctx, ScoreScope{OrganizationID: orgID})
	require.NoError(t, err)
	assert.Equal(t, score.Total, byOrg.Total)
}

func TestOrganizationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	orgID, _ := seedAccount(t, s)

	org, err := s.GetOrganization(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, []string{"ISO27001", "SOC2"}, org.ComplianceFrameworks)

	_, err = s.GetOrganization(context.Background(), 999)
	assert.True(t, errors.Is(err, errors.KindNotFound))
}
