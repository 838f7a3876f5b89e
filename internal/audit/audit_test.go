package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinecloud/compliancemgr/internal/database"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/store"
)

func newTestWriter(t *testing.T) (*Writer, *store.Store) {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.New(db)
	return NewWriter(s), s
}

func entry(orgID int64, action string) *models.AuditEntry {
	return &models.AuditEntry{
		EventType:      models.EventDetection,
		Action:         action,
		Actor:          "system",
		OrganizationID: orgID,
		ControlID:      "AWS-S3-001",
		EventData:      map[string]interface{}{"status": "FAIL"},
	}
}

func TestAppendAssignsDefaults(t *testing.T) {
	w, _ := newTestWriter(t)
	e := &models.AuditEntry{
		EventType:      models.EventScan,
		Action:         "Completed scan",
		OrganizationID: 1,
	}
	require.NoError(t, w.Append(context.Background(), e))

	assert.Equal(t, "system", e.Actor)
	assert.Equal(t, models.OutcomeSuccess, e.Outcome)
	assert.False(t, e.Timestamp.IsZero())
	assert.NotEmpty(t, e.Hash)
	assert.Empty(t, e.PrevHash, "first entry has empty prev hash")
}

func TestChainLinks(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	first := entry(1, "first")
	second := entry(1, "second")
	require.NoError(t, w.Append(ctx, first))
	require.NoError(t, w.Append(ctx, second))

	assert.Equal(t, first.Hash, second.PrevHash)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestChainsArePerOrganization(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	orgA := entry(1, "a")
	orgB := entry(2, "b")
	require.NoError(t, w.Append(ctx, orgA))
	require.NoError(t, w.Append(ctx, orgB))

	assert.Empty(t, orgB.PrevHash, "each organization starts its own chain")
}

func TestVerifyChain(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(ctx, entry(1, "event")))
	}
	assert.NoError(t, w.VerifyChain(ctx, 1))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(ctx, entry(1, "event")))
	}

	// Reach under the writer and modify a recorded action.
	_, err := s.DB().Conn().ExecContext(ctx, `UPDATE audit_logs SET action = 'doctored' WHERE id = 2`)
	require.NoError(t, err)

	err = w.VerifyChain(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestVerifyChainDetectsDeletion(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(ctx, entry(1, "event")))
	}

	_, err := s.DB().Conn().ExecContext(ctx, `DELETE FROM audit_logs WHERE id = 2`)
	require.NoError(t, err)

	err = w.VerifyChain(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prev_hash mismatch")
}

func TestComputeHashDeterministic(t *testing.T) {
	e := entry(1, "stable")
	e.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.PrevHash = "abc"

	assert.Equal(t, ComputeHash(e), ComputeHash(e))

	changed := *e
	changed.Action = "different"
	assert.NotEqual(t, ComputeHash(e), ComputeHash(&changed))
}

func TestHashSurvivesRoundTrip(t *testing.T) {
	w, s := newTestWriter(t)
	ctx := context.Background()

	original := entry(1, "roundtrip")
	original.BeforeState = map[string]interface{}{"count": 3, "name": "b1"}
	original.AfterState = map[string]interface{}{"count": 4}
	require.NoError(t, w.Append(ctx, original))

	stored, err := s.ListAuditEntries(ctx, store.AuditFilter{OrganizationID: 1})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, original.Hash, ComputeHash(stored[0]))
}
