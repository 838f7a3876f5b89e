// Package audit writes the append-only, hash-chained event log. Entries are
// the platform's legal artifact: no updates, no deletes, corrections are
// compensating entries.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/store"
)

// Writer appends hash-chained entries. Appends that accompany a finding
// state transition share the transition's transaction.
type Writer struct {
	store *store.Store
}

// NewWriter creates a Writer
func NewWriter(s *store.Store) *Writer {
	return &Writer{store: s}
}

// AppendTx appends one entry inside the caller's transaction. The entry is
// chained to the organization's previous entry: hash = H(prevHash ||
// canonical(entry)). Timestamp is server-assigned when unset.
func (w *Writer) AppendTx(ctx context.Context, tx *sql.Tx, e *models.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Actor == "" {
		e.Actor = "system"
	}
	if e.Outcome == "" {
		e.Outcome = models.OutcomeSuccess
	}

	prevHash, err := w.store.LastAuditHashTx(ctx, tx, e.OrganizationID)
	if err != nil {
		return err
	}
	e.PrevHash = prevHash
	e.Hash = ComputeHash(e)

	if _, err := w.store.InsertAuditTx(ctx, tx, e); err != nil {
		return err
	}
	return nil
}

// Append appends one entry in its own transaction.
func (w *Writer) Append(ctx context.Context, e *models.AuditEntry) error {
	tx, err := w.store.DB().BeginTx(ctx)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "beginning audit transaction")
	}
	defer tx.Rollback()

	if err := w.AppendTx(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "committing audit entry")
	}
	return nil
}

// hashPayload is the canonical encoding input. Field order is fixed by the
// struct; nested maps serialize with sorted keys.
type hashPayload struct {
	Timestamp      string                 `json:"timestamp"`
	EventType      models.EventType       `json:"event_type"`
	Action         string                 `json:"action"`
	Actor          string                 `json:"actor"`
	OrganizationID int64                  `json:"organization_id"`
	CloudAccountID int64                  `json:"cloud_account_id"`
	ControlID      string                 `json:"control_id"`
	ResourceID     string                 `json:"resource_id"`
	FindingID      int64                  `json:"finding_id"`
	EventData      map[string]interface{} `json:"event_data"`
	BeforeState    map[string]interface{} `json:"before_state"`
	AfterState     map[string]interface{} `json:"after_state"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	Outcome        models.Outcome         `json:"outcome"`
	ErrorMessage   string                 `json:"error_message"`
}

// ComputeHash returns hex(SHA-256(prevHash || canonical(entry))).
func ComputeHash(e *models.AuditEntry) string {
	payload := hashPayload{
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		EventType:      e.EventType,
		Action:         e.Action,
		Actor:          e.Actor,
		OrganizationID: e.OrganizationID,
		CloudAccountID: e.CloudAccountID,
		ControlID:      e.ControlID,
		ResourceID:     e.ResourceID,
		FindingID:      e.FindingID,
		EventData:      e.EventData,
		BeforeState:    e.BeforeState,
		AfterState:     e.AfterState,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		Outcome:        e.Outcome,
		ErrorMessage:   e.ErrorMessage,
	}
	canonical, _ := json.Marshal(payload)

	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain replays an organization's chain over (timestamp, id) and
// reports the first entry whose stored hash does not match.
func (w *Writer) VerifyChain(ctx context.Context, organizationID int64) error {
	entries, err := w.store.ListAuditEntries(ctx, store.AuditFilter{OrganizationID: organizationID})
	if err != nil {
		return err
	}

	prevHash := ""
	for _, e := range entries {
		if e.PrevHash != prevHash {
			return fmt.Errorf("audit chain broken at entry %d: prev_hash mismatch", e.ID)
		}
		if computed := ComputeHash(e); computed != e.Hash {
			return fmt.Errorf("audit chain broken at entry %d: hash mismatch", e.ID)
		}
		prevHash = e.Hash
	}
	return nil
}
