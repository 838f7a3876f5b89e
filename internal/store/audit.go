package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
)

const auditColumns = `id, timestamp, event_type, action, actor, organization_id, cloud_account_id,
	control_id, resource_id, control_result_id, event_data, before_state, after_state,
	ip_address, user_agent, outcome, error_message, prev_hash, hash`

// LastAuditHashTx returns the hash of the newest audit entry for an
// organization, or "" when the chain is empty. Runs inside the caller's
// transaction so concurrent appends serialize on the row.
func (s *Store) LastAuditHashTx(ctx context.Context, tx *sql.Tx, organizationID int64) (string, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT hash FROM audit_logs WHERE organization_id = ? ORDER BY id DESC LIMIT 1`,
		organizationID)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errors.Wrap(err, errors.KindInternal, "reading audit chain head")
	}
	return hash, nil
}

// InsertAuditTx appends one entry inside the caller's transaction. The
// entry's hashes must already be computed.
func (s *Store) InsertAuditTx(ctx context.Context, tx *sql.Tx, e *models.AuditEntry) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, event_type, action, actor, organization_id,
			cloud_account_id, control_id, resource_id, control_result_id,
			event_data, before_state, after_state, ip_address, user_agent,
			outcome, error_message, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC(), string(e.EventType), e.Action, e.Actor, nullInt64(e.OrganizationID),
		nullInt64(e.CloudAccountID), nullString(e.ControlID), nullString(e.ResourceID), nullInt64(e.FindingID),
		marshalJSON(e.EventData), marshalJSONNullable(e.BeforeState), marshalJSONNullable(e.AfterState),
		nullString(e.IPAddress), nullString(e.UserAgent),
		string(e.Outcome), nullString(e.ErrorMessage), e.PrevHash, e.Hash)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "appending audit entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "appending audit entry")
	}
	e.ID = id
	return id, nil
}

// AuditFilter scopes ListAuditEntries.
type AuditFilter struct {
	OrganizationID int64
	EventType      models.EventType
	Actor          string
	Start          time.Time
	End            time.Time
	Limit          int
}

// ListAuditEntries returns entries in chain order (timestamp, id ascending).
func (s *Store) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	var conds []string
	var args []interface{}
	if filter.OrganizationID != 0 {
		conds = append(conds, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if !filter.Start.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Start.UTC())
	}
	if !filter.End.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.End.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "listing audit entries")
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanAuditEntry(row rowScanner) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var eventType, outcome string
	var orgID, accountID, findingID sql.NullInt64
	var controlID, resourceID, ipAddress, userAgent, errorMessage sql.NullString
	var eventData string
	var beforeState, afterState sql.NullString

	err := row.Scan(&e.ID, &e.Timestamp, &eventType, &e.Action, &e.Actor, &orgID,
		&accountID, &controlID, &resourceID, &findingID, &eventData, &beforeState, &afterState,
		&ipAddress, &userAgent, &outcome, &errorMessage, &e.PrevHash, &e.Hash)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "scanning audit entry")
	}

	e.EventType = models.EventType(eventType)
	e.OrganizationID = orgID.Int64
	e.CloudAccountID = accountID.Int64
	e.ControlID = controlID.String
	e.ResourceID = resourceID.String
	e.FindingID = findingID.Int64
	e.EventData = unmarshalJSON(eventData)
	e.BeforeState = unmarshalJSONNullable(beforeState)
	e.AfterState = unmarshalJSONNullable(afterState)
	e.IPAddress = ipAddress.String
	e.UserAgent = userAgent.String
	e.Outcome = models.Outcome(outcome)
	e.ErrorMessage = errorMessage.String
	return &e, nil
}
