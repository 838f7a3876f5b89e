package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
)

const findingColumns = `id, scan_id, cloud_account_id, control_id, status, risk_level,
	resource_id, resource_type, finding_details, evidence_before, evidence_after, evidence_key,
	remediation_status, remediation_approved_by, remediation_executed_at, remediation_details,
	rollback_data, detected_at, resolved_at, metadata`

// InsertFindingTx persists a finding inside the caller's transaction.
func (s *Store) InsertFindingTx(ctx context.Context, tx *sql.Tx, f *models.Finding) (int64, error) {
	if f.RemediationStatus == "" {
		f.RemediationStatus = models.RemediationNone
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO control_results (scan_id, cloud_account_id, control_id, status, risk_level,
			resource_id, resource_type, finding_details, evidence_before,
			remediation_status, remediation_details, detected_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ScanID, f.CloudAccountID, f.ControlID, string(f.Status), string(f.RiskLevel),
		nullString(f.ResourceID), nullString(f.ResourceType),
		marshalJSON(f.FindingDetails), marshalJSONNullable(f.EvidenceBefore),
		string(f.RemediationStatus), marshalJSON(f.RemediationDetails),
		f.DetectedAt.UTC(), marshalJSON(f.Metadata))
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "inserting finding")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "inserting finding")
	}
	f.ID = id
	return id, nil
}

// GetFinding loads one finding.
func (s *Store) GetFinding(ctx context.Context, id int64) (*models.Finding, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+findingColumns+` FROM control_results WHERE id = ?`, id)
	f, err := scanFinding(row)
	if err != nil {
		if errors.Is(err, errors.KindNotFound) {
			return nil, errors.Newf(errors.KindNotFound, "finding %d not found", id)
		}
		return nil, err
	}
	return f, nil
}

// FindingFilter scopes ListFindings.
type FindingFilter struct {
	AccountID      int64
	OrganizationID int64
	ScanID         string
	Status         models.FindingStatus
	Severity       models.Severity
}

// ListFindings returns findings matching the filter, newest first.
func (s *Store) ListFindings(ctx context.Context, filter FindingFilter) ([]*models.Finding, error) {
	var conds []string
	var args []interface{}

	query := `SELECT ` + prefixColumns("cr", findingColumns) + ` FROM control_results cr`
	if filter.OrganizationID != 0 {
		query += ` JOIN cloud_accounts ca ON ca.id = cr.cloud_account_id`
		conds = append(conds, "ca.organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.AccountID != 0 {
		conds = append(conds, "cr.cloud_account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.ScanID != "" {
		conds = append(conds, "cr.scan_id = ?")
		args = append(args, filter.ScanID)
	}
	if filter.Status != "" {
		conds = append(conds, "cr.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		conds = append(conds, "cr.risk_level = ?")
		args = append(args, string(filter.Severity))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY cr.detected_at DESC, cr.id DESC"

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "listing findings")
	}
	defer rows.Close()

	var findings []*models.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanFinding(row rowScanner) (*models.Finding, error) {
	var f models.Finding
	var status, remStatus string
	var riskLevel, resourceID, resourceType, evidenceKey, approvedBy sql.NullString
	var findingDetails, remDetails, metadata string
	var evidenceBefore, evidenceAfter, rollbackData sql.NullString
	var executedAt, resolvedAt sql.NullTime

	err := row.Scan(&f.ID, &f.ScanID, &f.CloudAccountID, &f.ControlID, &status, &riskLevel,
		&resourceID, &resourceType, &findingDetails, &evidenceBefore, &evidenceAfter, &evidenceKey,
		&remStatus, &approvedBy, &executedAt, &remDetails,
		&rollbackData, &f.DetectedAt, &resolvedAt, &metadata)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.KindNotFound, "finding not found")
		}
		return nil, errors.Wrap(err, errors.KindInternal, "scanning finding")
	}

	f.Status = models.FindingStatus(status)
	f.RiskLevel = models.Severity(riskLevel.String)
	f.ResourceID = resourceID.String
	f.ResourceType = resourceType.String
	f.FindingDetails = unmarshalJSON(findingDetails)
	f.EvidenceBefore = unmarshalJSONNullable(evidenceBefore)
	f.EvidenceAfter = unmarshalJSONNullable(evidenceAfter)
	f.EvidenceKey = evidenceKey.String
	f.RemediationStatus = models.RemediationStatus(remStatus)
	f.RemediationApprovedBy = approvedBy.String
	f.RemediationDetails = unmarshalJSON(remDetails)
	f.RollbackData = unmarshalJSONNullable(rollbackData)
	f.Metadata = unmarshalJSON(metadata)
	if executedAt.Valid {
		t := executedAt.Time
		f.RemediationExecutedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		f.ResolvedAt = &t
	}
	return &f, nil
}

// ClaimRemediation marks the finding pending via optimistic CAS. A finding
// already pending or executed cannot be claimed again.
func (s *Store) ClaimRemediation(ctx context.Context, id int64) error {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE control_results SET remediation_status = ?
		 WHERE id = ? AND remediation_status NOT IN (?, ?)`,
		string(models.RemediationPending), id,
		string(models.RemediationPending), string(models.RemediationExecuted))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "claiming finding for remediation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "claiming finding for remediation")
	}
	if n == 0 {
		return errors.Newf(errors.KindConflict, "finding %d remediation already pending or executed", id)
	}
	return nil
}

// ReleaseRemediation returns a claimed finding to the given status after a
// failed or abandoned attempt.
func (s *Store) ReleaseRemediation(ctx context.Context, id int64, to models.RemediationStatus) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE control_results SET remediation_status = ? WHERE id = ? AND remediation_status = ?`,
		string(to), id, string(models.RemediationPending))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "releasing remediation claim")
	}
	return nil
}

// FinalizeRemediationTx records a successful remediation inside the
// caller's transaction. evidence_before is left untouched.
func (s *Store) FinalizeRemediationTx(ctx context.Context, tx *sql.Tx, id int64, approvedBy string,
	executedAt time.Time, evidenceAfter, rollbackData map[string]interface{}, evidenceKey string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE control_results SET
			status = ?, remediation_status = ?, remediation_approved_by = ?,
			remediation_executed_at = ?, evidence_after = ?, evidence_key = ?,
			rollback_data = ?, resolved_at = ?
		 WHERE id = ?`,
		string(models.StatusFixed), string(models.RemediationExecuted), approvedBy,
		executedAt.UTC(), marshalJSONNullable(evidenceAfter), nullString(evidenceKey),
		marshalJSONNullable(rollbackData), executedAt.UTC(), id)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "finalizing remediation")
	}
	return nil
}

// FailRemediationTx records a failed remediation attempt.
func (s *Store) FailRemediationTx(ctx context.Context, tx *sql.Tx, id int64, details map[string]interface{}) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE control_results SET remediation_status = ?, remediation_details = ? WHERE id = ?`,
		string(models.RemediationFailed), marshalJSON(details), id)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "recording remediation failure")
	}
	return nil
}

// FinalizeRollbackTx restores the finding to FAIL after a rollback.
// evidence_after and rollback_data stay behind as forensic record.
func (s *Store) FinalizeRollbackTx(ctx context.Context, tx *sql.Tx, id int64, details map[string]interface{}) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE control_results SET status = ?, remediation_status = ?, remediation_details = ?, resolved_at = NULL
		 WHERE id = ?`,
		string(models.StatusFail), string(models.RemediationRolledBack), marshalJSON(details), id)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "finalizing rollback")
	}
	return nil
}

// SetEvidenceKey records the object storage pointer for a finding.
func (s *Store) SetEvidenceKey(ctx context.Context, id int64, key string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE control_results SET evidence_key = ? WHERE id = ?`, key, id)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "recording evidence key")
	}
	return nil
}

// ScoreScope selects the findings a compliance score is computed over.
type ScoreScope struct {
	AccountID      int64
	OrganizationID int64
}

// ComplianceScore derives the score for a scope. ERROR and MANUAL findings
// are excluded from the denominator; bySeverity buckets count FAIL findings.
func (s *Store) ComplianceScore(ctx context.Context, scope ScoreScope) (*models.ComplianceScore, error) {
	query := `SELECT cr.status, cr.risk_level FROM control_results cr`
	var conds []string
	var args []interface{}
	if scope.OrganizationID != 0 {
		query += ` JOIN cloud_accounts ca ON ca.id = cr.cloud_account_id`
		conds = append(conds, "ca.organization_id = ?")
		args = append(args, scope.OrganizationID)
	}
	if scope.AccountID != 0 {
		conds = append(conds, "cr.cloud_account_id = ?")
		args = append(args, scope.AccountID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "computing compliance score")
	}
	defer rows.Close()

	score := &models.ComplianceScore{BySeverity: make(map[models.Severity]int)}
	for rows.Next() {
		var status string
		var risk sql.NullString
		if err := rows.Scan(&status, &risk); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "computing compliance score")
		}
		switch models.FindingStatus(status) {
		case models.StatusPass:
			score.Pass++
		case models.StatusFail:
			score.Fail++
			if risk.Valid {
				score.BySeverity[models.Severity(risk.String)]++
			}
		case models.StatusFixed:
			score.Fixed++
		}
		score.Total++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "computing compliance score")
	}

	denominator := score.Pass + score.Fail + score.Fixed
	if denominator > 0 {
		score.Score = float64(score.Pass+score.Fixed) / float64(denominator) * 100
	}
	return score, nil
}
