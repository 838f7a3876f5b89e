package store

import (
	"context"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
)

// ControlRow is the persistable mirror of a registered control, kept for
// catalog queries against the database.
type ControlRow struct {
	ControlID        string
	Title            string
	Description      string
	Category         string
	Severity         models.Severity
	Provider         models.Provider
	Frameworks       map[string][]string
	CanAutoRemediate bool
	RemediationRisk  models.Risk
}

// UpsertControl writes one catalog mirror row.
func (s *Store) UpsertControl(ctx context.Context, row ControlRow) error {
	frameworks := make(map[string]interface{}, len(row.Frameworks))
	for framework, clauses := range row.Frameworks {
		values := make([]interface{}, len(clauses))
		for i, c := range clauses {
			values[i] = c
		}
		frameworks[framework] = values
	}

	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO controls (control_id, title, description, category, severity, provider,
			frameworks, can_auto_remediate, remediation_risk)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(control_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			severity = excluded.severity,
			provider = excluded.provider,
			frameworks = excluded.frameworks,
			can_auto_remediate = excluded.can_auto_remediate,
			remediation_risk = excluded.remediation_risk`,
		row.ControlID, row.Title, row.Description, row.Category, string(row.Severity),
		string(row.Provider), marshalJSON(frameworks), row.CanAutoRemediate, string(row.RemediationRisk))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "upserting control")
	}
	return nil
}

// CountControls returns the mirror row count.
func (s *Store) CountControls(ctx context.Context) (int, error) {
	var count int
	if err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM controls`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "counting controls")
	}
	return count, nil
}
