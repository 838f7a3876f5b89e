package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
)

// CreateOrganization inserts an organization and returns its id.
func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) (int64, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO organizations (name, compliance_frameworks, contact_email, is_active, settings)
		 VALUES (?, ?, ?, ?, ?)`,
		org.Name, marshalStrings(org.ComplianceFrameworks), org.ContactEmail, org.IsActive, marshalJSON(org.Settings))
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "inserting organization")
	}
	return res.LastInsertId()
}

// GetOrganization loads one organization.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*models.Organization, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, name, compliance_frameworks, contact_email, is_active, settings
		 FROM organizations WHERE id = ?`, id)

	var org models.Organization
	var frameworks, settings string
	var contactEmail sql.NullString
	if err := row.Scan(&org.ID, &org.Name, &frameworks, &contactEmail, &org.IsActive, &settings); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Newf(errors.KindNotFound, "organization %d not found", id)
		}
		return nil, errors.Wrap(err, errors.KindInternal, "loading organization")
	}
	org.ComplianceFrameworks = unmarshalStrings(frameworks)
	org.ContactEmail = contactEmail.String
	org.Settings = unmarshalJSON(settings)
	return &org, nil
}

// CreateAccount inserts a cloud account and returns its id.
func (s *Store) CreateAccount(ctx context.Context, a *models.CloudAccount) (int64, error) {
	status := a.LastScanStatus
	if status == "" {
		status = models.ScanIdle
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO cloud_accounts (organization_id, name, provider, account_id, region, credentials, is_active, last_scan_status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.OrganizationID, a.Name, string(a.Provider), a.AccountID, a.Region,
		marshalJSON(a.Credentials), a.IsActive, string(status), marshalJSON(a.Metadata))
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "inserting cloud account")
	}
	return res.LastInsertId()
}

// GetAccount loads one cloud account, credentials included.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.CloudAccount, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, organization_id, name, provider, account_id, region, credentials,
		        is_active, last_scan_at, last_scan_status, metadata
		 FROM cloud_accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// ListActiveAccounts returns every active account, for the scan scheduler.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]*models.CloudAccount, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, organization_id, name, provider, account_id, region, credentials,
		        is_active, last_scan_at, last_scan_status, metadata
		 FROM cloud_accounts WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "listing accounts")
	}
	defer rows.Close()

	var accounts []*models.CloudAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.CloudAccount, error) {
	var a models.CloudAccount
	var provider, credentials, status, metadata string
	var lastScanAt sql.NullTime
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Name, &provider, &a.AccountID, &a.Region,
		&credentials, &a.IsActive, &lastScanAt, &status, &metadata)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.KindNotFound, "cloud account not found")
		}
		return nil, errors.Wrap(err, errors.KindInternal, "loading cloud account")
	}
	a.Provider = models.Provider(provider)
	a.Credentials = unmarshalJSON(credentials)
	a.LastScanStatus = models.ScanStatus(status)
	a.Metadata = unmarshalJSON(metadata)
	if lastScanAt.Valid {
		t := lastScanAt.Time
		a.LastScanAt = &t
	}
	return &a, nil
}

// TryBeginScan transitions the account scan status to inProgress. It fails
// with a conflict when another scan already holds the account.
func (s *Store) TryBeginScan(ctx context.Context, accountID int64) error {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE cloud_accounts SET last_scan_status = ? WHERE id = ? AND last_scan_status != ?`,
		string(models.ScanInProgress), accountID, string(models.ScanInProgress))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "claiming account for scan")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "claiming account for scan")
	}
	if n == 0 {
		return errors.Newf(errors.KindConflict, "account %d already has a scan in progress", accountID)
	}
	return nil
}

// FinishScan records the scan outcome on the account.
func (s *Store) FinishScan(ctx context.Context, accountID int64, status models.ScanStatus, at time.Time) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE cloud_accounts SET last_scan_status = ?, last_scan_at = ? WHERE id = ?`,
		string(status), at.UTC(), accountID)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "recording scan outcome")
	}
	return nil
}
