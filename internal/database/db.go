package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql connection pool. It is the single source of truth for
// findings, accounts, organizations, and the audit trail.
type DB struct {
	conn *sql.DB
}

// Config represents database configuration
type Config struct {
	Path string
}

// New opens the database and initializes the schema.
func New(config *Config) (*DB, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if config.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", config.Path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

var memorySeq atomic.Int64

// NewInMemory opens a private in-memory database, used by tests. Each call
// gets its own database; the single connection keeps it alive.
func NewInMemory() (*DB, error) {
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=on",
		memorySeq.Add(1))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Conn exposes the underlying pool for repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, nil)
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		compliance_frameworks TEXT NOT NULL DEFAULT '[]',
		contact_email TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		settings TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS cloud_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		provider TEXT NOT NULL,
		account_id TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT 'us-east-1',
		credentials TEXT NOT NULL DEFAULT '{}',
		is_active INTEGER NOT NULL DEFAULT 1,
		last_scan_at TIMESTAMP,
		last_scan_status TEXT NOT NULL DEFAULT 'idle',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_org ON cloud_accounts(organization_id);

	-- Persistable mirror of the in-memory catalog, for catalog queries.
	CREATE TABLE IF NOT EXISTS controls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		control_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		provider TEXT NOT NULL,
		frameworks TEXT NOT NULL DEFAULT '{}',
		can_auto_remediate INTEGER NOT NULL DEFAULT 0,
		remediation_risk TEXT NOT NULL DEFAULT 'low'
	);
	CREATE INDEX IF NOT EXISTS idx_controls_provider ON controls(provider);

	CREATE TABLE IF NOT EXISTS control_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL,
		cloud_account_id INTEGER NOT NULL REFERENCES cloud_accounts(id),
		control_id TEXT NOT NULL,
		status TEXT NOT NULL,
		risk_level TEXT,
		resource_id TEXT,
		resource_type TEXT,
		finding_details TEXT NOT NULL DEFAULT '{}',
		evidence_before TEXT,
		evidence_after TEXT,
		evidence_key TEXT,
		remediation_status TEXT NOT NULL DEFAULT 'none',
		remediation_approved_by TEXT,
		remediation_executed_at TIMESTAMP,
		remediation_details TEXT NOT NULL DEFAULT '{}',
		rollback_data TEXT,
		detected_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		metadata TEXT NOT NULL DEFAULT '{}',
		UNIQUE (scan_id, control_id, resource_id)
	);
	CREATE INDEX IF NOT EXISTS idx_control_account_status ON control_results(control_id, cloud_account_id, status);
	CREATE INDEX IF NOT EXISTS idx_results_scan_id ON control_results(scan_id);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		organization_id INTEGER,
		cloud_account_id INTEGER,
		control_id TEXT,
		resource_id TEXT,
		control_result_id INTEGER,
		event_data TEXT NOT NULL DEFAULT '{}',
		before_state TEXT,
		after_state TEXT,
		ip_address TEXT,
		user_agent TEXT,
		outcome TEXT NOT NULL DEFAULT 'success',
		error_message TEXT,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_logs(actor);
	CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_logs(organization_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}
