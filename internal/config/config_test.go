package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8, cfg.Scan.WorkersPerScan)
	assert.Equal(t, 32, cfg.Scan.GlobalMaxScans)
	assert.Equal(t, 60*time.Second, cfg.Scan.ControlTimeout)
	assert.Equal(t, 120*time.Second, cfg.Scan.RemediationTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Scan.ScanTimeout)
	assert.Equal(t, 365, cfg.Audit.RetentionDays)
	assert.Equal(t, "us-east-1", cfg.Evidence.Region)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scan.WorkersPerScan)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  path: /tmp/test.db
evidence:
  bucket: compliance-evidence
  region: eu-west-1
scan:
  workers_per_scan: 4
audit:
  retention_days: 730
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "compliance-evidence", cfg.Evidence.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Evidence.Region)
	assert.Equal(t, 4, cfg.Scan.WorkersPerScan)
	assert.Equal(t, 730, cfg.Audit.RetentionDays)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("COMPLIANCEMGR_EVIDENCE_BUCKET", "env-bucket")
	t.Setenv("COMPLIANCEMGR_SCAN_WORKERS", "16")
	t.Setenv("COMPLIANCEMGR_AUDIT_RETENTION_DAYS", "90")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "evidence:\n  bucket: file-bucket\nscan:\n  workers_per_scan: 4\naudit:\n  retention_days: 730\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-bucket", cfg.Evidence.Bucket)
	assert.Equal(t, 16, cfg.Scan.WorkersPerScan)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audit:\n  retention_days: -1\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
