package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avelinecloud/compliancemgr/internal/logger"
)

// Config is the full service configuration. Values come from an optional
// YAML file overlaid with environment variables; environment wins.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Evidence  EvidenceConfig   `yaml:"evidence"`
	Scan      ScanConfig       `yaml:"scan"`
	Audit     AuditConfig      `yaml:"audit"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Log       logger.LogConfig `yaml:"log"`
}

// DatabaseConfig configures the sqlite store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EvidenceConfig configures the object storage backend
type EvidenceConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// ScanConfig bounds detection and remediation work
type ScanConfig struct {
	WorkersPerScan     int           `yaml:"workers_per_scan"`
	GlobalMaxScans     int           `yaml:"global_max_scans"`
	ControlTimeout     time.Duration `yaml:"control_timeout"`
	RemediationTimeout time.Duration `yaml:"remediation_timeout"`
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
}

// AuditConfig configures audit log retention
type AuditConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// SchedulerConfig configures recurring scans
type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Default returns the built-in configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(homeDir, ".compliancemgr", "compliancemgr.db"),
		},
		Evidence: EvidenceConfig{
			Region: "us-east-1",
		},
		Scan: ScanConfig{
			WorkersPerScan:     8,
			GlobalMaxScans:     32,
			ControlTimeout:     60 * time.Second,
			RemediationTimeout: 120 * time.Second,
			ScanTimeout:        30 * time.Minute,
		},
		Audit: AuditConfig{
			RetentionDays: 365,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 2 * * *",
		},
		Log: logger.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339,
		},
	}
}

// Load reads configuration from the given YAML file (optional) and the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("COMPLIANCEMGR_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("COMPLIANCEMGR_EVIDENCE_BUCKET"); v != "" {
		c.Evidence.Bucket = v
	}
	if v := os.Getenv("COMPLIANCEMGR_DEFAULT_REGION"); v != "" {
		c.Evidence.Region = v
	}
	if v := os.Getenv("COMPLIANCEMGR_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Audit.RetentionDays = days
		}
	}
	if v := os.Getenv("COMPLIANCEMGR_SCAN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scan.WorkersPerScan = n
		}
	}
	if v := os.Getenv("COMPLIANCEMGR_MAX_SCANS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scan.GlobalMaxScans = n
		}
	}
	if v := os.Getenv("COMPLIANCEMGR_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Scan.WorkersPerScan <= 0 {
		return fmt.Errorf("scan.workers_per_scan must be positive, got %d", c.Scan.WorkersPerScan)
	}
	if c.Scan.GlobalMaxScans <= 0 {
		return fmt.Errorf("scan.global_max_scans must be positive, got %d", c.Scan.GlobalMaxScans)
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit.retention_days must be positive, got %d", c.Audit.RetentionDays)
	}
	return nil
}
