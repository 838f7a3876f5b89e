package models

import (
	"time"
)

// Provider identifies a cloud provider.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
)

// Severity represents control severity levels
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Risk represents remediation risk levels
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// FindingStatus represents the status of a control result
type FindingStatus string

const (
	StatusPass   FindingStatus = "PASS"
	StatusFail   FindingStatus = "FAIL"
	StatusFixed  FindingStatus = "FIXED"
	StatusError  FindingStatus = "ERROR"
	StatusManual FindingStatus = "MANUAL"
)

// RemediationStatus tracks the remediation lifecycle of a finding
type RemediationStatus string

const (
	RemediationNone       RemediationStatus = "none"
	RemediationPending    RemediationStatus = "pending"
	RemediationApproved   RemediationStatus = "approved"
	RemediationExecuted   RemediationStatus = "executed"
	RemediationFailed     RemediationStatus = "failed"
	RemediationRolledBack RemediationStatus = "rolledBack"
)

// ScanStatus represents the lifecycle state of an account scan
type ScanStatus string

const (
	ScanIdle       ScanStatus = "idle"
	ScanInProgress ScanStatus = "inProgress"
	ScanSuccess    ScanStatus = "success"
	ScanFailed     ScanStatus = "failed"
)

// CloudAccount is a tenant-owned binding to one cloud account.
// Scan lifecycle fields are mutated only by the detection engine.
type CloudAccount struct {
	ID             int64                  `json:"id"`
	OrganizationID int64                  `json:"organization_id"`
	Name           string                 `json:"name"`
	Provider       Provider               `json:"provider"`
	AccountID      string                 `json:"account_id"`
	Region         string                 `json:"region"`
	Credentials    map[string]interface{} `json:"-"`
	IsActive       bool                   `json:"is_active"`
	LastScanAt     *time.Time             `json:"last_scan_at,omitempty"`
	LastScanStatus ScanStatus             `json:"last_scan_status"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Organization groups cloud accounts under one tenant.
type Organization struct {
	ID                   int64                  `json:"id"`
	Name                 string                 `json:"name"`
	ComplianceFrameworks []string               `json:"compliance_frameworks"`
	ContactEmail         string                 `json:"contact_email"`
	IsActive             bool                   `json:"is_active"`
	Settings             map[string]interface{} `json:"settings,omitempty"`
}

// Finding is the persisted outcome of one (scan, control, resource) pair.
type Finding struct {
	ID             int64         `json:"id"`
	ScanID         string        `json:"scan_id"`
	CloudAccountID int64         `json:"cloud_account_id"`
	ControlID      string        `json:"control_id"`
	Status         FindingStatus `json:"status"`
	RiskLevel      Severity      `json:"risk_level"`

	ResourceID     string                 `json:"resource_id,omitempty"`
	ResourceType   string                 `json:"resource_type,omitempty"`
	FindingDetails map[string]interface{} `json:"finding_details,omitempty"`

	// EvidenceBefore is never overwritten once set.
	EvidenceBefore map[string]interface{} `json:"evidence_before,omitempty"`
	EvidenceAfter  map[string]interface{} `json:"evidence_after,omitempty"`
	EvidenceKey    string                 `json:"evidence_key,omitempty"`

	RemediationStatus     RemediationStatus      `json:"remediation_status"`
	RemediationApprovedBy string                 `json:"remediation_approved_by,omitempty"`
	RemediationExecutedAt *time.Time             `json:"remediation_executed_at,omitempty"`
	RemediationDetails    map[string]interface{} `json:"remediation_details,omitempty"`
	RollbackData          map[string]interface{} `json:"rollback_data,omitempty"`

	DetectedAt time.Time              `json:"detected_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Remediable reports whether the finding is in a state remediation may start from.
func (f *Finding) Remediable() bool {
	return f.Status == StatusFail || f.Status == StatusError
}

// FindingSeed is what a control's detect produces for one violating resource.
// Seeds always carry FAIL; a clean control produces no seeds and the engine
// synthesizes the PASS record.
type FindingSeed struct {
	ResourceID       string                 `json:"resource_id"`
	ResourceType     string                 `json:"resource_type"`
	FindingDetails   map[string]interface{} `json:"finding_details"`
	Evidence         map[string]interface{} `json:"evidence"`
	CanAutoRemediate bool                   `json:"can_auto_remediate"`
	RemediationRisk  Risk                   `json:"remediation_risk"`
}

// RemediationOutcome is what a control's remediate or rollback returns.
type RemediationOutcome struct {
	Success      bool                   `json:"success"`
	ResourceID   string                 `json:"resource_id"`
	BeforeState  map[string]interface{} `json:"before_state,omitempty"`
	AfterState   map[string]interface{} `json:"after_state,omitempty"`
	RollbackData map[string]interface{} `json:"rollback_data,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// EventType classifies audit log entries
type EventType string

const (
	EventScan        EventType = "scan"
	EventDetection   EventType = "detection"
	EventRemediation EventType = "remediation"
	EventRollback    EventType = "rollback"
	EventApproval    EventType = "approval"
	EventExport      EventType = "export"
)

// Outcome classifies the result recorded in an audit entry
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// AuditEntry is one immutable, hash-chained audit log record.
type AuditEntry struct {
	ID             int64                  `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	Action         string                 `json:"action"`
	Actor          string                 `json:"actor"`
	OrganizationID int64                  `json:"organization_id,omitempty"`
	CloudAccountID int64                  `json:"cloud_account_id,omitempty"`
	ControlID      string                 `json:"control_id,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	FindingID      int64                  `json:"finding_id,omitempty"`
	EventData      map[string]interface{} `json:"event_data,omitempty"`
	BeforeState    map[string]interface{} `json:"before_state,omitempty"`
	AfterState     map[string]interface{} `json:"after_state,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	Outcome        Outcome                `json:"outcome"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	PrevHash       string                 `json:"prev_hash"`
	Hash           string                 `json:"hash"`
}

// ScanSummary is the order-independent result of one scan.
type ScanSummary struct {
	TotalControls int `json:"total_controls"`
	Pass          int `json:"pass"`
	Fail          int `json:"fail"`
	Error         int `json:"error"`
	TotalFindings int `json:"total_findings"`
}

// ScanResult is the outcome of startScan.
type ScanResult struct {
	ScanID      string      `json:"scan_id"`
	AccountID   int64       `json:"account_id"`
	Status      string      `json:"status"`
	Summary     ScanSummary `json:"summary"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// ComplianceScore is the derived compliance ratio for a scope.
// ERROR and MANUAL findings are excluded from the denominator.
type ComplianceScore struct {
	Score      float64          `json:"score"`
	Total      int              `json:"total"`
	Pass       int              `json:"pass"`
	Fail       int              `json:"fail"`
	Fixed      int              `json:"fixed"`
	BySeverity map[Severity]int `json:"by_severity"`
}
