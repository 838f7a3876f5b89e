package report

import (
	"encoding/json"
	"time"
)

type jsonReport struct {
	Organization jsonOrganization `json:"organization"`
	GeneratedAt  string           `json:"generated_at"`
	Period       jsonPeriod       `json:"period"`
	Summary      jsonSummary      `json:"summary"`
	Results      []jsonResult     `json:"control_results"`
	AuditLogs    []jsonAuditLog   `json:"audit_logs"`
}

type jsonOrganization struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Frameworks []string `json:"frameworks"`
}

type jsonPeriod struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type jsonSummary struct {
	TotalControls   int     `json:"total_controls"`
	Pass            int     `json:"pass"`
	Fail            int     `json:"fail"`
	Fixed           int     `json:"fixed"`
	Error           int     `json:"error"`
	ComplianceScore float64 `json:"compliance_score"`
}

type jsonResult struct {
	ControlID    string `json:"control_id"`
	Status       string `json:"status"`
	Severity     string `json:"severity"`
	ResourceID   string `json:"resource_id,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	DetectedAt   string `json:"detected_at"`
	ResolvedAt   string `json:"resolved_at,omitempty"`
}

type jsonAuditLog struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Outcome   string `json:"outcome"`
}

// renderJSON encodes the report. Byte-stable: field order is fixed by the
// structs and collections arrive pre-sorted.
func renderJSON(data *reportData) ([]byte, error) {
	report := jsonReport{
		Organization: jsonOrganization{
			ID:         data.Organization.ID,
			Name:       data.Organization.Name,
			Frameworks: data.Organization.ComplianceFrameworks,
		},
		GeneratedAt: data.GeneratedAt.Format(time.RFC3339),
		Period: jsonPeriod{
			Start: formatOptional(data.Start),
			End:   formatOptional(data.End),
		},
		Summary: jsonSummary{
			TotalControls:   data.Summary.Total,
			Pass:            data.Summary.Pass,
			Fail:            data.Summary.Fail,
			Fixed:           data.Summary.Fixed,
			Error:           data.Summary.Error,
			ComplianceScore: data.Summary.Score,
		},
		Results:   make([]jsonResult, 0, len(data.Findings)),
		AuditLogs: make([]jsonAuditLog, 0, len(data.AuditLogs)),
	}

	for _, f := range data.Findings {
		result := jsonResult{
			ControlID:    f.ControlID,
			Status:       string(f.Status),
			Severity:     string(f.RiskLevel),
			ResourceID:   f.ResourceID,
			ResourceType: f.ResourceType,
			DetectedAt:   f.DetectedAt.UTC().Format(time.RFC3339),
		}
		if f.ResolvedAt != nil {
			result.ResolvedAt = f.ResolvedAt.UTC().Format(time.RFC3339)
		}
		report.Results = append(report.Results, result)
	}

	for _, e := range data.AuditLogs {
		report.AuditLogs = append(report.AuditLogs, jsonAuditLog{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			EventType: string(e.EventType),
			Action:    e.Action,
			Actor:     e.Actor,
			Outcome:   string(e.Outcome),
		})
	}

	return json.MarshalIndent(report, "", "  ")
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
