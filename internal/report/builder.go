// Package report materializes a scan+audit window into a regulator-facing
// artifact. Artifacts are deterministic: identical inputs and a pinned
// generation time produce identical bytes, collections iterate in stable
// key order, and the only clock reading embedded is the generation time.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/avelinecloud/compliancemgr/internal/audit"
	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/evidence"
	"github.com/avelinecloud/compliancemgr/internal/logger"
	"github.com/avelinecloud/compliancemgr/internal/metrics"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/store"
)

// Format selects the artifact encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// auditLogLimit caps how many entries embed in an artifact.
const auditLogLimit = 1000

// Builder assembles and stores report artifacts.
type Builder struct {
	store    *store.Store
	auditLog *audit.Writer
	evidence *evidence.Store
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewBuilder creates a report builder
func NewBuilder(s *store.Store, auditLog *audit.Writer, ev *evidence.Store, m *metrics.Metrics) *Builder {
	return &Builder{store: s, auditLog: auditLog, evidence: ev, metrics: m, log: logger.New("report")}
}

// Result is the outcome of one export.
type Result struct {
	ReportKey   string    `json:"report_key"`
	DownloadURL string    `json:"download_url,omitempty"`
	Format      Format    `json:"format"`
	GeneratedAt time.Time `json:"generated_at"`
	TotalLogs   int       `json:"total_audit_logs"`
	TotalFinds  int       `json:"total_findings"`
	// Degraded is set when object storage was unavailable; Artifact then
	// carries the report bytes inline. The report is never dropped.
	Degraded bool   `json:"degraded,omitempty"`
	Artifact []byte `json:"artifact,omitempty"`
}

// reportData is the assembled, sorted input both encoders render from.
type reportData struct {
	Organization *models.Organization
	Start, End   time.Time
	GeneratedAt  time.Time
	Findings     []*models.Finding
	AuditLogs    []*models.AuditEntry
	Summary      summary
}

type summary struct {
	Total int
	Pass  int
	Fail  int
	Fixed int
	Error int
	Score float64
}

// Export materializes the report for an organization and window and
// uploads it to the evidence store.
func (b *Builder) Export(ctx context.Context, organizationID int64, start, end time.Time, format Format) (*Result, error) {
	if format != FormatJSON && format != FormatPDF {
		return nil, errors.Newf(errors.KindValidation, "unsupported report format %q", format)
	}

	org, err := b.store.GetOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	findings, err := b.store.ListFindings(ctx, store.FindingFilter{OrganizationID: organizationID})
	if err != nil {
		return nil, err
	}
	auditLogs, err := b.store.ListAuditEntries(ctx, store.AuditFilter{
		OrganizationID: organizationID,
		Start:          start,
		End:            end,
	})
	if err != nil {
		return nil, err
	}
	totalLogs := len(auditLogs)
	if len(auditLogs) > auditLogLimit {
		b.log.Warn("report truncates audit entries",
			logger.Int("total", totalLogs), logger.Int("kept", auditLogLimit))
		auditLogs = auditLogs[:auditLogLimit]
	}

	generatedAt := time.Now().UTC()
	data := &reportData{
		Organization: org,
		Start:        start,
		End:          end,
		GeneratedAt:  generatedAt,
		Findings:     sortFindings(findings),
		AuditLogs:    auditLogs,
		Summary:      summarize(findings),
	}

	var body []byte
	var contentType string
	switch format {
	case FormatJSON:
		body, err = renderJSON(data)
		contentType = "application/json"
	case FormatPDF:
		body, err = renderPDF(data)
		contentType = "application/pdf"
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "rendering report")
	}

	result := &Result{
		Format:      format,
		GeneratedAt: generatedAt,
		TotalLogs:   totalLogs,
		TotalFinds:  len(findings),
		ReportKey:   evidence.ReportKey(organizationID, generatedAt, string(format)),
	}

	outcome := models.OutcomeSuccess
	if b.evidence.Available() {
		key, storeErr := b.evidence.StoreReport(ctx, organizationID, generatedAt, string(format), body, contentType)
		if storeErr == nil {
			result.ReportKey = key
			if url, urlErr := b.evidence.SignedURL(ctx, key); urlErr == nil {
				result.DownloadURL = url
			}
		} else {
			b.log.Warn("report upload failed, returning artifact inline", logger.Error(storeErr))
			result.Degraded = true
			result.Artifact = body
			outcome = models.OutcomePartial
		}
	} else {
		result.Degraded = true
		result.Artifact = body
		outcome = models.OutcomePartial
	}

	auditErr := b.auditLog.Append(ctx, &models.AuditEntry{
		EventType:      models.EventExport,
		Action:         "Exported audit report",
		Actor:          "system",
		OrganizationID: organizationID,
		Outcome:        outcome,
		EventData: map[string]interface{}{
			"format":           string(format),
			"report_key":       result.ReportKey,
			"total_audit_logs": totalLogs,
			"total_findings":   len(findings),
			"degraded":         result.Degraded,
		},
	})
	if auditErr != nil {
		return nil, auditErr
	}

	if b.metrics != nil {
		b.metrics.ReportsTotal.WithLabelValues(string(format)).Inc()
	}
	return result, nil
}

func sortFindings(findings []*models.Finding) []*models.Finding {
	sorted := make([]*models.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ControlID != sorted[j].ControlID {
			return sorted[i].ControlID < sorted[j].ControlID
		}
		if sorted[i].ResourceID != sorted[j].ResourceID {
			return sorted[i].ResourceID < sorted[j].ResourceID
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

func summarize(findings []*models.Finding) summary {
	var s summary
	s.Total = len(findings)
	for _, f := range findings {
		switch f.Status {
		case models.StatusPass:
			s.Pass++
		case models.StatusFail:
			s.Fail++
		case models.StatusFixed:
			s.Fixed++
		case models.StatusError:
			s.Error++
		}
	}
	if denominator := s.Pass + s.Fail + s.Fixed; denominator > 0 {
		s.Score = float64(s.Pass+s.Fixed) / float64(denominator) * 100
	}
	return s
}
