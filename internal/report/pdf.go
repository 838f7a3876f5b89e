package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/avelinecloud/compliancemgr/internal/models"
)

// failedControlLimit caps the failed-control detail section.
const failedControlLimit = 20

// renderPDF builds the PDF artifact. Creation and modification dates are
// pinned to the report's generation time so identical inputs produce
// identical bytes.
func renderPDF(data *reportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(data.GeneratedAt)
	pdf.SetModificationDate(data.GeneratedAt)
	pdf.SetTitle("Compliance Audit Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Compliance Audit Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, data.Organization.Name, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	period := fmt.Sprintf("Report Period: %s to %s", periodLabel(data.Start, "All time"), periodLabel(data.End, "Present"))
	pdf.CellFormat(0, 6, period, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated: "+data.GeneratedAt.Format("2006-01-02 15:04:05 UTC"), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Frameworks: "+joinOr(data.Organization.ComplianceFrameworks, "none"), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Executive Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	rows := [][2]string{
		{"Total Controls Evaluated", fmt.Sprintf("%d", data.Summary.Total)},
		{"Passed", fmt.Sprintf("%d", data.Summary.Pass)},
		{"Failed", fmt.Sprintf("%d", data.Summary.Fail)},
		{"Fixed", fmt.Sprintf("%d", data.Summary.Fixed)},
		{"Errors", fmt.Sprintf("%d", data.Summary.Error)},
		{"Compliance Score", fmt.Sprintf("%.1f%%", data.Summary.Score)},
	}
	for _, row := range rows {
		pdf.CellFormat(80, 7, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 7, row[1], "1", 1, "R", false, 0, "")
	}
	pdf.Ln(6)

	if data.Summary.Fail > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Failed Controls (Requiring Attention)", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)

		shown := 0
		for _, f := range data.Findings {
			if f.Status != models.StatusFail {
				continue
			}
			if shown >= failedControlLimit {
				remaining := data.Summary.Fail - shown
				pdf.CellFormat(0, 6, fmt.Sprintf("... and %d more failed controls", remaining), "", 1, "L", false, 0, "")
				break
			}
			pdf.SetFont("Helvetica", "B", 9)
			pdf.CellFormat(0, 5, f.ControlID+" - "+metadataTitle(f), "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 9)
			pdf.CellFormat(0, 5, "Resource: "+f.ResourceID, "", 1, "L", false, 0, "")
			pdf.CellFormat(0, 5, "Severity: "+string(f.RiskLevel), "", 1, "L", false, 0, "")
			pdf.CellFormat(0, 5, "Detected: "+f.DetectedAt.UTC().Format("2006-01-02 15:04:05"), "", 1, "L", false, 0, "")
			pdf.Ln(2)
			shown++
		}
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Audit Activity", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Total audit events: %d", len(data.AuditLogs)), "", 1, "L", false, 0, "")

	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func periodLabel(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.UTC().Format("2006-01-02")
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	out := values[0]
	for _, v := range values[1:] {
		out += ", " + v
	}
	return out
}

func metadataTitle(f *models.Finding) string {
	if title, ok := f.Metadata["control_title"].(string); ok && title != "" {
		return title
	}
	return "N/A"
}
