package reporting

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/rcourtman/shellgate/pkg/audit"
)

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorDanger      = [3]int{231, 76, 60}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorTableHeader = [3]int{30, 58, 95}
	colorTableAlt    = [3]int{241, 245, 249}
)

// PDFGenerator renders audit report PDFs.
type PDFGenerator struct{}

// NewPDFGenerator creates a generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Generate renders the report to PDF bytes.
func (g *PDFGenerator) Generate(data *ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.AddPage()

	g.writeHeader(pdf, data)
	g.writeTotals(pdf, data)
	g.writeCountTable(pdf, "By Category", data.ByCategory)
	g.writeCountTable(pdf, "By Level", data.ByLevel)
	g.writeEntryTable(pdf, "Blocked Commands", data.Blocked)
	g.writeEntryTable(pdf, "Confirmation Required", data.Confirmation)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *PDFGenerator) writeHeader(pdf *fpdf.Fpdf, data *ReportData) {
	pageWidth, _ := pdf.GetPageSize()
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 10, "SHELLGATE", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, "Daily Audit Report - "+data.Date.Format("2006-01-02"),
		"", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func (g *PDFGenerator) writeTotals(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Audit entries: %d", data.Entries),
		fmt.Sprintf("Executions: %d", data.Executions),
		fmt.Sprintf("Blocked commands: %d", len(data.Blocked)),
		fmt.Sprintf("Confirmation refusals: %d", len(data.Confirmation)),
	}
	for _, line := range lines {
		pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)
}

func (g *PDFGenerator) writeCountTable(pdf *fpdf.Fpdf, title string, counts map[string]int) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(110, 7, "Name", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 7, "Count", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for i, row := range sortedCounts(counts) {
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.CellFormat(110, 6, fmt.Sprint(row[0]), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprint(row[1]), "1", 1, "R", fill, 0, "")
	}
	if len(counts) == 0 {
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(140, 6, "none", "1", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func (g *PDFGenerator) writeEntryTable(pdf *fpdf.Fpdf, title string, entries []audit.Entry) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
	pdf.CellFormat(0, 8, fmt.Sprintf("%s (%d)", title, len(entries)), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(30, 7, "Time", "1", 0, "L", true, 0, "")
	pdf.CellFormat(45, 7, "Reason", "1", 0, "L", true, 0, "")
	pdf.CellFormat(95, 7, "Detail", "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for i, entry := range entries {
		if i == maxTableRows {
			pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
			pdf.CellFormat(170, 6, fmt.Sprintf("... and %d more", len(entries)-maxTableRows),
				"1", 1, "L", false, 0, "")
			break
		}
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.CellFormat(30, 6, entry.Timestamp.Format("15:04:05"), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(45, 6, clip(metaString(entry, "reason"), 32), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(95, 6, clip(entry.Message, 64), "1", 1, "L", fill, 0, "")
	}
	if len(entries) == 0 {
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(170, 6, "none", "1", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

const maxTableRows = 40

func metaString(entry audit.Entry, key string) string {
	if entry.Metadata == nil {
		return ""
	}
	if v, ok := entry.Metadata[key].(string); ok {
		return v
	}
	return ""
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
