// Package report renders a completed compliance record as a PDF document.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"plancheck/internal/task"

	"github.com/jung-kurt/gofpdf/v2"
)

const (
	pageMargin   = 12.0
	rowPadding   = 2.0
	headerHeight = 9.0
	lineHeight   = 4.5
)

// column widths for the results table (landscape A4, ~273mm usable)
var colWidths = [5]float64{28, 90, 60, 30, 65}

var colTitles = [5]string{"ID", "Requirement", "Evidence", "Status", "Remarks"}

// statusFill maps a compliance status to its cell colours (background, text).
func statusFill(status task.ComplianceStatus) (bg [3]int, fg [3]int) {
	switch status {
	case task.Compliant:
		return [3]int{209, 250, 229}, [3]int{6, 95, 70}
	case task.NonCompliant:
		return [3]int{254, 226, 226}, [3]int{153, 27, 27}
	case task.PartiallyCompliant:
		return [3]int{254, 215, 170}, [3]int{146, 64, 14}
	default:
		return [3]int{243, 244, 246}, [3]int{31, 41, 55}
	}
}

// Generate renders the record into PDF bytes: a title, a metadata block, the
// summary table and one row per evaluated requirement with status colouring.
func Generate(rec *task.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil record")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AliasNbPages("{nb}")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(107, 114, 128)
		pdf.CellFormat(0, 6, fmt.Sprintf("Generated by plancheck - page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	title := rec.OutputReportTitle
	if title == "" {
		title = "Compliance Report"
	}
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(31, 41, 55)
	pdf.CellFormat(0, 12, title, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	writeMetadata(pdf, rec)
	writeSummary(pdf, rec.Summary)
	writeRows(pdf, rec.Results)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeMetadata(pdf *gofpdf.Fpdf, rec *task.Record) {
	pdf.SetFont("Helvetica", "", 10)
	meta := [][2]string{
		{"Report File:", orNA(rec.ReportFilename)},
		{"Completed:", rec.CompletedAt.Format(time.DateTime)},
		{"Checklists:", fmt.Sprint(len(rec.ChecklistIDs))},
		{"Total Checks:", fmt.Sprint(rec.Summary.Total)},
	}
	for _, kv := range meta {
		pdf.SetTextColor(107, 114, 128)
		pdf.CellFormat(40, 6, kv[0], "", 0, "L", false, 0, "")
		pdf.SetTextColor(31, 41, 55)
		pdf.CellFormat(0, 6, kv[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func writeSummary(pdf *gofpdf.Fpdf, s task.Summary) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(55, 65, 81)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")

	rows := [][2]string{
		{"Compliant", fmt.Sprint(s.Compliant)},
		{"Non-Compliant", fmt.Sprint(s.NonCompliant)},
		{"Partially Compliant", fmt.Sprint(s.PartiallyCompliant)},
		{"Error", fmt.Sprint(s.Error)},
		{"Compliance Rate", fmt.Sprintf("%.1f%%", s.ComplianceRate)},
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(243, 244, 246)
	pdf.CellFormat(70, 7, "Status", "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 7, "Count", "1", 1, "L", true, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, kv := range rows {
		pdf.CellFormat(70, 7, kv[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 7, kv[1], "1", 1, "L", false, 0, "")
	}
	pdf.Ln(6)
}

func writeRows(pdf *gofpdf.Fpdf, rows []task.ComplianceRow) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(55, 65, 81)
	pdf.CellFormat(0, 8, "Detailed Compliance Results", "", 1, "L", false, 0, "")

	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 7, "No compliance data available.", "", 1, "L", false, 0, "")
		return
	}

	writeTableHeader(pdf)
	pdf.SetFont("Helvetica", "", 8)
	for _, row := range rows {
		cells := [5]string{
			row.RequirementID,
			row.RequirementText,
			clip(row.Evidence, 400),
			string(row.Status),
			withPages(row.Remarks, row.EvidencePages),
		}
		writeResultRow(pdf, cells, row.Status)
	}
}

func writeTableHeader(pdf *gofpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(31, 41, 55)
	pdf.SetTextColor(255, 255, 255)
	for i, t := range colTitles {
		last := 0
		if i == len(colTitles)-1 {
			last = 1
		}
		pdf.CellFormat(colWidths[i], headerHeight, t, "1", last, "L", true, 0, "")
	}
	pdf.SetTextColor(31, 41, 55)
}

// writeResultRow lays out one multi-line table row; the row height follows
// the tallest wrapped cell.
func writeResultRow(pdf *gofpdf.Fpdf, cells [5]string, status task.ComplianceStatus) {
	lines := make([][]string, len(cells))
	height := 0.0
	for i, text := range cells {
		lines[i] = pdf.SplitText(text, colWidths[i]-2*rowPadding)
		if h := float64(len(lines[i]))*lineHeight + 2*rowPadding; h > height {
			height = h
		}
	}
	// keep the row on one page
	_, pageH := pdf.GetPageSize()
	if pdf.GetY()+height > pageH-pageMargin {
		pdf.AddPage()
		writeTableHeader(pdf)
		pdf.SetFont("Helvetica", "", 8)
	}

	x, y := pdf.GetXY()
	for i := range cells {
		fill := false
		if colTitles[i] == "Status" {
			bg, fg := statusFill(status)
			pdf.SetFillColor(bg[0], bg[1], bg[2])
			pdf.SetTextColor(fg[0], fg[1], fg[2])
			fill = true
		}
		pdf.Rect(x, y, colWidths[i], height, "D")
		if fill {
			pdf.Rect(x, y, colWidths[i], height, "FD")
		}
		for j, line := range lines[i] {
			pdf.SetXY(x+rowPadding, y+rowPadding+float64(j)*lineHeight)
			pdf.CellFormat(colWidths[i]-2*rowPadding, lineHeight, line, "", 0, "L", false, 0, "")
		}
		pdf.SetTextColor(31, 41, 55)
		x += colWidths[i]
	}
	pdf.SetXY(pageMargin, y+height)
}

// withPages appends the evidence pages unless the remarks already name them.
func withPages(remarks string, pages []int) string {
	if len(pages) == 0 || strings.Contains(strings.ToLower(remarks), "page") {
		return orNA(remarks)
	}
	return fmt.Sprintf("%s (pages %v)", orNA(remarks), pages)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// clip shortens s to at most max bytes, never splitting a rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
