// Package render — price summary PDF.
// Renders one report date's prices as a table using gofpdf, for sharing
// outside the database.
package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gaurav-prasanna/usdaprices/core"
	"github.com/jung-kurt/gofpdf"
)

// PDFRenderer renders a set of price rows as a PDF document.
type PDFRenderer struct{}

// NewPDFRenderer creates a PDFRenderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Extension returns the output file extension.
func (r *PDFRenderer) Extension() string {
	return ".pdf"
}

// Column layout in mm, sized for A4 portrait.
var columns = []struct {
	title string
	width float64
}{
	{"Product", 78},
	{"Price", 22},
	{"Low", 22},
	{"High", 22},
	{"Volume", 26},
	{"Unit", 14},
}

// Render produces the PDF bytes for one report type and date.
func (r *PDFRenderer) Render(reportType string, date time.Time, rows []core.PriceRow) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	// Title.
	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, fmt.Sprintf("USDA Prices - %s", reportType), "", "L", false)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.MultiCell(0, 5, "Report date: "+date.Format("2006-01-02"), "", "L", false)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	// Header row.
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(235, 235, 235)
	for _, col := range columns {
		pdf.CellFormat(col.width, 7, col.title, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	// Data rows.
	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		pdf.CellFormat(columns[0].width, 6, row.ProductName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(columns[1].width, 6, money(row.Price), "1", 0, "R", false, 0, "")
		pdf.CellFormat(columns[2].width, 6, money(row.LowPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(columns[3].width, 6, money(row.HighPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(columns[4].width, 6, amount(row.Volume), "1", 0, "R", false, 0, "")
		pdf.CellFormat(columns[5].width, 6, row.Unit, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 6, "No prices recorded for this date.", "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func money(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func amount(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *v)
}
