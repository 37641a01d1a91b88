// Package extract implements the Extractor interface.
// It pulls text out of PDF bytes page by page, grouping glyphs into rows
// by vertical position and reassembling each row left-to-right into a
// plain text line. Downstream parsing works on these lines only.
package extract

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts text lines from PDF documents.
type PDFExtractor struct{}

// New creates a PDFExtractor.
func New() *PDFExtractor {
	return &PDFExtractor{}
}

// Lines returns the ordered, non-empty text lines of all pages.
// A PDF with no extractable text yields zero lines; unreadable bytes are
// an error.
func (e *PDFExtractor) Lines(data []byte) (lines []string, err error) {
	// The underlying reader panics on malformed content streams; surface
	// that as an error so a bad download fails the report cleanly.
	defer func() {
		if r := recover(); r != nil {
			lines, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("extracting text from page %d: %w", pageNum, err)
		}

		for _, row := range rows {
			line := strings.TrimSpace(joinRow(row.Content))
			if line != "" {
				lines = append(lines, line)
			}
		}
	}

	return lines, nil
}

// joinRow reassembles one row of positioned text fragments into a line.
// Fragments are ordered by x; a space is inserted wherever the horizontal
// gap between fragments indicates a column or word boundary.
func joinRow(texts pdf.TextHorizontal) string {
	sort.Sort(texts)

	var b strings.Builder
	prevEnd := 0.0
	for i, t := range texts {
		if i > 0 {
			gap := t.X - prevEnd
			if gap > 0.3*t.FontSize && !endsWithSpace(&b) && !strings.HasPrefix(t.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	return b.String()
}

func endsWithSpace(b *strings.Builder) bool {
	s := b.String()
	return s != "" && s[len(s)-1] == ' '
}
