// Package normalize implements the LayoutParser interface.
// It turns the flat text lines of a USDA report into tabular rows,
// applying the per-report-type section layout:
//
//   - branded_beef:    the "Upper 2/3 Choice Items Cuts" section
//   - ungraded_beef:   the "Ungraded Cuts, Fat Limitations" section
//   - daily_afternoon: four sections (Choice, Select, combined, Ground Beef)
//   - pork_cuts:       category headers followed by product lines
//
// Each emitted row maps column labels to raw cell text; numeric parsing
// happens later, in the ingestion step.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gaurav-prasanna/usdaprices/core"
)

// Column labels used in emitted rows.
const (
	ColProduct     = "Product"
	ColProductCode = "Product Code"
	ColCategory    = "Category"
	ColPrice       = "Price"
	ColLowPrice    = "Low Price"
	ColHighPrice   = "High Price"
	ColVolume      = "Volume"
	ColTrades      = "Trades"
	ColSubPrimal   = "Sub Primal"
)

// Parser parses report text lines into rows.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Rows parses the extracted lines according to the report type's layout.
func (p *Parser) Rows(lines []string, reportType string) ([]core.RawRow, error) {
	switch reportType {
	case "daily_afternoon":
		return parseDaily(lines), nil
	case "pork_cuts":
		return parsePork(lines), nil
	case "branded_beef", "ungraded_beef":
		return parseWeekly(lines, reportType)
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}

// weeklySection describes the single target section of a weekly report.
type weeklySection struct {
	startKeywords []string // all must appear on the section header line
	endKeywords   []string // any ends the section
	category      string
}

var weeklySections = map[string]weeklySection{
	"branded_beef": {
		startKeywords: []string{"upper 2/3 choice", "items cuts"},
		endKeywords:   []string{"lower", "branded select"},
		category:      "Upper 2/3 Choice",
	},
	"ungraded_beef": {
		startKeywords: []string{"ungraded cuts", "fat limitations"},
		endKeywords:   []string{"branded", "choice"},
		category:      "Ungraded Cuts",
	},
}

// parseWeekly extracts the single target section of a weekly beef report.
func parseWeekly(lines []string, reportType string) ([]core.RawRow, error) {
	section, ok := weeklySections[reportType]
	if !ok {
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}

	var rows []core.RawRow
	inSection := false

	for _, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))

		if !inSection && containsAll(lower, section.startKeywords) {
			inSection = true
			continue
		}
		if inSection && containsAny(lower, section.endKeywords) {
			break
		}
		if !inSection || strings.TrimSpace(line) == "" || isHeaderRow(line) {
			continue
		}

		if d := parseDataLine(line); d != nil {
			rows = append(rows, d.toRow(section.category))
		}
	}

	return rows, nil
}

// dailySection pairs a section name with the keywords of its header line.
// Order matters: more specific markers must be checked first.
type dailySection struct {
	name     string
	keywords []string
}

var dailySections = []dailySection{
	{"Choice, Select & Ungraded", []string{"choice, select & ungraded", "fat limitations"}},
	{"Ground Beef", []string{"gb - steer/heifer source", "10 pound chub"}},
	{"Choice Cuts", []string{"choice cuts", "fat limitations"}},
	{"Select Cuts", []string{"select cuts", "fat limitations"}},
}

// parseDaily extracts all sections of the daily afternoon report.
// Ground Beef rows carry no IMPS code and use a different line grammar.
func parseDaily(lines []string) []core.RawRow {
	var rows []core.RawRow
	currentSection := ""

	for _, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))

		sectionFound := false
		for _, s := range dailySections {
			if containsAll(lower, s.keywords) {
				currentSection = s.name
				sectionFound = true
				break
			}
		}
		if sectionFound {
			continue
		}

		if currentSection == "" || strings.TrimSpace(line) == "" || isHeaderRow(line) {
			continue
		}

		if currentSection == "Ground Beef" {
			if d := parseGroundBeefLine(line); d != nil {
				rows = append(rows, d.toRow(currentSection))
			}
			continue
		}
		if d := parseDataLine(line); d != nil {
			rows = append(rows, d.toRow(currentSection))
		}
	}

	return rows
}

// parsePork extracts the pork report: category header lines (Loin, Butt,
// Ham, ...) followed by product lines without IMPS codes. Data starts at
// the Pounds / Price Range column header.
func parsePork(lines []string) []core.RawRow {
	var rows []core.RawRow
	currentCategory := ""
	inData := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)

		// The column header line marks the start of the data area. This
		// check must precede the header-row skip: the column header
		// itself contains those keywords.
		if strings.Contains(lower, "pounds") && strings.Contains(lower, "price") {
			inData = true
			continue
		}
		if !inData {
			continue
		}
		if isHeaderRow(trimmed) {
			continue
		}

		if d := parsePorkLine(trimmed); d != nil {
			name := d.product
			if currentCategory != "" {
				name = currentCategory + " - " + d.product
			}
			row := core.RawRow{
				ColProduct:   name,
				ColLowPrice:  d.low,
				ColHighPrice: d.high,
				ColPrice:     d.avg,
				ColVolume:    d.pounds,
				ColSubPrimal: d.product,
			}
			if currentCategory != "" {
				row[ColCategory] = currentCategory
			}
			rows = append(rows, row)
			continue
		}

		if isPorkCategoryHeader(trimmed) {
			currentCategory = trimmed
		}
	}

	return rows
}

// dataLine holds the raw cells of one parsed table line.
type dataLine struct {
	code    string // IMPS code; empty for ground beef and pork
	product string
	trades  string
	pounds  string
	low     string
	high    string
	avg     string
}

func (d *dataLine) toRow(category string) core.RawRow {
	name := d.product
	if d.code != "" {
		name = d.code + " - " + d.product
	}
	row := core.RawRow{
		ColProduct:   name,
		ColPrice:     d.avg,
		ColLowPrice:  d.low,
		ColHighPrice: d.high,
		ColVolume:    d.pounds,
		ColSubPrimal: d.product,
	}
	if d.code != "" {
		row[ColProductCode] = d.code
	}
	if d.trades != "" {
		row[ColTrades] = d.trades
	}
	if category != "" {
		row[ColCategory] = category
	}
	return row
}

// Line grammars. Example weekly/daily line:
//
//	109E 1 Rib, ribeye, lip-on, bn-in 55 119,191 1,266.00 - 1,616.00 1,359.01
//
// CODE SEQ DESCRIPTION TRADES POUNDS LOW - HIGH AVG. The sequence number
// after the code is discarded.
var (
	dataLinePattern       = regexp.MustCompile(`^(\S+)\s+(\d+)\s+(.+?)\s+(\d+)\s+([\d,]+)\s+([\d,.]+)\s*-\s*([\d,.]+)\s+([\d,.]+)\s*$`)
	groundBeefLinePattern = regexp.MustCompile(`^(.+?)\s+(\d+)\s+([\d,]+)\s+([\d,.]+)\s*-\s*([\d,.]+)\s+([\d,.]+)\s*$`)
	porkLinePattern       = regexp.MustCompile(`^(.+?)\s+([\d,]+)\s+([\d,.]+)\s*-\s*([\d,.]+)\s+([\d,.]+)\s*$`)
)

func parseDataLine(line string) *dataLine {
	m := dataLinePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil
	}
	return &dataLine{
		code:    m[1],
		product: strings.TrimSpace(m[3]),
		trades:  m[4],
		pounds:  m[5],
		low:     m[6],
		high:    m[7],
		avg:     m[8],
	}
}

func parseGroundBeefLine(line string) *dataLine {
	m := groundBeefLinePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil
	}
	return &dataLine{
		product: strings.TrimSpace(m[1]),
		trades:  m[2],
		pounds:  m[3],
		low:     m[4],
		high:    m[5],
		avg:     m[6],
	}
}

func parsePorkLine(line string) *dataLine {
	m := porkLinePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil
	}
	return &dataLine{
		product: strings.TrimSpace(m[1]),
		pounds:  m[2],
		low:     m[3],
		high:    m[4],
		avg:     m[5],
	}
}

// headerRowPattern matches words that only appear on header, subtotal or
// boilerplate lines, never in product descriptions. Word boundaries keep
// short tokens like "fl" from matching inside words ("flank").
var headerRowPattern = regexp.MustCompile(`(?i)\b(total|subtotal|average|grand total|report|date|page|continued|usda|imps|fl|sub-primal|trades|pounds|price|range|weighted)\b`)

func isHeaderRow(line string) bool {
	return headerRowPattern.MatchString(line)
}

// Known pork category headers, matched exactly or as a leading word.
var porkCategories = []string{
	"loin", "butt", "ham", "belly", "picnic", "sparerib",
	"jowl", "variety", "trim", "fat", "skin",
}

// Lines containing these are never category headers.
var porkSkipWords = []string{
	"total", "average", "source", "usda", "page", "report",
	"national", "weekly", "daily", "agricultural", "marketing",
	"vac", "fzn", "combo", "paper", "poly", "bnls", "bone",
}

var (
	priceLikePattern = regexp.MustCompile(`\d+\.\d{2}`)
	bigNumberPattern = regexp.MustCompile(`\d{3,}`)
	anyDigitPattern  = regexp.MustCompile(`\d`)
)

// isPorkCategoryHeader reports whether a line looks like a pork category
// header: short text without price data.
func isPorkCategoryHeader(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))

	for _, cat := range porkCategories {
		if lower == cat || strings.HasPrefix(lower, cat+" ") {
			return true
		}
	}

	// Product lines with no reported data end with a dash.
	if strings.HasSuffix(strings.TrimSpace(line), "-") {
		return false
	}
	if len(line) > 30 {
		return false
	}
	if priceLikePattern.MatchString(line) || bigNumberPattern.MatchString(line) {
		return false
	}
	for _, skip := range porkSkipWords {
		if strings.Contains(lower, skip) {
			return false
		}
	}

	// A very short text line with no numbers at all might be a category.
	if len(strings.Fields(line)) <= 2 && !anyDigitPattern.MatchString(line) {
		return true
	}
	return false
}

func containsAll(s string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(s, kw) {
			return false
		}
	}
	return true
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
