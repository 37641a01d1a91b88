// Package ingest implements the ingestion model: it normalizes extracted
// rows into Product/Price records and applies them to the store with
// idempotent upserts. All uniqueness is enforced by the store's
// constraints — reruns never duplicate data, and an already-completed
// report is skipped unless forced.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gaurav-prasanna/usdaprices/core"
)

// Ingestor drives report ingestion against a Store.
type Ingestor struct {
	store   core.Store
	out     io.Writer
	verbose bool
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithVerbose enables row-level debug logging.
func WithVerbose(v bool) Option {
	return func(in *Ingestor) { in.verbose = v }
}

// WithOutput redirects log output (default: stderr).
func WithOutput(w io.Writer) Option {
	return func(in *Ingestor) { in.out = w }
}

// New creates an Ingestor backed by the given store.
func New(store core.Store, opts ...Option) *Ingestor {
	in := &Ingestor{store: store, out: os.Stderr}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Input is one report's worth of extracted rows.
type Input struct {
	ReportType string
	ReportDate time.Time
	SourceURL  string
	Rows       []core.RawRow
	Force      bool
}

// Summary reports what a run did.
type Summary struct {
	ReportID string
	Saved    int
	Skipped  int
	// AlreadyCompleted is set when the idempotency gate skipped the
	// whole report (completed before, no force flag).
	AlreadyCompleted bool
}

// Run ingests one report end to end: begin, process rows, finish.
func (in *Ingestor) Run(ctx context.Context, input Input) (*Summary, error) {
	report, skip, err := in.BeginReport(ctx, input.ReportType, input.ReportDate, input.SourceURL, input.Force)
	if err != nil {
		return nil, err
	}
	if skip {
		return &Summary{ReportID: report.ID, AlreadyCompleted: true}, nil
	}
	return in.ProcessRows(ctx, report, input.Rows)
}

// BeginReport gets or creates the report for (reportType, reportDate).
// When the report exists with status completed and force is not set, skip
// is true and no further work should happen for that date. Otherwise the
// report is moved to processing.
func (in *Ingestor) BeginReport(ctx context.Context, reportType string, reportDate time.Time, sourceURL string, force bool) (*core.Report, bool, error) {
	report, created, err := in.store.FindOrCreateReport(ctx, reportType, reportDate, sourceURL)
	if err != nil {
		return nil, false, fmt.Errorf("creating report record: %w", err)
	}

	if !created && report.Status == core.StatusCompleted && !force {
		in.logf("report %s/%s already completed, skipping", reportType, reportDate.Format("2006-01-02"))
		return report, true, nil
	}

	if err := in.store.UpdateReportStatus(ctx, report.ID, core.StatusProcessing, ""); err != nil {
		return nil, false, fmt.Errorf("marking report processing: %w", err)
	}
	report.Status = core.StatusProcessing
	return report, false, nil
}

// ProcessRows normalizes and persists all rows for a report, then
// finishes it. Unrecognizable rows are skipped and counted; a store
// failure aborts the report and marks it failed.
func (in *Ingestor) ProcessRows(ctx context.Context, report *core.Report, rows []core.RawRow) (*Summary, error) {
	summary := &Summary{ReportID: report.ID}

	for i, raw := range rows {
		name, fields, ok := NormalizeRow(raw)
		if !ok {
			summary.Skipped++
			in.debugf("row %d: no recognized product column, skipped", i)
			continue
		}

		product, err := in.store.FindOrCreateProduct(ctx, name, report.ReportType, fields.ProductCode, fields.Category)
		if err != nil {
			return summary, in.abort(ctx, report, summary, fmt.Errorf("upserting product %q: %w", name, err))
		}

		price := &core.Price{
			ProductID:      product.ID,
			ReportID:       report.ID,
			ReportDate:     report.ReportDate,
			Price:          fields.Price,
			LowPrice:       fields.LowPrice,
			HighPrice:      fields.HighPrice,
			Volume:         fields.Volume,
			Unit:           fields.Unit,
			AdditionalData: fields.AdditionalData,
		}
		if err := in.store.UpsertPrice(ctx, price); err != nil {
			return summary, in.abort(ctx, report, summary, fmt.Errorf("upserting price for %q: %w", name, err))
		}

		summary.Saved++
		in.debugf("row %d: %s saved", i, name)
	}

	if len(rows) == 0 {
		// An empty report is not an error: the PDF simply had no rows in
		// the target sections.
		if err := in.FinishReport(ctx, report, true, "no rows extracted"); err != nil {
			return summary, err
		}
		return summary, nil
	}

	if summary.Saved == 0 {
		if err := in.FinishReport(ctx, report, false, "no pricing data saved"); err != nil {
			return summary, err
		}
		return summary, fmt.Errorf("report %s: all %d rows were rejected", report.ID, len(rows))
	}

	in.logf("saved %d/%d price records (%d skipped)", summary.Saved, len(rows), summary.Skipped)
	if err := in.FinishReport(ctx, report, true, ""); err != nil {
		return summary, err
	}
	return summary, nil
}

// FinishReport sets the report's terminal status. On failure the error
// message is retained for later inspection. This is the sole write after
// row processing.
func (in *Ingestor) FinishReport(ctx context.Context, report *core.Report, success bool, errorMessage string) error {
	status := core.StatusCompleted
	if !success {
		status = core.StatusFailed
	}
	if err := in.store.UpdateReportStatus(ctx, report.ID, status, errorMessage); err != nil {
		return fmt.Errorf("updating report status: %w", err)
	}
	report.Status = status
	return nil
}

// abort marks the report failed with the causing message and returns err.
func (in *Ingestor) abort(ctx context.Context, report *core.Report, summary *Summary, err error) error {
	if ferr := in.FinishReport(ctx, report, false, err.Error()); ferr != nil {
		return fmt.Errorf("%w (also failed to mark report failed: %v)", err, ferr)
	}
	return err
}

func (in *Ingestor) logf(format string, args ...any) {
	fmt.Fprintf(in.out, format+"\n", args...)
}

func (in *Ingestor) debugf(format string, args ...any) {
	if in.verbose {
		fmt.Fprintf(in.out, format+"\n", args...)
	}
}

// Recognized header variants per canonical field, all compared lowercase.
var (
	productHeaders  = []string{"product", "product name", "item", "sub primal", "sub-primal", "description"}
	codeHeaders     = []string{"product code", "imps", "imps code", "code"}
	categoryHeaders = []string{"category", "section", "grade"}
	priceHeaders    = []string{"price", "weighted average", "weighted avg", "wtd avg", "avg price"}
	lowHeaders      = []string{"low price", "low", "price low"}
	highHeaders     = []string{"high price", "high", "price high"}
	volumeHeaders   = []string{"volume", "pounds", "lbs", "total pounds"}
	unitHeaders     = []string{"unit"}
	tradesHeaders   = []string{"trades", "num trades", "# trades", "#trades"}
)

// NormalizeRow maps a raw row's column labels onto the canonical price
// fields. It returns false when no recognized product column is present
// or the product name is empty; such rows are dropped by the caller.
// Columns that match no canonical field are preserved in AdditionalData.
func NormalizeRow(raw core.RawRow) (string, *core.PriceFields, bool) {
	fields := &core.PriceFields{
		Unit:           "USD",
		AdditionalData: map[string]any{},
	}
	name := ""
	nameFound := false

	for label, cell := range raw {
		key := strings.ToLower(strings.TrimSpace(label))
		value := strings.TrimSpace(cell)

		switch {
		case matches(key, productHeaders):
			// "Sub Primal" doubles as a description column in beef
			// reports; only use it as the name when no dedicated
			// product column exists.
			if key == "sub primal" || key == "sub-primal" {
				fields.AdditionalData["sub_primal"] = value
				if !nameFound {
					name = value
					nameFound = value != ""
				}
				continue
			}
			name = value
			nameFound = true
		case matches(key, codeHeaders):
			if value != "" {
				code := value
				fields.ProductCode = &code
				fields.AdditionalData["imps_code"] = value
			}
		case matches(key, categoryHeaders):
			if value != "" {
				category := value
				fields.Category = &category
			}
		case matches(key, priceHeaders):
			fields.Price = parseNumber(value)
		case matches(key, lowHeaders):
			fields.LowPrice = parseNumber(value)
		case matches(key, highHeaders):
			fields.HighPrice = parseNumber(value)
		case matches(key, volumeHeaders):
			fields.Volume = parseNumber(value)
		case matches(key, unitHeaders):
			if value != "" {
				fields.Unit = value
			}
		case matches(key, tradesHeaders):
			if n := parseNumber(value); n != nil {
				fields.AdditionalData["num_trades"] = *n
			}
		default:
			if value != "" {
				fields.AdditionalData[key] = value
			}
		}
	}

	// "Sub Primal" may have filled the name; an empty one still drops
	// the row.
	if !nameFound || name == "" {
		return "", nil, false
	}
	return name, fields, true
}

func matches(key string, headers []string) bool {
	for _, h := range headers {
		if key == h {
			return true
		}
	}
	return false
}

var numberPattern = regexp.MustCompile(`-?\d+\.?\d*`)

// parseNumber extracts a number from cell text, tolerating currency
// symbols, commas and stray whitespace. Returns nil when the cell holds
// no number.
func parseNumber(s string) *float64 {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "", "\t", "").Replace(s)
	m := numberPattern.FindString(cleaned)
	if m == "" {
		return nil
	}
	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &n
}
