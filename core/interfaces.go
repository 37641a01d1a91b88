// Package core defines the pipeline interfaces for the USDA price scraper.
// Each stage of the pipeline is a clean, testable interface:
// fetch → extract → parse → ingest → store.
package core

import (
	"context"
	"time"
)

// ReportStatus tracks the lifecycle of a scraped report.
// Transitions: pending → processing → completed | failed.
type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusProcessing ReportStatus = "processing"
	StatusCompleted  ReportStatus = "completed"
	StatusFailed     ReportStatus = "failed"
)

// Report is one scraped PDF instance for a given report type and date.
// (report_type, report_date) is unique.
type Report struct {
	ID           string       `db:"id"`
	ReportType   string       `db:"report_type"`
	ReportDate   time.Time    `db:"report_date"`
	PDFURL       string       `db:"pdf_url"`
	ScrapedAt    time.Time    `db:"scraped_at"`
	Status       ReportStatus `db:"status"`
	ErrorMessage *string      `db:"error_message"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

// Product is a named commodity line item appearing in reports.
// (product_name, report_type) is unique; rows are created on first sight
// and reused afterwards.
type Product struct {
	ID          string    `db:"id"`
	ProductName string    `db:"product_name"`
	ProductCode *string   `db:"product_code"`
	Category    *string   `db:"category"`
	ReportType  string    `db:"report_type"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Price is one product's figures for one report date.
// (product_id, report_date) is unique; re-ingesting overwrites in place.
type Price struct {
	ID             string         `db:"id"`
	ProductID      string         `db:"product_id"`
	ReportID       string         `db:"report_id"`
	ReportDate     time.Time      `db:"report_date"`
	Price          *float64       `db:"price"`
	LowPrice       *float64       `db:"low_price"`
	HighPrice      *float64       `db:"high_price"`
	Volume         *float64       `db:"volume"`
	Unit           string         `db:"unit"`
	AdditionalData map[string]any `db:"-"`
	CreatedAt      time.Time      `db:"created_at"`
}

// RawRow is one extracted table row: column label → raw cell text.
type RawRow map[string]string

// PriceFields holds the canonical numeric fields normalized from a RawRow.
type PriceFields struct {
	Price          *float64
	LowPrice       *float64
	HighPrice      *float64
	Volume         *float64
	Unit           string
	ProductCode    *string
	Category       *string
	AdditionalData map[string]any
}

// ReportRef identifies the latest published instance of a report type.
type ReportRef struct {
	ReportType string
	Name       string
	PDFURL     string
	ReportDate time.Time
}

// PriceRow is one product's figures joined with its product record, as
// used by exports.
type PriceRow struct {
	ProductName string   `db:"product_name"`
	ProductCode *string  `db:"product_code"`
	Category    *string  `db:"category"`
	Price       *float64 `db:"price"`
	LowPrice    *float64 `db:"low_price"`
	HighPrice   *float64 `db:"high_price"`
	Volume      *float64 `db:"volume"`
	Unit        string   `db:"unit"`
}

// SeriesKey identifies one price series for metrics calculation.
type SeriesKey struct {
	ProductID  string  `db:"product_id"`
	Category   *string `db:"category"`
	ReportType string  `db:"report_type"`
}

// PricePoint is a single observation within a price series.
type PricePoint struct {
	Price float64   `db:"price"`
	Date  time.Time `db:"report_date"`
}

// Metric is a derived price-change summary for one series.
type Metric struct {
	ProductID       string
	Category        *string
	ReportType      string
	CalculationDate time.Time
	LastPrice       float64
	LastPriceDate   time.Time
	Price7dAgo      *float64
	Change7d        *float64
	Change7dPct     *float64
	Price30dAgo     *float64
	Change30d       *float64
	Change30dPct    *float64
}

// Fetcher resolves and downloads the latest PDF for a report type.
type Fetcher interface {
	LatestReport(ctx context.Context, reportType string) (*ReportRef, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Extractor pulls ordered text lines out of PDF bytes.
type Extractor interface {
	Lines(pdf []byte) ([]string, error)
}

// LayoutParser turns extracted text lines into tabular rows according to
// the report type's section layout.
type LayoutParser interface {
	Rows(lines []string, reportType string) ([]RawRow, error)
}

// Store is the persistent registry for reports, products, prices and
// metrics. All get-or-create methods are backed by unique constraints,
// not in-memory caches, so concurrent runs fail loudly instead of
// duplicating rows.
type Store interface {
	// FindOrCreateReport returns the report for (reportType, reportDate),
	// creating it with status pending when absent. The bool reports
	// whether a new row was created.
	FindOrCreateReport(ctx context.Context, reportType string, reportDate time.Time, pdfURL string) (*Report, bool, error)

	// UpdateReportStatus transitions a report's status. errorMessage is
	// stored when non-empty.
	UpdateReportStatus(ctx context.Context, reportID string, status ReportStatus, errorMessage string) error

	// FindOrCreateProduct returns the product for (name, reportType),
	// creating it when absent and backfilling a missing code/category
	// on the existing row.
	FindOrCreateProduct(ctx context.Context, name, reportType string, code, category *string) (*Product, error)

	// UpsertPrice inserts or replaces the price row keyed by
	// (product_id, report_date).
	UpsertPrice(ctx context.Context, price *Price) error

	// LatestReportDate returns the most recent report date for a type,
	// or nil when no reports exist.
	LatestReportDate(ctx context.Context, reportType string) (*time.Time, error)

	// PricesForDate returns the prices of all products of a report type
	// for one report date, ordered by product name.
	PricesForDate(ctx context.Context, reportType string, date time.Time) ([]PriceRow, error)

	// PriceSeries lists the distinct (product, category, report_type)
	// series with at least one price row.
	PriceSeries(ctx context.Context) ([]SeriesKey, error)

	// LatestPrice returns the most recent non-null price in a series,
	// or nil when the series has none.
	LatestPrice(ctx context.Context, key SeriesKey) (*PricePoint, error)

	// PriceOnOrBefore returns the newest price in a series dated on or
	// before the given date, or nil when none exists.
	PriceOnOrBefore(ctx context.Context, key SeriesKey, date time.Time) (*float64, error)

	// ReplaceMetrics rebuilds the metrics table from scratch.
	ReplaceMetrics(ctx context.Context, metrics []Metric) error

	Close() error
}
