// Package store implements the Store interface on the hosted Supabase
// Postgres instance. Queries are built with squirrel and executed through
// sqlx; every get-or-create is backed by a unique constraint, so a
// concurrent duplicate insert surfaces as an error instead of silently
// creating a second row.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gaurav-prasanna/usdaprices/core"
	"github.com/gaurav-prasanna/usdaprices/core/config"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by lookups that find no row.
var ErrNotFound = errors.New("not found")

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var reportColumns = []string{
	"id", "report_type", "report_date", "pdf_url", "scraped_at",
	"status", "error_message", "created_at", "updated_at",
}

var productColumns = []string{
	"id", "product_name", "product_code", "category", "report_type",
	"created_at", "updated_at",
}

// Postgres is the Store implementation.
type Postgres struct {
	db *sqlx.DB
}

// Open connects to the configured database and verifies the connection.
func Open(env *config.Env) (*Postgres, error) {
	dsn, err := env.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// A one-shot batch job needs very few connections.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return &Postgres{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// ApplySchema executes the embedded DDL. lib/pq uses the simple query
// protocol for parameterless Exec, so the multi-statement script runs as
// a unit.
func (s *Postgres) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// FindOrCreateReport returns the report keyed by (reportType, reportDate),
// creating it with status pending when absent. The insert is deliberately
// plain: if a concurrent run creates the same report between the select
// and the insert, the unique constraint surfaces the conflict.
func (s *Postgres) FindOrCreateReport(ctx context.Context, reportType string, reportDate time.Time, pdfURL string) (*core.Report, bool, error) {
	query, args, err := selectReport(reportType, reportDate).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("building query: %w", err)
	}

	var report core.Report
	err = s.db.GetContext(ctx, &report, query, args...)
	if err == nil {
		return &report, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("looking up report: %w", err)
	}

	report = core.Report{
		ID:         uuid.NewString(),
		ReportType: reportType,
		ReportDate: reportDate,
		PDFURL:     pdfURL,
		Status:     core.StatusPending,
	}
	query, args, err = insertReport(&report).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, false, fmt.Errorf("inserting report: %w", err)
	}
	return &report, true, nil
}

// UpdateReportStatus transitions a report's status, storing the error
// message when given.
func (s *Postgres) UpdateReportStatus(ctx context.Context, reportID string, status core.ReportStatus, errorMessage string) error {
	query, args, err := updateReportStatus(reportID, status, errorMessage).ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating report status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	return nil
}

// FindOrCreateProduct returns the product keyed by (name, reportType),
// creating it when absent. Missing product_code/category on an existing
// row are backfilled; set values are never overwritten.
func (s *Postgres) FindOrCreateProduct(ctx context.Context, name, reportType string, code, category *string) (*core.Product, error) {
	query, args, err := selectProduct(name, reportType).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var product core.Product
	err = s.db.GetContext(ctx, &product, query, args...)
	if err == nil {
		return s.backfillProduct(ctx, &product, code, category)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up product: %w", err)
	}

	product = core.Product{
		ID:          uuid.NewString(),
		ProductName: name,
		ProductCode: code,
		Category:    category,
		ReportType:  reportType,
	}
	query, args, err = insertProduct(&product).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("inserting product %q: %w", name, err)
	}
	return &product, nil
}

// backfillProduct fills in code/category when the stored row lacks them.
func (s *Postgres) backfillProduct(ctx context.Context, product *core.Product, code, category *string) (*core.Product, error) {
	update := qb.Update("usda_products")
	changed := false

	if product.ProductCode == nil && code != nil {
		update = update.Set("product_code", *code)
		product.ProductCode = code
		changed = true
	}
	if product.Category == nil && category != nil {
		update = update.Set("category", *category)
		product.Category = category
		changed = true
	}
	if !changed {
		return product, nil
	}

	query, args, err := update.Where(sq.Eq{"id": product.ID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building backfill: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("backfilling product %s: %w", product.ID, err)
	}
	return product, nil
}

// UpsertPrice inserts or replaces the price keyed by
// (product_id, report_date). Re-ingesting a date overwrites figures in
// place instead of appending a second row.
func (s *Postgres) UpsertPrice(ctx context.Context, price *core.Price) error {
	if price.ID == "" {
		price.ID = uuid.NewString()
	}
	if price.Unit == "" {
		price.Unit = "USD"
	}

	extra, err := json.Marshal(additionalData(price))
	if err != nil {
		return fmt.Errorf("encoding additional data: %w", err)
	}

	query, args, err := upsertPrice(price, extra).ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting price: %w", err)
	}
	return nil
}

// LatestReportDate returns the most recent report date for a type, or
// nil when none exist.
func (s *Postgres) LatestReportDate(ctx context.Context, reportType string) (*time.Time, error) {
	query, args, err := qb.Select("report_date").
		From("usda_reports").
		Where(sq.Eq{"report_type": reportType}).
		OrderBy("report_date DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var date time.Time
	err = s.db.GetContext(ctx, &date, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest report date: %w", err)
	}
	return &date, nil
}

// PricesForDate returns the prices of all products of a report type for
// one report date, ordered by product name.
func (s *Postgres) PricesForDate(ctx context.Context, reportType string, date time.Time) ([]core.PriceRow, error) {
	query, args, err := qb.Select("p.product_name", "p.product_code", "p.category",
		"pr.price", "pr.low_price", "pr.high_price", "pr.volume", "pr.unit").
		From("usda_prices pr").
		Join("usda_products p ON p.id = pr.product_id").
		Where(sq.Eq{"p.report_type": reportType, "pr.report_date": date}).
		OrderBy("p.product_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var rows []core.PriceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying prices for %s/%s: %w", reportType, date.Format("2006-01-02"), err)
	}
	return rows, nil
}

// PriceSeries lists the distinct (product, category, report_type) series
// present in the prices table, joined through products for the category
// and report type they were registered under.
func (s *Postgres) PriceSeries(ctx context.Context) ([]core.SeriesKey, error) {
	query, args, err := qb.Select("DISTINCT pr.product_id", "p.category", "p.report_type").
		From("usda_prices pr").
		Join("usda_products p ON p.id = pr.product_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var keys []core.SeriesKey
	if err := s.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("querying price series: %w", err)
	}
	return keys, nil
}

// LatestPrice returns the newest non-null price point in a series, or
// nil when the series has none.
func (s *Postgres) LatestPrice(ctx context.Context, key core.SeriesKey) (*core.PricePoint, error) {
	query, args, err := seriesQuery(key).
		OrderBy("pr.report_date DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var point core.PricePoint
	err = s.db.GetContext(ctx, &point, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest price: %w", err)
	}
	return &point, nil
}

// PriceOnOrBefore returns the newest price in a series dated on or
// before the given date, or nil when none exists.
func (s *Postgres) PriceOnOrBefore(ctx context.Context, key core.SeriesKey, date time.Time) (*float64, error) {
	query, args, err := seriesQuery(key).
		Where(sq.LtOrEq{"pr.report_date": date}).
		OrderBy("pr.report_date DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var point core.PricePoint
	err = s.db.GetContext(ctx, &point, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying price on or before %s: %w", date.Format("2006-01-02"), err)
	}
	return &point.Price, nil
}

// ReplaceMetrics rebuilds usda_metrics from scratch inside one
// transaction: truncate, then insert the fresh rows.
func (s *Postgres) ReplaceMetrics(ctx context.Context, metrics []core.Metric) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "TRUNCATE usda_metrics"); err != nil {
		return fmt.Errorf("truncating metrics: %w", err)
	}

	for _, m := range metrics {
		query, args, err := insertMetric(&m).ToSql()
		if err != nil {
			return fmt.Errorf("building insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting metric for product %s: %w", m.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metrics: %w", err)
	}
	return nil
}

// additionalData returns the price's extra attributes, never nil.
func additionalData(price *core.Price) map[string]any {
	if price.AdditionalData == nil {
		return map[string]any{}
	}
	return price.AdditionalData
}

// --- query builders, kept separate so tests can assert the SQL ---

func selectReport(reportType string, reportDate time.Time) sq.SelectBuilder {
	return qb.Select(reportColumns...).
		From("usda_reports").
		Where(sq.Eq{"report_type": reportType, "report_date": reportDate})
}

func insertReport(report *core.Report) sq.InsertBuilder {
	return qb.Insert("usda_reports").
		Columns("id", "report_type", "report_date", "pdf_url", "status").
		Values(report.ID, report.ReportType, report.ReportDate, report.PDFURL, report.Status)
}

func updateReportStatus(reportID string, status core.ReportStatus, errorMessage string) sq.UpdateBuilder {
	update := qb.Update("usda_reports").Set("status", status)
	if errorMessage != "" {
		update = update.Set("error_message", errorMessage)
	}
	return update.Where(sq.Eq{"id": reportID})
}

func selectProduct(name, reportType string) sq.SelectBuilder {
	return qb.Select(productColumns...).
		From("usda_products").
		Where(sq.Eq{"product_name": name, "report_type": reportType})
}

func insertProduct(product *core.Product) sq.InsertBuilder {
	return qb.Insert("usda_products").
		Columns("id", "product_name", "product_code", "category", "report_type").
		Values(product.ID, product.ProductName, product.ProductCode, product.Category, product.ReportType)
}

func upsertPrice(price *core.Price, extra []byte) sq.InsertBuilder {
	return qb.Insert("usda_prices").
		Columns("id", "product_id", "report_id", "report_date",
			"price", "low_price", "high_price", "volume", "unit", "additional_data").
		Values(price.ID, price.ProductID, price.ReportID, price.ReportDate,
			price.Price, price.LowPrice, price.HighPrice, price.Volume, price.Unit, extra).
		Suffix(`ON CONFLICT (product_id, report_date) DO UPDATE SET
			report_id = EXCLUDED.report_id,
			price = EXCLUDED.price,
			low_price = EXCLUDED.low_price,
			high_price = EXCLUDED.high_price,
			volume = EXCLUDED.volume,
			unit = EXCLUDED.unit,
			additional_data = EXCLUDED.additional_data`)
}

func insertMetric(m *core.Metric) sq.InsertBuilder {
	return qb.Insert("usda_metrics").
		Columns("product_id", "category", "report_type", "calculation_date",
			"last_price", "last_price_date",
			"price_7d_ago", "change_7d", "change_7d_pct",
			"price_30d_ago", "change_30d", "change_30d_pct").
		Values(m.ProductID, m.Category, m.ReportType, m.CalculationDate,
			m.LastPrice, m.LastPriceDate,
			m.Price7dAgo, m.Change7d, m.Change7dPct,
			m.Price30dAgo, m.Change30d, m.Change30dPct)
}

// seriesQuery selects price points for one series. NULL-category series
// match rows whose product has no category.
func seriesQuery(key core.SeriesKey) sq.SelectBuilder {
	where := sq.Eq{
		"pr.product_id": key.ProductID,
		"p.report_type": key.ReportType,
	}
	if key.Category != nil {
		where["p.category"] = *key.Category
	} else {
		where["p.category"] = nil
	}
	return qb.Select("pr.price", "pr.report_date").
		From("usda_prices pr").
		Join("usda_products p ON p.id = pr.product_id").
		Where(where).
		Where(sq.NotEq{"pr.price": nil})
}
