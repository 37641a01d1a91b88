// Package metrics derives price-change summaries from stored prices.
// For every (product, category, report_type) series it records the last
// price and the absolute/percent change against the prices 7 and 30 days
// before it. The metrics table is rebuilt from scratch on every run.
package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gaurav-prasanna/usdaprices/core"
)

// Calculator computes metrics over a Store.
type Calculator struct {
	store core.Store
	out   io.Writer
	now   func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithOutput redirects log output (default: stderr).
func WithOutput(w io.Writer) Option {
	return func(c *Calculator) { c.out = w }
}

// WithClock overrides the calculation-date clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// New creates a Calculator backed by the given store.
func New(store core.Store, opts ...Option) *Calculator {
	c := &Calculator{store: store, out: os.Stderr, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run recomputes metrics for all series and replaces the stored set.
// Returns the number of metric rows written.
func (c *Calculator) Run(ctx context.Context) (int, error) {
	keys, err := c.store.PriceSeries(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing price series: %w", err)
	}
	fmt.Fprintf(c.out, "found %d price series\n", len(keys))

	var metrics []core.Metric
	for _, key := range keys {
		metric, err := c.seriesMetric(ctx, key)
		if err != nil {
			// One broken series should not sink the whole rebuild.
			fmt.Fprintf(c.out, "series %s: %v (skipped)\n", key.ProductID, err)
			continue
		}
		if metric != nil {
			metrics = append(metrics, *metric)
		}
	}

	if err := c.store.ReplaceMetrics(ctx, metrics); err != nil {
		return 0, fmt.Errorf("replacing metrics: %w", err)
	}
	fmt.Fprintf(c.out, "wrote %d metric rows\n", len(metrics))
	return len(metrics), nil
}

// seriesMetric computes the metric for one series, or nil when the
// series has no usable last price.
func (c *Calculator) seriesMetric(ctx context.Context, key core.SeriesKey) (*core.Metric, error) {
	last, err := c.store.LatestPrice(ctx, key)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, nil
	}

	price7d, err := c.store.PriceOnOrBefore(ctx, key, last.Date.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	price30d, err := c.store.PriceOnOrBefore(ctx, key, last.Date.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	metric := &core.Metric{
		ProductID:       key.ProductID,
		Category:        key.Category,
		ReportType:      key.ReportType,
		CalculationDate: c.now(),
		LastPrice:       last.Price,
		LastPriceDate:   last.Date,
		Price7dAgo:      price7d,
		Price30dAgo:     price30d,
	}
	metric.Change7d, metric.Change7dPct = change(last.Price, price7d)
	metric.Change30d, metric.Change30dPct = change(last.Price, price30d)
	return metric, nil
}

// change returns the absolute and percent difference between the last
// price and an earlier one. Both are nil without an earlier price; the
// percent is nil when the earlier price is zero.
func change(last float64, earlier *float64) (*float64, *float64) {
	if earlier == nil {
		return nil, nil
	}
	diff := last - *earlier
	if *earlier == 0 {
		return &diff, nil
	}
	pct := diff / *earlier * 100
	return &diff, &pct
}
