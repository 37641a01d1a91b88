package metrics

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaurav-prasanna/usdaprices/core"
)

// metricsStore is a canned-response core.Store for calculator tests.
type metricsStore struct {
	series []core.SeriesKey
	latest map[string]*core.PricePoint
	// earlier maps "productID|YYYY-MM-DD" cutoff dates to prices.
	earlier map[string]*float64

	replaced   []core.Metric
	latestErrs map[string]error
}

func (m *metricsStore) PriceSeries(context.Context) ([]core.SeriesKey, error) {
	return m.series, nil
}

func (m *metricsStore) LatestPrice(_ context.Context, key core.SeriesKey) (*core.PricePoint, error) {
	if err := m.latestErrs[key.ProductID]; err != nil {
		return nil, err
	}
	return m.latest[key.ProductID], nil
}

func (m *metricsStore) PriceOnOrBefore(_ context.Context, key core.SeriesKey, date time.Time) (*float64, error) {
	return m.earlier[key.ProductID+"|"+date.Format("2006-01-02")], nil
}

func (m *metricsStore) ReplaceMetrics(_ context.Context, metrics []core.Metric) error {
	m.replaced = metrics
	return nil
}

func (m *metricsStore) FindOrCreateReport(context.Context, string, time.Time, string) (*core.Report, bool, error) {
	return nil, false, nil
}

func (m *metricsStore) UpdateReportStatus(context.Context, string, core.ReportStatus, string) error {
	return nil
}

func (m *metricsStore) FindOrCreateProduct(context.Context, string, string, *string, *string) (*core.Product, error) {
	return nil, nil
}

func (m *metricsStore) UpsertPrice(context.Context, *core.Price) error { return nil }

func (m *metricsStore) LatestReportDate(context.Context, string) (*time.Time, error) {
	return nil, nil
}

func (m *metricsStore) PricesForDate(context.Context, string, time.Time) ([]core.PriceRow, error) {
	return nil, nil
}

func (m *metricsStore) Close() error { return nil }

var _ core.Store = (*metricsStore)(nil)

func num(v float64) *float64 { return &v }

func TestChange(t *testing.T) {
	diff, pct := change(110, num(100))
	require.NotNil(t, diff)
	require.NotNil(t, pct)
	assert.Equal(t, 10.0, *diff)
	assert.Equal(t, 10.0, *pct)

	diff, pct = change(90, num(100))
	assert.Equal(t, -10.0, *diff)
	assert.Equal(t, -10.0, *pct)

	diff, pct = change(110, nil)
	assert.Nil(t, diff)
	assert.Nil(t, pct)

	// Zero earlier price: absolute change only.
	diff, pct = change(110, num(0))
	require.NotNil(t, diff)
	assert.Equal(t, 110.0, *diff)
	assert.Nil(t, pct)
}

func TestRunComputesSeriesMetrics(t *testing.T) {
	lastDate := time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC)
	calcDate := time.Date(2025, 11, 18, 9, 0, 0, 0, time.UTC)

	st := &metricsStore{
		series: []core.SeriesKey{
			{ProductID: "p-1", ReportType: "branded_beef"},
		},
		latest: map[string]*core.PricePoint{
			"p-1": {Price: 110, Date: lastDate},
		},
		earlier: map[string]*float64{
			"p-1|2025-11-10": num(100), // 7 days before last
			// no price 30 days back
		},
	}

	c := New(st, WithOutput(io.Discard), WithClock(func() time.Time { return calcDate }))
	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, st.replaced, 1)
	m := st.replaced[0]
	assert.Equal(t, "p-1", m.ProductID)
	assert.Equal(t, "branded_beef", m.ReportType)
	assert.Equal(t, calcDate, m.CalculationDate)
	assert.Equal(t, 110.0, m.LastPrice)
	assert.Equal(t, lastDate, m.LastPriceDate)

	require.NotNil(t, m.Price7dAgo)
	assert.Equal(t, 100.0, *m.Price7dAgo)
	assert.Equal(t, 10.0, *m.Change7d)
	assert.Equal(t, 10.0, *m.Change7dPct)

	assert.Nil(t, m.Price30dAgo)
	assert.Nil(t, m.Change30d)
	assert.Nil(t, m.Change30dPct)
}

func TestRunSkipsEmptyAndBrokenSeries(t *testing.T) {
	lastDate := time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC)

	st := &metricsStore{
		series: []core.SeriesKey{
			{ProductID: "p-ok", ReportType: "branded_beef"},
			{ProductID: "p-empty", ReportType: "branded_beef"},
			{ProductID: "p-broken", ReportType: "branded_beef"},
		},
		latest: map[string]*core.PricePoint{
			"p-ok": {Price: 50, Date: lastDate},
		},
		latestErrs: map[string]error{
			"p-broken": fmt.Errorf("connection reset"),
		},
	}

	c := New(st, WithOutput(io.Discard))
	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, st.replaced, 1)
	assert.Equal(t, "p-ok", st.replaced[0].ProductID)
}
