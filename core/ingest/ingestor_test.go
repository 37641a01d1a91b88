package ingest

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

// memStore is an in-memory core.Store keyed by the same uniqueness
// constraints the real schema enforces.
type memStore struct {
	reports  map[string]*core.Report // (report_type, report_date)
	products map[string]*core.Product
	prices   map[string]*core.Price // (product_id, report_date)

	priceWrites int
	nextID      int

	failUpsertPrice bool
}

func newMemStore() *memStore {
	return &memStore{
		reports:  map[string]*core.Report{},
		products: map[string]*core.Product{},
		prices:   map[string]*core.Price{},
	}
}

func (m *memStore) id() string {
	m.nextID++
	return fmt.Sprintf("id-%d", m.nextID)
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

func (m *memStore) FindOrCreateReport(_ context.Context, reportType string, reportDate time.Time, pdfURL string) (*core.Report, bool, error) {
	key := reportType + "|" + dateKey(reportDate)
	if r, ok := m.reports[key]; ok {
		cp := *r
		return &cp, false, nil
	}
	r := &core.Report{
		ID:         m.id(),
		ReportType: reportType,
		ReportDate: reportDate,
		PDFURL:     pdfURL,
		Status:     core.StatusPending,
	}
	m.reports[key] = r
	cp := *r
	return &cp, true, nil
}

func (m *memStore) UpdateReportStatus(_ context.Context, reportID string, status core.ReportStatus, errorMessage string) error {
	for _, r := range m.reports {
		if r.ID == reportID {
			r.Status = status
			if errorMessage != "" {
				msg := errorMessage
				r.ErrorMessage = &msg
			}
			return nil
		}
	}
	return fmt.Errorf("report %s not found", reportID)
}

func (m *memStore) FindOrCreateProduct(_ context.Context, name, reportType string, code, category *string) (*core.Product, error) {
	key := name + "|" + reportType
	if p, ok := m.products[key]; ok {
		if p.ProductCode == nil {
			p.ProductCode = code
		}
		if p.Category == nil {
			p.Category = category
		}
		cp := *p
		return &cp, nil
	}
	p := &core.Product{
		ID:          m.id(),
		ProductName: name,
		ProductCode: code,
		Category:    category,
		ReportType:  reportType,
	}
	m.products[key] = p
	cp := *p
	return &cp, nil
}

func (m *memStore) UpsertPrice(_ context.Context, price *core.Price) error {
	if m.failUpsertPrice {
		return fmt.Errorf("connection reset")
	}
	m.priceWrites++
	key := price.ProductID + "|" + dateKey(price.ReportDate)
	cp := *price
	if existing, ok := m.prices[key]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = m.id()
	}
	m.prices[key] = &cp
	return nil
}

func (m *memStore) LatestReportDate(context.Context, string) (*time.Time, error) {
	return nil, nil
}

func (m *memStore) PricesForDate(context.Context, string, time.Time) ([]core.PriceRow, error) {
	return nil, nil
}

func (m *memStore) PriceSeries(context.Context) ([]core.SeriesKey, error) { return nil, nil }

func (m *memStore) LatestPrice(context.Context, core.SeriesKey) (*core.PricePoint, error) {
	return nil, nil
}

func (m *memStore) PriceOnOrBefore(context.Context, core.SeriesKey, time.Time) (*float64, error) {
	return nil, nil
}

func (m *memStore) ReplaceMetrics(context.Context, []core.Metric) error { return nil }

func (m *memStore) Close() error { return nil }

var _ core.Store = (*memStore)(nil)

func reportDate() time.Time {
	return time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC)
}

func testInput(rows []core.RawRow, force bool) Input {
	return Input{
		ReportType: "branded_beef",
		ReportDate: reportDate(),
		SourceURL:  "https://www.ams.usda.gov/mnreports/AMS_2457.pdf",
		Rows:       rows,
		Force:      force,
	}
}

func TestRunSavesRows(t *testing.T) {
	st := newMemStore()
	in := New(st, WithOutput(io.Discard))

	rows := []core.RawRow{{"Product": "Ribeye", "Price": "5.25", "Volume": "1000"}}
	summary, err := in.Run(context.Background(), testInput(rows, false))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, 0, summary.Skipped)
	assert.False(t, summary.AlreadyCompleted)

	require.Len(t, st.reports, 1)
	report := st.reports["branded_beef|2025-11-17"]
	require.NotNil(t, report)
	assert.Equal(t, core.StatusCompleted, report.Status)

	product := st.products["Ribeye|branded_beef"]
	require.NotNil(t, product)
	assert.Equal(t, "Ribeye", product.ProductName)

	require.Len(t, st.prices, 1)
	price := st.prices[product.ID+"|2025-11-17"]
	require.NotNil(t, price)
	assert.Equal(t, report.ID, price.ReportID)
	assert.Equal(t, 5.25, *price.Price)
	assert.Equal(t, 1000.0, *price.Volume)
	assert.Equal(t, "USD", price.Unit)
}

func TestRunSkipsCompletedReport(t *testing.T) {
	st := newMemStore()
	in := New(st, WithOutput(io.Discard))

	rows := []core.RawRow{{"Product": "Ribeye", "Price": "5.25"}}
	_, err := in.Run(context.Background(), testInput(rows, false))
	require.NoError(t, err)
	require.Equal(t, 1, st.priceWrites)

	// Second run: no force, report already completed.
	summary, err := in.Run(context.Background(), testInput(rows, false))
	require.NoError(t, err)
	assert.True(t, summary.AlreadyCompleted)
	assert.Equal(t, 0, summary.Saved)
	assert.Equal(t, 1, st.priceWrites, "skipped run must not write prices")
	assert.Equal(t, core.StatusCompleted, st.reports["branded_beef|2025-11-17"].Status)
}

func TestRunForceOverwritesInPlace(t *testing.T) {
	st := newMemStore()
	in := New(st, WithOutput(io.Discard))

	_, err := in.Run(context.Background(), testInput([]core.RawRow{
		{"Product": "Ribeye", "Price": "5.25", "Volume": "1000"},
	}, false))
	require.NoError(t, err)

	summary, err := in.Run(context.Background(), testInput([]core.RawRow{
		{"Product": "Ribeye", "Price": "6.00", "Volume": "900"},
	}, true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Saved)
	assert.False(t, summary.AlreadyCompleted)

	// Still one report, one product, one price row.
	assert.Len(t, st.reports, 1)
	assert.Len(t, st.products, 1)
	require.Len(t, st.prices, 1)
	for _, p := range st.prices {
		assert.Equal(t, 6.00, *p.Price)
		assert.Equal(t, 900.0, *p.Volume)
	}
}

func TestRunResumesFailedReportWithoutForce(t *testing.T) {
	st := newMemStore()
	in := New(st, WithOutput(io.Discard))

	// First run fails at persistence, leaving the report failed.
	st.failUpsertPrice = true
	_, err := in.Run(context.Background(), testInput([]core.RawRow{
		{"Product": "Ribeye", "Price": "5.25"},
	}, false))
	require.Error(t, err)
	report := st.reports["branded_beef|2025-11-17"]
	assert.Equal(t, core.StatusFailed, report.Status)
	require.NotNil(t, report.ErrorMessage)
	assert.Contains(t, *report.ErrorMessage, "connection reset")

	// A failed report is retried without force.
	st.failUpsertPrice = false
	summary, err := in.Run(context.Background(), testInput([]core.RawRow{
		{"Product": "Ribeye", "Price": "5.25"},
	}, false))
	require.NoError(t, err)
	assert.False(t, summary.AlreadyCompleted)
	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, core.StatusCompleted, report.Status)
}

func TestRunCountsSkippedRows(t *testing.T) {
	st := newMemStore()
	in := New(st, WithOutput(io.Discard))

	rows := []core.RawRow{
		{"Price": "1.00"},                    // no product column
		{"Product": "", "Price": "2.00"},     // empty product name
		{"Product": "Good", "Price": "3.00"}, // kept
	}
	summary, err := in.Run(context.Background(), testInput(rows, false))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, 2, summary.Skipped)
	assert.Len(t, st.products, 1)
}

func TestRunAllRowsRejected(t *testing.T) {
	st := newMemStore()
	in := New(st, WithOutput(io.Discard))

	_, err := in.Run(context.Background(), testInput([]core.RawRow{
		{"Price": "1.00"},
	}, false))
	require.Error(t, err)

	report := st.reports["branded_beef|2025-11-17"]
	assert.Equal(t, core.StatusFailed, report.Status)
	require.NotNil(t, report.ErrorMessage)
	assert.Equal(t, "no pricing data saved", *report.ErrorMessage)
}

func TestRunEmptyRows(t *testing.T) {
	st := newMemStore()
	in := New(st, WithOutput(io.Discard))

	summary, err := in.Run(context.Background(), testInput(nil, false))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Saved)

	report := st.reports["branded_beef|2025-11-17"]
	assert.Equal(t, core.StatusCompleted, report.Status)
	require.NotNil(t, report.ErrorMessage)
	assert.Equal(t, "no rows extracted", *report.ErrorMessage)
}

func TestNormalizeRow(t *testing.T) {
	tests := []struct {
		name     string
		raw      core.RawRow
		wantName string
		wantOK   bool
		check    func(t *testing.T, f *core.PriceFields)
	}{
		{
			name:     "canonical labels",
			raw:      core.RawRow{"Product": "Ribeye", "Price": "5.25", "Volume": "1000"},
			wantName: "Ribeye",
			wantOK:   true,
			check: func(t *testing.T, f *core.PriceFields) {
				assert.Equal(t, 5.25, *f.Price)
				assert.Equal(t, 1000.0, *f.Volume)
				assert.Equal(t, "USD", f.Unit)
				assert.Nil(t, f.LowPrice)
			},
		},
		{
			name: "report column variants",
			raw: core.RawRow{
				"Item":             "Brisket",
				"Weighted Average": "$215.00",
				"Pounds":           "22,000",
				"Low":              "200.00",
				"High":             "230.00",
			},
			wantName: "Brisket",
			wantOK:   true,
			check: func(t *testing.T, f *core.PriceFields) {
				assert.Equal(t, 215.0, *f.Price)
				assert.Equal(t, 22000.0, *f.Volume)
				assert.Equal(t, 200.0, *f.LowPrice)
				assert.Equal(t, 230.0, *f.HighPrice)
			},
		},
		{
			name: "code category and trades",
			raw: core.RawRow{
				"Product":      "109E - Rib, ribeye",
				"Product Code": "109E",
				"Category":     "Upper 2/3 Choice",
				"Trades":       "55",
				"Price":        "1,359.01",
			},
			wantName: "109E - Rib, ribeye",
			wantOK:   true,
			check: func(t *testing.T, f *core.PriceFields) {
				require.NotNil(t, f.ProductCode)
				assert.Equal(t, "109E", *f.ProductCode)
				require.NotNil(t, f.Category)
				assert.Equal(t, "Upper 2/3 Choice", *f.Category)
				assert.Equal(t, "109E", f.AdditionalData["imps_code"])
				assert.Equal(t, 55.0, f.AdditionalData["num_trades"])
				assert.Equal(t, 1359.01, *f.Price)
			},
		},
		{
			name: "sub primal fills name only as fallback",
			raw: core.RawRow{
				"Product":    "109E - Rib, ribeye",
				"Sub Primal": "Rib, ribeye",
				"Price":      "1,359.01",
			},
			wantName: "109E - Rib, ribeye",
			wantOK:   true,
			check: func(t *testing.T, f *core.PriceFields) {
				assert.Equal(t, "Rib, ribeye", f.AdditionalData["sub_primal"])
			},
		},
		{
			name:     "unknown columns preserved",
			raw:      core.RawRow{"Product": "Ham", "Price": "97.72", "Plant": "FOB"},
			wantName: "Ham",
			wantOK:   true,
			check: func(t *testing.T, f *core.PriceFields) {
				assert.Equal(t, "FOB", f.AdditionalData["plant"])
			},
		},
		{
			name:   "no product column",
			raw:    core.RawRow{"Price": "5.25"},
			wantOK: false,
		},
		{
			name:   "empty product name",
			raw:    core.RawRow{"Product": "  ", "Price": "5.25"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, fields, ok := NormalizeRow(tt.raw)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantName, name)
			if tt.check != nil {
				tt.check(t, fields)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"5.25", f(5.25)},
		{"1,359.01", f(1359.01)},
		{"$215.00", f(215)},
		{"119,191", f(119191)},
		{"-3.5", f(-3.5)},
		{"", nil},
		{"-", nil},
		{"n/a", nil},
	}
	for _, tt := range tests {
		got := parseNumber(tt.in)
		if tt.want == nil {
			assert.Nil(t, got, tt.in)
			continue
		}
		require.NotNil(t, got, tt.in)
		assert.Equal(t, *tt.want, *got, tt.in)
	}
}

func f(v float64) *float64 { return &v }
