// Package fetch implements the Fetcher interface.
// It resolves the latest PDF for a report type — either the stable direct
// URL from the registry or a listing-page scrape — and downloads it.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gaurav-prasanna/usdaprices/core"
	"github.com/gaurav-prasanna/usdaprices/core/config"
)

const (
	pageTimeout     = 30 * time.Second
	downloadTimeout = 60 * time.Second
	userAgent       = "Mozilla/5.0 (compatible; USDA-Scraper/1.0)"
)

// Client fetches USDA report pages and PDFs via HTTP.
type Client struct {
	client  *http.Client
	reports map[string]config.Report
	baseURL string
}

// New creates a Client backed by the built-in report registry.
func New() *Client {
	return NewWithReports(config.Reports, config.BaseURL)
}

// NewWithReports creates a Client with an explicit registry and base URL.
func NewWithReports(reports map[string]config.Report, baseURL string) *Client {
	return &Client{
		client:  &http.Client{Timeout: pageTimeout},
		reports: reports,
		baseURL: baseURL,
	}
}

// LatestReport resolves the most recent PDF for the given report type.
// When the registry entry has a listing page, the page is scraped for a
// .pdf link matching the report's display name; otherwise the direct URL
// is used. The report date is extracted from the URL or link text, with
// today as a last resort.
func (c *Client) LatestReport(ctx context.Context, reportType string) (*core.ReportRef, error) {
	cfg, ok := c.reports[reportType]
	if !ok {
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}

	pdfURL := cfg.PDFURL
	linkText := ""

	if cfg.ListingPage != "" {
		html, err := c.get(ctx, cfg.ListingPage, pageTimeout)
		if err != nil {
			return nil, fmt.Errorf("fetching listing page: %w", err)
		}
		pdfURL, linkText, err = c.findReportLink(string(html), cfg)
		if err != nil {
			return nil, err
		}
	}

	date, ok := extractReportDate(pdfURL, linkText)
	if !ok {
		fmt.Fprintf(os.Stderr, "warning: no date in %s, using today\n", pdfURL)
		date = time.Now()
	}

	return &core.ReportRef{
		ReportType: cfg.ReportType,
		Name:       cfg.Name,
		PDFURL:     pdfURL,
		ReportDate: truncateToDay(date),
	}, nil
}

// Download retrieves the PDF bytes from the given URL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, rawURL, downloadTimeout)
}

func (c *Client) get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// findReportLink scans a listing page for the first .pdf link whose text
// (or parent text) contains the report's display name.
func (c *Client) findReportLink(html string, cfg config.Report) (pdfURL, linkText string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parsing listing page: %w", err)
	}

	name := strings.ToLower(cfg.Name)
	found := false

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !strings.HasSuffix(strings.ToLower(href), ".pdf") {
			return true
		}

		text := strings.TrimSpace(s.Text())
		parentText := ""
		if parent := s.Parent(); parent != nil {
			parentText = strings.TrimSpace(parent.Text())
		}

		if strings.Contains(strings.ToLower(text), name) ||
			strings.Contains(strings.ToLower(parentText), name) {
			pdfURL = c.absoluteURL(href)
			linkText = text
			found = true
			return false
		}
		return true
	})

	if !found {
		return "", "", fmt.Errorf("no PDF link found for report %q", cfg.Name)
	}
	return pdfURL, linkText, nil
}

// absoluteURL resolves a relative href against the client's base URL.
func (c *Client) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// Date patterns tried against the PDF URL, most specific first.
var urlDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{4})[-_]?(\d{2})[-_]?(\d{2})`), // YYYY-MM-DD or YYYYMMDD
	regexp.MustCompile(`(\d{2})[-_]?(\d{2})[-_]?(\d{4})`), // MM-DD-YYYY or MMDDYYYY
	regexp.MustCompile(`(\d{2})[-_]?(\d{2})[-_]?(\d{2})`), // MM-DD-YY or MMDDYY
}

// linkTextDatePattern matches M/D/YY or M/D/YYYY in link text.
var linkTextDatePattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{2,4})`)

// extractReportDate pulls a publication date out of the PDF URL or the
// link text. Returns false when neither contains a plausible date.
func extractReportDate(pdfURL, linkText string) (time.Time, bool) {
	for _, pattern := range urlDatePatterns {
		m := pattern.FindStringSubmatch(pdfURL)
		if m == nil {
			continue
		}
		var year, month, day int
		switch {
		case len(m[1]) == 4: // YYYY-MM-DD
			year, month, day = atoi(m[1]), atoi(m[2]), atoi(m[3])
		case len(m[3]) == 4: // MM-DD-YYYY
			year, month, day = atoi(m[3]), atoi(m[1]), atoi(m[2])
		default: // MM-DD-YY
			year, month, day = expandYear(atoi(m[3])), atoi(m[1]), atoi(m[2])
		}
		if d, ok := validDate(year, month, day); ok {
			return d, true
		}
	}

	if m := linkTextDatePattern.FindStringSubmatch(linkText); m != nil {
		year := atoi(m[3])
		if year < 100 {
			year = expandYear(year)
		}
		if d, ok := validDate(year, atoi(m[1]), atoi(m[2])); ok {
			return d, true
		}
	}

	return time.Time{}, false
}

// expandYear maps a two-digit year into 19xx/20xx.
func expandYear(yy int) int {
	if yy < 50 {
		return 2000 + yy
	}
	return 1900 + yy
}

// validDate builds a date and rejects impossible component values
// (the regexes are permissive enough to match report numbers).
func validDate(year, month, day int) (time.Time, bool) {
	if year < 1900 || year > 2100 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
