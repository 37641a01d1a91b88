// Package config holds the static report-type registry and environment
// configuration for the hosted Supabase Postgres store.
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"

	"github.com/joho/godotenv"
)

// BaseURL is the USDA Agricultural Marketing Service site root.
const BaseURL = "https://www.ams.usda.gov"

// Report describes one USDA report type: where to find it and how often
// it is published.
type Report struct {
	// ReportType is the registry key, e.g. "branded_beef".
	ReportType string
	// Name is the display name as it appears on the USDA site. Used to
	// match links when scraping a listing page.
	Name string
	// PDFURL is the stable direct URL of the latest PDF.
	PDFURL string
	// ListingPage, when set, is scraped for the most recent PDF link
	// instead of using PDFURL directly.
	ListingPage string
	// Schedule is "weekly" or "daily". Informational; scheduling itself
	// is external (cron invokes the CLI).
	Schedule string
}

// Reports is the read-only registry of supported report types.
var Reports = map[string]Report{
	"branded_beef": {
		ReportType: "branded_beef",
		Name:       "Boxed Beef Cuts-Branded Product-Negotiated Sales",
		PDFURL:     BaseURL + "/mnreports/AMS_2457.pdf",
		Schedule:   "weekly", // Mondays
	},
	"ungraded_beef": {
		ReportType: "ungraded_beef",
		Name:       "Boxed Beef Cuts-Ungraded Product",
		PDFURL:     BaseURL + "/mnreports/AMS_2464.pdf",
		Schedule:   "weekly", // Mondays
	},
	"daily_afternoon": {
		ReportType: "daily_afternoon",
		Name:       "National Daily Boxed Beef Cutout And Boxed Beef Cuts - Afternoon",
		PDFURL:     BaseURL + "/mnreports/ams_2453.pdf",
		Schedule:   "daily", // Monday-Friday
	},
	"pork_cuts": {
		ReportType: "pork_cuts",
		Name:       "National Weekly Pork Report FOB Plant",
		PDFURL:     BaseURL + "/mnreports/ams_2498.pdf",
		Schedule:   "weekly",
	},
}

// Keys returns the registry keys in sorted order, for help text and
// validation messages.
func Keys() []string {
	keys := make([]string, 0, len(Reports))
	for k := range Reports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Env holds the two required connection credentials for the hosted store.
type Env struct {
	// DatabaseURL is the postgres:// connection URL of the Supabase
	// instance (SUPABASE_DB_URL).
	DatabaseURL string
	// DatabasePassword is the database password (SUPABASE_DB_PASSWORD),
	// injected into the URL when it carries none.
	DatabasePassword string
}

// Load reads .env if present and resolves the required environment
// variables. Both credentials must be set.
func Load() (*Env, error) {
	// Best-effort: a missing .env is fine, real env vars still apply.
	_ = godotenv.Load()

	env := &Env{
		DatabaseURL:      os.Getenv("SUPABASE_DB_URL"),
		DatabasePassword: os.Getenv("SUPABASE_DB_PASSWORD"),
	}
	if env.DatabaseURL == "" || env.DatabasePassword == "" {
		return nil, fmt.Errorf("SUPABASE_DB_URL and SUPABASE_DB_PASSWORD must be set")
	}
	return env, nil
}

// DSN returns the connection string with the password applied.
// A password already embedded in the URL wins.
func (e *Env) DSN() (string, error) {
	u, err := url.Parse(e.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing SUPABASE_DB_URL: %w", err)
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			return u.String(), nil
		}
		u.User = url.UserPassword(u.User.Username(), e.DatabasePassword)
	} else {
		u.User = url.UserPassword("postgres", e.DatabasePassword)
	}
	return u.String(), nil
}
