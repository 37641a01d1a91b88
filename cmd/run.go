// Package cmd — run command.
// This is the main command that orchestrates the pipeline for each
// requested report type:
// fetch latest PDF → extract text → parse rows → ingest into the store.
//
// Report types are processed sequentially; the exit code is non-zero if
// any of them fails.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gaurav-prasanna/usdaprices/core"
	"github.com/gaurav-prasanna/usdaprices/core/config"
	"github.com/gaurav-prasanna/usdaprices/core/extract"
	"github.com/gaurav-prasanna/usdaprices/core/fetch"
	"github.com/gaurav-prasanna/usdaprices/core/ingest"
	"github.com/gaurav-prasanna/usdaprices/core/normalize"
	"github.com/gaurav-prasanna/usdaprices/core/store"
	"github.com/spf13/cobra"
)

// Flag variables.
var (
	flagReports []string
	flagForce   bool
	flagVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape and ingest the latest reports",
	Long: `Run fetches the most recent PDF for each report type, extracts its
pricing table, and writes products and prices to the database.

A report date that was already ingested successfully is skipped unless
--force is given. Examples:

  usdaprices run
  usdaprices run --reports branded_beef,ungraded_beef
  usdaprices run --reports daily_afternoon --force --verbose`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&flagReports, "reports", []string{"branded_beef", "ungraded_beef"},
		"Report types to process ("+strings.Join(config.Keys(), ", ")+")")
	runCmd.Flags().BoolVar(&flagForce, "force", false, "Reprocess reports that already completed")
	runCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "Enable row-level debug logging")
}

func runRun(cmd *cobra.Command, args []string) error {
	for _, reportType := range flagReports {
		if _, ok := config.Reports[reportType]; !ok {
			return fmt.Errorf("unknown report type %q (known: %s)", reportType, strings.Join(config.Keys(), ", "))
		}
	}

	env, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.Open(env)
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher := fetch.New()
	extractor := extract.New()
	parser := normalize.New()
	ingestor := ingest.New(st, ingest.WithVerbose(flagVerbose))

	ctx := context.Background()
	failed := 0

	results := make(map[string]bool, len(flagReports))
	for _, reportType := range flagReports {
		fmt.Fprintf(os.Stdout, "Processing report type: %s\n", reportType)

		if err := processReport(ctx, reportType, fetcher, extractor, parser, ingestor); err != nil {
			fmt.Fprintf(os.Stderr, "  ✗ %s: %v\n", reportType, err)
			results[reportType] = false
			failed++
			continue
		}
		results[reportType] = true
	}

	// Summary block.
	fmt.Fprintln(os.Stdout, strings.Repeat("=", 50))
	fmt.Fprintln(os.Stdout, "Pipeline execution summary:")
	for _, reportType := range flagReports {
		status := "SUCCESS"
		if !results[reportType] {
			status = "FAILED"
		}
		fmt.Fprintf(os.Stdout, "  %s: %s\n", reportType, status)
	}
	fmt.Fprintln(os.Stdout, strings.Repeat("=", 50))

	if failed > 0 {
		return fmt.Errorf("%d of %d report types failed", failed, len(flagReports))
	}
	return nil
}

// processReport runs a single report type through the full pipeline.
// The report row is created before the download so that fetch and parse
// failures are recorded on it.
func processReport(
	ctx context.Context,
	reportType string,
	fetcher core.Fetcher,
	extractor core.Extractor,
	parser core.LayoutParser,
	ingestor *ingest.Ingestor,
) error {
	ref, err := fetcher.LatestReport(ctx, reportType)
	if err != nil {
		return fmt.Errorf("resolving latest report: %w", err)
	}
	fmt.Fprintf(os.Stdout, "  Found report: %s (date: %s)\n", ref.PDFURL, ref.ReportDate.Format("2006-01-02"))

	report, skip, err := ingestor.BeginReport(ctx, reportType, ref.ReportDate, ref.PDFURL, flagForce)
	if err != nil {
		return err
	}
	if skip {
		fmt.Fprintf(os.Stdout, "  Already completed for %s, skipping\n", ref.ReportDate.Format("2006-01-02"))
		return nil
	}

	pdfData, err := fetcher.Download(ctx, ref.PDFURL)
	if err != nil {
		return failReport(ctx, ingestor, report, fmt.Errorf("downloading pdf: %w", err))
	}

	lines, err := extractor.Lines(pdfData)
	if err != nil {
		return failReport(ctx, ingestor, report, fmt.Errorf("extracting pdf text: %w", err))
	}
	if flagVerbose {
		fmt.Fprintf(os.Stdout, "  Extracted %d text lines\n", len(lines))
	}

	rows, err := parser.Rows(lines, reportType)
	if err != nil {
		return failReport(ctx, ingestor, report, fmt.Errorf("parsing rows: %w", err))
	}
	fmt.Fprintf(os.Stdout, "  Parsed %d pricing rows\n", len(rows))

	summary, err := ingestor.ProcessRows(ctx, report, rows)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "  ✓ Saved %d price records (%d rows skipped)\n", summary.Saved, summary.Skipped)
	return nil
}

// failReport marks the report failed with the causing message, then
// returns the original error.
func failReport(ctx context.Context, ingestor *ingest.Ingestor, report *core.Report, err error) error {
	if ferr := ingestor.FinishReport(ctx, report, false, err.Error()); ferr != nil {
		fmt.Fprintf(os.Stderr, "  also failed to mark report failed: %v\n", ferr)
	}
	return err
}
