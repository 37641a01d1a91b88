// Package cmd — export command.
// Renders the most recent ingested prices of a report type as a PDF
// summary table.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gaurav-prasanna/usdaprices/core/config"
	"github.com/gaurav-prasanna/usdaprices/core/render"
	"github.com/gaurav-prasanna/usdaprices/core/store"
	"github.com/spf13/cobra"
)

var flagOutputDir string

var exportCmd = &cobra.Command{
	Use:   "export <report-type>",
	Short: "Export the latest ingested prices as a PDF summary",
	Long: `Export renders the most recent ingested report date of the given
report type as a PDF table. Example:

  usdaprices export branded_beef --output_dir ./out`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&flagOutputDir, "output_dir", "", "Output directory (default: current directory)")
}

func runExport(cmd *cobra.Command, args []string) error {
	reportType := args[0]
	if _, ok := config.Reports[reportType]; !ok {
		return fmt.Errorf("unknown report type: %s", reportType)
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

	ctx := context.Background()

	date, err := st.LatestReportDate(ctx, reportType)
	if err != nil {
		return err
	}
	if date == nil {
		return fmt.Errorf("no ingested reports for type %s", reportType)
	}

	rows, err := st.PricesForDate(ctx, reportType, *date)
	if err != nil {
		return err
	}

	renderer := render.NewPDFRenderer()
	data, err := renderer.Render(reportType, *date, rows)
	if err != nil {
		return err
	}

	dir := flagOutputDir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s%s", reportType, date.Format("2006-01-02"), renderer.Extension()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing file %s: %w", path, err)
	}

	fmt.Fprintf(os.Stdout, "✓ Written: %s (%d products)\n", path, len(rows))
	return nil
}
