// Package cmd implements the CLI commands for usdaprices using Cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "usdaprices",
	Short: "usdaprices — scrape USDA meat-price PDF reports into Postgres",
	Long: `usdaprices downloads USDA meat-price PDF reports, extracts their
pricing tables, and persists them with idempotent upserts.

Usage:
  usdaprices run [--reports type,type] [--force] [--verbose]
  usdaprices metrics
  usdaprices schema
  usdaprices export <report-type> [--output_dir dir]`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
