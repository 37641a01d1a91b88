// Package cmd — metrics command.
// Rebuilds the derived price-change metrics from stored prices.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/gaurav-prasanna/usdaprices/core/config"
	"github.com/gaurav-prasanna/usdaprices/core/metrics"
	"github.com/gaurav-prasanna/usdaprices/core/store"
	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Recalculate price-change metrics",
	Long: `Metrics recomputes the 7-day and 30-day price changes for every
product price series and replaces the metrics table with the result.`,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	env, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.Open(env)
	if err != nil {
		return err
	}
	defer st.Close()

	count, err := metrics.New(st).Run(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "✓ Calculated metrics for %d series\n", count)
	return nil
}
