// Package cmd — schema command.
// Applies the embedded database schema to the configured store.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/gaurav-prasanna/usdaprices/core/config"
	"github.com/gaurav-prasanna/usdaprices/core/store"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create or update the database tables",
	Long: `Schema applies the embedded DDL to the configured database. All
statements are idempotent (CREATE TABLE IF NOT EXISTS and friends), so
the command is safe to run repeatedly.`,
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	env, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.Open(env)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ApplySchema(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "✓ Schema applied")
	return nil
}
