// Package cli implements the miqactl command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "miqactl",
	Short: "Import/export tooling for imaging review projects",
	Long: `miqactl reconciles tabular or hierarchical import files against the
project/experiment/scan/frame store, exports the current state back to
CSV or JSON, and tracks the processing jobs queued by an import.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("storage", "", "Storage driver: memory, sqlite, or postgres (overrides MIQA_STORAGE)")
	rootCmd.PersistentFlags().String("sqlite-path", "", "SQLite database path (overrides MIQA_SQLITE_PATH)")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "Postgres connection string (overrides MIQA_POSTGRES_DSN)")
}
