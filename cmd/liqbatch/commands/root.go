package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	storePath    string
	verbose      bool
	serveMetrics bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "liqbatch",
		Short: "liqbatch - batch liquidity operation scheduler",
		Long: `liqbatch plans and executes batches of liquidity operations against a venue.

A batch is a YAML file of operations (create_position, add_liquidity,
remove_liquidity, swap, rebalance, claim_fees, close_position). liqbatch
derives their dependencies, checks the plan against cost limits and Rego
policies, runs it with the chosen strategy and failure handling, and unwinds
completed operations when a rollback trigger fires.

Plans, execution history, events and the outcome cache live in SQLite.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite store path (overrides settings)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&serveMetrics, "metrics", false, "serve Prometheus metrics while the command runs")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newCacheCommand())

	return rootCmd
}
