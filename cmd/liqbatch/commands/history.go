package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/liqbatch/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past executions",
		Long:  `Inspect executions recorded in the store.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var (
		status     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Example: `  # Show the last 20 executions
  liqbatch history list

  # Show rolled back executions only
  liqbatch history list --status rolled_back`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, settings.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			var filter *string
			if status != "" {
				filter = &status
			}
			records, err := store.ListExecutions(ctx, filter, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), records)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "EXECUTION\tSTATUS\tSTRATEGY\tOK\tFAILED\tSKIPPED\tCOST\tSTARTED")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.6f\t%s\n",
					r.ID, r.Status, r.Strategy, r.Succeeded, r.Failed, r.Skipped, r.TotalCost,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only show executions with this status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of executions")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var (
		jsonOutput bool
		events     bool
	)

	cmd := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution",
		Example: `  # Show an execution with its operation results
  liqbatch history show 6f1c2a4e-...

  # Include the event log
  liqbatch history show 6f1c2a4e-... --events`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, settings.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.LoadExecution(ctx, args[0])
			if err != nil {
				return err
			}

			var log []*stores.Event
			if events {
				id := args[0]
				log, err = store.GetEvents(ctx, stores.EventFilter{ExecutionID: &id}, 1000, 0)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if !events {
					return printJSON(out, result)
				}
				return printJSON(out, map[string]interface{}{
					"execution": result,
					"events":    log,
				})
			}

			printResult(out, result)
			if events {
				fmt.Fprintln(out, "\nEvents:")
				for _, e := range log {
					fmt.Fprintf(out, "  %s %-7s %-22s %s\n",
						e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Type, e.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&events, "events", false, "include the event log")

	return cmd
}
