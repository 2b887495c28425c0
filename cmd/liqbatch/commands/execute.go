package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

func newExecuteCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "execute <batch.yaml>",
		Short: "Plan and execute a batch",
		Long: `Plan a batch and execute it against the configured venue.

The plan and the execution result are saved to the store. The command exits
non-zero when the execution does not complete, including when it was rolled
back.`,
		Example: `  # Execute against the paper venue
  liqbatch execute rebalance.yaml

  # Execute with a settings file and print the result as JSON
  liqbatch execute rebalance.yaml --config liqbatch.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			a, ctx, err := newApp(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			result, err := a.runBatch(ctx, args[0], logProgress)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printResult(cmd.OutOrStdout(), result)
			}

			if result.Status != engine.ExecutionStatusCompleted {
				return fmt.Errorf("execution %s finished with status %s", result.ExecutionID, result.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the result as JSON")

	return cmd
}

func logProgress(p engine.Progress) {
	log.Info().
		Str("execution_id", p.ExecutionID).
		Str("operation_id", p.OperationID).
		Str("status", string(p.Status)).
		Msgf("Progress %d/%d", p.Completed, p.Total)
}
