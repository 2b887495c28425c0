package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <batch.yaml>",
		Short: "Validate a batch file",
		Long: `Validate a batch file without saving or executing anything.

Validation parses the batch, decodes every operation's parameters, derives
dependencies, rejects cycles and unknown references, and evaluates the
configured policies against the resulting plan.`,
		Example: `  # Validate a batch
  liqbatch validate rebalance.yaml

  # Validate with a settings file
  liqbatch validate rebalance.yaml --config liqbatch.yaml`,
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

			batch, plan, err := a.planBatch(ctx, args[0], false)
			if err != nil {
				return err
			}

			log.Info().
				Str("batch", batch.Name).
				Int("operations", len(plan.Operations)).
				Int("rejected", len(plan.Rejected)).
				Msg("Batch is valid")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d operations accepted, %d rejected\n", batch.Name, len(plan.Operations), len(plan.Rejected))
			for _, r := range plan.Rejected {
				fmt.Fprintf(out, "  rejected %s: %s\n", r.ID, r.Reason)
			}
			return nil
		},
	}

	return cmd
}

func newPlanCommand() *cobra.Command {
	var (
		jsonOutput bool
		dotFile    string
	)

	cmd := &cobra.Command{
		Use:   "plan <batch.yaml>",
		Short: "Generate an execution plan",
		Long: `Generate an execution plan for a batch and save it to the store.

The plan:
  - Derives explicit and resource-key dependencies
  - Groups operations into levels that can run together
  - Estimates cost, duration and the critical path
  - Scores risk and evaluates policies`,
		Example: `  # Print a plan summary
  liqbatch plan rebalance.yaml

  # Print the full plan as JSON
  liqbatch plan rebalance.yaml --json

  # Write the dependency graph for Graphviz
  liqbatch plan rebalance.yaml --dot plan.dot`,
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

			_, plan, err := a.planBatch(ctx, args[0], true)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(engine.ToDOT(plan)), 0o644); err != nil {
					return fmt.Errorf("failed to write DOT graph: %w", err)
				}
				log.Info().Str("file", dotFile).Msg("Wrote dependency graph")
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), plan)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the plan as JSON")
	cmd.Flags().StringVar(&dotFile, "dot", "", "output DOT graph file (optional)")

	return cmd
}
