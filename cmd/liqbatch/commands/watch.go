package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/liqbatch/pkg/engine"
	"github.com/openfroyo/liqbatch/pkg/inbox"
)

func newWatchCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Execute batch files dropped into an inbox directory",
		Long: `Watch an inbox directory and execute every batch file written to it.

Files already in the inbox are executed first, in name order. Each file is
moved to processed/ when its execution completes and to failed/ otherwise,
with the reason written next to it. When policy watching is enabled, policy
files are reloaded as they change.`,
		Example: `  # Watch the inbox from the settings file
  liqbatch watch --config liqbatch.yaml

  # Watch a specific directory
  liqbatch watch --dir ./drop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if dir != "" {
				settings.Inbox.Dir = dir
			}

			a, ctx, err := newApp(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			watcher, err := inbox.NewWatcher(settings.Inbox.Dir, a.handleBatchFile, a.telemetry.Logger.Zerolog())
			if err != nil {
				return err
			}

			if err := a.watchPolicies(ctx); err != nil {
				return err
			}
			return watcher.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "inbox directory (overrides settings)")

	return cmd
}

// handleBatchFile executes one inbox file. Anything short of a completed
// execution is reported as a failure so the file lands in failed/.
func (a *app) handleBatchFile(ctx context.Context, path string) error {
	result, err := a.runBatch(ctx, path, nil)
	if err != nil {
		return err
	}

	log.Info().
		Str("execution_id", result.ExecutionID).
		Str("status", string(result.Status)).
		Float64("total_cost", result.TotalCost).
		Msg("Batch executed")

	if result.Status != engine.ExecutionStatusCompleted {
		if result.HaltReason != "" {
			return fmt.Errorf("execution %s %s: %s", result.ExecutionID, result.Status, result.HaltReason)
		}
		return fmt.Errorf("execution %s %s", result.ExecutionID, result.Status)
	}
	return nil
}
