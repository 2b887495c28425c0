package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/liqbatch/pkg/engine"
	"github.com/openfroyo/liqbatch/pkg/stores"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the operation outcome cache",
		Long: `Manage the outcome cache. Successful operations are cached by a
fingerprint of their type, target and parameters, and replayed instead of
re-executed while the entry is live.`,
	}

	cmd.AddCommand(newCacheInvalidateCommand())
	cmd.AddCommand(newCachePruneCommand())

	return cmd
}

func newCacheInvalidateCommand() *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "invalidate [key]",
		Short: "Remove one cache entry, or a whole namespace",
		Example: `  # Drop every cached operation outcome
  liqbatch cache invalidate

  # Drop one fingerprint
  liqbatch cache invalidate 3b7f...`,
		Args: cobra.MaximumNArgs(1),
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

			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			if err := store.Invalidate(ctx, namespace, key); err != nil {
				return err
			}

			target := namespace
			if key != "" {
				target = namespace + "/" + key
			}
			recordAudit(cmd, store, "cache.invalidated", target)

			log.Info().Str("namespace", namespace).Str("key", key).Msg("Cache invalidated")
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", engine.CacheNamespace, "cache namespace")

	return cmd
}

func newCachePruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired cache entries",
		Args:  cobra.NoArgs,
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

			n, err := store.PruneExpired(ctx)
			if err != nil {
				return err
			}
			recordAudit(cmd, store, "cache.pruned", fmt.Sprintf("%d", n))

			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired entries\n", n)
			return nil
		},
	}

	return cmd
}

func recordAudit(cmd *cobra.Command, store *stores.SQLiteStore, action, target string) {
	if err := store.CreateAuditEntry(cmd.Context(), &stores.AuditEntry{
		Action:   action,
		Actor:    actor(),
		TargetID: &target,
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}
