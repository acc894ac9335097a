package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopclerk/shopclerk/internal/observability"
	"github.com/shopclerk/shopclerk/internal/store"
)

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <conversation-id>",
		Short: "Delete one conversation's stored history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadedConfig
			db, err := store.Open(cfg.Store.Path, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open state store: %w", err)
			}
			defer db.Close()

			hist := store.NewConversationStore(db, cfg.Store.MaxHistoryTurns)
			if err := hist.Purge(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "History for conversation %s purged.\n", args[0])
			return nil
		},
	}
}
