package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopclerk/shopclerk/internal/observability"
	"github.com/shopclerk/shopclerk/internal/store"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the accumulated run statistics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(loadedConfig.Store.Path, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open state store: %w", err)
			}
			defer db.Close()

			summary, err := store.NewStatsRecorder(db).Summary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}
