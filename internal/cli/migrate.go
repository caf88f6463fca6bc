package cli

import (
	"fmt"

	"github.com/exposurekeys/keyserver/internal/keyserver/app"
	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/exposurekeys/keyserver/internal/keyserver/db"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/postgresql"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the key and sync log tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), postgresql.Schema())
				return nil
			}
			ctx := cmd.Context()
			cfg := *config.Config()
			if cfg.Storage.Backend == db.BackendMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "memory backend needs no migration")
				return nil
			}
			cfg.Storage.EnsureSchema = true
			store, err := app.OpenStore(ctx, &cfg, timebucket.SystemClock{})
			if err != nil {
				return err
			}
			defer store.Close()
			okLabel.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the DDL instead of applying it")
	return cmd
}
