package cli

import (
	"fmt"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/app"
	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var gateways []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one federation cycle and exit",
		Long: `Run one download and upload cycle against the configured gateways and print the
resulting sync log entries.

Examples:
  # Sync with every gateway
  keyserver sync

  # Sync with one gateway
  keyserver sync --gateway efgs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Config()
			clock := timebucket.SystemClock{}

			gws, err := app.Gateways(cfg, gateways...)
			if err != nil {
				return err
			}
			if len(gws) == 0 {
				return fmt.Errorf("no gateways configured")
			}
			store, err := app.OpenStore(ctx, cfg, clock)
			if err != nil {
				return err
			}
			defer store.Close()
			manager, err := app.NewManager(cfg, store, clock)
			if err != nil {
				return err
			}

			started := clock.Now().Minus(time.Second)
			cycleErr := app.NewSyncer(cfg, gws, store, manager, clock).RunCycle(ctx)

			entries, err := store.List(ctx, "", started, 0)
			if err != nil {
				return err
			}
			if err := printSyncLog(cmd.OutOrStdout(), entries); err != nil {
				return err
			}
			if cycleErr != nil {
				return cycleErr
			}
			okLabel.Fprintln(cmd.OutOrStdout(), "sync cycle finished")
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&gateways, "gateway", "g", nil, "Gateway ids to sync with (default all)")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete keys received before the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Config()
			store, err := app.OpenStore(ctx, cfg, timebucket.SystemClock{})
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.CleanUp(ctx, cfg.GetRetentionPeriod())
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]int64{"deleted": n})
				return nil
			}
			okLabel.Fprintf(cmd.OutOrStdout(), "deleted %d keys\n", n)
			return nil
		},
	}
}
