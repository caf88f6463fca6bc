package cli

import (
	"github.com/exposurekeys/keyserver/internal/keyserver/app"
	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the device API and run the scheduled sync and cleanup jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, config.Config())
			if err != nil {
				return err
			}
			defer a.Close()
			log.Ctx(ctx).Info().Str("origin", config.Config().Origin).Msg("starting key server")
			return a.Run(ctx)
		},
	}
}
