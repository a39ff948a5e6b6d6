package cmd

import (
	"footage-flow/config"
	"footage-flow/repository"
	server2 "footage-flow/server"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(config)
			if err := repository.Migrate(ctx, config.DB); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Msg("database migrated")
			return nil
		},
	}
}
