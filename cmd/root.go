package cmd

import (
	"footage-flow/config"

	"github.com/spf13/cobra"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "footage-flow",
		Short: "video analysis pipeline and story renderer",
	}
	rootCmd.AddCommand(server(config), process(config), migrate(config))
	return rootCmd
}
