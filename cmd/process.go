package cmd

import (
	"encoding/json"
	"footage-flow/config"
	"footage-flow/repository"
	server2 "footage-flow/server"
	"footage-flow/service"
	"footage-flow/storage"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// process runs the pipeline for one video in the foreground and prints the
// final record. --source-dir reads uploads from disk instead of MinIO.
func process(config *config.Config) *cobra.Command {
	var sourceDir string
	cmd := &cobra.Command{
		Use:   "process <videoId>",
		Short: "analyse one video and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(server2.SetupLogger(config), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var sources service.SourceStore
			if sourceDir != "" {
				repo, err := repository.NewRepo(config.DB)
				if err != nil {
					return err
				}
				sources = storage.NewLocalSourceStore(sourceDir, repo)
			}

			services, err := server2.BuildServices(ctx, config, sources, nil)
			if err != nil {
				return err
			}

			analysis, err := services.Pipeline.Process(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(analysis)
		},
	}
	cmd.Flags().StringVar(&sourceDir, "source-dir", "", "read source videos from this directory")
	return cmd
}
