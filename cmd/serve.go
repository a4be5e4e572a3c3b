package cmd

import "github.com/spf13/cobra"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, worker pool and scheduler",
		Long: `Starts the HTTP API, the bounded worker pool and any configured cron
schedules. Runs until SIGINT or SIGTERM, then drains in-flight jobs and shuts
down.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
