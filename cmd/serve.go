package cmd

import "github.com/spf13/cobra"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the control API",
		Long: `Serves the HTTP control API and the /v1/events progress stream. Runs are
started with POST /v1/start or /v1/resume and are drained on shutdown.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			return appInstance.Serve(cmd.Context())
		}),
	}
}
