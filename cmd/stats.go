package cmd

import (
	"github.com/spf13/cobra"

	"github.com/swatchlab/swatchsync/internal/app"
)

// newStatsCmd creates the 'stats' subcommand, a read-only view of the
// checkpoint. It never touches the site or the browser pool.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show checkpoint progress and outcome counts",

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return app.NewRunner(appInstance).Stats(cmd.Context())
		},
	}
}
