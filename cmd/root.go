// Package cmd defines the CLI commands for the swatchsync executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swatchlab/swatchsync/internal/app"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can
// swap in a prebuilt App.
var newApp = func(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfgFile)
}

// newRootCmd creates and configures the root command. The application
// container is built in PersistentPreRunE and stored on the command
// context so every subcommand shares the same wired services.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swatchsync",
		Short: "Keeps swatch color values in sync with the reference site",
		Long: `swatchsync resolves the hex color value of every swatch record by
driving a pool of headless browsers against the color reference site.
Progress is checkpointed so interrupted runs resume where they left
off, and failed records can be retried without repeating the rest.`,

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./swatchsync.yaml)")

	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// resolveApp pulls the application container out of the command context.
func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
