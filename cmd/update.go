package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swatchlab/swatchsync/internal/app"
)

// newUpdateCmd creates the 'update' subcommand. It walks the full
// dataset, resuming from the checkpoint cursor when one exists.
func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Resolve color values for the whole dataset",
		Long: `Processes every record in the configured dataset, looking up each
swatch's color value on the reference site. If a checkpoint exists the
run resumes from its cursor instead of starting over.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner := app.NewRunner(appInstance)
			if err := runner.Update(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("update run: %w", err)
			}
			return nil
		},
	}
}
