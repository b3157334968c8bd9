package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swatchlab/swatchsync/internal/app"
)

// newRetryCmd creates the 'retry' subcommand. It reprocesses only the
// records the checkpoint marks failed, leaving the cursor alone.
func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reprocess only the records that failed last run",
		Long: `Reads the failed record ids from the checkpoint and looks each one
up again. Successes are folded back into the checkpoint in place, so a
subsequent update run still resumes from the right spot.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner := app.NewRunner(appInstance)
			if err := runner.Retry(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("retry run: %w", err)
			}
			return nil
		},
	}
}
