package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/progress"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

// RunHistorySink persists completed run summaries through a
// swatch.RunHistoryStore. Only RUN_DONE and RUN_ERROR events carrying
// a summary reach the store.
type RunHistorySink struct {
	store  swatch.RunHistoryStore
	logger *zap.Logger
}

// NewRunHistorySink constructs a sink over store; a nil store yields a
// sink that ignores everything.
func NewRunHistorySink(store swatch.RunHistoryStore, logger *zap.Logger) *RunHistorySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHistorySink{store: store, logger: logger}
}

// Consume records run completions; other stages pass through.
func (s *RunHistorySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageRunDone && evt.Stage != progress.StageRunError {
			continue
		}
		if evt.Summary == nil {
			s.logger.Debug("run completion without summary, skipping history",
				zap.String("run_id", evt.RunID))
			continue
		}
		if err := s.store.RecordRun(ctx, *evt.Summary); err != nil {
			return fmt.Errorf("record run %s: %w", evt.RunID, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *RunHistorySink) Close(context.Context) error {
	return nil
}
