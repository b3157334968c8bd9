// Package sinks implements concrete progress consumers: structured
// logging, Prometheus collectors, a terminal progress bar, and the
// run-history store. Each sink satisfies progress.Sink and tolerates
// repeated Consume/Close cycles.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/progress"
)

// LogSink emits structured logs for the progress stream. Useful during
// development and when auditing a run without scraping metrics.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("kind", string(evt.Kind)),
			zap.String("mode", string(evt.Mode)),
		}
		if evt.RecordID != "" {
			fields = append(fields,
				zap.String("record", evt.RecordID),
				zap.String("outcome", string(evt.Outcome)))
		}
		if evt.Total > 0 {
			fields = append(fields, zap.Int("done", evt.Done), zap.Int("total", evt.Total))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
