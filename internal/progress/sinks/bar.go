package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/swatchlab/swatchsync/internal/progress"
)

// BarSink renders one terminal progress bar per run. It tracks at most
// one run at a time; overlapping runs fall back to counting on the
// latest bar, which matches the single-run process model.
type BarSink struct {
	mu    sync.Mutex
	runID string
	bar   *progressbar.ProgressBar
}

// NewBarSink creates an idle BarSink; the bar appears on RUN_START.
func NewBarSink() *BarSink {
	return &BarSink{}
}

// Consume advances the bar from the event stream.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runID = evt.RunID
			s.bar = progressbar.NewOptions(evt.Total,
				progressbar.OptionSetDescription(fmt.Sprintf("%s %s", evt.Kind, shortID(evt.RunID))),
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionClearOnFinish(),
			)
		case progress.StageRecordDone:
			if s.bar != nil && evt.RunID == s.runID {
				_ = s.bar.Add(1)
			}
		case progress.StageRunDone, progress.StageRunError:
			if s.bar != nil && evt.RunID == s.runID {
				_ = s.bar.Finish()
				s.bar = nil
				s.runID = ""
			}
		}
	}
	return nil
}

// Close finishes any bar still on screen.
func (s *BarSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		_ = s.bar.Finish()
		s.bar = nil
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
