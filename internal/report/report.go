// Package report renders run summaries and archives them, along with
// checkpoint mirrors, through the artifact store.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/storage"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

// Writer archives run artifacts. Failures are logged, never fatal: a
// run that finished should not be reported as failed because the
// report upload flaked.
type Writer struct {
	provider storage.Provider
	logger   *zap.Logger
}

// NewWriter builds a Writer over provider.
func NewWriter(provider storage.Provider, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{provider: provider, logger: logger.Named("report")}
}

// WriteSummary renders and stores the human-readable run report.
func (w *Writer) WriteSummary(ctx context.Context, summary swatch.RunSummary) {
	object := fmt.Sprintf("reports/%s.txt", summary.RunID)
	if err := w.provider.Save(ctx, object, []byte(Render(summary))); err != nil {
		w.logger.Warn("report upload failed",
			zap.String("object", object), zap.Error(err))
		return
	}
	w.logger.Info("run report archived", zap.String("object", object))
}

// MirrorCheckpoint stores a copy of the checkpoint under the run id.
func (w *Writer) MirrorCheckpoint(ctx context.Context, runID string, cp *swatch.Checkpoint) {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		w.logger.Warn("checkpoint mirror marshal failed", zap.Error(err))
		return
	}
	object := fmt.Sprintf("checkpoints/%s.json", runID)
	if err := w.provider.Save(ctx, object, data); err != nil {
		w.logger.Warn("checkpoint mirror failed",
			zap.String("object", object), zap.Error(err))
		return
	}
	w.logger.Info("checkpoint mirrored", zap.String("object", object))
}

// Render produces the text form of a run summary.
func Render(summary swatch.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s, %s mode)\n", summary.RunID, summary.Kind, summary.Mode)
	fmt.Fprintf(&b, "started:  %s\n", summary.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "finished: %s\n", summary.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "duration: %s\n", summary.Duration().Round(time.Second))
	if summary.DatasetDigest != "" {
		fmt.Fprintf(&b, "dataset:  %s\n", summary.DatasetDigest)
	}
	b.WriteString("\n")

	stats := summary.Stats
	if stats == nil {
		b.WriteString("no records processed\n")
		return b.String()
	}
	fmt.Fprintf(&b, "records:  %d total, %d updated, %d failed", stats.Total, stats.Updated, stats.Failed)
	if stats.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", stats.Skipped)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "success:  %.1f%%\n", stats.SuccessRate()*100)

	if len(stats.FailedIDs) > 0 {
		failed := append([]string(nil), stats.FailedIDs...)
		sort.Strings(failed)
		fmt.Fprintf(&b, "\nfailed records (%d):\n", len(failed))
		for _, id := range failed {
			fmt.Fprintf(&b, "  - %s\n", id)
		}
	}
	return b.String()
}
