// Package orchestrator schedules record lookups over the dataset,
// folds results into the checkpoint, and enforces the run's batching
// and resume semantics. It treats the record processor, the checkpoint
// store, and the progress stream as interfaces so each can be swapped
// in tests.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/checkpoint"
	"github.com/swatchlab/swatchsync/internal/monitor"
	"github.com/swatchlab/swatchsync/internal/policy/skiplist"
	"github.com/swatchlab/swatchsync/internal/progress"
	"github.com/swatchlab/swatchsync/internal/recovery"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

// RecordProcessor resolves the value for one record. Implementations
// return the original record alongside the error when the lookup
// fails, so callers never persist partial mutations.
type RecordProcessor interface {
	Process(ctx context.Context, rec swatch.Record, maxRetries int) (swatch.Record, error)
}

// CheckpointSaver persists run state durably between batches.
type CheckpointSaver interface {
	Save(ctx context.Context, cursor int, records []swatch.Record, stats *swatch.ProcessingStats, digest string) error
}

// MemorySampler exposes the resource monitor's latest observation.
// The orchestrator only logs from it; scheduling never changes.
type MemorySampler interface {
	Pressure() (monitor.Snapshot, bool)
}

// Config tunes scheduling. Zero values fall back to sensible defaults.
type Config struct {
	Mode            swatch.RunMode
	BatchSize       int
	CheckpointEvery int
	MaxRetries      int

	// Memory, when set, is consulted at wave boundaries to log a
	// degradation hint while the host is under memory pressure.
	Memory MemorySampler
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = swatch.ModeSequential
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	return c
}

// Status is a point-in-time snapshot of the active run, served by the
// HTTP API while a run executes.
type Status struct {
	RunID     string                  `json:"runId"`
	Kind      swatch.RunKind          `json:"kind"`
	Mode      swatch.RunMode          `json:"mode"`
	Running   bool                    `json:"running"`
	Cursor    int                     `json:"cursor"`
	Total     int                     `json:"total"`
	StartedAt time.Time               `json:"startedAt"`
	Stats     *swatch.ProcessingStats `json:"stats"`
}

// Orchestrator drives a full pass over the dataset. It is not safe to
// run two passes on the same Orchestrator concurrently.
type Orchestrator struct {
	proc    RecordProcessor
	saver   CheckpointSaver
	skip    *skiplist.List
	emitter progress.Emitter
	clock   swatch.Clock
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	status Status
}

// New assembles an Orchestrator. skip and emitter may be nil.
func New(proc RecordProcessor, saver CheckpointSaver, skip *skiplist.List, emitter progress.Emitter, clock swatch.Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		proc:    proc,
		saver:   saver,
		skip:    skip,
		emitter: emitter,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("orchestrator"),
	}
}

// Status returns a snapshot of the current or most recent pass.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := o.status
	if snap.Stats != nil {
		snap.Stats = snap.Stats.Clone()
	}
	return snap
}

// Run executes a forward pass over records, resuming from cp.Cursor.
// It mutates cp in place: records accumulate into cp.Records, stats
// update as outcomes land, and the cursor advances past each persisted
// position. The returned stats alias cp.Stats.
func (o *Orchestrator) Run(ctx context.Context, runID string, records []swatch.Record, cp *swatch.Checkpoint) (*swatch.ProcessingStats, error) {
	if cp == nil {
		return nil, recovery.WithKind(fmt.Errorf("checkpoint is required"), recovery.KindParameter)
	}
	if cp.Stats == nil {
		cp.Stats = swatch.NewProcessingStats()
	}
	cp.Stats.Total = len(records)
	if cp.Cursor < 0 || cp.Cursor > len(records) {
		o.logger.Warn("checkpoint cursor out of range, restarting from zero",
			zap.Int("cursor", cp.Cursor), zap.Int("records", len(records)))
		cp.Cursor = 0
	}

	o.beginStatus(runID, swatch.RunUpdate, cp, len(records))
	defer o.endStatus()

	var err error
	if o.cfg.Mode == swatch.ModeConcurrent {
		err = o.runConcurrent(ctx, runID, records, cp)
	} else {
		err = o.runSequential(ctx, runID, records, cp)
	}
	return cp.Stats, err
}

func (o *Orchestrator) runSequential(ctx context.Context, runID string, records []swatch.Record, cp *swatch.Checkpoint) error {
	sinceSave := 0
	for i := cp.Cursor; i < len(records); i++ {
		if err := ctx.Err(); err != nil {
			return o.saveAndWrap(ctx, runID, cp, recovery.WithKind(err, recovery.KindTimeout))
		}
		res := o.processOne(ctx, runID, records[i])
		o.apply(cp, res)
		cp.Cursor = i + 1
		sinceSave++
		o.updateStatus(cp)

		if res.fatal != nil {
			return o.saveAndWrap(ctx, runID, cp, res.fatal)
		}
		if sinceSave >= o.cfg.CheckpointEvery {
			if err := o.save(ctx, runID, cp); err != nil {
				return err
			}
			sinceSave = 0
		}
	}
	return o.save(ctx, runID, cp)
}

// runConcurrent processes fixed-size batches. Every goroutine in a
// batch finishes before the next batch launches, so a checkpoint never
// reflects a half-landed batch.
func (o *Orchestrator) runConcurrent(ctx context.Context, runID string, records []swatch.Record, cp *swatch.Checkpoint) error {
	for start := cp.Cursor; start < len(records); start += o.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return o.saveAndWrap(ctx, runID, cp, recovery.WithKind(err, recovery.KindTimeout))
		}
		o.noteMemoryPressure()
		end := start + o.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		results := make([]result, len(batch))

		var wg sync.WaitGroup
		for i, rec := range batch {
			wg.Add(1)
			go func(i int, rec swatch.Record) {
				defer wg.Done()
				results[i] = o.processOne(ctx, runID, rec)
			}(i, rec)
		}
		wg.Wait()

		var fatal error
		for _, res := range results {
			o.apply(cp, res)
			if res.fatal != nil && fatal == nil {
				fatal = res.fatal
			}
		}
		cp.Cursor = end
		o.updateStatus(cp)
		if fatal != nil {
			return o.saveAndWrap(ctx, runID, cp, fatal)
		}
		if err := o.save(ctx, runID, cp); err != nil {
			return err
		}
	}
	return o.save(ctx, runID, cp)
}

// RetryPass reprocesses only the records marked failed in cp.Stats.
// Fixed values merge in place; records that fail again stay failed.
// The cursor is left untouched so a subsequent update run still
// resumes correctly.
func (o *Orchestrator) RetryPass(ctx context.Context, runID string, records []swatch.Record, cp *swatch.Checkpoint) (*swatch.ProcessingStats, error) {
	if cp == nil {
		return nil, recovery.WithKind(fmt.Errorf("checkpoint is required"), recovery.KindParameter)
	}
	if cp.Stats == nil || !cp.Stats.HasFailures() {
		o.logger.Info("no failed records to retry")
		return cp.Stats, nil
	}

	byID := make(map[string]swatch.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	failed := append([]string(nil), cp.Stats.FailedIDs...)
	o.beginStatus(runID, swatch.RunRetry, cp, len(failed))
	defer o.endStatus()

	sinceSave := 0
	for _, id := range failed {
		if err := ctx.Err(); err != nil {
			return cp.Stats, o.saveAndWrap(ctx, runID, cp, recovery.WithKind(err, recovery.KindTimeout))
		}
		rec, ok := byID[id]
		if !ok {
			o.logger.Warn("failed record no longer in dataset", zap.String("id", id))
			continue
		}
		res := o.processOne(ctx, runID, rec)
		o.apply(cp, res)
		sinceSave++
		o.updateStatus(cp)

		if res.fatal != nil {
			return cp.Stats, o.saveAndWrap(ctx, runID, cp, res.fatal)
		}
		if sinceSave >= o.cfg.CheckpointEvery {
			if err := o.save(ctx, runID, cp); err != nil {
				return cp.Stats, err
			}
			sinceSave = 0
		}
	}
	return cp.Stats, o.save(ctx, runID, cp)
}

type result struct {
	rec     swatch.Record
	outcome progress.Outcome
	err     error
	fatal   error
	dur     time.Duration
}

func (o *Orchestrator) processOne(ctx context.Context, runID string, rec swatch.Record) result {
	if o.skip != nil && o.skip.Matches(rec.ID) {
		o.logger.Debug("record on skip list", zap.String("id", rec.ID))
		res := result{rec: rec, outcome: progress.OutcomeSkipped}
		o.emitRecord(runID, res)
		return res
	}

	started := o.now()
	out, err := o.proc.Process(ctx, rec, o.cfg.MaxRetries)
	res := result{rec: out, dur: o.now().Sub(started)}
	switch {
	case err == nil:
		res.outcome = progress.OutcomeUpdated
	default:
		res.outcome = progress.OutcomeFailed
		res.err = err
		res.rec = rec
		if !recovery.KindOf(err).Recoverable() {
			res.fatal = err
		}
		o.logger.Warn("record lookup failed",
			zap.String("id", rec.ID),
			zap.String("kind", string(recovery.KindOf(err))),
			zap.Error(err))
	}
	o.emitRecord(runID, res)
	return res
}

// apply folds one result into the checkpoint. Failed records merge
// unmodified so the checkpoint still carries every seen record.
func (o *Orchestrator) apply(cp *swatch.Checkpoint, res result) {
	cp.Records = checkpoint.Merge(cp.Records, []swatch.Record{res.rec})
	switch res.outcome {
	case progress.OutcomeUpdated:
		cp.Stats.MarkSucceeded(res.rec.ID)
	case progress.OutcomeFailed:
		cp.Stats.MarkFailed(res.rec.ID)
	case progress.OutcomeSkipped:
		cp.Stats.MarkSkipped(res.rec.ID)
	}
}

// noteMemoryPressure logs a hint when the monitor reports the host
// above its memory threshold. The wave still launches; browser leases
// are the lever, not scheduling.
func (o *Orchestrator) noteMemoryPressure() {
	if o.cfg.Memory == nil {
		return
	}
	snap, high := o.cfg.Memory.Pressure()
	if !high {
		return
	}
	o.logger.Warn("memory pressure high at wave boundary, lookups may degrade",
		zap.Float64("used_percent", snap.UsedPercent),
		zap.Uint64("used_bytes", snap.UsedBytes))
}

func (o *Orchestrator) save(ctx context.Context, runID string, cp *swatch.Checkpoint) error {
	if err := o.saver.Save(ctx, cp.Cursor, cp.Records, cp.Stats, cp.DatasetDigest); err != nil {
		return fmt.Errorf("save checkpoint at cursor %d: %w", cp.Cursor, err)
	}
	o.emit(progress.Event{
		RunID: runID,
		TS:    o.now(),
		Stage: progress.StageCheckpoint,
		Mode:  o.cfg.Mode,
		Done:  cp.Cursor,
		Note:  fmt.Sprintf("cursor=%d records=%d", cp.Cursor, len(cp.Records)),
	})
	return nil
}

// saveAndWrap persists state before surfacing a fatal error so a rerun
// resumes from the last landed position.
func (o *Orchestrator) saveAndWrap(ctx context.Context, runID string, cp *swatch.Checkpoint, cause error) error {
	if err := o.save(ctx, runID, cp); err != nil {
		o.logger.Error("checkpoint save during abort failed", zap.Error(err))
	}
	return cause
}

func (o *Orchestrator) emitRecord(runID string, res result) {
	evt := progress.Event{
		RunID:    runID,
		TS:       o.now(),
		Stage:    progress.StageRecordDone,
		Mode:     o.cfg.Mode,
		RecordID: res.rec.ID,
		Outcome:  res.outcome,
		Dur:      res.dur,
	}
	if res.err != nil {
		evt.Note = res.err.Error()
	}
	o.mu.Lock()
	evt.Kind = o.status.Kind
	evt.Total = o.status.Total
	if o.status.Stats != nil {
		evt.Done = o.status.Stats.Updated + o.status.Stats.Failed + o.status.Stats.Skipped
	}
	o.mu.Unlock()
	o.emit(evt)
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}

func (o *Orchestrator) beginStatus(runID string, kind swatch.RunKind, cp *swatch.Checkpoint, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = Status{
		RunID:     runID,
		Kind:      kind,
		Mode:      o.cfg.Mode,
		Running:   true,
		Cursor:    cp.Cursor,
		Total:     total,
		StartedAt: o.now(),
		Stats:     cp.Stats.Clone(),
	}
}

// updateStatus copies the live stats so Status readers never race the
// driver goroutine mutating the checkpoint.
func (o *Orchestrator) updateStatus(cp *swatch.Checkpoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Cursor = cp.Cursor
	o.status.Stats = cp.Stats.Clone()
}

func (o *Orchestrator) endStatus() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Running = false
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now().UTC()
}
