package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/swatchlab/swatchsync/internal/checkpoint"
	"github.com/swatchlab/swatchsync/internal/monitor"
	"github.com/swatchlab/swatchsync/internal/policy/skiplist"
	"github.com/swatchlab/swatchsync/internal/progress"
	"github.com/swatchlab/swatchsync/internal/recovery"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

type fakeProcessor struct {
	mu      sync.Mutex
	values  map[string]string
	errs    map[string]error
	active  int
	maxSeen int
	handled []string
	perCall time.Duration
}

func (p *fakeProcessor) Process(_ context.Context, rec swatch.Record, _ int) (swatch.Record, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.maxSeen {
		p.maxSeen = p.active
	}
	p.handled = append(p.handled, rec.ID)
	p.mu.Unlock()

	if p.perCall > 0 {
		time.Sleep(p.perCall)
	}

	p.mu.Lock()
	p.active--
	err := p.errs[rec.ID]
	value := p.values[rec.ID]
	p.mu.Unlock()

	if err != nil {
		return rec, err
	}
	return rec.WithValue(value), nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saves int
	last  *swatch.Checkpoint
	err   error
}

func (s *fakeSaver) Save(_ context.Context, cursor int, records []swatch.Record, stats *swatch.ProcessingStats, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.last = &swatch.Checkpoint{
		Cursor:        cursor,
		Records:       append([]swatch.Record(nil), records...),
		Stats:         stats.Clone(),
		DatasetDigest: digest,
	}
	return nil
}

type memEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *memEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *memEmitter) byStage(stage progress.Stage) []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

func record(id string) swatch.Record {
	return swatch.Record{ID: id, DisplayName: id, Attributes: map[string]string{}}
}

func newOrch(proc RecordProcessor, saver CheckpointSaver, skip *skiplist.List, emitter progress.Emitter, cfg Config) *Orchestrator {
	return New(proc, saver, skip, emitter, nil, cfg, zap.NewNop())
}

func TestRunSequentialUpdatesAndFails(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{
		values: map[string]string{"A": "#112233"},
		errs: map[string]error{
			"B": recovery.WithKind(errors.New("wait for result: deadline exceeded"), recovery.KindTimeout),
		},
	}
	saver := &fakeSaver{}
	emitter := &memEmitter{}
	orch := newOrch(proc, saver, nil, emitter, Config{Mode: swatch.ModeSequential, MaxRetries: 2})

	cp := swatch.NewCheckpoint()
	stats, err := orch.Run(context.Background(), "run-1", []swatch.Record{record("A"), record("B")}, cp)
	require.NoError(t, err)

	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Updated)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, []string{"B"}, stats.FailedIDs)

	require.Len(t, cp.Records, 2)
	require.Equal(t, "#112233", cp.Records[0].Value())
	require.Empty(t, cp.Records[1].Value(), "failed record must stay unmodified")
	require.Equal(t, 2, cp.Cursor)

	done := emitter.byStage(progress.StageRecordDone)
	require.Len(t, done, 2)
	require.Equal(t, progress.OutcomeUpdated, done[0].Outcome)
	require.Equal(t, progress.OutcomeFailed, done[1].Outcome)
	require.NotEmpty(t, done[1].Note)
}

func TestRunResumesFromCursor(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{values: map[string]string{"A": "#111111", "B": "#222222", "C": "#333333"}}
	saver := &fakeSaver{}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeSequential})

	cp := swatch.NewCheckpoint()
	cp.Cursor = 2
	cp.Records = []swatch.Record{
		record("A").WithValue("#111111"),
		record("B").WithValue("#222222"),
	}
	cp.Stats.MarkSucceeded("A")
	cp.Stats.MarkSucceeded("B")

	_, err := orch.Run(context.Background(), "run-1",
		[]swatch.Record{record("A"), record("B"), record("C")}, cp)
	require.NoError(t, err)

	require.Equal(t, []string{"C"}, proc.handled, "already-processed records are not reprocessed")
	require.Equal(t, 3, cp.Cursor)
	require.Len(t, cp.Records, 3)
}

func TestRunSequentialCheckpointCadence(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{values: map[string]string{}}
	records := make([]swatch.Record, 0, 5)
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		records = append(records, record(id))
		proc.mu.Lock()
		proc.values[id] = "#0000ff"
		proc.mu.Unlock()
	}
	saver := &fakeSaver{}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeSequential, CheckpointEvery: 2})

	_, err := orch.Run(context.Background(), "run-1", records, swatch.NewCheckpoint())
	require.NoError(t, err)

	// Saves after records 2 and 4, plus the final save.
	require.Equal(t, 3, saver.saves)
	require.Equal(t, 5, saver.last.Cursor)
}

func TestRunConcurrentBatchContainment(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{values: map[string]string{}, perCall: 10 * time.Millisecond}
	var records []swatch.Record
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		records = append(records, record(id))
		proc.values[id] = "#abcdef"
	}
	saver := &fakeSaver{}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeConcurrent, BatchSize: 2})

	cp := swatch.NewCheckpoint()
	stats, err := orch.Run(context.Background(), "run-1", records, cp)
	require.NoError(t, err)

	require.Equal(t, 6, stats.Updated)
	require.LessOrEqual(t, proc.maxSeen, 2, "no more than one batch in flight")
	// One save per batch plus the final save.
	require.Equal(t, 4, saver.saves)
	require.Len(t, cp.Records, 6)
}

func TestRunAbortsOnNonRecoverableError(t *testing.T) {
	t.Parallel()
	fatal := recovery.WithKind(errors.New("lookup url missing"), recovery.KindConfig)
	proc := &fakeProcessor{
		values: map[string]string{"A": "#112233"},
		errs:   map[string]error{"B": fatal},
	}
	saver := &fakeSaver{}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeSequential})

	cp := swatch.NewCheckpoint()
	_, err := orch.Run(context.Background(), "run-1",
		[]swatch.Record{record("A"), record("B"), record("C")}, cp)
	require.ErrorIs(t, err, fatal)

	require.Equal(t, []string{"A", "B"}, proc.handled, "abort stops before the next record")
	require.GreaterOrEqual(t, saver.saves, 1, "state lands before surfacing the abort")
	require.Equal(t, 2, saver.last.Cursor)
}

func TestRunSkipsListedRecords(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{values: map[string]string{"A": "#112233", "C": "#445566"}}
	saver := &fakeSaver{}
	emitter := &memEmitter{}
	skip := skiplist.New([]string{"B"})
	orch := newOrch(proc, saver, skip, emitter, Config{Mode: swatch.ModeSequential})

	cp := swatch.NewCheckpoint()
	stats, err := orch.Run(context.Background(), "run-1",
		[]swatch.Record{record("A"), record("B"), record("C")}, cp)
	require.NoError(t, err)

	require.Equal(t, 2, stats.Updated)
	require.Equal(t, 1, stats.Skipped)
	require.NotContains(t, proc.handled, "B")

	done := emitter.byStage(progress.StageRecordDone)
	require.Len(t, done, 3)
	require.Equal(t, progress.OutcomeSkipped, done[1].Outcome)
}

func TestRetryPassFixesFailedRecordInPlace(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{values: map[string]string{"B": "#445566"}}
	saver := &fakeSaver{}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeSequential})

	cp := swatch.NewCheckpoint()
	cp.Cursor = 2
	cp.Records = []swatch.Record{record("A").WithValue("#112233"), record("B")}
	cp.Stats.Total = 2
	cp.Stats.MarkSucceeded("A")
	cp.Stats.MarkFailed("B")

	stats, err := orch.RetryPass(context.Background(), "run-2",
		[]swatch.Record{record("A"), record("B")}, cp)
	require.NoError(t, err)

	require.Equal(t, []string{"B"}, proc.handled, "only failed records are retried")
	require.Equal(t, 2, stats.Updated)
	require.Equal(t, 0, stats.Failed)
	require.Empty(t, stats.FailedIDs)

	require.Len(t, cp.Records, 2)
	require.Equal(t, "B", cp.Records[1].ID)
	require.Equal(t, "#445566", cp.Records[1].Value(), "fix merges into the existing position")
	require.Equal(t, 2, cp.Cursor, "retry pass leaves the cursor alone")
}

func TestRetryPassKeepsStillFailingRecords(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{
		errs: map[string]error{
			"B": recovery.WithKind(errors.New("net/http: request canceled"), recovery.KindNetwork),
		},
	}
	saver := &fakeSaver{}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeSequential})

	cp := swatch.NewCheckpoint()
	cp.Records = []swatch.Record{record("B")}
	cp.Stats.Total = 1
	cp.Stats.MarkFailed("B")

	stats, err := orch.RetryPass(context.Background(), "run-2",
		[]swatch.Record{record("B")}, cp)
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, stats.FailedIDs)
	require.Equal(t, 1, saver.saves)
}

func TestRetryPassNoFailuresIsNoOp(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{}
	saver := &fakeSaver{}
	orch := newOrch(proc, saver, nil, nil, Config{})

	cp := swatch.NewCheckpoint()
	_, err := orch.RetryPass(context.Background(), "run-2", nil, cp)
	require.NoError(t, err)
	require.Empty(t, proc.handled)
	require.Zero(t, saver.saves)
}

func TestRunSaveErrorAborts(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{values: map[string]string{"A": "#112233"}}
	saver := &fakeSaver{err: errors.New("disk full")}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeSequential, CheckpointEvery: 1})

	_, err := orch.Run(context.Background(), "run-1", []swatch.Record{record("A")}, swatch.NewCheckpoint())
	require.Error(t, err)
	require.Contains(t, err.Error(), "save checkpoint")
}

func TestRunVerifyMismatchAbortsRun(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{values: map[string]string{"A": "#112233", "B": "#445566"}}
	saver := &fakeSaver{err: checkpoint.ErrVerifyMismatch}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeSequential, CheckpointEvery: 1})

	_, err := orch.Run(context.Background(), "run-1", []swatch.Record{record("A"), record("B")}, swatch.NewCheckpoint())
	require.ErrorIs(t, err, checkpoint.ErrVerifyMismatch)
	require.Equal(t, []string{"A"}, proc.handled, "no further records after a verification failure")
}

type fakeSampler struct {
	mu    sync.Mutex
	calls int
	snap  monitor.Snapshot
	high  bool
}

func (s *fakeSampler) Pressure() (monitor.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.snap, s.high
}

func TestRunConcurrentLogsMemoryPressureAtWaveBoundaries(t *testing.T) {
	t.Parallel()
	core, observed := observer.New(zapcore.WarnLevel)
	proc := &fakeProcessor{values: map[string]string{
		"A": "#111111", "B": "#222222", "C": "#333333",
		"D": "#444444", "E": "#555555", "F": "#666666",
	}}
	sampler := &fakeSampler{
		snap: monitor.Snapshot{UsedPercent: 92.5, UsedBytes: 14 << 30, SampledAt: time.Now()},
		high: true,
	}
	orch := New(proc, &fakeSaver{}, nil, nil, nil,
		Config{Mode: swatch.ModeConcurrent, BatchSize: 2, Memory: sampler},
		zap.New(core))

	records := []swatch.Record{
		record("A"), record("B"), record("C"),
		record("D"), record("E"), record("F"),
	}
	_, err := orch.Run(context.Background(), "run-1", records, swatch.NewCheckpoint())
	require.NoError(t, err)

	require.Equal(t, 3, sampler.calls, "one consult per wave")
	hints := observed.FilterMessageSnippet("memory pressure").All()
	require.Len(t, hints, 3)
	require.Equal(t, 92.5, hints[0].ContextMap()["used_percent"])
}

func TestRunConcurrentQuietWhenMemoryPressureLow(t *testing.T) {
	t.Parallel()
	core, observed := observer.New(zapcore.WarnLevel)
	proc := &fakeProcessor{values: map[string]string{"A": "#111111", "B": "#222222"}}
	sampler := &fakeSampler{snap: monitor.Snapshot{UsedPercent: 40, SampledAt: time.Now()}}
	orch := New(proc, &fakeSaver{}, nil, nil, nil,
		Config{Mode: swatch.ModeConcurrent, BatchSize: 2, Memory: sampler},
		zap.New(core))

	_, err := orch.Run(context.Background(), "run-1", []swatch.Record{record("A"), record("B")}, swatch.NewCheckpoint())
	require.NoError(t, err)
	require.Equal(t, 1, sampler.calls)
	require.Empty(t, observed.FilterMessageSnippet("memory pressure").All())
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{values: map[string]string{"A": "#112233"}}
	saver := &fakeSaver{}
	orch := newOrch(proc, saver, nil, nil, Config{Mode: swatch.ModeSequential})

	cp := swatch.NewCheckpoint()
	_, err := orch.Run(context.Background(), "run-7", []swatch.Record{record("A")}, cp)
	require.NoError(t, err)

	status := orch.Status()
	require.Equal(t, "run-7", status.RunID)
	require.Equal(t, swatch.RunUpdate, status.Kind)
	require.False(t, status.Running)
	require.Equal(t, 1, status.Cursor)
	require.Equal(t, 1, status.Stats.Updated)
}
