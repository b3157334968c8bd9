package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/swatchlab/swatchsync/internal/progress"
)

// PrometheusSink exports run-level progress metrics. It owns the
// collectors for runs started/completed/running and per-outcome record
// counters; the finer-grained lookup metrics live in internal/metrics.
type PrometheusSink struct {
	runsStarted    *prometheus.CounterVec
	runsCompleted  *prometheus.CounterVec
	runsRunning    prometheus.Gauge
	runRuntime     *prometheus.HistogramVec
	recordOutcomes *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided
// registry (nil uses the default registerer).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swatchsync_runs_started_total",
			Help: "Total runs started, partitioned by kind.",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swatchsync_runs_completed_total",
			Help: "Total runs completed, partitioned by kind and result.",
		}, []string{"kind", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swatchsync_runs_running",
			Help: "Current number of in-flight runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swatchsync_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		}, []string{"kind", "result"}),
		recordOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swatchsync_progress_records_total",
			Help: "Record completions observed on the progress stream.",
		}, []string{"outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.recordOutcomes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent
// use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	kind := string(evt.Kind)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.completeRun(evt, kind, "success")
	case progress.StageRunError:
		s.completeRun(evt, kind, "error")
	case progress.StageRecordDone:
		s.recordOutcomes.WithLabelValues(string(evt.Outcome)).Inc()
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, kind, result string) {
	s.runsCompleted.WithLabelValues(kind, result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(kind, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
