// Package monitor samples system memory while a run executes. Headless
// browser pools are the dominant memory consumer, so the runner warns
// before the host starts swapping.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

// Config controls the sampling loop.
type Config struct {
	Interval    time.Duration
	WarnPercent float64
}

// Snapshot is the most recent memory observation.
type Snapshot struct {
	UsedPercent float64
	UsedBytes   uint64
	TotalBytes  uint64
	SampledAt   time.Time
}

// Monitor runs a background sampling loop.
type Monitor struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New builds a Monitor. Zero interval defaults to 30s; zero warn
// threshold defaults to 85 percent.
func New(cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.WarnPercent <= 0 {
		cfg.WarnPercent = 85
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.Named("monitor"),
		done:   make(chan struct{}),
	}
}

// Start launches the sampling loop. It samples once immediately so
// Snapshot is never empty after Start returns.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.sample()
	go m.loop(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		if m.cancel == nil {
			close(m.done)
			return
		}
		m.cancel()
		<-m.done
	})
}

// Snapshot returns the latest observation.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Pressure returns the latest observation and whether it sits at or
// above the warn threshold. A monitor that never sampled reports no
// pressure.
func (m *Monitor) Pressure() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshot
	return snap, !snap.SampledAt.IsZero() && snap.UsedPercent >= m.cfg.WarnPercent
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		m.logger.Warn("memory sample failed", zap.Error(err))
		return
	}
	snap := Snapshot{
		UsedPercent: vm.UsedPercent,
		UsedBytes:   vm.Used,
		TotalBytes:  vm.Total,
		SampledAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	metrics.SetMemoryUsedPercent(vm.UsedPercent)
	if vm.UsedPercent >= m.cfg.WarnPercent {
		m.logger.Warn("memory usage above threshold",
			zap.Float64("used_percent", vm.UsedPercent),
			zap.Float64("warn_percent", m.cfg.WarnPercent))
	}
}
