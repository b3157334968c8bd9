package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

func TestStartSamplesImmediately(t *testing.T) {
	t.Parallel()
	metrics.Init()
	m := New(Config{Interval: time.Hour}, nil)
	m.Start(context.Background())
	defer m.Stop()

	snap := m.Snapshot()
	require.False(t, snap.SampledAt.IsZero())
	require.Positive(t, snap.TotalBytes)
	require.Greater(t, snap.UsedPercent, 0.0)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	metrics.Init()
	m := New(Config{Interval: 10 * time.Millisecond}, nil)
	m.Start(context.Background())
	m.Stop()
	m.Stop()
}

func TestPressureAgainstThreshold(t *testing.T) {
	t.Parallel()
	metrics.Init()

	// Any real machine sits above a fraction of a percent and below
	// the full hundred, so both sides of the threshold are reachable
	// from a live sample.
	high := New(Config{Interval: time.Hour, WarnPercent: 0.001}, nil)
	high.Start(context.Background())
	defer high.Stop()
	snap, pressured := high.Pressure()
	require.True(t, pressured)
	require.Greater(t, snap.UsedPercent, 0.0)

	low := New(Config{Interval: time.Hour, WarnPercent: 100}, nil)
	low.Start(context.Background())
	defer low.Stop()
	_, pressured = low.Pressure()
	require.False(t, pressured)
}

func TestPressureBeforeFirstSample(t *testing.T) {
	t.Parallel()
	m := New(Config{WarnPercent: 0.001}, nil)
	snap, pressured := m.Pressure()
	require.False(t, pressured)
	require.True(t, snap.SampledAt.IsZero())
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	m := New(Config{}, nil)
	require.Equal(t, 30*time.Second, m.cfg.Interval)
	require.Equal(t, 85.0, m.cfg.WarnPercent)
}
