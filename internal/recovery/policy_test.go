package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	metrics.Init()
	return NewManager(DefaultPolicy(5*time.Millisecond), zap.NewNop())
}

func TestManagerTimeoutRetriesThenSkips(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	err := errors.New("wait for result: timeout")

	for attempt := 1; attempt <= 3; attempt++ {
		d := m.Decide("rec-1", err)
		require.Equal(t, ActionRetryWithDelay, d.Action, "attempt %d", attempt)
		require.Equal(t, 5*time.Millisecond, d.Delay)
		require.Equal(t, attempt, d.Attempt)
	}
	d := m.Decide("rec-1", err)
	require.Equal(t, ActionSkip, d.Action)
}

func TestManagerNetworkWaitsLonger(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	d := m.Decide("rec-1", errors.New("dial tcp: connection refused"))
	require.Equal(t, ActionRetryWithDelay, d.Action)
	require.Equal(t, 10*time.Millisecond, d.Delay)
}

func TestManagerCrashRecreatesThenSkips(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	err := errors.New("page crashed")

	d := m.Decide("rec-1", err)
	require.Equal(t, ActionRecreateResource, d.Action)
	require.Equal(t, KindPageCrash, d.Err.Kind)

	d = m.Decide("rec-1", err)
	require.Equal(t, ActionSkip, d.Action)
}

func TestManagerPermissionTerminates(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	d := m.Decide("rec-1", fmt.Errorf("write checkpoint: %w", fs.ErrPermission))
	require.Equal(t, ActionTerminate, d.Action)
	require.False(t, d.Err.Recoverable)
}

func TestManagerParseNeverRetries(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	parseErr := json.Unmarshal([]byte("{bad"), &map[string]any{})
	require.Error(t, parseErr)

	d := m.Decide("rec-1", parseErr)
	require.Equal(t, ActionSkip, d.Action)
}

func TestManagerUnknownRetriesOnce(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	err := errors.New("something odd happened")

	d := m.Decide("rec-1", err)
	require.Equal(t, ActionRetryWithDelay, d.Action)

	d = m.Decide("rec-1", err)
	require.Equal(t, ActionSkip, d.Action)
}

func TestManagerResetClearsCounter(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	err := errors.New("wait for result: timeout")

	m.Decide("rec-1", err)
	m.Decide("rec-1", err)
	m.Reset("rec-1")

	d := m.Decide("rec-1", err)
	require.Equal(t, 1, d.Attempt)
	require.Equal(t, ActionRetryWithDelay, d.Action)
}

func TestManagerKeysAreIndependent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	err := errors.New("wait for result: timeout")

	for i := 0; i < 4; i++ {
		m.Decide("rec-a", err)
	}
	require.Equal(t, ActionSkip, m.Decide("rec-a", err).Action)

	d := m.Decide("rec-b", err)
	require.Equal(t, 1, d.Attempt)
	require.Equal(t, ActionRetryWithDelay, d.Action)
}

func TestManagerPauseHonorsContext(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	m.Pause(ctx, time.Hour)
	require.Less(t, time.Since(start), time.Second)
}

func TestFallbackChain(t *testing.T) {
	t.Parallel()
	require.Equal(t, ActionSkip, Fallback(ActionRetryWithDelay))
	require.Equal(t, ActionSkip, Fallback(ActionRecreateResource))
	require.Equal(t, ActionRestoreSafeState, Fallback(ActionSkip))
	require.Equal(t, ActionTerminate, Fallback(ActionRestoreSafeState))
	require.Equal(t, ActionTerminate, Fallback(ActionTerminate))
}
