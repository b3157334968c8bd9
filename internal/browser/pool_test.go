package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

type fakeInstance struct {
	id string

	mu     sync.Mutex
	alive  bool
	pages  int
	closed bool
	killed bool
}

func (f *fakeInstance) ID() string { return f.id }

func (f *fakeInstance) NewTab(parent context.Context) (context.Context, context.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return nil, nil, errors.New("browser has been closed")
	}
	ctx, cancel := context.WithCancel(parent)
	return ctx, cancel, nil
}

func (f *fakeInstance) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeInstance) PageCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return 0, errors.New("browser has been closed")
	}
	return f.pages, nil
}

func (f *fakeInstance) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.alive = false
	return nil
}

func (f *fakeInstance) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	f.alive = false
}

func (f *fakeInstance) die() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func (f *fakeInstance) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeInstance) isKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

type fakeLauncher struct {
	mu         sync.Mutex
	launches   int
	failFirst  int
	failAlways bool
	created    []*fakeInstance
}

func (l *fakeLauncher) Launch(context.Context) (Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.failAlways || l.launches <= l.failFirst {
		return nil, errors.New("chrome failed to start")
	}
	inst := &fakeInstance{id: fmt.Sprintf("fake-%d", l.launches), alive: true, pages: 1}
	l.created = append(l.created, inst)
	return inst, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *fakeLauncher) instance(i int) *fakeInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.created[i]
}

func testPoolConfig() Config {
	return Config{
		PoolSize:            2,
		UsageLimit:          3,
		CreateRetries:       3,
		CreateRetryDelay:    time.Millisecond,
		AcquirePollInterval: 5 * time.Millisecond,
		HealthInterval:      -1,
	}
}

func newTestPool(t *testing.T, cfg Config, launcher *fakeLauncher) *Pool {
	t.Helper()
	metrics.Init()
	pool, err := NewPool(context.Background(), cfg, launcher, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	return pool
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoolAcquireRelease(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	pool := newTestPool(t, testPoolConfig(), launcher)
	ctx := context.Background()

	l1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	l2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NotEqual(t, l1.ID(), l2.ID())
	require.Equal(t, 1, l1.UsageCount())

	st := pool.Stats()
	require.Equal(t, 2, st.Busy)
	require.Equal(t, 0, st.Available)

	shortCtx, cancel := context.WithTimeout(ctx, 40*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(shortCtx)
	require.Error(t, err)

	pool.Release(l1)
	l3, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, l1.ID(), l3.ID())
	require.Equal(t, 2, l3.UsageCount())
}

func TestPoolAcquireBlocksUntilRelease(t *testing.T) {
	t.Parallel()
	cfg := testPoolConfig()
	cfg.PoolSize = 1
	launcher := &fakeLauncher{}
	pool := newTestPool(t, cfg, launcher)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		pool.Release(lease)
	}()

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	next, err := pool.Acquire(waitCtx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	pool.Release(next)
}

func TestPoolUsageCeilingRetires(t *testing.T) {
	t.Parallel()
	cfg := testPoolConfig()
	cfg.PoolSize = 1
	cfg.UsageLimit = 2
	launcher := &fakeLauncher{}
	pool := newTestPool(t, cfg, launcher)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		lease, err := pool.Acquire(ctx)
		require.NoError(t, err)
		pool.Release(lease)
	}

	// Second release hits the ceiling: the instance is closed and a
	// fresh one takes its slot.
	waitFor(t, 2*time.Second, func() bool { return launcher.count() == 2 })
	waitFor(t, 2*time.Second, func() bool { return pool.Stats().Available == 1 })
	require.True(t, launcher.instance(0).isClosed())

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NotEqual(t, launcher.instance(0).ID(), lease.ID())
	require.Equal(t, 1, lease.UsageCount())
	pool.Release(lease)
}

func TestPoolMarkBrokenRetiresOnRelease(t *testing.T) {
	t.Parallel()
	cfg := testPoolConfig()
	cfg.PoolSize = 1
	launcher := &fakeLauncher{}
	pool := newTestPool(t, cfg, launcher)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	lease.MarkBroken()
	pool.Release(lease)

	waitFor(t, 2*time.Second, func() bool { return launcher.count() == 2 })
	require.True(t, launcher.instance(0).isClosed())
}

func TestPoolCreateFailsPermanently(t *testing.T) {
	t.Parallel()
	metrics.Init()
	launcher := &fakeLauncher{failAlways: true}
	cfg := testPoolConfig()

	_, err := NewPool(context.Background(), cfg, launcher, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "build pool")
	require.Equal(t, cfg.CreateRetries, launcher.count())
}

func TestPoolCreateRetriesEventuallySucceed(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{failFirst: 2}
	pool := newTestPool(t, testPoolConfig(), launcher)

	require.Equal(t, 4, launcher.count())
	require.Equal(t, 2, pool.Stats().Size)
}

func TestPoolHealthCheckReplacesDeadInstance(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	pool := newTestPool(t, testPoolConfig(), launcher)

	launcher.instance(0).die()
	pool.CheckHealth(context.Background())

	waitFor(t, 2*time.Second, func() bool { return launcher.count() == 3 })
	waitFor(t, 2*time.Second, func() bool { return pool.Stats().Available == 2 })
	require.True(t, launcher.instance(0).isClosed())
}

func TestPoolHealthCheckMarksBusyInstance(t *testing.T) {
	t.Parallel()
	cfg := testPoolConfig()
	cfg.PoolSize = 1
	launcher := &fakeLauncher{}
	pool := newTestPool(t, cfg, launcher)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	launcher.instance(0).die()

	pool.CheckHealth(ctx)
	// Busy instances are not yanked mid-lease; retirement happens on
	// release.
	require.Equal(t, 1, pool.Stats().Busy)

	pool.Release(lease)
	waitFor(t, 2*time.Second, func() bool { return launcher.count() == 2 })
}

func TestPoolHealthLoopRuns(t *testing.T) {
	t.Parallel()
	cfg := testPoolConfig()
	cfg.PoolSize = 1
	cfg.HealthInterval = 10 * time.Millisecond
	launcher := &fakeLauncher{}
	pool := newTestPool(t, cfg, launcher)

	launcher.instance(0).die()
	waitFor(t, 2*time.Second, func() bool { return launcher.count() >= 2 })
	waitFor(t, 2*time.Second, func() bool { return pool.Stats().Available == 1 })
}

func TestPoolForceCloseAll(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	pool := newTestPool(t, testPoolConfig(), launcher)

	pool.ForceCloseAll()
	require.True(t, launcher.instance(0).isKilled())
	require.True(t, launcher.instance(1).isKilled())

	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolCloseIdempotent(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	pool := newTestPool(t, testPoolConfig(), launcher)

	require.NoError(t, pool.Close(context.Background()))
	require.NoError(t, pool.Close(context.Background()))
	require.True(t, launcher.instance(0).isClosed())
}
