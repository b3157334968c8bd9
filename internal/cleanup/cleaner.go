// Package cleanup owns process-wide resource teardown. Resources are
// registered with a priority, a timeout, and a retry budget; Run tears
// them down in priority order exactly once per process, whether the
// trigger is a normal exit, a fault, or a termination signal.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Trigger names what started the cleanup.
type Trigger string

// Cleanup triggers.
const (
	TriggerExit   Trigger = "exit"
	TriggerSignal Trigger = "signal"
	TriggerFault  Trigger = "fault"
)

// Options tune how one resource is torn down. Higher priority runs
// first. Zero values fall back to sensible defaults.
type Options struct {
	Priority int
	Timeout  time.Duration
	Retries  int
}

const (
	defaultTimeout = 15 * time.Second
	defaultRetries = 1
)

type resource struct {
	id       string
	kind     string
	fn       func(context.Context) error
	priority int
	timeout  time.Duration
	retries  int
	seq      int
}

// Result counts teardown outcomes for one Run.
type Result struct {
	Trigger   Trigger
	Succeeded int
	Failed    int
}

// Cleaner is the process-wide registry of releasable resources.
type Cleaner struct {
	logger *zap.Logger

	mu        sync.Mutex
	resources []*resource
	hooks     []func(context.Context)
	seq       int

	once   sync.Once
	result Result
}

// New creates an empty Cleaner.
func New(logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{logger: logger}
}

// Register adds a resource. Registering an id twice replaces the
// earlier entry; its options are taken wholesale from the new call.
func (c *Cleaner) Register(id, kind string, fn func(context.Context) error, opts Options) {
	if fn == nil {
		return
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
	c.seq++
	c.resources = append(c.resources, &resource{
		id:       id,
		kind:     kind,
		fn:       fn,
		priority: opts.Priority,
		timeout:  opts.Timeout,
		retries:  opts.Retries,
		seq:      c.seq,
	})
}

// Unregister drops a resource, typically after it was released on the
// normal path.
func (c *Cleaner) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

func (c *Cleaner) removeLocked(id string) {
	for i, r := range c.resources {
		if r.id == id {
			c.resources = append(c.resources[:i], c.resources[i+1:]...)
			return
		}
	}
}

// RegisterHook adds a global hook that runs before any resource is
// cleaned. Hooks run in registration order and must not block past the
// run they are invoked in.
func (c *Cleaner) RegisterHook(fn func(context.Context)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Len reports the number of registered resources.
func (c *Cleaner) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

// Run tears everything down exactly once. Later calls return the first
// run's result without doing any work, so the signal path and the
// normal exit path cannot double-free.
func (c *Cleaner) Run(trigger Trigger) Result {
	c.once.Do(func() {
		c.result = c.performCleanup(trigger)
	})
	return c.result
}

func (c *Cleaner) performCleanup(trigger Trigger) Result {
	c.mu.Lock()
	hooks := append(([]func(context.Context))(nil), c.hooks...)
	resources := append([]*resource(nil), c.resources...)
	c.mu.Unlock()

	// Priority descending; registration order breaks ties.
	sort.SliceStable(resources, func(i, j int) bool {
		if resources[i].priority != resources[j].priority {
			return resources[i].priority > resources[j].priority
		}
		return resources[i].seq < resources[j].seq
	})

	c.logger.Info("cleanup started",
		zap.String("trigger", string(trigger)),
		zap.Int("resources", len(resources)))

	res := Result{Trigger: trigger}
	for _, hook := range hooks {
		c.runHook(hook)
	}
	for _, r := range resources {
		if err := c.cleanResource(r); err != nil {
			res.Failed++
			c.logger.Error("resource cleanup failed",
				zap.String("resource", r.id),
				zap.String("kind", r.kind),
				zap.Error(err))
			continue
		}
		res.Succeeded++
	}

	c.logger.Info("cleanup finished",
		zap.String("trigger", string(trigger)),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed))
	return res
}

func (c *Cleaner) runHook(hook func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cleanup hook panicked", zap.Any("panic", r))
		}
	}()
	hook(ctx)
}

// cleanResource runs one resource's teardown with its timeout and
// retry budget. The function runs in a goroutine so that a teardown
// ignoring its context cannot stall the resources behind it.
func (c *Cleaner) cleanResource(r *resource) error {
	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		lastErr = c.attemptClean(r)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("resource cleanup attempt failed",
			zap.String("resource", r.id),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.retries),
			zap.Error(lastErr))
	}
	return fmt.Errorf("clean %s after %d attempts: %w", r.id, r.retries, lastErr)
}

func (c *Cleaner) attemptClean(r *resource) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("cleanup panicked: %v", rec)
			}
		}()
		done <- r.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("cleanup timed out after %s", r.timeout)
	}
}

// InstallSignals arranges for SIGINT and SIGTERM to run the cleaner
// and exit non-zero. exit is injectable for tests; nil uses os.Exit.
// The returned stop func removes the handler.
func (c *Cleaner) InstallSignals(exit func(int)) func() {
	if exit == nil {
		exit = os.Exit
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			c.logger.Warn("termination signal received", zap.String("signal", sig.String()))
			c.Run(TriggerSignal)
			exit(1)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// RecoverFault turns a panic in the calling goroutine into a cleanup
// run. Use with defer at the top of the run path; the panic is
// re-raised after cleanup so the crash is still visible.
func (c *Cleaner) RecoverFault() {
	if r := recover(); r != nil {
		c.logger.Error("uncaught fault, cleaning up", zap.Any("panic", r))
		c.Run(TriggerFault)
		panic(r)
	}
}
