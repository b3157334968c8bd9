package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

// ErrPoolClosed is returned by Acquire after the pool shut down.
var ErrPoolClosed = errors.New("instance pool closed")

// slot is the pool's bookkeeping for one instance. All fields are
// guarded by the pool mutex.
type slot struct {
	inst       Instance
	usageCount int
	state      State
	damaged    bool
}

// Pool owns a fixed set of browser instances. Acquire blocks, polling
// at a fixed interval, until an instance is available; Release returns
// it or retires it once its usage ceiling is reached. A background
// loop replaces instances that lose their process or their last page.
type Pool struct {
	cfg      Config
	launcher Launcher
	logger   *zap.Logger

	mu     sync.Mutex
	slots  []*slot
	closed bool

	healthStop chan struct{}
	healthDone chan struct{}
}

// NewPool launches cfg.PoolSize instances up front. Creation retries
// with a fixed delay; if any slot cannot be filled the pool is torn
// down and the error is permanent.
func NewPool(ctx context.Context, cfg Config, launcher Launcher, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:      cfg.withDefaults(),
		launcher: launcher,
		logger:   logger,
	}

	for i := 0; i < p.cfg.PoolSize; i++ {
		inst, err := p.createInstance(ctx)
		if err != nil {
			for _, s := range p.slots {
				s.inst.Kill()
			}
			return nil, fmt.Errorf("build pool: %w", err)
		}
		p.slots = append(p.slots, &slot{inst: inst, state: StateAvailable})
	}

	if p.cfg.HealthInterval > 0 {
		p.healthStop = make(chan struct{})
		p.healthDone = make(chan struct{})
		go p.healthLoop(p.healthStop, p.healthDone)
	}

	p.mu.Lock()
	p.updateGaugesLocked()
	p.mu.Unlock()
	p.logger.Info("instance pool ready",
		zap.Int("size", p.cfg.PoolSize),
		zap.Int("usage_limit", p.cfg.UsageLimit))
	return p, nil
}

func (p *Pool) createInstance(ctx context.Context) (Instance, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.CreateRetries; attempt++ {
		inst, err := p.launcher.Launch(ctx)
		if err == nil {
			return inst, nil
		}
		lastErr = err
		p.logger.Warn("instance launch failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.CreateRetries),
			zap.Error(err))
		if attempt < p.cfg.CreateRetries {
			if err := sleepCtx(ctx, p.cfg.CreateRetryDelay); err != nil {
				return nil, fmt.Errorf("launch instance: %w", err)
			}
		}
	}
	return nil, fmt.Errorf("launch instance after %d attempts: %w", p.cfg.CreateRetries, lastErr)
}

// Acquire returns a lease on an available instance. It polls until one
// frees up, the configured acquire timeout passes, or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	start := time.Now()
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		for _, s := range p.slots {
			if s.state != StateAvailable {
				continue
			}
			s.state = StateBusy
			s.usageCount++
			p.updateGaugesLocked()
			lease := &Lease{pool: p, s: s, inst: s.inst}
			p.mu.Unlock()
			metrics.ObserveAcquireWait(time.Since(start))
			return lease, nil
		}
		p.mu.Unlock()

		if err := sleepCtx(ctx, p.cfg.AcquirePollInterval); err != nil {
			return nil, fmt.Errorf("acquire instance: %w", err)
		}
	}
}

// Release returns the lease's instance to the available set, or
// retires and replaces it when its usage ceiling is reached or it was
// marked broken. Safe to call more than once.
func (p *Pool) Release(l *Lease) {
	if l == nil {
		return
	}
	p.mu.Lock()
	if l.released {
		p.mu.Unlock()
		return
	}
	l.released = true
	s := l.s

	retire := p.closed || s.damaged || s.usageCount >= p.cfg.UsageLimit
	if !retire {
		s.state = StateAvailable
		p.updateGaugesLocked()
		p.mu.Unlock()
		return
	}

	reason := "usage_limit"
	if s.damaged {
		reason = "broken"
	}
	s.state = StateRetiring
	p.updateGaugesLocked()
	closing := p.closed
	p.mu.Unlock()

	if closing {
		s.inst.Kill()
		return
	}
	metrics.ObserveRetirement(reason)
	p.logger.Info("instance retiring",
		zap.String("instance", l.inst.ID()),
		zap.String("reason", reason),
		zap.Int("usage_count", s.usageCount))
	go p.replaceSlot(s)
}

// replaceSlot closes the retiring slot's instance and fills the slot
// with a fresh one. On permanent launch failure the slot is dropped,
// shrinking the pool, rather than wedging callers on a dead entry.
func (p *Pool) replaceSlot(s *slot) {
	p.mu.Lock()
	old := s.inst
	s.inst = nil
	p.mu.Unlock()
	if old != nil {
		_ = old.Close(context.Background())
	}

	inst, err := p.createInstance(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if err == nil {
			inst.Kill()
		}
		return
	}
	if err != nil {
		p.removeSlotLocked(s)
		p.updateGaugesLocked()
		p.logger.Error("instance replacement failed, pool shrinks",
			zap.Int("remaining", len(p.slots)),
			zap.Error(err))
		return
	}
	s.inst = inst
	s.usageCount = 0
	s.damaged = false
	s.state = StateAvailable
	p.updateGaugesLocked()
	p.logger.Info("instance replaced", zap.String("instance", inst.ID()))
}

func (p *Pool) removeSlotLocked(target *slot) {
	for i, s := range p.slots {
		if s == target {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			return
		}
	}
}

func (p *Pool) healthLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.CheckHealth(context.Background())
		}
	}
}

// CheckHealth probes every non-retiring instance for a live process
// and at least one reachable page. Unhealthy available instances are
// retired and replaced immediately; unhealthy busy ones are marked so
// their release retires them.
func (p *Pool) CheckHealth(ctx context.Context) {
	p.mu.Lock()
	snapshot := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		if s.state != StateRetiring && s.inst != nil {
			snapshot = append(snapshot, s)
		}
	}
	p.mu.Unlock()

	for _, s := range snapshot {
		p.mu.Lock()
		inst := s.inst
		p.mu.Unlock()
		if inst == nil || p.instanceHealthy(ctx, inst) {
			continue
		}

		p.mu.Lock()
		switch s.state {
		case StateBusy:
			s.damaged = true
			p.mu.Unlock()
			p.logger.Warn("busy instance unhealthy, will retire on release",
				zap.String("instance", inst.ID()))
		case StateAvailable:
			s.state = StateRetiring
			p.updateGaugesLocked()
			p.mu.Unlock()
			metrics.ObserveRetirement("health")
			p.logger.Warn("instance failed health check, replacing",
				zap.String("instance", inst.ID()))
			go p.replaceSlot(s)
		default:
			p.mu.Unlock()
		}
	}
}

func (p *Pool) instanceHealthy(ctx context.Context, inst Instance) bool {
	if !inst.Alive() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pages, err := inst.PageCount(probeCtx)
	return err == nil && pages >= 1
}

// ForceCloseAll kills every instance's process immediately, ignoring
// errors. The pool is unusable afterwards.
func (p *Pool) ForceCloseAll() {
	p.mu.Lock()
	p.closed = true
	insts := make([]Instance, 0, len(p.slots))
	for _, s := range p.slots {
		s.state = StateRetiring
		if s.inst != nil {
			insts = append(insts, s.inst)
		}
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.stopHealth()
	for _, inst := range insts {
		inst.Kill()
	}
}

// Close shuts the pool down gracefully.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	insts := make([]Instance, 0, len(p.slots))
	for _, s := range p.slots {
		s.state = StateRetiring
		if s.inst != nil {
			insts = append(insts, s.inst)
		}
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.stopHealth()
	var firstErr error
	for _, inst := range insts {
		if err := inst.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) stopHealth() {
	p.mu.Lock()
	stop := p.healthStop
	done := p.healthDone
	p.healthStop = nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// PoolStats is a point-in-time occupancy snapshot.
type PoolStats struct {
	Size      int `json:"size"`
	Available int `json:"available"`
	Busy      int `json:"busy"`
	Retiring  int `json:"retiring"`
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PoolStats{Size: len(p.slots)}
	for _, s := range p.slots {
		switch s.state {
		case StateAvailable:
			st.Available++
		case StateBusy:
			st.Busy++
		case StateRetiring:
			st.Retiring++
		}
	}
	return st
}

func (p *Pool) updateGaugesLocked() {
	available, busy := 0, 0
	for _, s := range p.slots {
		switch s.state {
		case StateAvailable:
			available++
		case StateBusy:
			busy++
		}
	}
	metrics.SetPoolInstances(available, busy)
}

// Lease is exclusive use of one pooled instance between Acquire and
// Release.
type Lease struct {
	pool     *Pool
	s        *slot
	inst     Instance
	released bool
}

// Instance returns the leased browser instance.
func (l *Lease) Instance() Instance {
	return l.inst
}

// ID returns the leased instance's identifier.
func (l *Lease) ID() string {
	return l.inst.ID()
}

// UsageCount reports how many times the instance has been acquired.
func (l *Lease) UsageCount() int {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	return l.s.usageCount
}

// MarkBroken flags the instance so Release retires it instead of
// returning it to the available set.
func (l *Lease) MarkBroken() {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	l.s.damaged = true
}

// Release returns the instance to the pool.
func (l *Lease) Release() {
	l.pool.Release(l)
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
