// Package processor orchestrates one record's full lookup: acquire a
// page from the pool, drive the site adapter, validate the extracted
// value, and release the page. A record that fails every attempt comes
// back unmodified with a failure signal; it is never dropped.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/browser"
	"github.com/swatchlab/swatchsync/internal/metrics"
	"github.com/swatchlab/swatchsync/internal/recovery"
	"github.com/swatchlab/swatchsync/internal/sites"
	"github.com/swatchlab/swatchsync/internal/swatch"
	"github.com/swatchlab/swatchsync/pkg/hexcolor"
)

// PageLease is exclusive use of one browser page until Release.
type PageLease interface {
	Page() sites.Page
	// MarkBroken flags the underlying instance so the pool retires it
	// instead of reusing it.
	MarkBroken()
	Release()
}

// PageSource hands out leased pages. *PoolSource is the production
// implementation; tests substitute fakes.
type PageSource interface {
	AcquirePage(ctx context.Context) (PageLease, error)
}

// Config tunes per-record retry behavior.
type Config struct {
	// MaxRetries is the default full-lookup attempt count when the
	// caller passes zero.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts and between
	// per-step retries. No jitter.
	RetryDelay time.Duration
	// StepRetries bounds the retries of each individual page
	// interaction inside one attempt.
	StepRetries int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.StepRetries <= 0 {
		c.StepRetries = 2
	}
	return c
}

// Processor performs lookups for single records.
type Processor struct {
	pages   PageSource
	adapter sites.Adapter
	cache   swatch.LookupCache
	manager *recovery.Manager
	cfg     Config
	logger  *zap.Logger
}

// New builds a Processor. cache may be nil when no lookup cache is
// configured.
func New(pages PageSource, adapter sites.Adapter, cache swatch.LookupCache, manager *recovery.Manager, cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		pages:   pages,
		adapter: adapter,
		cache:   cache,
		manager: manager,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Process looks up rec's value, retrying the whole acquire-drive-
// validate cycle up to maxRetries times (cfg.MaxRetries when zero).
// On success the returned record carries the normalized value; on
// exhaustion the original record is returned together with the last
// classified failure.
func (p *Processor) Process(ctx context.Context, rec swatch.Record, maxRetries int) (swatch.Record, error) {
	if rec.ID == "" {
		return rec, recovery.WithKind(errors.New("record has no id"), recovery.KindParameter)
	}
	if maxRetries <= 0 {
		maxRetries = p.cfg.MaxRetries
	}
	start := time.Now()
	metrics.IncActiveLookups()
	defer metrics.DecActiveLookups()

	term := rec.SearchTerm()
	if value, ok := p.cachedValue(ctx, term); ok {
		metrics.ObserveCacheHit()
		metrics.ObserveRecord("cached", time.Since(start))
		p.logger.Debug("lookup served from cache",
			zap.String("record", rec.ID),
			zap.String("value", value))
		return rec.WithValue(value), nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		value, err := p.attempt(ctx, rec)
		if err == nil {
			p.manager.Reset(rec.ID)
			p.storeInCache(ctx, term, value)
			metrics.ObserveRecord("updated", time.Since(start))
			p.logger.Info("record resolved",
				zap.String("record", rec.ID),
				zap.String("value", value),
				zap.Int("attempt", attempt))
			return rec.WithValue(value), nil
		}
		lastErr = err

		decision := p.manager.Decide(rec.ID, err)
		lastErr = decision.Err
		if !decision.Err.Recoverable || decision.Action == recovery.ActionTerminate {
			metrics.ObserveRecord("failed", time.Since(start))
			return rec, decision.Err
		}
		if decision.Action == recovery.ActionSkip || decision.Action == recovery.ActionRestoreSafeState {
			break
		}
		if attempt < maxRetries {
			p.manager.Pause(ctx, decision.Delay)
		}
		if ctx.Err() != nil {
			lastErr = recovery.Classify(fmt.Errorf("lookup interrupted: %w", ctx.Err()))
			break
		}
	}

	metrics.ObserveRecord("failed", time.Since(start))
	p.logger.Warn("record failed all attempts",
		zap.String("record", rec.ID),
		zap.Int("max_retries", maxRetries),
		zap.Error(lastErr))
	return rec, lastErr
}

// attempt runs one full lookup cycle on a freshly acquired page. The
// page is released unconditionally, success or failure.
func (p *Processor) attempt(ctx context.Context, rec swatch.Record) (string, error) {
	lease, err := p.pages.AcquirePage(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire page: %w", err)
	}
	defer lease.Release()

	page := lease.Page()
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"navigate", func(ctx context.Context) error { return p.adapter.Navigate(ctx, page) }},
		{"search", func(ctx context.Context) error { return p.adapter.Search(ctx, page, rec.SearchTerm()) }},
		{"wait_result", func(ctx context.Context) error { return p.adapter.WaitForResult(ctx, page) }},
	}
	for _, step := range steps {
		if err := browser.WithRetry(ctx, step.fn, p.cfg.StepRetries, p.cfg.RetryDelay); err != nil {
			p.noteCrash(lease, err)
			return "", fmt.Errorf("%s: %w", step.name, err)
		}
	}

	var raw string
	extract := func(ctx context.Context) error {
		value, err := p.adapter.ExtractValue(ctx, page)
		if err != nil {
			return err
		}
		raw = value
		return nil
	}
	if err := browser.WithRetry(ctx, extract, p.cfg.StepRetries, p.cfg.RetryDelay); err != nil {
		p.noteCrash(lease, err)
		if errors.Is(err, sites.ErrNoValue) {
			return "", recovery.WithKind(fmt.Errorf("extract: %w", err), recovery.KindElementNotFound)
		}
		return "", fmt.Errorf("extract: %w", err)
	}

	value, err := hexcolor.Normalize(raw)
	if err != nil {
		// A malformed value is a failure, never partially applied.
		return "", recovery.WithKind(fmt.Errorf("validate %q: %w", raw, err), recovery.KindDataValidation)
	}
	return value, nil
}

// noteCrash marks the lease broken when the failure points at a dead
// browser or page, so Release retires the instance.
func (p *Processor) noteCrash(lease PageLease, err error) {
	switch recovery.KindOf(err) {
	case recovery.KindBrowserCrash, recovery.KindPageCrash:
		lease.MarkBroken()
	}
}

func (p *Processor) cachedValue(ctx context.Context, term string) (string, bool) {
	if p.cache == nil {
		return "", false
	}
	value, ok, err := p.cache.Get(ctx, term)
	if err != nil {
		p.logger.Warn("cache read failed, treating as miss", zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	normalized, err := hexcolor.Normalize(value)
	if err != nil {
		p.logger.Warn("cache held malformed value, treating as miss",
			zap.String("term", term),
			zap.String("value", value))
		return "", false
	}
	return normalized, true
}

func (p *Processor) storeInCache(ctx context.Context, term, value string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, term, value); err != nil {
		p.logger.Warn("cache write failed", zap.String("term", term), zap.Error(err))
	}
}
