// Package memory records published run summaries for tests.
package memory

import (
	"context"
	"sync"

	"github.com/swatchlab/swatchsync/internal/swatch"
)

// Publisher keeps every published summary in memory.
type Publisher struct {
	mu        sync.RWMutex
	summaries []swatch.RunSummary
	closed    bool
	err       error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Fail makes subsequent Publish calls return err.
func (p *Publisher) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the summary.
func (p *Publisher) Publish(_ context.Context, summary swatch.RunSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.summaries = append(p.summaries, summary)
	return nil
}

// Summaries returns a copy of everything published so far.
func (p *Publisher) Summaries() []swatch.RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]swatch.RunSummary(nil), p.summaries...)
}

// Closed reports whether Close has been called.
func (p *Publisher) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close marks the publisher closed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
