package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/browser"
	"github.com/swatchlab/swatchsync/internal/sites"
)

// PoolSource adapts the browser instance pool to the PageSource
// interface: each acquisition leases an instance and opens a fresh tab
// on it.
type PoolSource struct {
	pool   *browser.Pool
	cfg    browser.Config
	logger *zap.Logger
}

// NewPoolSource wraps pool.
func NewPoolSource(pool *browser.Pool, cfg browser.Config, logger *zap.Logger) *PoolSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolSource{pool: pool, cfg: cfg, logger: logger}
}

// AcquirePage leases an instance and opens a tab on it. A failure to
// open the tab retires the instance and surfaces the error.
func (s *PoolSource) AcquirePage(ctx context.Context) (PageLease, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	page, err := browser.OpenPage(lease, s.cfg, s.logger)
	if err != nil {
		lease.MarkBroken()
		lease.Release()
		return nil, fmt.Errorf("open tab on %s: %w", lease.ID(), err)
	}
	return &poolLease{lease: lease, page: page}, nil
}

type poolLease struct {
	lease *browser.Lease
	page  *browser.Page
}

func (l *poolLease) Page() sites.Page {
	return l.page
}

func (l *poolLease) MarkBroken() {
	l.lease.MarkBroken()
}

func (l *poolLease) Release() {
	l.page.Close()
	l.lease.Release()
}
