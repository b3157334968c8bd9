// Package ratelimit bounds navigation throughput per target host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

// Limiter enforces a per-host QPS ceiling on navigations. A nil
// Limiter never waits.
type Limiter struct {
	qps      float64
	limiters sync.Map
}

// New builds a Limiter, or nil when qps is not positive.
func New(qps float64) *Limiter {
	if qps <= 0 {
		return nil
	}
	return &Limiter{qps: qps}
}

// Wait blocks until the host of rawURL has budget for one navigation.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse lookup url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := l.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(l.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}
