package browser

import (
	"context"
	"time"

	"github.com/swatchlab/swatchsync/internal/recovery"
)

// WithRetry runs op up to maxRetries attempts, waiting the full fixed
// delay between attempts. No jitter is applied. When every attempt
// fails, the last failure is returned wrapped with its classification;
// it is never swallowed.
func WithRetry(ctx context.Context, op func(context.Context) error, maxRetries int, retryDelay time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if err := sleepCtx(ctx, retryDelay); err != nil {
			break
		}
	}
	return recovery.Classify(lastErr)
}
