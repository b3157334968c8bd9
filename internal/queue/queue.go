// Package queue publishes run-completion events so downstream systems
// can react when a lookup run finishes. The abstraction keeps the
// runner independent of a specific broker.
package queue

import (
	"context"

	"github.com/swatchlab/swatchsync/internal/swatch"
)

// NoOpPublisher discards run summaries. Used when publishing is
// disabled in configuration.
type NoOpPublisher struct{}

// Publish for NoOpPublisher does nothing and returns nil.
func (*NoOpPublisher) Publish(context.Context, swatch.RunSummary) error { return nil }

// Close for NoOpPublisher does nothing and returns nil.
func (*NoOpPublisher) Close() error { return nil }
