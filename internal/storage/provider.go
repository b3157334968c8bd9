// Package storage defines the artifact store used for run reports and
// checkpoint mirrors. The abstraction keeps the runner independent of
// a specific backend (Google Cloud Storage or the local filesystem).
package storage

import (
	"context"
)

// Provider saves run artifacts under a backend-specific namespace.
type Provider interface {
	// Save uploads data to the given object path/key.
	Save(ctx context.Context, objectName string, data []byte) error
	Close() error
}

// NoOpProvider discards every artifact. Used when artifact storage is
// disabled in configuration.
type NoOpProvider struct{}

// Save for NoOpProvider does nothing and always returns nil.
func (*NoOpProvider) Save(context.Context, string, []byte) error {
	return nil
}

// Close implements the Provider interface; it performs no action.
func (*NoOpProvider) Close() error {
	return nil
}
