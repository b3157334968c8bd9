// Package cache provides lookup-cache implementations keyed by search
// term. A cache hit skips the browser entirely, so entries store only
// normalized hex values.
package cache

import "context"

// NoOp is a LookupCache that never hits. Used when caching is
// disabled in configuration.
type NoOp struct{}

// NewNoOp returns the disabled cache.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Get always reports a miss.
func (*NoOp) Get(context.Context, string) (string, bool, error) {
	return "", false, nil
}

// Set discards the entry.
func (*NoOp) Set(context.Context, string, string) error {
	return nil
}

// Close implements the LookupCache interface; it performs no action.
func (*NoOp) Close() error {
	return nil
}
