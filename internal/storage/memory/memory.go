// Package memory stores artifacts in-memory for tests.
package memory

import (
	"context"
	"sync"
)

// Provider keeps saved artifacts in a map.
type Provider struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory artifact store.
func New() *Provider {
	return &Provider{data: make(map[string][]byte)}
}

// Save records the artifact under objectName.
func (p *Provider) Save(_ context.Context, objectName string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[objectName] = append([]byte(nil), data...)
	return nil
}

// Get returns a stored artifact.
func (p *Provider) Get(objectName string) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.data[objectName]
	return data, ok
}

// Len reports how many artifacts have been saved.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.data)
}

// Close implements the Provider interface; it performs no action.
func (p *Provider) Close() error {
	return nil
}
