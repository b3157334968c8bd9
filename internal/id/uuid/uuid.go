// Package uuid generates run identifiers. UUID7 is used so run ids
// sort chronologically wherever they end up as object names.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements swatch.IDGenerator with UUID v7.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRawID returns a fresh UUID7 value.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}
