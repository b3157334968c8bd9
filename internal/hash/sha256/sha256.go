// Package sha256 adapts crypto/sha256 to the swatch.Hasher interface.
// The orchestration layer digests the raw dataset bytes with it so a
// checkpoint can tell when its cursor no longer matches the input.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests data and returns the lowercase hex form.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
