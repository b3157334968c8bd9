// Package system is the wall-clock implementation of swatch.Clock.
// Checkpoint stamps and run summaries always carry UTC so they compare
// cleanly across machines.
package system

import "time"

// Clock reads the real time in UTC.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
