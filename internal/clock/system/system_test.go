package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockReturnsUTC(t *testing.T) {
	t.Parallel()

	// Checkpoint lastUpdated stamps and run summaries are compared
	// across machines, so the clock always reports UTC.
	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.False(t, got.Before(before))
	require.False(t, got.After(after))
}

func TestClockIsMonotonicallyNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}
