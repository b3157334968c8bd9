package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyNormalizesTerms(t *testing.T) {
	t.Parallel()
	require.Equal(t, "swatchsync:lookup:crimson red", key("  Crimson Red "))
	require.Equal(t, key("NAVY"), key("navy"))
}
