package swatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsFailureThenSuccessMovesID(t *testing.T) {
	t.Parallel()

	s := NewProcessingStats()
	s.MarkFailed("A")
	require.Equal(t, 1, s.Failed)
	require.Equal(t, []string{"A"}, s.FailedIDs)

	s.MarkSucceeded("A")
	require.Equal(t, 0, s.Failed)
	require.Equal(t, 1, s.Updated)
	require.Empty(t, s.FailedIDs)
	require.Equal(t, []string{"A"}, s.SucceededIDs)
}

func TestStatsSuccessIsNotDemotedByLaterFailure(t *testing.T) {
	t.Parallel()

	s := NewProcessingStats()
	s.MarkSucceeded("A")
	s.MarkFailed("A")

	require.Equal(t, 1, s.Updated)
	require.Equal(t, 0, s.Failed)
	require.Empty(t, s.FailedIDs)
}

func TestStatsMarksAreIdempotent(t *testing.T) {
	t.Parallel()

	s := NewProcessingStats()
	s.MarkFailed("A")
	s.MarkFailed("A")
	s.MarkSucceeded("B")
	s.MarkSucceeded("B")

	require.Equal(t, 1, s.Failed)
	require.Equal(t, 1, s.Updated)
	require.Equal(t, []string{"A"}, s.FailedIDs)
	require.Equal(t, []string{"B"}, s.SucceededIDs)
}

func TestStatsSuccessRate(t *testing.T) {
	t.Parallel()

	s := NewProcessingStats()
	require.Zero(t, s.SuccessRate())

	s.Total = 4
	s.MarkSucceeded("A")
	s.MarkSucceeded("B")
	s.MarkSucceeded("C")
	require.InDelta(t, 0.75, s.SuccessRate(), 1e-9)
}

func TestStatsCloneIsIndependent(t *testing.T) {
	t.Parallel()

	s := NewProcessingStats()
	s.MarkFailed("A")
	clone := s.Clone()

	s.MarkSucceeded("A")
	require.Equal(t, []string{"A"}, clone.FailedIDs)
	require.Equal(t, 1, clone.Failed)
}

func TestStatsSerializedFormCarriesArrays(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(NewProcessingStats())
	require.NoError(t, err)
	require.JSONEq(t, `{"total":0,"updated":0,"failed":0,"failedIds":[],"succeededIds":[]}`, string(data))
}

func TestStatsEqualIgnoresOrdering(t *testing.T) {
	t.Parallel()

	a := NewProcessingStats()
	a.MarkFailed("A")
	a.MarkFailed("B")

	b := NewProcessingStats()
	b.MarkFailed("B")
	b.MarkFailed("A")

	require.True(t, a.Equal(b))

	b.MarkFailed("C")
	require.False(t, a.Equal(b))
}

func TestRecordValueHelpers(t *testing.T) {
	t.Parallel()

	rec := Record{ID: "crimson-01", DisplayName: "Crimson"}
	require.Empty(t, rec.Value())
	require.Equal(t, "Crimson", rec.SearchTerm())

	enriched := rec.WithValue("#dc143c")
	require.Equal(t, "#dc143c", enriched.Value())
	require.Empty(t, rec.Value(), "WithValue must not mutate the original")

	bare := Record{ID: "crimson-01"}
	require.Equal(t, "crimson-01", bare.SearchTerm())
}

func TestRecordCloneDoesNotAliasAttributes(t *testing.T) {
	t.Parallel()

	rec := Record{ID: "A", Attributes: map[string]string{ValueAttribute: "#112233"}}
	clone := rec.Clone()
	clone.Attributes[ValueAttribute] = "#445566"

	require.Equal(t, "#112233", rec.Value())
}
