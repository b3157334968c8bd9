package swatch

import (
	"encoding/json"
	"sort"
)

// ProcessingStats tracks per-run counts and the id sets that drive retry
// passes. FailedIDs and SucceededIDs are disjoint: marking an id moves it
// between the sets in one step so no observer sees it in both. Mutation is
// single-owner (the orchestrator); snapshots are handed to concurrent readers.
type ProcessingStats struct {
	Total        int      `json:"total"`
	Updated      int      `json:"updated"`
	Failed       int      `json:"failed"`
	Skipped      int      `json:"skipped,omitempty"`
	FailedIDs    []string `json:"failedIds"`
	SucceededIDs []string `json:"succeededIds"`
}

// NewProcessingStats returns zeroed stats with allocated id slices so the
// serialized form always carries arrays rather than nulls.
func NewProcessingStats() *ProcessingStats {
	return &ProcessingStats{
		FailedIDs:    []string{},
		SucceededIDs: []string{},
	}
}

// MarkSucceeded records a success for id, removing any earlier failure mark.
func (s *ProcessingStats) MarkSucceeded(id string) {
	if removeID(&s.FailedIDs, id) {
		s.Failed--
	}
	if !containsID(s.SucceededIDs, id) {
		s.SucceededIDs = append(s.SucceededIDs, id)
		s.Updated++
	}
}

// MarkFailed records a failure for id unless it already succeeded; a success
// is never demoted by a later failed attempt in the same run.
func (s *ProcessingStats) MarkFailed(id string) {
	if containsID(s.SucceededIDs, id) {
		return
	}
	if !containsID(s.FailedIDs, id) {
		s.FailedIDs = append(s.FailedIDs, id)
		s.Failed++
	}
}

// MarkSkipped counts a record suppressed by the skip list.
func (s *ProcessingStats) MarkSkipped(string) {
	s.Skipped++
}

// HasFailures reports whether a retry pass has work to do.
func (s *ProcessingStats) HasFailures() bool {
	return len(s.FailedIDs) > 0
}

// SuccessRate returns updated/total in [0,1]; zero totals yield 0.
func (s *ProcessingStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Updated) / float64(s.Total)
}

// Clone returns an independent copy safe to hand to other goroutines.
func (s *ProcessingStats) Clone() *ProcessingStats {
	if s == nil {
		return NewProcessingStats()
	}
	out := &ProcessingStats{
		Total:        s.Total,
		Updated:      s.Updated,
		Failed:       s.Failed,
		Skipped:      s.Skipped,
		FailedIDs:    make([]string, len(s.FailedIDs)),
		SucceededIDs: make([]string, len(s.SucceededIDs)),
	}
	copy(out.FailedIDs, s.FailedIDs)
	copy(out.SucceededIDs, s.SucceededIDs)
	return out
}

// Normalize sorts the id sets so serialization is deterministic.
func (s *ProcessingStats) Normalize() {
	sort.Strings(s.FailedIDs)
	sort.Strings(s.SucceededIDs)
}

// Equal compares two stats structurally, ignoring id ordering.
func (s *ProcessingStats) Equal(other *ProcessingStats) bool {
	if s == nil || other == nil {
		return s == other
	}
	a := s.Clone()
	b := other.Clone()
	a.Normalize()
	b.Normalize()
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids *[]string, id string) bool {
	for i, v := range *ids {
		if v == id {
			*ids = append((*ids)[:i], (*ids)[i+1:]...)
			return true
		}
	}
	return false
}
