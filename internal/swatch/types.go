// Package swatch defines the core types and interfaces shared across the
// lookup pipeline: records, processing stats, checkpoints, and run summaries.
package swatch

import (
	"time"
)

// ValueAttribute is the attribute key that holds the looked-up color code.
const ValueAttribute = "hex"

// Record is one unit of enrichable data keyed by a stable id.
type Record struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"displayName,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the record so callers can mutate attributes
// without aliasing the original map.
func (r Record) Clone() Record {
	out := Record{
		ID:          r.ID,
		DisplayName: r.DisplayName,
	}
	if r.Attributes != nil {
		out.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Value returns the enriched color code, or "" when the record is unresolved.
func (r Record) Value() string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[ValueAttribute]
}

// WithValue returns a copy of the record carrying the resolved value.
func (r Record) WithValue(value string) Record {
	out := r.Clone()
	if out.Attributes == nil {
		out.Attributes = make(map[string]string, 1)
	}
	out.Attributes[ValueAttribute] = value
	return out
}

// SearchTerm is the string submitted to the lookup site for this record.
// DisplayName wins when present since ids are often internal SKUs.
func (r Record) SearchTerm() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.ID
}

// Checkpoint is the durable, resumable snapshot of a run.
// Cursor indexes into the original input ordering; Records accumulates every
// processed result to date, deduplicated by id with first-seen order kept.
type Checkpoint struct {
	Cursor         int              `json:"cursor"`
	Records        []Record         `json:"records"`
	Stats          *ProcessingStats `json:"stats"`
	LastUpdated    time.Time        `json:"lastUpdated"`
	TotalProcessed int              `json:"totalProcessed"`
	DatasetDigest  string           `json:"datasetDigest,omitempty"`
}

// NewCheckpoint returns an empty checkpoint ready for a first run.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{
		Records: []Record{},
		Stats:   NewProcessingStats(),
	}
}

// RunMode selects how the orchestrator schedules records.
type RunMode string

// Supported orchestrator modes.
const (
	ModeSequential RunMode = "sequential"
	ModeConcurrent RunMode = "concurrent"
)

// RunKind distinguishes a forward pass from a retry-only pass.
type RunKind string

// Supported run kinds.
const (
	RunUpdate RunKind = "update"
	RunRetry  RunKind = "retry"
)

// RunSummary captures the outcome of one update or retry run. It is what the
// completion publisher sends and the report generator renders.
type RunSummary struct {
	RunID         string           `json:"runId"`
	Kind          RunKind          `json:"kind"`
	Mode          RunMode          `json:"mode"`
	StartedAt     time.Time        `json:"startedAt"`
	FinishedAt    time.Time        `json:"finishedAt"`
	Stats         *ProcessingStats `json:"stats"`
	DatasetDigest string           `json:"datasetDigest,omitempty"`
}

// Duration returns the wall-clock length of the run.
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
