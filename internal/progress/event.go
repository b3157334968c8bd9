// Package progress defines the event stream emitted while a lookup
// run executes, plus the non-blocking hub that batches events out to
// pluggable sinks (logs, Prometheus, a terminal bar, run history).
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/swatchlab/swatchsync/internal/swatch"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageRecordDone Stage = "RECORD_DONE"
	StageCheckpoint Stage = "CHECKPOINT_SAVED"
)

// Outcome is the per-record result attached to RECORD_DONE events.
type Outcome string

// Supported record outcomes.
const (
	OutcomeUpdated Outcome = "updated"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Event captures a single milestone of a lookup run.
type Event struct {
	// RunID identifies the run this event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Kind distinguishes update runs from retry passes.
	Kind swatch.RunKind
	// Mode is the scheduling mode of the run.
	Mode swatch.RunMode
	// RecordID scopes RECORD_DONE events to one record.
	RecordID string
	// Outcome is set for RECORD_DONE events.
	Outcome Outcome
	// Total is the number of records the run will touch; set on
	// RUN_START and carried on RECORD_DONE for bar rendering.
	Total int
	// Done counts records finished so far in this run.
	Done int
	// Dur captures latency for record completions and whole runs.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
	// Summary is attached to RUN_DONE and RUN_ERROR events so the
	// run-history sink can persist it.
	Summary *swatch.RunSummary
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageCheckpoint:
	case StageRecordDone:
		if e.RecordID == "" {
			return errors.New("record completion requires a record id")
		}
		if e.Outcome == "" {
			return errors.New("record completion requires an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
