package swatch

import (
	"context"
	"time"
)

// DatasetProvider yields the input records for a run.
type DatasetProvider interface {
	// Load returns every record in input order plus a digest of the source,
	// so checkpoints can warn when the dataset changed between resumes.
	Load(ctx context.Context) ([]Record, string, error)
	Close() error
}

// DatasetWriter persists resolved values back into the source dataset.
// Providers that cannot write implement DatasetProvider only.
type DatasetWriter interface {
	SaveValues(ctx context.Context, records []Record) error
}

// RunHistoryStore records run summaries for later inspection.
type RunHistoryStore interface {
	RecordRun(ctx context.Context, summary RunSummary) error
}

// LookupCache short-circuits browser work for terms resolved previously.
type LookupCache interface {
	Get(ctx context.Context, term string) (value string, ok bool, err error)
	Set(ctx context.Context, term string, value string) error
	Close() error
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, summary RunSummary) error
	Close() error
}

// Hasher computes digests for dataset integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
