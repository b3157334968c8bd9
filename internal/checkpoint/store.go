// Package checkpoint persists the durable, resumable run state. Saves
// are atomic (temp file plus rename) and verified by re-reading the
// document; a verification mismatch is fatal rather than silently
// keeping corrupt state. Loads tolerate the legacy encoding where
// records were stored as serialized strings.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/metrics"
	"github.com/swatchlab/swatchsync/internal/recovery"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

// ErrVerifyMismatch reports that a save's re-read did not match what
// was written. The run must terminate; the on-disk state is suspect.
var ErrVerifyMismatch = errors.New("checkpoint verification mismatch")

// Store reads and writes the checkpoint document at a fixed path.
// All writes come from one goroutine (the orchestrator), so the Store
// itself carries no locking.
type Store struct {
	path   string
	clock  swatch.Clock
	logger *zap.Logger

	// reread fetches the file back for post-save verification. Tests
	// substitute it to simulate storage returning different bytes.
	reread func(path string) ([]byte, error)
}

// NewStore creates a Store for path. The parent directory is created
// on the first save.
func NewStore(path string, clock swatch.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, clock: clock, logger: logger, reread: os.ReadFile}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint, upgrading legacy string-encoded records
// to the structured shape. A missing file yields an empty checkpoint;
// an unreadable or unparsable file is an error.
func (s *Store) Load(_ context.Context) (*swatch.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no checkpoint found, starting fresh", zap.String("path", s.path))
			return swatch.NewCheckpoint(), nil
		}
		return nil, recovery.Classify(fmt.Errorf("read checkpoint: %w", err))
	}

	cp, err := decode(data)
	if err != nil {
		return nil, recovery.WithKind(fmt.Errorf("parse checkpoint %s: %w", s.path, err), recovery.KindDataParse)
	}
	s.logger.Info("checkpoint loaded",
		zap.String("path", s.path),
		zap.Int("cursor", cp.Cursor),
		zap.Int("records", len(cp.Records)),
		zap.Int("failed", len(cp.Stats.FailedIDs)))
	return cp, nil
}

// Save deduplicates records, serializes deterministically, writes
// atomically, then re-reads and structurally verifies the document.
func (s *Store) Save(ctx context.Context, cursor int, records []swatch.Record, stats *swatch.ProcessingStats, digest string) error {
	if err := s.save(ctx, cursor, records, stats, digest); err != nil {
		metrics.ObserveCheckpointSave("error")
		return err
	}
	metrics.ObserveCheckpointSave("ok")
	return nil
}

func (s *Store) save(_ context.Context, cursor int, records []swatch.Record, stats *swatch.ProcessingStats, digest string) error {
	if stats == nil {
		stats = swatch.NewProcessingStats()
	}
	deduped := Dedupe(records)
	normalized := stats.Clone()
	normalized.Normalize()

	cp := &swatch.Checkpoint{
		Cursor:         cursor,
		Records:        deduped,
		Stats:          normalized,
		LastUpdated:    s.clock.Now(),
		TotalProcessed: len(deduped),
		DatasetDigest:  digest,
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.writeAtomic(data); err != nil {
		return recovery.Classify(err)
	}

	return s.verify(cp)
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// verify re-reads the file and checks record count and stats against
// what was just written.
func (s *Store) verify(written *swatch.Checkpoint) error {
	data, err := s.reread(s.path)
	if err != nil {
		return fmt.Errorf("%w: reread failed: %v", ErrVerifyMismatch, err)
	}
	reread, err := decode(data)
	if err != nil {
		return fmt.Errorf("%w: reparse failed: %v", ErrVerifyMismatch, err)
	}
	if len(reread.Records) != len(written.Records) {
		return fmt.Errorf("%w: wrote %d records, reread %d",
			ErrVerifyMismatch, len(written.Records), len(reread.Records))
	}
	if reread.TotalProcessed != written.TotalProcessed {
		return fmt.Errorf("%w: totalProcessed %d vs %d",
			ErrVerifyMismatch, written.TotalProcessed, reread.TotalProcessed)
	}
	if !reread.Stats.Equal(written.Stats) {
		return fmt.Errorf("%w: stats differ after reread", ErrVerifyMismatch)
	}
	return nil
}

// rawCheckpoint defers record decoding so legacy entries can be
// detected before they reach the canonical shape.
type rawCheckpoint struct {
	Cursor         int                     `json:"cursor"`
	Records        []json.RawMessage       `json:"records"`
	Stats          *swatch.ProcessingStats `json:"stats"`
	LastUpdated    json.RawMessage         `json:"lastUpdated"`
	TotalProcessed int                     `json:"totalProcessed"`
	DatasetDigest  string                  `json:"datasetDigest"`
}

func decode(data []byte) (*swatch.Checkpoint, error) {
	var raw rawCheckpoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	cp := swatch.NewCheckpoint()
	cp.Cursor = raw.Cursor
	cp.TotalProcessed = raw.TotalProcessed
	cp.DatasetDigest = raw.DatasetDigest
	if raw.Stats != nil {
		cp.Stats = raw.Stats
		if cp.Stats.FailedIDs == nil {
			cp.Stats.FailedIDs = []string{}
		}
		if cp.Stats.SucceededIDs == nil {
			cp.Stats.SucceededIDs = []string{}
		}
	}
	if len(raw.LastUpdated) > 0 {
		if err := json.Unmarshal(raw.LastUpdated, &cp.LastUpdated); err != nil {
			return nil, fmt.Errorf("parse lastUpdated: %w", err)
		}
	}

	for i, entry := range raw.Records {
		rec, err := decodeRecord(entry)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		cp.Records = append(cp.Records, rec)
	}
	return cp, nil
}

// decodeRecord accepts both the structured shape and the legacy shape
// where the whole record was serialized into a JSON string. The legacy
// shape never propagates past this loader.
func decodeRecord(entry json.RawMessage) (swatch.Record, error) {
	var rec swatch.Record
	trimmed := trimLeadingSpace(entry)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(entry, &encoded); err != nil {
			return rec, fmt.Errorf("legacy record string: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
			return rec, fmt.Errorf("legacy record payload: %w", err)
		}
	} else if err := json.Unmarshal(entry, &rec); err != nil {
		return rec, err
	}
	if rec.ID == "" {
		return rec, errors.New("record has no id")
	}
	return rec, nil
}

func trimLeadingSpace(data []byte) []byte {
	for i, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
		default:
			return data[i:]
		}
	}
	return nil
}
