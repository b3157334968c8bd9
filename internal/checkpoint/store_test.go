package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/metrics"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	metrics.Init()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	return NewStore(path, fixedClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func rec(id, value string) swatch.Record {
	r := swatch.Record{ID: id, DisplayName: "swatch " + id, Attributes: map[string]string{}}
	if value != "" {
		r = r.WithValue(value)
	}
	return r
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	cp, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, cp.Cursor)
	require.Empty(t, cp.Records)
	require.NotNil(t, cp.Stats)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	stats := swatch.NewProcessingStats()
	stats.Total = 2
	stats.MarkSucceeded("A")
	stats.MarkFailed("B")

	records := []swatch.Record{rec("A", "#112233"), rec("B", "")}
	require.NoError(t, store.Save(ctx, 2, records, stats, "digest-1"))

	cp, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, cp.Cursor)
	require.Equal(t, 2, cp.TotalProcessed)
	require.Equal(t, "digest-1", cp.DatasetDigest)
	require.Len(t, cp.Records, 2)
	require.Equal(t, "#112233", cp.Records[0].Value())
	require.Equal(t, []string{"B"}, cp.Stats.FailedIDs)
	require.False(t, cp.LastUpdated.IsZero())
}

func TestSaveDeduplicatesKeepingFirstPosition(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	records := []swatch.Record{
		rec("A", ""),
		rec("B", "#445566"),
		rec("A", "#112233"),
	}
	require.NoError(t, store.Save(ctx, 3, records, swatch.NewProcessingStats(), ""))

	cp, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cp.Records, 2)
	require.Equal(t, "A", cp.Records[0].ID)
	require.Equal(t, "#112233", cp.Records[0].Value())
	require.Equal(t, "B", cp.Records[1].ID)
}

func TestLoadUpgradesLegacyStringRecords(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	legacyRecord, err := json.Marshal(rec("A", "#112233"))
	require.NoError(t, err)
	doc := map[string]any{
		"cursor":         1,
		"records":        []any{string(legacyRecord), rec("B", "")},
		"stats":          swatch.NewProcessingStats(),
		"lastUpdated":    "2026-01-02T03:04:05Z",
		"totalProcessed": 2,
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0o600))

	cp, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cp.Records, 2)
	require.Equal(t, "A", cp.Records[0].ID)
	require.Equal(t, "#112233", cp.Records[0].Value())
	require.Equal(t, "B", cp.Records[1].ID)
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))

	_, err := store.Load(context.Background())
	require.Error(t, err)
}

func TestSaveVerifyMismatchIsFatal(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	// Storage hands back a structurally valid document that is not
	// what was written: one record short.
	stale, err := json.Marshal(swatch.NewCheckpoint())
	require.NoError(t, err)
	store.reread = func(string) ([]byte, error) { return stale, nil }

	err = store.Save(ctx, 1, []swatch.Record{rec("A", "#112233")}, swatch.NewProcessingStats(), "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrVerifyMismatch)
}

func TestSaveVerifyRereadFailureIsFatal(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	store.reread = func(string) ([]byte, error) { return nil, os.ErrPermission }

	err := store.Save(context.Background(), 0, nil, swatch.NewProcessingStats(), "")
	require.ErrorIs(t, err, ErrVerifyMismatch)
}

func TestSaveVerifyStatsDriftIsFatal(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	stats := swatch.NewProcessingStats()
	stats.MarkFailed("A")

	// Reread yields the right record count but different stats.
	store.reread = func(path string) ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		drifted := swatch.NewCheckpoint()
		require.NoError(t, json.Unmarshal(data, drifted))
		drifted.Stats = swatch.NewProcessingStats()
		return json.Marshal(drifted)
	}

	err := store.Save(ctx, 1, []swatch.Record{rec("A", "")}, stats, "")
	require.ErrorIs(t, err, ErrVerifyMismatch)
}

func TestDedupeIdempotent(t *testing.T) {
	t.Parallel()
	records := []swatch.Record{rec("A", "#112233"), rec("B", ""), rec("A", "")}
	once := Dedupe(records)
	twice := Dedupe(once)
	require.Equal(t, once, twice)
}

func TestMergeIdempotent(t *testing.T) {
	t.Parallel()
	existing := []swatch.Record{rec("A", ""), rec("B", "#000000")}
	delta := []swatch.Record{rec("A", "#112233"), rec("C", "#445566")}

	once := Merge(existing, delta)
	twice := Merge(once, delta)
	require.Equal(t, once, twice)

	require.Len(t, once, 3)
	require.Equal(t, "A", once[0].ID)
	require.Equal(t, "#112233", once[0].Value())
	require.Equal(t, "B", once[1].ID)
	require.Equal(t, "C", once[2].ID)
}

func TestMergeLaterSuccessOverwritesPlaceholderInPlace(t *testing.T) {
	t.Parallel()
	existing := []swatch.Record{rec("A", "#112233"), rec("B", "")}
	updated := Merge(existing, []swatch.Record{rec("B", "#445566")})
	require.Len(t, updated, 2)
	require.Equal(t, "B", updated[1].ID)
	require.Equal(t, "#445566", updated[1].Value())
}

func TestMergeEmptyValueDoesNotErasePriorValue(t *testing.T) {
	t.Parallel()
	existing := []swatch.Record{rec("A", "#112233")}
	merged := Merge(existing, []swatch.Record{rec("A", "")})
	require.Equal(t, "#112233", merged[0].Value())
}
