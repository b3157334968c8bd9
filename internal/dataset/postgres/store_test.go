package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/swatchlab/swatchsync/internal/swatch"
)

func TestLoadReadsRecordsInOrder(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "swatches", nil)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"id", "display_name", "attributes"}).
		AddRow("A", "Crimson Red", []byte(`{"hex":"#112233"}`)).
		AddRow("B", "Navy", []byte(nil))
	mock.ExpectQuery("SELECT id, display_name, attributes FROM swatches ORDER BY id").
		WillReturnRows(rows)

	records, digest, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, digest, "no hasher means no digest")
	require.Len(t, records, 2)
	require.Equal(t, "A", records[0].ID)
	require.Equal(t, "#112233", records[0].Value())
	require.Equal(t, "Navy", records[1].DisplayName)
	require.Empty(t, records[1].Value())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveValuesPatchesAttributes(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "swatches", nil)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE swatches").
		WithArgs("A", []byte(`{"hex":"#112233"}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	records := []swatch.Record{
		{ID: "A", Attributes: map[string]string{swatch.ValueAttribute: "#112233"}},
		{ID: "B"}, // unresolved, no write
	}
	require.NoError(t, store.SaveValues(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveValuesFailsWhenRecordMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "swatches", nil)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE swatches").
		WithArgs("ghost", []byte(`{"hex":"#ffffff"}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.SaveValues(context.Background(), []swatch.Record{
		{ID: "ghost", Attributes: map[string]string{swatch.ValueAttribute: "#ffffff"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestRecordRunInsertsSummaryRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "swatches", nil)
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	summary := swatch.RunSummary{
		RunID:         "run-1",
		Kind:          swatch.RunUpdate,
		Mode:          swatch.ModeConcurrent,
		StartedAt:     started,
		FinishedAt:    started.Add(time.Minute),
		Stats:         swatch.NewProcessingStats(),
		DatasetDigest: "abc123",
	}
	statsJSON := []byte(`{"total":0,"updated":0,"failed":0,"failedIds":[],"succeededIds":[]}`)

	mock.ExpectExec("INSERT INTO swatch_runs").
		WithArgs("run-1", "update", "concurrent",
			summary.StartedAt, summary.FinishedAt, statsJSON, "abc123").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreWithPoolRejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStoreWithPool(mock, "swatches; DROP TABLE", nil)
	require.Error(t, err)
}

func TestLoadWrapsQueryErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "swatches", nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, display_name, attributes FROM swatches").
		WillReturnError(errors.New("connection refused"))

	_, _, err = store.Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "query dataset table")
}
