// Package postgres serves the dataset and the run-history log from a
// Postgres database.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swatchlab/swatchsync/internal/recovery"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// runsTable records one row per completed run.
const runsTable = "swatch_runs"

// Config controls the Postgres connection pool behind the store.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store reads records from and writes resolved values to a Postgres
// table. It implements swatch.DatasetProvider, swatch.DatasetWriter,
// and swatch.RunHistoryStore.
type Store struct {
	pool   pgxQuerier
	table  string
	hasher swatch.Hasher
}

// NewStore connects a pool using cfg and wraps it in a Store.
func NewStore(ctx context.Context, cfg Config, hasher swatch.Hasher) (*Store, error) {
	if cfg.DSN == "" {
		return nil, recovery.WithKind(fmt.Errorf("dataset.dsn is required"), recovery.KindConfig)
	}
	table := cfg.Table
	if table == "" {
		table = "swatches"
	}
	if !validTableName.MatchString(table) {
		return nil, recovery.WithKind(fmt.Errorf("invalid table name %q", table), recovery.KindConfig)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, recovery.WithKind(fmt.Errorf("parse postgres dsn: %w", err), recovery.KindConfig)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table, hasher: hasher}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily
// for testing).
func NewStoreWithPool(pool pgxQuerier, table string, hasher swatch.Hasher) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "swatches"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, hasher: hasher}, nil
}

// Load reads every record ordered by id so runs are deterministic, and
// digests the serialized rows for checkpoint integrity checks.
func (s *Store) Load(ctx context.Context) ([]swatch.Record, string, error) {
	query := fmt.Sprintf(
		`SELECT id, display_name, attributes FROM %s ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, "", fmt.Errorf("query dataset table %s: %w", s.table, err)
	}
	defer rows.Close()

	var records []swatch.Record
	for rows.Next() {
		var (
			rec      swatch.Record
			attrJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.DisplayName, &attrJSON); err != nil {
			return nil, "", fmt.Errorf("scan dataset row: %w", err)
		}
		if len(attrJSON) > 0 {
			if err := json.Unmarshal(attrJSON, &rec.Attributes); err != nil {
				return nil, "", recovery.WithKind(
					fmt.Errorf("parse attributes for %s: %w", rec.ID, err), recovery.KindDataParse)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate dataset rows: %w", err)
	}

	digest := ""
	if s.hasher != nil {
		data, err := json.Marshal(records)
		if err != nil {
			return nil, "", fmt.Errorf("marshal dataset for digest: %w", err)
		}
		digest, err = s.hasher.Hash(data)
		if err != nil {
			return nil, "", fmt.Errorf("digest dataset: %w", err)
		}
	}
	return records, digest, nil
}

// SaveValues upserts resolved attributes for each record carrying a
// value. Records without a resolved value are left untouched.
func (s *Store) SaveValues(ctx context.Context, records []swatch.Record) error {
	query := fmt.Sprintf(`
UPDATE %s
SET attributes = COALESCE(attributes, '{}'::jsonb) || $2::jsonb,
    updated_at = NOW()
WHERE id = $1`, s.table)
	for _, rec := range records {
		if rec.ID == "" || rec.Value() == "" {
			continue
		}
		patch, err := json.Marshal(map[string]string{swatch.ValueAttribute: rec.Value()})
		if err != nil {
			return fmt.Errorf("marshal attributes for %s: %w", rec.ID, err)
		}
		tag, err := s.pool.Exec(ctx, query, rec.ID, patch)
		if err != nil {
			return fmt.Errorf("update record %s: %w", rec.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("record %s not found in table %s", rec.ID, s.table)
		}
	}
	return nil
}

// RecordRun appends a run summary row.
func (s *Store) RecordRun(ctx context.Context, summary swatch.RunSummary) error {
	statsJSON, err := json.Marshal(summary.Stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, kind, mode, started_at, finished_at, stats, dataset_digest)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, runsTable)
	if _, err := s.pool.Exec(ctx, query,
		summary.RunID,
		string(summary.Kind),
		string(summary.Mode),
		summary.StartedAt,
		summary.FinishedAt,
		statsJSON,
		summary.DatasetDigest,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", summary.RunID, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
