// Package postgres provides a Postgres-backed snapshot document store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
)

// DefaultTable mirrors the collection name the snapshots have always been written to.
const DefaultTable = "czds_icann_raw"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNotFound is returned when no snapshot exists for a run id.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotStoreConfig controls the Postgres connection pool used for snapshot rows.
type SnapshotStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SnapshotStore writes one JSONB document row per run.
type SnapshotStore struct {
	pool  pool
	table string
}

// NewSnapshotStore creates a Postgres-backed SnapshotStore using the provided config.
func NewSnapshotStore(ctx context.Context, cfg SnapshotStoreConfig) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store connection string is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SnapshotStore{pool: p, table: table}, nil
}

// NewSnapshotStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSnapshotStoreWithPool(p pool, table string) (*SnapshotStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the snapshot table when it does not exist.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY,
	retrieved_at TIMESTAMPTZ NOT NULL,
	total_resources_probed INTEGER NOT NULL,
	document JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertSnapshot writes the record as a single row. A row already present for
// the run id is left untouched and reported with created=false.
func (s *SnapshotStore) InsertSnapshot(ctx context.Context, record harvest.SnapshotRecord) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("snapshot store is not configured")
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	retrieved_at,
	total_resources_probed,
	document
) VALUES (
	$1,$2,$3,$4
) ON CONFLICT (run_id) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		record.RunID,
		record.RetrievedAt,
		record.TotalResourcesProbed,
		doc,
	)
	if err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSnapshot reads back the document stored for runID.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, runID string) (harvest.SnapshotRecord, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE run_id = $1`, s.table)
	var doc []byte
	if err := s.pool.QueryRow(ctx, query, runID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.SnapshotRecord{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return harvest.SnapshotRecord{}, fmt.Errorf("select snapshot: %w", err)
	}
	var record harvest.SnapshotRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return harvest.SnapshotRecord{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return record, nil
}
