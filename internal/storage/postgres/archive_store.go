// Package postgres provides the Postgres-backed archive ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when no table name is configured.
const DefaultTable = "archives"

// ArchiveStoreConfig controls the Postgres connection pool used for ledger rows.
type ArchiveStoreConfig struct {
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

// ArchiveStore records completed captures and answers fingerprint lookups.
type ArchiveStore struct {
	pool  pool
	table string
}

// NewArchiveStore creates a Postgres-backed ArchiveStore using the provided config.
func NewArchiveStore(ctx context.Context, cfg ArchiveStoreConfig) (*ArchiveStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &ArchiveStore{pool: p, table: table}, nil
}

// NewArchiveStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArchiveStoreWithPool(p pool, table string) (*ArchiveStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ArchiveStore{pool: p, table: table}, nil
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
func (s *ArchiveStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table and its lookup index when missing.
func (s *ArchiveStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id      TEXT PRIMARY KEY,
	target      TEXT NOT NULL,
	archive_uri TEXT NOT NULL,
	fingerprint TEXT NOT NULL DEFAULT '',
	routes      INTEGER NOT NULL,
	resources   INTEGER NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_target_captured_idx ON %[1]s (target, captured_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create archive table: %w", err)
	}
	return nil
}

// RecordArchive inserts a ledger row for a stored archive.
func (s *ArchiveStore) RecordArchive(ctx context.Context, record archive.ArchiveRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("archive store is not configured")
	}
	if record.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	target,
	archive_uri,
	fingerprint,
	routes,
	resources,
	captured_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)

	args := []any{
		record.RunID,
		record.Target,
		record.ArchiveURI,
		record.Fingerprint,
		record.Routes,
		record.Resources,
		record.CapturedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

// LatestFingerprint returns the most recent non-empty fingerprint stored for target.
func (s *ArchiveStore) LatestFingerprint(ctx context.Context, target string) (string, bool, error) {
	if s == nil || s.pool == nil {
		return "", false, fmt.Errorf("archive store is not configured")
	}
	query := fmt.Sprintf(`
SELECT fingerprint FROM %s
WHERE target = $1 AND fingerprint <> ''
ORDER BY captured_at DESC
LIMIT 1`, s.table)

	var digest string
	if err := s.pool.QueryRow(ctx, query, target).Scan(&digest); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query latest fingerprint: %w", err)
	}
	return digest, true, nil
}
