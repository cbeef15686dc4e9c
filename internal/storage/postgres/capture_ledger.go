// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-snapshot/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "snapshot_captures"

// LedgerConfig controls the Postgres connection pool used for capture rows.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CaptureLedger writes one row per stored snapshot into Postgres.
type CaptureLedger struct {
	pool  execCloser
	table string
}

// NewCaptureLedger creates a Postgres-backed CaptureLedger using the provided config.
func NewCaptureLedger(ctx context.Context, cfg LedgerConfig) (*CaptureLedger, error) {
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CaptureLedger{pool: pool, table: table}, nil
}

// NewCaptureLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewCaptureLedgerWithPool(pool execCloser, table string) (*CaptureLedger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CaptureLedger{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *CaptureLedger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// RecordCapture upserts a capture row keyed by run, URL and viewport.
func (l *CaptureLedger) RecordCapture(ctx context.Context, record crawler.CaptureRecord) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("capture ledger is not configured")
	}
	if record.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if record.URL == "" {
		return fmt.Errorf("url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	page_url,
	viewport,
	snapshot_path,
	content_hash,
	byte_count,
	asset_count,
	captured_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (run_id, page_url, viewport) DO UPDATE SET
	snapshot_path = EXCLUDED.snapshot_path,
	content_hash = EXCLUDED.content_hash,
	byte_count = EXCLUDED.byte_count,
	asset_count = EXCLUDED.asset_count,
	captured_at = EXCLUDED.captured_at`, l.table)

	args := []any{
		record.RunID,
		record.URL,
		string(record.Viewport),
		record.Path,
		record.ContentHash,
		record.Bytes,
		record.AssetCount,
		record.CapturedAt,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}
