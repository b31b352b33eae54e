package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// PostgresConfig controls the pool and table used for Postgres output.
type PostgresConfig struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres inserts one row per record.
type Postgres struct {
	pool   execCloser
	table  string
	runID  string
	insert string
}

// OpenPostgres connects a pool and ensures the output table exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("output.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresWithPool(pool, cfg.Table, cfg.RunID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresWithPool builds the sink over an existing pool.
func NewPostgresWithPool(pool execCloser, table, runID string) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, insertColumns(),
		placeholders(len(crawler.Columns)+1, func(i int) string { return fmt.Sprintf("$%d", i) }))
	return &Postgres{pool: pool, table: table, runID: runID, insert: insert}, nil
}

// Migrate creates the output table when missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	full_name TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Write inserts one row.
func (s *Postgres) Write(ctx context.Context, rec crawler.Record) error {
	if _, err := s.pool.Exec(ctx, s.insert, rowArgs(s.runID, rec)...); err != nil {
		return fmt.Errorf("insert search result: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
