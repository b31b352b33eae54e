package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// SQLiteConfig selects the table and run stamp for SQLite output.
type SQLiteConfig struct {
	Table string
	RunID string
}

// SQLite inserts one row per record; each insert commits on its own.
type SQLite struct {
	db     *sql.DB
	owned  bool
	insert *sql.Stmt
	runID  string
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string, cfg SQLiteConfig) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s, err := NewSQLite(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLite prepares db for output. The caller keeps ownership of db.
func NewSQLite(ctx context.Context, db *sql.DB, cfg SQLiteConfig) (*SQLite, error) {
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	full_name TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create sqlite table: %w", err)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, insertColumns(),
		placeholders(len(crawler.Columns)+1, func(int) string { return "?" }))
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare sqlite insert: %w", err)
	}
	return &SQLite{db: db, insert: stmt, runID: cfg.RunID}, nil
}

// Write inserts one row.
func (s *SQLite) Write(ctx context.Context, rec crawler.Record) error {
	if _, err := s.insert.ExecContext(ctx, rowArgs(s.runID, rec)...); err != nil {
		return fmt.Errorf("insert sqlite row: %w", err)
	}
	return nil
}

// Close releases the statement and, when opened by OpenSQLite, the database.
func (s *SQLite) Close() error {
	err := s.insert.Close()
	if s.owned {
		err = errors.Join(err, s.db.Close())
	}
	if err != nil {
		return fmt.Errorf("close sqlite sink: %w", err)
	}
	return nil
}
