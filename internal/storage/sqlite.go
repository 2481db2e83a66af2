package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
  id                   TEXT PRIMARY KEY,
  mode                 TEXT NOT NULL,
  url_count            INTEGER NOT NULL DEFAULT 0,
  input_bytes          INTEGER NOT NULL DEFAULT 0,
  options              JSON,
  artifact_fingerprint TEXT,
  status               TEXT NOT NULL,
  error_kind           TEXT,
  error                TEXT,
  exit_code            INTEGER NOT NULL DEFAULT 0,
  record_count         INTEGER NOT NULL DEFAULT 0,
  stderr               TEXT,
  started_at           TEXT NOT NULL,
  completed_at         TEXT NOT NULL,
  duration_ms          INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS invocations_started_at_idx ON invocations(started_at);`,
		`CREATE INDEX IF NOT EXISTS invocations_status_idx ON invocations(status, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
