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

// OpenSQLite opens (and creates if needed) the SQLite history database at
// path and ensures required tables exist. Network filesystems are refused.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the run history tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_runs (
  id          TEXT PRIMARY KEY,
  builder     TEXT NOT NULL,
  worker      TEXT NOT NULL,
  workspace   TEXT NOT NULL,
  branch      TEXT NOT NULL,
  mode        TEXT NOT NULL,
  revision    TEXT,
  status      TEXT NOT NULL,
  decision    TEXT,
  created     INTEGER NOT NULL DEFAULT 0,
  commands    INTEGER NOT NULL DEFAULT 0,
  started_at  TEXT NOT NULL,
  finished_at TEXT,
  last_error  TEXT
);`,
		`CREATE TABLE IF NOT EXISTS sync_commands (
  run_id      TEXT NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
  seq         INTEGER NOT NULL,
  subcommand  TEXT NOT NULL,
  args        JSON NOT NULL,
  policy      TEXT NOT NULL,
  exit_code   INTEGER NOT NULL,
  timed_out   INTEGER NOT NULL DEFAULT 0,
  failed      INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL,
  error       TEXT,
  PRIMARY KEY (run_id, seq)
);`,
		`CREATE INDEX IF NOT EXISTS sync_runs_builder_started_at_idx ON sync_runs(builder, started_at);`,
		`CREATE INDEX IF NOT EXISTS sync_runs_started_at_idx ON sync_runs(started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
