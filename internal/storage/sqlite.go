package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the request journal database at
// path and ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalFilesystem(path); errors.Is(err, ErrNetworkFilesystem) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Journal writes arrive from many request goroutines.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates the agent_request table and its indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_request (
  id              TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL,
  status          TEXT NOT NULL,
  text_length     INTEGER NOT NULL DEFAULT 0,
  submitted_at    TEXT NOT NULL,
  started_at      TEXT,
  completed_at    TEXT,
  exit_code       INTEGER,
  duration_ms     INTEGER,
  reason          TEXT,
  stderr          TEXT,
  reply_status    TEXT,
  reply_error     TEXT,
  replied_at      TEXT
);`,
		`CREATE INDEX IF NOT EXISTS agent_request_conversation_idx ON agent_request(conversation_id, submitted_at);`,
		`CREATE INDEX IF NOT EXISTS agent_request_status_idx ON agent_request(status, completed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
