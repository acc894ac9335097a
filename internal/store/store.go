// Package store persists the engine's durable state — the dedup hash set,
// per-conversation turn history and operational stats — in a single embedded
// sqlite database. All writes are synchronous so already-answered messages
// are never reprocessed after a restart.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// DB wraps the shared sqlite handle used by the three repositories.
type DB struct {
	sql    *sql.DB
	logger *zap.Logger
}

// Open creates or opens the database at path and runs the schema migration.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The engine is the single writer; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = FULL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{sql: db, logger: logger.Named("store")}, nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS dedup (
			hash    TEXT PRIMARY KEY,
			seen_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dedup_seen_at ON dedup(seen_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			at              INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, id)`,
		`CREATE TABLE IF NOT EXISTS stats (
			id                 INTEGER PRIMARY KEY CHECK (id = 1),
			started_at         INTEGER NOT NULL DEFAULT 0,
			messages_processed INTEGER NOT NULL DEFAULT 0,
			replies_sent       INTEGER NOT NULL DEFAULT 0,
			errors             INTEGER NOT NULL DEFAULT 0,
			last_reply_at      INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO stats (id) VALUES (1)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}
