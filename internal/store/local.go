// Package store implements the durable side of conversation continuity
// using SQLite: engine session rows and versioned conversation summaries.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"switchboard/internal/logging"
)

// LocalStore is the sqlite-backed durable store. The in-memory session cache
// lives in the registry; this store is the source the cache reconciles with.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
// Use ":memory:" for tests.
func NewLocalStore(path string) (*LocalStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("Local store opened: %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	sessionsTable := `
	CREATE TABLE IF NOT EXISTS engine_sessions (
		id               TEXT PRIMARY KEY,
		conversation_id  TEXT NOT NULL,
		engine           TEXT NOT NULL,
		workspace_path   TEXT NOT NULL DEFAULT '',
		native_thread_id TEXT NOT NULL DEFAULT '',
		title            TEXT NOT NULL DEFAULT 'New Chat',
		created_at       DATETIME NOT NULL,
		last_used_at     DATETIME NOT NULL,
		UNIQUE(conversation_id, engine)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_conversation
		ON engine_sessions(conversation_id);
	`

	summariesTable := `
	CREATE TABLE IF NOT EXISTS conversation_summaries (
		conversation_id TEXT PRIMARY KEY,
		summary_short   TEXT NOT NULL DEFAULT '',
		summary_long    TEXT NOT NULL DEFAULT '',
		key_decisions   TEXT NOT NULL DEFAULT '[]',
		tools_used      TEXT NOT NULL DEFAULT '[]',
		files_modified  TEXT NOT NULL DEFAULT '[]',
		version         INTEGER NOT NULL DEFAULT 0,
		updated_at      DATETIME NOT NULL
	);
	`

	for _, ddl := range []string{sessionsTable, summariesTable} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
