// Package storage keeps best-effort local state between runs: panel
// layout preferences and a cache of each workspace's file tree. All of
// it is reconstructible from the backend, so losing the database is
// never fatal.
package storage

import (
	"errors"
	"fmt"
	"log"
	"sync"

	// Using modernc.org/sqlite which is a pure-Go implementation that
	// doesn't require CGO, making cross-compilation and testing easier.
	"database/sql"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup targets state that was never
// saved.
var ErrNotFound = errors.New("not found")

// Store persists local client state in SQLite. It creates the
// database and tables on first use and supports concurrent access
// through internal locking.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates a SQLite database at the given path and
// initializes the schema if the tables don't exist. Use ":memory:"
// for an in-memory database (useful for testing).
func Open(path string) (*Store, error) {
	log.Printf("storage: opening database at %s", path)

	// Open database with foreign keys enabled for referential integrity.
	// The modernc.org/sqlite driver uses _pragma=foreign_keys(1) syntax.
	// busy_timeout handles concurrent access from overlapping commands.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("storage: database ready")
	return store, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}

// initSchema creates the tables on first open. Both tables are keyed
// by workspace id so removing a workspace's state is one delete.
func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS panel_layout (
	workspace_id TEXT PRIMARY KEY,
	layout       TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_tree (
	workspace_id TEXT NOT NULL,
	path         TEXT NOT NULL,
	is_folder    INTEGER NOT NULL DEFAULT 0,
	content      TEXT,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (workspace_id, path)
);
`
	_, err := s.db.Exec(schema)
	return err
}
