package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is a handle to the sqlite database holding the tracked-target
// registry and the append-only ping history. Open it once at startup and
// Close it on shutdown.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows a single writer; one connection serializes the
	// concurrent appends coming from batch workers.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS targets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  address TEXT NOT NULL UNIQUE,
  label TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pings (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  address TEXT NOT NULL,
  taken_at INTEGER NOT NULL,
  outcome INTEGER NOT NULL,
  latency_us INTEGER,
  reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_pings_address_taken ON pings(address, taken_at);
CREATE INDEX IF NOT EXISTS idx_pings_taken ON pings(taken_at);
`)
	return err
}
