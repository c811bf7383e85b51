// Package store implements the decision store on SQLite. It owns the
// intents and outcomes tables and provides the atomic conditional status
// transition that the rest of the system builds its single-flight
// guarantee on. Other collaborators (analytics, learning) read the same
// records, so the schema is additive and plume never assumes exclusive
// ownership of it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"plume/internal/logging"
)

// Store wraps the SQLite decision store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New opens (creating if needed) the decision store at the given path.
// Pass ":memory:" for an ephemeral store in tests.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is a large write speedup and still crash-safe
	// under WAL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("decision store ready at %s", path)
	return s, nil
}

// initialize creates the required tables. Timestamps are stored as unix
// milliseconds so window arithmetic stays driver-independent.
func (s *Store) initialize() error {
	intentsTable := `
	CREATE TABLE IF NOT EXISTS intents (
		decision_id TEXT PRIMARY KEY,
		segments TEXT NOT NULL,
		kind TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		scheduled_at INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		confidence TEXT NOT NULL DEFAULT 'none',
		identifier TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_url TEXT NOT NULL DEFAULT '',
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_intents_status ON intents(status);
	CREATE INDEX IF NOT EXISTS idx_intents_scheduled ON intents(scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_intents_completed ON intents(completed_at);
	`

	outcomesTable := `
	CREATE TABLE IF NOT EXISTS outcomes (
		decision_id TEXT PRIMARY KEY,
		identifier TEXT NOT NULL DEFAULT '',
		confidence TEXT NOT NULL DEFAULT 'none',
		strategy TEXT NOT NULL DEFAULT 'none',
		error TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL
	);
	`

	for _, table := range []string{intentsTable, outcomesTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("closing decision store")
	return s.db.Close()
}

// DB returns the underlying connection, for the status command.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Stats returns per-status intent counts plus the outcome total.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM intents GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats["intents_"+status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var outcomes int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM outcomes").Scan(&outcomes); err != nil {
		return nil, err
	}
	stats["outcomes"] = outcomes
	return stats, nil
}
