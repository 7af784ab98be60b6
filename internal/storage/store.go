// Package storage provides the SQLite persistence layer for the decision graph.
//
// A single-file embedded database holds three tables: decisions (one row per
// completed deliberation), stances (one row per participant per decision),
// and similarities (directed scored edges between decisions). All writes run
// in transactions; foreign keys are enforced so stances and edges cannot
// reference missing decisions.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	consensus TEXT NOT NULL DEFAULT '',
	winning_option TEXT,
	convergence_status TEXT NOT NULL DEFAULT '',
	participants TEXT NOT NULL DEFAULT '[]',
	transcript_path TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS stances (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id TEXT NOT NULL REFERENCES decisions(id),
	participant_id TEXT NOT NULL,
	vote_option TEXT,
	confidence REAL,
	rationale TEXT,
	final_position TEXT NOT NULL DEFAULT '',
	UNIQUE (decision_id, participant_id)
);

CREATE TABLE IF NOT EXISTS similarities (
	source_id TEXT NOT NULL REFERENCES decisions(id),
	target_id TEXT NOT NULL REFERENCES decisions(id),
	similarity_score REAL NOT NULL,
	computed_at TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id)
);

CREATE INDEX IF NOT EXISTS by_timestamp ON decisions(timestamp DESC);
CREATE INDEX IF NOT EXISTS by_question ON decisions(question);
CREATE INDEX IF NOT EXISTS by_decision ON stances(decision_id);
CREATE INDEX IF NOT EXISTS by_source ON similarities(source_id);
CREATE INDEX IF NOT EXISTS by_score ON similarities(similarity_score DESC);
`

// Store wraps the SQLite database holding the decision graph.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates or opens the database at path and ensures the schema exists.
//
// Initialization is hardened against the partial-creation failure mode:
// the parent directory is created if missing, schema creation runs in a
// transaction, the required tables and a non-empty file are verified
// afterwards, and on any failure a zero-byte file is removed so the next
// launch does not trip over a corrupted artifact.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create db directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// SQLite serializes writers anyway; a single connection avoids
	// busy contention between the engine and the background worker.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		s.removeIfEmpty()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping database: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: create schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit schema: %w", err)
	}

	return s.verify(ctx)
}

// verify confirms the schema actually landed. A zero-byte file means a
// previous launch died mid-creation; it must be treated as corrupted.
func (s *Store) verify(ctx context.Context) error {
	for _, table := range []string{"decisions", "stances", "similarities"} {
		var name string
		err := s.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			return fmt.Errorf("storage: verify table %s: %w", table, err)
		}
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("storage: stat database file: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("storage: database file %s is empty after initialization", s.path)
	}
	return nil
}

func (s *Store) removeIfEmpty() {
	info, err := os.Stat(s.path)
	if err != nil || info.Size() > 0 {
		return
	}
	if err := os.Remove(s.path); err != nil {
		s.logger.Warn("storage: remove empty database file", "path", s.path, "error", err)
	} else {
		s.logger.Warn("storage: removed empty database file after failed init", "path", s.path)
	}
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close shuts down the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("storage: close database: %w", err)
	}
	return nil
}
