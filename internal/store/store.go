package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding all of the account's relational
// state: identity records, profile, contacts, conversations and their
// settings, messages, attachments, and persisted job records.
type Store struct {
	db *sql.DB
}

// ErrNotFound is returned by accessors whose caller requires the record
// to exist. Point lookups that tolerate absence return nil instead.
var ErrNotFound = errors.New("store: object not found")

const schema = `
CREATE TABLE IF NOT EXISTS identity_record (
	variant TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS profile (
	key TEXT PRIMARY KEY,
	value BLOB
);
CREATE TABLE IF NOT EXISTS contact (
	session_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	profile_key BLOB,
	is_trusted INTEGER NOT NULL DEFAULT 0,
	is_approved INTEGER NOT NULL DEFAULT 0,
	did_approve_me INTEGER NOT NULL DEFAULT 0,
	friend_request_status INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS conversation (
	session_id TEXT PRIMARY KEY,
	kind INTEGER NOT NULL DEFAULT 0,
	name TEXT NOT NULL DEFAULT '',
	should_be_visible INTEGER NOT NULL DEFAULT 1,
	pinned_priority INTEGER NOT NULL DEFAULT 0,
	community_server TEXT NOT NULL DEFAULT '',
	community_room TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS disappearing_config (
	conversation_id TEXT PRIMARY KEY,
	is_enabled INTEGER NOT NULL DEFAULT 0,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	type INTEGER NOT NULL DEFAULT 0,
	last_change_ms INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	timestamp_ms INTEGER NOT NULL,
	is_outgoing INTEGER NOT NULL DEFAULT 0,
	variant INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS attachment (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	state INTEGER NOT NULL DEFAULT 0,
	url TEXT NOT NULL DEFAULT '',
	key BLOB,
	local_path TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS job (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	body BLOB NOT NULL,
	failure_count INTEGER NOT NULL DEFAULT 0,
	deferred INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS linked_device (
	device_id TEXT PRIMARY KEY,
	is_master INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS closed_group (
	group_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	members TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL
);
`

// DefaultDataDir returns the default data directory for sesh-go databases.
// Uses $XDG_DATA_HOME/sesh-go, falling back to ~/.local/share/sesh-go.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "sesh-go")
}

// Open opens or creates a SQLite store at the given path.
// If dbPath is empty, it defaults to $XDG_DATA_HOME/sesh-go/default.db.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(DefaultDataDir(), "default.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// runMigrations applies any necessary schema changes.
func runMigrations(db *sql.DB) error {
	// Migration: attachment integrity digest, added alongside encrypted uploads.
	_, err := db.Exec("ALTER TABLE attachment ADD COLUMN digest BLOB")
	if err != nil && !isColumnExistsError(err) {
		return fmt.Errorf("add digest column: %w", err)
	}
	return nil
}

// isColumnExistsError checks if the error is due to column already existing.
func isColumnExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on nil return and
// rolling back otherwise. Callers must not perform network I/O inside fn.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
