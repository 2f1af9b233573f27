// Package store provides SQLite-backed persistence for Hiveplane actors.
// Every actor instance owns exactly one database file; no other component
// writes it. The actor registry serializes access per instance, so the
// read-then-write operations in this package need no extra synchronization.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Kind selects the schema an actor instance's database is migrated with.
type Kind string

const (
	KindCoordinator Kind = "coordinator"
	KindAgent       Kind = "agent"
	KindLock        Kind = "lock"
)

// Store provides access to one actor instance's SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates (or reopens) the database file for an actor instance and runs
// idempotent migrations for its kind. Opening is lazy instance creation:
// first reference to a key materializes its storage.
func Open(dataDir string, kind Kind, key string) (*Store, error) {
	dbPath := InstancePath(dataDir, kind, key)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency across instances
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(kind); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// InstancePath returns the database file for an actor key. The key is
// URL-escaped so lock resource paths containing slashes map to flat names.
func InstancePath(dataDir string, kind Kind, key string) string {
	if kind == KindCoordinator {
		return filepath.Join(dataDir, "coordinator.db")
	}
	return filepath.Join(dataDir, string(kind)+"s", url.PathEscape(key)+".db")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(kind Kind) error {
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("unknown store kind %q", kind)
	}
	_, err := s.db.Exec(schema)
	return err
}

var schemas = map[Kind]string{
	KindCoordinator: `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		current_task TEXT,
		working_on TEXT,
		capabilities TEXT,
		offers TEXT,
		needs TEXT,
		last_seen DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		author TEXT NOT NULL,
		author_type TEXT NOT NULL,
		text TEXT NOT NULL,
		reactions TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'todo',
		assignee TEXT,
		created_by TEXT,
		priority TEXT,
		tags TEXT,
		files TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS zones (
		zone_id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		owner TEXT NOT NULL,
		description TEXT,
		claimed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS claims (
		what TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		description TEXT,
		since DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS handoffs (
		id TEXT PRIMARY KEY,
		from_agent TEXT NOT NULL,
		to_agent TEXT,
		title TEXT NOT NULL,
		context TEXT,
		code TEXT,
		file_path TEXT,
		next_steps TEXT,
		priority TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		claimed_by TEXT,
		created_at DATETIME NOT NULL,
		claimed_at DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS souls (
		soul_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		identity TEXT,
		knowledge TEXT,
		current_task TEXT,
		pending_work TEXT,
		blockers TEXT,
		goals TEXT,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		transfer_count INTEGER NOT NULL DEFAULT 0,
		completion_rate REAL NOT NULL DEFAULT 0,
		current_body_id TEXT,
		body_history TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bodies (
		body_id TEXT PRIMARY KEY,
		soul_id TEXT,
		status TEXT NOT NULL DEFAULT 'spawning',
		current_tokens INTEGER NOT NULL DEFAULT 0,
		peak_tokens INTEGER NOT NULL DEFAULT 0,
		burn_rate REAL NOT NULL DEFAULT 0,
		last_heartbeat DATETIME NOT NULL,
		error_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transfers (
		transfer_id TEXT PRIMARY KEY,
		soul_id TEXT NOT NULL,
		from_body_id TEXT NOT NULL,
		to_body_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'initiated',
		reason TEXT,
		tokens_saved INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
	CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee);
	CREATE INDEX IF NOT EXISTS idx_zones_owner ON zones(owner);
	CREATE INDEX IF NOT EXISTS idx_claims_owner ON claims(owner);
	CREATE INDEX IF NOT EXISTS idx_handoffs_status ON handoffs(status);
	CREATE INDEX IF NOT EXISTS idx_bodies_soul_id ON bodies(soul_id);
	CREATE INDEX IF NOT EXISTS idx_bodies_status ON bodies(status);
	CREATE INDEX IF NOT EXISTS idx_transfers_soul_id ON transfers(soul_id);
	CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status);
	`,

	KindAgent: `
	CREATE TABLE IF NOT EXISTS checkpoint (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		conversation_summary TEXT NOT NULL,
		accomplishments TEXT,
		pending_work TEXT,
		recent_context TEXT,
		files_edited TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inbox (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory (
		id TEXT PRIMARY KEY,
		category TEXT,
		content TEXT NOT NULL,
		tags TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_created_at ON inbox(created_at);
	CREATE INDEX IF NOT EXISTS idx_inbox_read ON inbox(read);
	CREATE INDEX IF NOT EXISTS idx_memory_category ON memory(category);
	CREATE INDEX IF NOT EXISTS idx_memory_created_at ON memory(created_at);
	`,

	KindLock: `
	CREATE TABLE IF NOT EXISTS lock (
		resource_path TEXT PRIMARY KEY,
		resource_type TEXT,
		locked_by TEXT NOT NULL,
		reason TEXT,
		locked_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		reason TEXT NOT NULL,
		released_at DATETIME NOT NULL
	);
	`,
}

// --- JSON column helpers ---

func marshalStrings(v []string) string {
	if len(v) == 0 {
		return ""
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v []string
	json.Unmarshal([]byte(s.String), &v)
	return v
}

func marshalJSON(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalJSON(s sql.NullString, v interface{}) {
	if !s.Valid || s.String == "" {
		return
	}
	json.Unmarshal([]byte(s.String), v)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
