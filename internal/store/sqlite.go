// Package store provides the SQLite-backed durable store for notes,
// users, and sessions. It holds no business logic: mutation semantics
// live in the board engine, the store only persists rows.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/stormboard/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id                 TEXT PRIMARY KEY,
	content            TEXT NOT NULL,
	author             TEXT NOT NULL DEFAULT '',
	avatar_url         TEXT NOT NULL DEFAULT '',
	category           TEXT NOT NULL DEFAULT '',
	type               TEXT NOT NULL DEFAULT 'PROBLEM',
	quadrant           TEXT NOT NULL DEFAULT 'UNSORTED',
	status             TEXT NOT NULL DEFAULT 'ACTIVE',
	timestamp          INTEGER NOT NULL DEFAULT 0,
	likes              INTEGER NOT NULL DEFAULT 0,
	linked_note_ids    TEXT NOT NULL DEFAULT '[]',
	merged_from_ids    TEXT NOT NULL DEFAULT '[]',
	created_by_user_id TEXT NOT NULL DEFAULT '',
	created_by_phone   TEXT NOT NULL DEFAULT '',
	created_by_name    TEXT NOT NULL DEFAULT '',
	session_id         TEXT NOT NULL DEFAULT 'default'
);

CREATE INDEX IF NOT EXISTS idx_notes_session ON notes(session_id);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	phone      TEXT NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT 'PENDING',
	role       TEXT NOT NULL DEFAULT 'USER',
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL DEFAULT 0,
	is_active   INTEGER NOT NULL DEFAULT 1,
	created_by  TEXT NOT NULL DEFAULT 'system'
);
`

// DB wraps a sql.DB with board-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database, applies the schema, and
// ensures the default session row exists.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if _, err := conn.Exec(
		`INSERT OR IGNORE INTO sessions (id, name, description, created_at, is_active, created_by)
		 VALUES (?, 'Default', '', ?, 1, 'system')`,
		models.DefaultSessionID, time.Now().UnixMilli(),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ensure default session: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
