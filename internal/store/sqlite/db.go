// Package sqlite implements the ledger stores on an embedded SQLite
// database. The connection pool is capped at one connection so every
// transaction runs alone, which gives the ledger its single-writer
// serialization.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_state (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	admin            TEXT    NOT NULL,
	oracle_address   TEXT    NOT NULL,
	next_position_id INTEGER NOT NULL,
	balance          INTEGER NOT NULL,
	is_active        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id           INTEGER PRIMARY KEY,
	trader       TEXT    NOT NULL,
	margin       INTEGER NOT NULL,
	leverage     INTEGER NOT NULL CHECK (leverage BETWEEN 1 AND 10),
	size         INTEGER NOT NULL,
	side         TEXT    NOT NULL,
	entry_price  INTEGER NOT NULL,
	open_time    INTEGER NOT NULL,
	status       TEXT    NOT NULL,
	close_price  INTEGER,
	close_time   INTEGER,
	realized_pnl INTEGER
);

CREATE TABLE IF NOT EXISTS trader_positions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	trader      TEXT    NOT NULL,
	position_id INTEGER NOT NULL REFERENCES positions(id)
);
CREATE INDEX IF NOT EXISTS idx_trader_positions_trader ON trader_positions (trader, seq);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT    NOT NULL,
	detail     TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
`

// DB is an open ledger database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}
