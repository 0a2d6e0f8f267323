// Package db opens the SQLite database holding station assignments.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// schema is applied on every Open; statements must stay idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS stations (
	token TEXT NOT NULL,
	name TEXT NOT NULL,
	frequency INTEGER NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(token, name) ON CONFLICT IGNORE
);

CREATE INDEX IF NOT EXISTS idx_stations_frequency ON stations(frequency);
`

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: writers serialize anyway, and ":memory:" databases are
	// per-connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return conn, nil
}
