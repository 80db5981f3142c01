// Package db is the SQLite archive for finished sessions. The live
// pipeline keeps all state in memory; this store is write-only during a
// run and read back by the reporting endpoints.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DefaultMigrationsDir is where the SQL migration files live relative
// to the repository root.
const DefaultMigrationsDir = "migrations"

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the SQLite database at path. Use
// ":memory:" for tests. Migrations are not applied automatically; call
// MigrateUp before writing.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids table-lock errors from concurrent writers.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &DB{sqlDB}, nil
}
