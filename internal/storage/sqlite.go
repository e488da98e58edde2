// Package storage opens and migrates the service's SQLite database.
//
// modernc.org/sqlite is used so the binary stays pure Go. The database holds
// the reverse-geocoding cache and the per-person visit ledger; both must
// survive restarts, which is the entire point of caching external lookups.
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS geocode_cache (
		cell         TEXT PRIMARY KEY,
		country_code TEXT NOT NULL DEFAULT '',
		resolved     INTEGER NOT NULL DEFAULT 0,
		updated_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS manual_countries (
		person TEXT NOT NULL,
		code   TEXT NOT NULL,
		PRIMARY KEY (person, code)
	)`,
	`CREATE TABLE IF NOT EXISTS detected_countries (
		person     TEXT NOT NULL,
		code       TEXT NOT NULL,
		first_seen INTEGER NOT NULL,
		PRIMARY KEY (person, code)
	)`,
}

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL mode, and applies schema migrations.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// WAL keeps readers unblocked while the engine writes cache entries.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
