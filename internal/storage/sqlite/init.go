package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the history table if
// it doesn't exist. ":memory:" is accepted for tests.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// go-sqlite3 gives every connection its own in-memory database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS download_history (
		id INTEGER PRIMARY KEY,
		download_id TEXT UNIQUE NOT NULL,
		game_id TEXT,
		name TEXT,
		url TEXT NOT NULL,
		dest_path TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		bytes INTEGER NOT NULL DEFAULT 0,
		finished_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create download_history table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_download_history_finished_at ON download_history (finished_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create download_history index: %w", err)
	}

	return db, nil
}
