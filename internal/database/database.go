package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// NewDB opens (creating if needed) the sqlite file at path and applies the schema.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            payload TEXT NOT NULL DEFAULT '{}',
            priority TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            enqueued_at DATETIME NOT NULL,
            next_attempt_at DATETIME,
            failed_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS cp_users (
            handle TEXT PRIMARY KEY COLLATE NOCASE,
            first_name TEXT NOT NULL DEFAULT '',
            organization TEXT NOT NULL DEFAULT '',
            rating INTEGER NOT NULL DEFAULT 0,
            max_rating INTEGER NOT NULL DEFAULT 0,
            rank TEXT NOT NULL DEFAULT '',
            max_rank TEXT NOT NULL DEFAULT '',
            contribution INTEGER NOT NULL DEFAULT 0,
            synced_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS cp_contests (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            phase TEXT NOT NULL DEFAULT '',
            start_time DATETIME,
            duration_seconds INTEGER NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS cp_user_contests (
            handle TEXT NOT NULL COLLATE NOCASE,
            contest_id INTEGER NOT NULL,
            contest_name TEXT NOT NULL DEFAULT '',
            rank INTEGER NOT NULL DEFAULT 0,
            old_rating INTEGER NOT NULL DEFAULT 0,
            new_rating INTEGER NOT NULL DEFAULT 0,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (handle, contest_id)
        )`,
		`CREATE TABLE IF NOT EXISTS cp_recommendations (
            handle TEXT NOT NULL COLLATE NOCASE,
            contest_id INTEGER NOT NULL,
            problem_index TEXT NOT NULL,
            name TEXT NOT NULL,
            rating INTEGER NOT NULL DEFAULT 0,
            tags TEXT NOT NULL DEFAULT '',
            position INTEGER NOT NULL,
            PRIMARY KEY (handle, contest_id, problem_index)
        )`,
		`CREATE TABLE IF NOT EXISTS cp_leaderboard (
            college TEXT NOT NULL COLLATE NOCASE,
            handle TEXT NOT NULL COLLATE NOCASE,
            position INTEGER NOT NULL,
            rating INTEGER NOT NULL DEFAULT 0,
            rank TEXT NOT NULL DEFAULT '',
            synced_at DATETIME NOT NULL,
            PRIMARY KEY (college, handle)
        )`,
		`CREATE TABLE IF NOT EXISTS cp_verifications (
            handle TEXT PRIMARY KEY COLLATE NOCASE,
            token TEXT NOT NULL,
            verified BOOLEAN NOT NULL DEFAULT 0,
            checked_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_enqueued_at ON sync_queue(enqueued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cp_user_contests_handle ON cp_user_contests(handle)`,
		`CREATE INDEX IF NOT EXISTS idx_cp_leaderboard_college ON cp_leaderboard(college, position)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
