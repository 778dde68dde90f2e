package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection keeps :memory: databases shared
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.InitSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the database tables if they don't exist
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		target_code TEXT NOT NULL,
		declaration_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		external_record_id TEXT NOT NULL DEFAULT '',
		failure_kind TEXT NOT NULL DEFAULT '',
		failure_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS submission_screenshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		step TEXT NOT NULL,
		page TEXT NOT NULL,
		state TEXT NOT NULL,
		path TEXT NOT NULL,
		taken_at TIMESTAMP NOT NULL,
		FOREIGN KEY (submission_id) REFERENCES submissions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS submission_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		source TEXT NOT NULL,
		step TEXT NOT NULL,
		page TEXT NOT NULL,
		field TEXT NOT NULL,
		error_kind TEXT NOT NULL,
		retry INTEGER NOT NULL,
		action TEXT NOT NULL,
		selector TEXT NOT NULL,
		wait_ms INTEGER NOT NULL,
		reason TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		accepted BOOLEAN NOT NULL,
		rejection TEXT NOT NULL,
		model TEXT NOT NULL,
		cost REAL NOT NULL,
		latency_ms INTEGER NOT NULL,
		decided_at TIMESTAMP NOT NULL,
		FOREIGN KEY (submission_id) REFERENCES submissions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS submission_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		step TEXT NOT NULL,
		page TEXT NOT NULL,
		field TEXT NOT NULL,
		fault TEXT NOT NULL,
		message TEXT NOT NULL,
		recovered BOOLEAN NOT NULL,
		at TIMESTAMP NOT NULL,
		FOREIGN KEY (submission_id) REFERENCES submissions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS connection_tests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_code TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		logs TEXT NOT NULL,
		tested_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_target ON submissions(target_code);
	CREATE INDEX IF NOT EXISTS idx_submissions_declaration ON submissions(declaration_id);
	CREATE INDEX IF NOT EXISTS idx_submissions_started_at ON submissions(started_at);
	CREATE INDEX IF NOT EXISTS idx_screenshots_submission ON submission_screenshots(submission_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_submission ON submission_decisions(submission_id);
	CREATE INDEX IF NOT EXISTS idx_events_submission ON submission_events(submission_id);
	CREATE INDEX IF NOT EXISTS idx_connection_tests_target ON connection_tests(target_code);
	`

	_, err := db.conn.Exec(schema)
	return err
}
