// Package store persists ride history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// Entry is one successful route search
type Entry struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	StartAddress  string    `json:"start_address"`
	EndAddress    string    `json:"end_address"`
	Summary       string    `json:"summary"`
	TotalDistance string    `json:"total_distance"`
	TotalDuration string    `json:"total_duration"`
	Language      string    `json:"language"`
	SampleCount   int       `json:"sample_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// History is a SQLite-backed log of route searches
type History struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// Open opens or creates the history database at dbPath. ":memory:" is
// accepted for ephemeral use.
func Open(dbPath string) (*History, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writes
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	h := &History{db: db, dbPath: dbPath, now: time.Now}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return h, nil
}

func (h *History) initSchema() error {
	var version int
	err := h.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return h.createSchema()
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	return nil
}

func (h *History) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS ride_searches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		start_address TEXT NOT NULL DEFAULT '',
		end_address TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		total_distance TEXT NOT NULL DEFAULT '',
		total_duration TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'en',
		sample_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ride_searches_created ON ride_searches(created_at DESC);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record appends a search to the history
func (h *History) Record(ctx context.Context, e Entry) (*Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now()
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO ride_searches (
			session_id, origin, destination, start_address, end_address,
			summary, total_distance, total_duration, language, sample_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Origin, e.Destination, e.StartAddress, e.EndAddress,
		e.Summary, e.TotalDistance, e.TotalDuration, e.Language, e.SampleCount,
		e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record search: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}
	e.ID = id
	return &e, nil
}

// Recent returns up to limit searches, newest first
func (h *History) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, session_id, origin, destination, start_address, end_address,
			summary, total_distance, total_duration, language, sample_count, created_at
		FROM ride_searches
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Origin, &e.Destination, &e.StartAddress, &e.EndAddress,
			&e.Summary, &e.TotalDistance, &e.TotalDuration, &e.Language, &e.SampleCount, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HealthCheck verifies the database is reachable
func (h *History) HealthCheck(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}
