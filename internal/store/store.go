// SPDX-License-Identifier: MIT

// Package store provides SQLite persistence for tasks, job events and
// media records.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store wraps the shared database handle.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite store and runs migrations.
// WAL mode and busy_timeout keep concurrent callback handlers from
// tripping over "database locked" errors.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so the ledger can share the same file.
func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity, used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		kind TEXT NOT NULL,
		engine TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		job_id TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		progress INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		payload TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_job_id ON tasks(job_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at);

	CREATE TABLE IF NOT EXISTS job_events (
		event_key TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		source TEXT NOT NULL CHECK(source IN ('callback', 'reconciler')),
		status TEXT NOT NULL,
		event_seq INTEGER,
		payload TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id);

	CREATE TABLE IF NOT EXISTS media (
		id TEXT PRIMARY KEY,
		title TEXT,
		author TEXT,
		thumbnail TEXT,
		view_count INTEGER,
		like_count INTEGER,
		duration_seconds REAL,

		download_backend TEXT,
		download_status TEXT,
		download_job_id TEXT,
		download_error TEXT,
		remote_video_key TEXT,
		remote_audio_processed_key TEXT,
		remote_audio_source_key TEXT,
		remote_metadata_key TEXT,
		download_video_bytes INTEGER,
		download_audio_bytes INTEGER,
		download_completed_at TEXT,

		asr_status TEXT,
		asr_job_id TEXT,
		asr_error TEXT,
		transcript_vtt_key TEXT,
		transcript_words_key TEXT,

		render_status TEXT,
		render_job_id TEXT,
		render_error TEXT,
		render_output_key TEXT,

		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
