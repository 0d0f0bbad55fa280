// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event sources.
const (
	EventSourceCallback   = "callback"
	EventSourceReconciler = "reconciler"
)

// JobEvent is one observed callback or reconciler action. The table is
// append-only; the event key is the dedup boundary for redeliveries.
type JobEvent struct {
	EventKey  string
	JobID     string
	Source    string
	Status    string
	EventSeq  *int64
	Payload   []byte
	CreatedAt time.Time
}

// RecordJobEvent appends an event. A duplicate key is not an error: the
// insert is dropped and inserted=false is returned, so callers can count
// redeliveries without re-running side effects that are not replay-safe.
func (s *Store) RecordJobEvent(ctx context.Context, ev *JobEvent) (bool, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO job_events (event_key, job_id, source, status, event_seq, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_key) DO NOTHING`,
		ev.EventKey, ev.JobID, ev.Source, ev.Status, ev.EventSeq, nullBytes(ev.Payload), fmtTime(ev.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert job event %s: %w", ev.EventKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// JobEventsByJobID lists recorded events for a job, oldest first.
func (s *Store) JobEventsByJobID(ctx context.Context, jobID string) ([]JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT event_key, job_id, source, status, event_seq, payload, created_at
	FROM job_events WHERE job_id = ? ORDER BY created_at`, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []JobEvent
	for rows.Next() {
		var (
			ev        JobEvent
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.EventKey, &ev.JobID, &ev.Source, &ev.Status, &ev.EventSeq, &payload, &createdAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}
