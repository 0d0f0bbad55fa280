// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxmill/settled/internal/types"
)

// Task is one row per dispatched job attempt. Callbacks find it via the
// job id the worker was assigned; at most one active (non-terminal) task
// may own a given job id.
type Task struct {
	ID         string
	UserID     *string // nil = system job, never billed
	Kind       types.TaskKind
	Engine     types.Engine
	TargetType types.TargetType
	TargetID   string
	JobID      *string
	Status     types.TaskStatus
	Progress   int
	Error      *string
	Payload    []byte // opaque job-specific options
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	UpdatedAt  time.Time
}

const taskColumns = `id, user_id, kind, engine, target_type, target_id, job_id,
	status, progress, error, payload, created_at, started_at, finished_at, updated_at`

// CreateTask inserts a new task row. Zero timestamps default to now.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if t.Status == "" {
		t.Status = types.StatusQueued
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO tasks (`+taskColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Kind), string(t.Engine), string(t.TargetType), t.TargetID, t.JobID,
		string(t.Status), t.Progress, t.Error, nullBytes(t.Payload),
		fmtTime(t.CreatedAt), fmtTimePtr(t.StartedAt), fmtTimePtr(t.FinishedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// TaskByID retrieves a single task. Returns nil, nil when absent.
func (s *Store) TaskByID(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// TaskByJobID retrieves the task owning jobID. When a terminal and an
// active row both reference the same job id (should not happen, but the
// invariant is enforced here, not assumed), the active one wins.
func (s *Store) TaskByJobID(ctx context.Context, jobID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+taskColumns+` FROM tasks
	WHERE job_id = ?
	ORDER BY CASE WHEN status IN ('completed', 'failed', 'canceled') THEN 1 ELSE 0 END,
		created_at DESC
	LIMIT 1`, jobID)
	return scanTask(row)
}

// TasksByJobIDAll returns every attempt recorded for a job id, newest first.
func (s *Store) TasksByJobIDAll(ctx context.Context, jobID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+taskColumns+` FROM tasks WHERE job_id = ? ORDER BY created_at DESC`, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectTasks(rows)
}

// UpdateTaskStatus transitions a task. Terminal states are latched: the
// update is silently skipped (applied=false) when the task is already
// terminal, so a late "running" progress ping cannot regress a completed
// task.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status types.TaskStatus, progress int, errMsg *string) (bool, error) {
	now := fmtTime(time.Now().UTC())

	var finishedAt any
	if status.IsTerminal() {
		finishedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
	UPDATE tasks SET
		status = ?,
		progress = ?,
		error = COALESCE(?, error),
		started_at = COALESCE(started_at, ?),
		finished_at = COALESCE(?, finished_at),
		updated_at = ?
	WHERE id = ? AND status NOT IN ('completed', 'failed', 'canceled')`,
		string(status), progress, errMsg, now, finishedAt, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListStuckTasks returns non-terminal tasks that have not been touched
// since cutoff. Used by the reconciler to time out abandoned jobs.
func (s *Store) ListStuckTasks(ctx context.Context, cutoff time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+taskColumns+` FROM tasks
	WHERE status NOT IN ('completed', 'failed', 'canceled') AND updated_at < ?
	ORDER BY updated_at`, fmtTime(cutoff.UTC()))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectTasks(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t          Task
		kind       string
		engine     string
		targetType string
		status     string
		payload    sql.NullString
		createdAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
		updatedAt  string
	)
	err := row.Scan(&t.ID, &t.UserID, &kind, &engine, &targetType, &t.TargetID, &t.JobID,
		&status, &t.Progress, &t.Error, &payload, &createdAt, &startedAt, &finishedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t.Kind = types.TaskKind(kind)
	t.Engine = types.Engine(engine)
	t.TargetType = types.TargetType(targetType)
	t.Status = types.TaskStatus(status)
	if payload.Valid {
		t.Payload = []byte(payload.String)
	}
	t.CreatedAt = parseTime(createdAt)
	t.StartedAt = parseTimePtr(startedAt)
	t.FinishedAt = parseTimePtr(finishedAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
