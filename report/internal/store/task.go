package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertTask stores a new task row in state queued.
func (s *Store) InsertTask(ctx context.Context, t *TaskRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, kind, priority, state, progress,
			current_step, retry_count, max_retries, last_error,
			require_fresh, allow_fallback, max_duration_ms,
			scheduled_for, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Kind, t.Priority, t.State, t.Progress,
		t.CurrentStep, t.RetryCount, t.MaxRetries, t.LastError,
		boolToInt(t.RequireFresh), boolToInt(t.AllowFallback), t.MaxDurationMs,
		t.ScheduledFor, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns a task by id, or (nil, nil) when absent.
func (s *Store) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, project_id, kind, priority, state, progress, current_step,
			retry_count, max_retries, last_error,
			require_fresh, allow_fallback, max_duration_ms,
			scheduled_for, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTaskState moves a task to a new state. lastErr may be empty.
func (s *Store) UpdateTaskState(ctx context.Context, id, state, lastErr string, now int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tasks SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		state, lastErr, now, id)
	if err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	return nil
}

// UpdateTaskProgress records a progress milestone and the step behind it.
func (s *Store) UpdateTaskProgress(ctx context.Context, id string, progress int, step string, now int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tasks SET progress = ?, current_step = ?, updated_at = ? WHERE id = ?`,
		progress, step, now, id)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// IncrementTaskRetry bumps retry_count when a task is requeued after a
// transient failure, and returns the new count.
func (s *Store) IncrementTaskRetry(ctx context.Context, id, lastErr string, now int64) (int, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE tasks
		SET retry_count = retry_count + 1, state = 'queued',
		    last_error = ?, updated_at = ?
		WHERE id = ?
		RETURNING retry_count`, lastErr, now, id)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("increment task retry: %w", err)
	}
	return n, nil
}

// CountTasksByState returns how many tasks sit in the given state.
func (s *Store) CountTasksByState(ctx context.Context, state string) (int, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE state = ?`, state)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks by state: %w", err)
	}
	return n, nil
}

// TasksForProject returns a project's tasks, newest first.
func (s *Store) TasksForProject(ctx context.Context, projectID string, limit int) ([]*TaskRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, project_id, kind, priority, state, progress, current_step,
			retry_count, max_retries, last_error,
			require_fresh, allow_fallback, max_duration_ms,
			scheduled_for, created_at, updated_at
		FROM tasks WHERE project_id = ?
		ORDER BY created_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks for project: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		var t TaskRecord
		var fresh, fallback int
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Kind, &t.Priority, &t.State,
			&t.Progress, &t.CurrentStep, &t.RetryCount, &t.MaxRetries, &t.LastError,
			&fresh, &fallback, &t.MaxDurationMs,
			&t.ScheduledFor, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.RequireFresh = fresh != 0
		t.AllowFallback = fallback != 0
		out = append(out, &t)
	}
	return out, rows.Err()
}

func scanTask(row *sql.Row) (*TaskRecord, error) {
	var t TaskRecord
	var fresh, fallback int
	err := row.Scan(&t.ID, &t.ProjectID, &t.Kind, &t.Priority, &t.State,
		&t.Progress, &t.CurrentStep, &t.RetryCount, &t.MaxRetries, &t.LastError,
		&fresh, &fallback, &t.MaxDurationMs,
		&t.ScheduledFor, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.RequireFresh = fresh != 0
	t.AllowFallback = fallback != 0
	return &t, nil
}
