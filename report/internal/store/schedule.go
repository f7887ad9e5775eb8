package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertSchedule stores a new recurring schedule.
func (s *Store) InsertSchedule(ctx context.Context, sc *Schedule) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO schedules (id, project_id, frequency, template, volatility,
			next_run, execution_count, failure_count, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.ProjectID, sc.Frequency, sc.Template, sc.Volatility,
		sc.NextRun, sc.ExecutionCount, sc.FailureCount, boolToInt(sc.IsActive),
		sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetSchedule returns a schedule by id, or (nil, nil) when absent.
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, project_id, frequency, template, volatility, next_run,
			execution_count, failure_count, is_active, created_at, updated_at
		FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

// DueSchedules returns active schedules whose next_run is at or before now,
// soonest first.
func (s *Store) DueSchedules(ctx context.Context, now int64, limit int) ([]*Schedule, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, project_id, frequency, template, volatility, next_run,
			execution_count, failure_count, is_active, created_at, updated_at
		FROM schedules
		WHERE is_active = 1 AND next_run <= ?
		ORDER BY next_run ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		var sc Schedule
		var active int
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.Frequency, &sc.Template,
			&sc.Volatility, &sc.NextRun, &sc.ExecutionCount, &sc.FailureCount,
			&active, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		sc.IsActive = active != 0
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// UpdateScheduleRun records the outcome of one schedule firing and moves
// next_run forward.
func (s *Store) UpdateScheduleRun(ctx context.Context, id string, nextRun int64, failed bool, now int64) error {
	failureInc := 0
	if failed {
		failureInc = 1
	}
	_, err := s.DB.ExecContext(ctx, `
		UPDATE schedules
		SET next_run = ?,
		    execution_count = execution_count + 1,
		    failure_count = failure_count + ?,
		    updated_at = ?
		WHERE id = ?`, nextRun, failureInc, now, id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

// DeactivateSchedule marks a schedule inactive. Schedules are never deleted,
// so history queries keep working. Returns false when the id is unknown.
func (s *Store) DeactivateSchedule(ctx context.Context, id string, now int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE schedules SET is_active = 0, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return false, fmt.Errorf("deactivate schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanSchedule(row *sql.Row) (*Schedule, error) {
	var sc Schedule
	var active int
	err := row.Scan(&sc.ID, &sc.ProjectID, &sc.Frequency, &sc.Template,
		&sc.Volatility, &sc.NextRun, &sc.ExecutionCount, &sc.FailureCount,
		&active, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sc.IsActive = active != 0
	return &sc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
