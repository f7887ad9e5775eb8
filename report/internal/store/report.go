package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertReport stores a finished report and its quality assessment.
func (s *Store) InsertReport(ctx context.Context, r *ReportRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reports (id, task_id, project_id, title, report_json,
			assessment_json, completeness_score, freshness_tier,
			confidence_score, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.ProjectID, r.Title, r.ReportJSON,
		r.AssessmentJSON, r.CompletenessScore, r.FreshnessTier,
		r.ConfidenceScore, r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetReport returns a report by id, or (nil, nil) when absent.
func (s *Store) GetReport(ctx context.Context, id string) (*ReportRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task_id, project_id, title, report_json,
			assessment_json, completeness_score, freshness_tier,
			confidence_score, status, created_at
		FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// ReportForTask returns the report produced by a task, or (nil, nil).
func (s *Store) ReportForTask(ctx context.Context, taskID string) (*ReportRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task_id, project_id, title, report_json,
			assessment_json, completeness_score, freshness_tier,
			confidence_score, status, created_at
		FROM reports WHERE task_id = ?
		ORDER BY created_at DESC LIMIT 1`, taskID)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report for task: %w", err)
	}
	return r, nil
}

// ReportsForProject returns the reports of a project, newest first.
func (s *Store) ReportsForProject(ctx context.Context, projectID string, limit int) ([]*ReportRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, project_id, title, report_json,
			assessment_json, completeness_score, freshness_tier,
			confidence_score, status, created_at
		FROM reports WHERE project_id = ?
		ORDER BY created_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("reports for project: %w", err)
	}
	defer rows.Close()

	var out []*ReportRecord
	for rows.Next() {
		var r ReportRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.ProjectID, &r.Title, &r.ReportJSON,
			&r.AssessmentJSON, &r.CompletenessScore, &r.FreshnessTier,
			&r.ConfidenceScore, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanReport(row *sql.Row) (*ReportRecord, error) {
	var r ReportRecord
	err := row.Scan(&r.ID, &r.TaskID, &r.ProjectID, &r.Title, &r.ReportJSON,
		&r.AssessmentJSON, &r.CompletenessScore, &r.FreshnessTier,
		&r.ConfidenceScore, &r.Status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
