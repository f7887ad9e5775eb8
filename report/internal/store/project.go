package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertProject stores a new project.
func (s *Store) InsertProject(ctx context.Context, p *Project) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO projects (id, name, industry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Industry, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject returns a project by id, or (nil, nil) when absent.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, industry, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Industry, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// InsertProduct stores the form-supplied subject product for a project.
func (s *Store) InsertProduct(ctx context.Context, p *Product) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO products (id, project_id, name, url, industry, positioning,
			features, pricing, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, p.Name, p.URL, p.Industry, p.Positioning,
		p.Features, p.Pricing, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// ProductForProject returns the subject product of a project, or (nil, nil).
func (s *Store) ProductForProject(ctx context.Context, projectID string) (*Product, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, project_id, name, url, industry, positioning,
			features, pricing, created_at, updated_at
		FROM products WHERE project_id = ?
		ORDER BY created_at DESC LIMIT 1`, projectID)
	var p Product
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.URL, &p.Industry,
		&p.Positioning, &p.Features, &p.Pricing, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("product for project: %w", err)
	}
	return &p, nil
}

// InsertCompetitor stores a tracked competitor.
func (s *Store) InsertCompetitor(ctx context.Context, c *Competitor) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO competitors (id, project_id, name, url, industry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Name, c.URL, c.Industry, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert competitor: %w", err)
	}
	return nil
}

// CompetitorsForProject returns the competitors tracked by a project,
// oldest first.
func (s *Store) CompetitorsForProject(ctx context.Context, projectID string) ([]*Competitor, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, project_id, name, url, industry, created_at, updated_at
		FROM competitors WHERE project_id = ?
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("competitors for project: %w", err)
	}
	defer rows.Close()

	var out []*Competitor
	for rows.Next() {
		var c Competitor
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.URL, &c.Industry,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
