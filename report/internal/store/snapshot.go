package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertSnapshot stores a capture snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, sn *Snapshot) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO snapshots (id, competitor_id, source, title, text,
			content_hash, status_code, capture_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sn.ID, sn.CompetitorID, sn.Source, sn.Title, sn.Text,
		sn.ContentHash, sn.StatusCode, sn.CaptureMs, sn.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a competitor,
// or (nil, nil) when none exists.
func (s *Store) LatestSnapshot(ctx context.Context, competitorID string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, competitor_id, source, title, text,
			content_hash, status_code, capture_ms, created_at
		FROM snapshots WHERE competitor_id = ?
		ORDER BY created_at DESC LIMIT 1`, competitorID)
	sn, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return sn, nil
}

// LatestSnapshots returns up to n most recent snapshots for a competitor,
// newest first.
func (s *Store) LatestSnapshots(ctx context.Context, competitorID string, n int) ([]*Snapshot, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, competitor_id, source, title, text,
			content_hash, status_code, capture_ms, created_at
		FROM snapshots WHERE competitor_id = ?
		ORDER BY created_at DESC LIMIT ?`, competitorID, n)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.ID, &sn.CompetitorID, &sn.Source, &sn.Title, &sn.Text,
			&sn.ContentHash, &sn.StatusCode, &sn.CaptureMs, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, &sn)
	}
	return out, rows.Err()
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var sn Snapshot
	err := row.Scan(&sn.ID, &sn.CompetitorID, &sn.Source, &sn.Title, &sn.Text,
		&sn.ContentHash, &sn.StatusCode, &sn.CaptureMs, &sn.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sn, nil
}
