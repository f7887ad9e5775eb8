// Package store provides the data access layer for the report pipeline.
//
// The store receives an already-opened *sql.DB (see dbopen) and owns every
// query against the application database: projects and their products and
// competitors, capture snapshots, finished reports, schedules, and the
// durable task records that back the orchestrator's status map.
package store

import "database/sql"

// Store wraps the application database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Init applies the schema.
func (s *Store) Init() error {
	_, err := s.DB.Exec(Schema)
	return err
}
