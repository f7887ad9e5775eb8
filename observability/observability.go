// Package observability provides SQLite-native monitoring for the report
// pipeline: domain events (task transitions, collection outcomes), buffered
// timeseries metrics, and worker heartbeats.
//
// Everything writes to a dedicated observability database, separate from the
// application store to avoid write contention. All persistence is async and
// non-blocking: a failing observability store never blocks report work.
package observability

import "database/sql"

// Schema contains the complete DDL for the observability tables.
const Schema = `
-- Pipeline events: task state transitions, collection outcomes, schedule runs.
CREATE TABLE IF NOT EXISTS pipeline_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    entity_type TEXT,
    entity_id   TEXT,
    project_id  TEXT,
    action      TEXT NOT NULL,
    details     TEXT,
    success     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type_time
    ON pipeline_events(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_entity
    ON pipeline_events(entity_type, entity_id);

-- Metrics timeseries: queue depth, task durations, completeness scores.
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id   TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

-- Worker heartbeats: report-worker liveness.
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id     TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name      TEXT NOT NULL,
    hostname         TEXT NOT NULL,
    worker_pid       INTEGER NOT NULL,
    timestamp        INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb  REAL
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);
`

// Init applies the observability schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
