package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/rivalscope/rivalscope/idgen"
)

// Event represents a domain-level pipeline event to record.
type Event struct {
	Type       string // "task", "collection", "schedule"
	EntityType string // "report_task", "project", "report_schedule"
	EntityID   string
	ProjectID  string
	Action     string // "enqueued", "completed", "retried", "cancelled", ...
	Details    string // optional JSON
	Success    bool
}

// EventLogger writes pipeline events to the observability database.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records an event. Errors are logged via slog but never propagate, so
// a failing observability store cannot fail a report task.
func (l *EventLogger) Log(ctx context.Context, event Event) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (
			event_id, event_type, entity_type, entity_id, project_id,
			action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.Type, event.EntityType, event.EntityID, event.ProjectID,
		event.Action, event.Details, event.Success, time.Now().UnixMilli())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", event.Type, "action", event.Action)
	}
}

// Recent returns the latest n events of a given type (empty type = all).
func (l *EventLogger) Recent(ctx context.Context, eventType string, n int) ([]Event, error) {
	q := `SELECT event_type, entity_type, entity_id, project_id, action,
	             COALESCE(details, ''), success
	      FROM pipeline_events`
	args := []any{}
	if eventType != "" {
		q += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, n)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Type, &e.EntityType, &e.EntityID, &e.ProjectID,
			&e.Action, &e.Details, &e.Success); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
