// Package ptq implements the Priority Task Queue backing the report
// orchestrator, stored in SQLite.
//
// Rows are claimed in (priority, created_at, rowid) order: lower priority
// numbers first, FIFO within the same priority. Timestamps are millisecond
// resolution, so rowid breaks ties between jobs published in the same
// millisecond in insert order. A claimed row is invisible to other
// consumers for a configurable duration. If the holder finishes it acks
// (deletes) the row; if the holder crashes or exceeds the visibility window
// the row reappears and another worker can claim it. NackDelay reschedules a
// failed row into the future, which is how retry backoff is expressed.
//
// The queue is pure SQLite — no external broker. The table doubles as the
// durable record of pending work: anything not yet terminal has a row here.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS ptq_jobs (
//	    id          TEXT PRIMARY KEY,
//	    queue       TEXT NOT NULL DEFAULT '',
//	    priority    INTEGER NOT NULL DEFAULT 2,  -- 1 high, 2 normal, 3 low
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- milliseconds since epoch
//	    created_at  INTEGER NOT NULL,            -- milliseconds since epoch
//	    attempts    INTEGER NOT NULL DEFAULT 0
//	);
package ptq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// Job is a row in the queue.
type Job struct {
	ID        string
	Queue     string
	Priority  int
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Stats is a point-in-time view of queue depth.
type Stats struct {
	Waiting int // visible rows, claimable now
	Active  int // claimed rows, currently invisible
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name. Multiple queues can coexist in the
	// same table. Default: "" (the default queue).
	Queue string
	// Visibility is how long a claimed job stays invisible. Should exceed
	// the longest expected task processing time. Default: 5m.
	Visibility time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the ptq_jobs table and index if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ptq_jobs (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL DEFAULT '',
			priority    INTEGER NOT NULL DEFAULT 2,
			payload     BLOB,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_ptq_claim ON ptq_jobs (queue, visible_at, priority, created_at);
	`)
	return err
}

// Publish inserts a job that is immediately visible.
func (q *Q) Publish(ctx context.Context, id string, priority int, payload []byte) error {
	return q.PublishDelayed(ctx, id, priority, payload, 0)
}

// PublishDelayed inserts a job that becomes visible after delay.
func (q *Q) PublishDelayed(ctx context.Context, id string, priority int, payload []byte, delay time.Duration) error {
	now := time.Now()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO ptq_jobs (id, queue, priority, payload, visible_at, created_at) VALUES (?,?,?,?,?,?)`,
		id, q.opts.Queue, priority, payload, now.Add(delay).UnixMilli(), now.UnixMilli(),
	)
	return err
}

// Claim atomically picks the best visible job — lowest priority number,
// oldest first within a priority, insert order breaking same-millisecond
// ties — marks it invisible for the configured
// visibility duration, and returns it. Returns nil, nil if nothing is
// claimable.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE ptq_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM ptq_jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY priority ASC, created_at ASC, rowid ASC
			LIMIT 1
		)
		RETURNING id, queue, priority, payload, visible_at, created_at, attempts`,
		hideUntil, q.opts.Queue, now.UnixMilli(),
	)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// Ack deletes a successfully processed (or cancelled) job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM ptq_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Nack makes a job immediately visible again.
func (q *Q) Nack(ctx context.Context, id string) error {
	return q.NackDelay(ctx, id, 0)
}

// NackDelay reschedules a job to become visible after delay. The attempts
// counter is preserved; retry backoff composes on top of it.
func (q *Q) NackDelay(ctx context.Context, id string, delay time.Duration) error {
	visibleAt := int64(0)
	if delay > 0 {
		visibleAt = time.Now().Add(delay).UnixMilli()
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE ptq_jobs SET visible_at = ? WHERE id = ? AND queue = ?`,
		visibleAt, id, q.opts.Queue,
	)
	return err
}

// Remove deletes a job regardless of its visibility state. Returns true if
// a row was deleted. Used by task cancellation: the orchestrator only calls
// this for tasks it knows are not in a worker's hands.
func (q *Q) Remove(ctx context.Context, id string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM ptq_jobs WHERE id = ? AND queue = ?`,
		id, q.opts.Queue,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Position returns the 0-based claim position of a visible job: how many
// jobs would be claimed before it. Returns -1 if the job is not visible
// (claimed, scheduled for later, or gone).
func (q *Q) Position(ctx context.Context, id string) (int, error) {
	now := time.Now().UnixMilli()
	var priority, createdAt, rowid int64
	err := q.db.QueryRowContext(ctx,
		`SELECT priority, created_at, rowid FROM ptq_jobs WHERE id = ? AND queue = ? AND visible_at <= ?`,
		id, q.opts.Queue, now,
	).Scan(&priority, &createdAt, &rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}

	var ahead int
	err = q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ptq_jobs
		WHERE queue = ? AND visible_at <= ?
		  AND (priority < ?
		       OR (priority = ? AND created_at < ?)
		       OR (priority = ? AND created_at = ? AND rowid < ?))`,
		q.opts.Queue, now, priority, priority, createdAt, priority, createdAt, rowid,
	).Scan(&ahead)
	return ahead, err
}

// QueueStats counts waiting (visible) and active (invisible) jobs.
func (q *Q) QueueStats(ctx context.Context) (Stats, error) {
	now := time.Now().UnixMilli()
	var s Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN visible_at <= ? THEN 1 END),
			COUNT(CASE WHEN visible_at > ? THEN 1 END)
		FROM ptq_jobs WHERE queue = ?`,
		now, now, q.opts.Queue,
	).Scan(&s.Waiting, &s.Active)
	return s, err
}

// Extend pushes the visibility timeout forward for a job that needs more
// processing time (heartbeat pattern). It only ever moves visible_at
// later, so an early heartbeat cannot shorten the window granted at
// claim time.
func (q *Q) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE ptq_jobs SET visible_at = MAX(visible_at, ?) WHERE id = ? AND queue = ?`,
		hideUntil, id, q.opts.Queue,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var visAt, creAt int64
	if err := row.Scan(&j.ID, &j.Queue, &j.Priority, &j.Payload, &visAt, &creAt, &j.Attempts); err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}
