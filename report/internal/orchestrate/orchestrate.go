// Package orchestrate runs report tasks through a bounded worker pool.
//
// Tasks move queued → processing → completed, failed, or cancelled. The
// durable record of every transition is the store's task row; the
// in-memory status map only caches those rows for cheap polling. Queue
// ordering and visibility come from ptq, so a crashed worker's task
// reappears on its own once the visibility timeout lapses.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rivalscope/rivalscope/ptq"
	"github.com/rivalscope/rivalscope/report/internal/store"
)

// Task states. not_found is a query answer for unknown ids, never stored.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
	StateNotFound   = "not_found"
)

// Priorities. Lower claims first.
const (
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

// PriorityFromString maps the API-level priority names.
func PriorityFromString(s string) (int, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("orchestrate: unknown priority %q", s)
}

var (
	// ErrQueueCritical rejects new work while the backlog is unsafe.
	ErrQueueCritical = errors.New("orchestrate: queue is at critical capacity")
	// ErrRetriesExhausted marks a task past its retry budget.
	ErrRetriesExhausted = errors.New("orchestrate: retries exhausted")
	// ErrNotRetryable means the task is not in the failed state.
	ErrNotRetryable = errors.New("orchestrate: task is not in a retryable state")
	// ErrNotCancellable means the task already reached a terminal state.
	ErrNotCancellable = errors.New("orchestrate: task is not in a cancellable state")
	// ErrTaskNotFound means no task row exists for the id.
	ErrTaskNotFound = errors.New("orchestrate: task not found")
)

// Queue health thresholds over waiting+active.
const (
	healthDegradedAbove = 50
	healthCriticalAbove = 100
)

// Backoff for retried tasks: base doubling per retry, capped.
const (
	retryBackoffBase = 2 * time.Second
	retryBackoffCap  = 5 * time.Minute
)

// Status is the polling view of one task.
type Status struct {
	TaskID      string `json:"task_id"`
	State       string `json:"state"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step"`
	Err         string `json:"error,omitempty"`
}

// Health is a point-in-time queue health summary.
type Health struct {
	Status    string `json:"status"` // healthy | degraded | critical
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// EnqueueResult tells a submitter where their task landed.
type EnqueueResult struct {
	TaskID              string        `json:"task_id"`
	QueuePosition       int           `json:"queue_position"`
	EstimatedCompletion time.Duration `json:"estimated_completion"`
	// FallbackHorizon is how long a submitter should wait synchronously
	// before treating the task as queued-for-later.
	FallbackHorizon time.Duration `json:"fallback_horizon"`
}

// RunFunc executes one task. progress reports coarse milestones; the error
// decides between failed and completed.
type RunFunc func(ctx context.Context, task *store.TaskRecord, progress func(pct int, step string)) error

// Config configures the orchestrator.
type Config struct {
	Workers         int           // Default: 3.
	TaskTimeout     time.Duration // Per-task processing timeout. Default: 180s.
	FallbackHorizon time.Duration // Sync-wait horizon for submitters. Default: 300s.
	MaxRetries      int           // Default: 3.
	RetryBackoff    time.Duration // Base retry backoff, doubles per retry. Default: 2s.
	// HeartbeatInterval is how often a worker extends the visibility of
	// the job it holds, so slow captures never outlive the queue's
	// visibility window and get claimed twice. Default: 60s.
	HeartbeatInterval time.Duration
	PollInterval      time.Duration // Idle claim interval. Default: 500ms.
	Logger            *slog.Logger
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 180 * time.Second
	}
	if c.FallbackHorizon <= 0 {
		c.FallbackHorizon = 300 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = retryBackoffBase
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Orchestrator owns the worker pool and the task state machine.
type Orchestrator struct {
	store  *store.Store
	queue  *ptq.Q
	run    RunFunc
	config Config

	mu       sync.RWMutex
	statuses map[string]*Status         // cache over task rows
	cancels  map[string]context.CancelFunc

	// avg task duration for completion estimates
	durMu    sync.Mutex
	durSum   time.Duration
	durCount int

	wg   sync.WaitGroup
	stop context.CancelFunc
}

// New creates an Orchestrator. Call Start to launch the workers.
func New(st *store.Store, queue *ptq.Q, run RunFunc, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		store:    st,
		queue:    queue,
		run:      run,
		config:   cfg,
		statuses: make(map[string]*Status),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.stop = cancel
	for i := 0; i < o.config.Workers; i++ {
		o.wg.Add(1)
		go o.worker(runCtx, i)
	}
	o.config.Logger.Info("orchestrator started", "workers", o.config.Workers)
}

// Stop cancels the workers and waits for in-flight tasks to settle.
func (o *Orchestrator) Stop() {
	if o.stop != nil {
		o.stop()
	}
	o.wg.Wait()
}

type payload struct {
	TaskID string `json:"task_id"`
}

// Enqueue accepts a new task unless the queue is critical. The task row is
// written first, so a crash between the insert and the publish leaves an
// orphaned queued row rather than an untracked queue entry.
func (o *Orchestrator) Enqueue(ctx context.Context, task *store.TaskRecord) (*EnqueueResult, error) {
	h, err := o.HealthCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	if h.Status == "critical" {
		return nil, ErrQueueCritical
	}

	now := time.Now().UnixMilli()
	task.State = StateQueued
	if task.MaxRetries <= 0 {
		task.MaxRetries = o.config.MaxRetries
	}
	task.CreatedAt = now
	task.UpdatedAt = now
	if err := o.store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	body, _ := json.Marshal(payload{TaskID: task.ID})
	if err := o.queue.Publish(ctx, task.ID, task.Priority, body); err != nil {
		return nil, fmt.Errorf("publish task: %w", err)
	}

	o.setStatus(&Status{TaskID: task.ID, State: StateQueued})

	pos, err := o.queue.Position(ctx, task.ID)
	if err != nil || pos < 0 {
		pos = 0
	}

	res := &EnqueueResult{
		TaskID:              task.ID,
		QueuePosition:       pos,
		EstimatedCompletion: o.estimateCompletion(pos),
		FallbackHorizon:     o.config.FallbackHorizon,
	}
	o.config.Logger.Info("task enqueued",
		"task_id", task.ID,
		"project_id", task.ProjectID,
		"priority", task.Priority,
		"position", pos)
	return res, nil
}

// estimateCompletion spreads the queue ahead of this task across the pool
// using the observed average task duration.
func (o *Orchestrator) estimateCompletion(position int) time.Duration {
	o.durMu.Lock()
	avg := 60 * time.Second
	if o.durCount > 0 {
		avg = o.durSum / time.Duration(o.durCount)
	}
	o.durMu.Unlock()
	return time.Duration(position+1) * avg / time.Duration(o.config.Workers)
}

func (o *Orchestrator) recordDuration(d time.Duration) {
	o.durMu.Lock()
	o.durSum += d
	o.durCount++
	o.durMu.Unlock()
}

// GetStatus returns the live status of a task. Unknown ids get
// State=not_found rather than an error.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID string) (*Status, error) {
	o.mu.RLock()
	st, ok := o.statuses[taskID]
	o.mu.RUnlock()
	if ok {
		cp := *st
		return &cp, nil
	}

	// Cache miss: the task may predate this process. Rehydrate from the
	// durable row.
	row, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &Status{TaskID: taskID, State: StateNotFound}, nil
	}
	st = &Status{
		TaskID:      row.ID,
		State:       row.State,
		Progress:    row.Progress,
		CurrentStep: row.CurrentStep,
		Err:         row.LastError,
	}
	o.setStatus(st)
	cp := *st
	return &cp, nil
}

// HealthCheck summarizes queue depth and terminal counts.
func (o *Orchestrator) HealthCheck(ctx context.Context) (*Health, error) {
	stats, err := o.queue.QueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	completed, err := o.store.CountTasksByState(ctx, StateCompleted)
	if err != nil {
		return nil, err
	}
	failed, err := o.store.CountTasksByState(ctx, StateFailed)
	if err != nil {
		return nil, err
	}

	h := &Health{
		Waiting:   stats.Waiting,
		Active:    stats.Active,
		Completed: completed,
		Failed:    failed,
	}
	switch backlog := stats.Waiting + stats.Active; {
	case backlog > healthCriticalAbove:
		h.Status = "critical"
	case backlog > healthDegradedAbove:
		h.Status = "degraded"
	default:
		h.Status = "healthy"
	}
	return h, nil
}

// Retry requeues a failed task with exponential backoff. Legal only from
// the failed state; past MaxRetries it fails permanently. Workers call
// this themselves after a transient failure while retries remain; the
// API exposes it for manual retries on top of that.
func (o *Orchestrator) Retry(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	if task.State != StateFailed {
		return fmt.Errorf("%w: state is %s", ErrNotRetryable, task.State)
	}
	if task.RetryCount >= task.MaxRetries {
		return fmt.Errorf("%w: %d of %d retries used", ErrRetriesExhausted,
			task.RetryCount, task.MaxRetries)
	}

	now := time.Now().UnixMilli()
	count, err := o.store.IncrementTaskRetry(ctx, taskID, task.LastError, now)
	if err != nil {
		return err
	}

	delay := o.retryBackoff(count)
	body, _ := json.Marshal(payload{TaskID: taskID})
	if err := o.queue.PublishDelayed(ctx, taskID, task.Priority, body, delay); err != nil {
		return fmt.Errorf("republish task: %w", err)
	}

	o.setStatus(&Status{TaskID: taskID, State: StateQueued, CurrentStep: "retry scheduled"})
	o.config.Logger.Info("task retry scheduled",
		"task_id", taskID, "retry", count, "delay", delay.String())
	return nil
}

// retryBackoff doubles per attempt from the configured base, capped.
func (o *Orchestrator) retryBackoff(retryCount int) time.Duration {
	d := o.config.RetryBackoff
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= retryBackoffCap {
			return retryBackoffCap
		}
	}
	return d
}

// Cancel stops a queued or processing task. Queued tasks leave the queue
// immediately; processing tasks are cancelled cooperatively and their
// results discarded.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}

	now := time.Now().UnixMilli()
	switch task.State {
	case StateQueued:
		// Not in any worker's hands: delete the queue row outright.
		if _, err := o.queue.Remove(ctx, taskID); err != nil {
			return fmt.Errorf("remove queued task: %w", err)
		}
		if err := o.store.UpdateTaskState(ctx, taskID, StateCancelled, "", now); err != nil {
			return err
		}
	case StateProcessing:
		// The state write must land before the worker's context fires, so
		// the worker sees cancelled and discards its result.
		if err := o.store.UpdateTaskState(ctx, taskID, StateCancelled, "", now); err != nil {
			return err
		}
		o.mu.RLock()
		cancel, ok := o.cancels[taskID]
		o.mu.RUnlock()
		if ok {
			cancel()
		}
	default:
		return fmt.Errorf("%w: state is %s", ErrNotCancellable, task.State)
	}
	o.setStatus(&Status{TaskID: taskID, State: StateCancelled})
	o.config.Logger.Info("task cancelled", "task_id", taskID, "was", task.State)
	return nil
}

func (o *Orchestrator) setStatus(st *Status) {
	o.mu.Lock()
	o.statuses[st.TaskID] = st
	o.mu.Unlock()
}

func (o *Orchestrator) setCancel(taskID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[taskID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) clearCancel(taskID string) {
	o.mu.Lock()
	delete(o.cancels, taskID)
	o.mu.Unlock()
}
