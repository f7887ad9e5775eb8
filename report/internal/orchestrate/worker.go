package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rivalscope/rivalscope/ptq"
)

// worker claims and executes tasks until ctx is cancelled.
func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	log := o.config.Logger.With("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := o.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed", "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.config.PollInterval):
			}
			continue
		}

		o.execute(ctx, job, log.With("task_id", job.ID))
	}
}

// startHeartbeat keeps the held job invisible while it runs. Each tick
// pushes the visibility timeout two intervals ahead, so the row cannot
// reappear and be claimed by a second worker mid-capture.
func (o *Orchestrator) startHeartbeat(ctx context.Context, jobID string, log *slog.Logger) func() {
	hbCtx, stop := context.WithCancel(ctx)
	interval := o.config.HeartbeatInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := o.queue.Extend(hbCtx, jobID, 2*interval); err != nil && hbCtx.Err() == nil {
					log.Warn("visibility extend failed", "error", err)
				}
			}
		}
	}()
	return stop
}

// execute runs one claimed job through the pipeline and writes its terminal
// state. The job is always acked: requeueing is a Retry decision — automatic
// while retries remain, explicit past that — never an accident of the
// visibility timeout.
func (o *Orchestrator) execute(ctx context.Context, job *ptq.Job, log *slog.Logger) {
	var p payload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.TaskID == "" {
		log.Error("malformed job payload, dropping", "error", err)
		_ = o.queue.Ack(ctx, job.ID)
		return
	}

	task, err := o.store.GetTask(ctx, p.TaskID)
	if err != nil {
		log.Error("task load failed, returning job to queue", "error", err)
		_ = o.queue.Nack(ctx, job.ID)
		return
	}
	if task == nil || task.State == StateCancelled {
		// Cancelled (or vanished) between claim and load: drop silently.
		_ = o.queue.Ack(ctx, job.ID)
		return
	}

	start := time.Now()
	now := start.UnixMilli()
	_ = o.store.UpdateTaskState(ctx, task.ID, StateProcessing, "", now)
	o.setStatus(&Status{TaskID: task.ID, State: StateProcessing, Progress: 10, CurrentStep: "starting"})
	_ = o.store.UpdateTaskProgress(ctx, task.ID, 10, "starting", now)

	taskCtx, cancel := context.WithTimeout(ctx, o.config.TaskTimeout)
	o.setCancel(task.ID, cancel)
	stopHeartbeat := o.startHeartbeat(ctx, job.ID, log)
	defer func() {
		stopHeartbeat()
		o.clearCancel(task.ID)
		cancel()
	}()

	progress := func(pct int, step string) {
		o.setStatus(&Status{TaskID: task.ID, State: StateProcessing, Progress: pct, CurrentStep: step})
		_ = o.store.UpdateTaskProgress(ctx, task.ID, pct, step, time.Now().UnixMilli())
	}

	runErr := o.run(taskCtx, task, progress)
	// Stop before any terminal write: a stale extend could otherwise land
	// on a row Retry has just republished and postpone the retry.
	stopHeartbeat()

	// Cancellation may have landed while the task ran; the terminal state
	// is then already cancelled and the result is discarded.
	if cur, err := o.store.GetTask(ctx, task.ID); err == nil && cur != nil && cur.State == StateCancelled {
		_ = o.queue.Ack(ctx, job.ID)
		log.Info("task abandoned after cancel")
		return
	}

	end := time.Now().UnixMilli()
	if runErr != nil {
		msg := runErr.Error()
		if errors.Is(runErr, context.DeadlineExceeded) {
			msg = "processing timeout exceeded"
		}
		_ = o.store.UpdateTaskState(ctx, task.ID, StateFailed, msg, end)
		o.setStatus(&Status{TaskID: task.ID, State: StateFailed, Progress: task.Progress, Err: msg})
		_ = o.queue.Ack(ctx, job.ID)
		log.Warn("task failed", "error", runErr, "duration_ms", time.Since(start).Milliseconds())

		// Transient failures reschedule themselves with backoff while the
		// retry budget lasts. task.RetryCount is the pre-attempt value, so
		// the comparison counts this attempt. Skipped during shutdown.
		if ctx.Err() == nil && task.RetryCount < task.MaxRetries {
			if rErr := o.Retry(ctx, task.ID); rErr != nil {
				log.Warn("automatic retry not scheduled", "error", rErr)
			}
		}
		return
	}

	_ = o.store.UpdateTaskProgress(ctx, task.ID, 100, "completed", end)
	_ = o.store.UpdateTaskState(ctx, task.ID, StateCompleted, "", end)
	o.setStatus(&Status{TaskID: task.ID, State: StateCompleted, Progress: 100, CurrentStep: "completed"})
	_ = o.queue.Ack(ctx, job.ID)
	o.recordDuration(time.Since(start))
	log.Info("task completed", "duration_ms", time.Since(start).Milliseconds())
}
