package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rivalscope/rivalscope/dbopen"
	"github.com/rivalscope/rivalscope/ptq"
	"github.com/rivalscope/rivalscope/report/internal/store"
)

func openInfra(t *testing.T) (*store.Store, *ptq.Q) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	st := store.NewStore(db)
	if err := st.Init(); err != nil {
		t.Fatalf("store schema: %v", err)
	}
	q := ptq.New(db, ptq.Options{Visibility: 30 * time.Second})
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatalf("queue schema: %v", err)
	}
	return st, q
}

func newTask(id string, priority int) *store.TaskRecord {
	return &store.TaskRecord{
		ID:        id,
		ProjectID: "prj_1",
		Kind:      "report",
		Priority:  priority,
	}
}

// waitForState polls until the task reaches state or the deadline passes.
func waitForState(t *testing.T, o *Orchestrator, taskID, state string) *Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st, err := o.GetStatus(context.Background(), taskID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.State == state {
			return st
		}
		time.Sleep(20 * time.Millisecond)
	}
	st, _ := o.GetStatus(context.Background(), taskID)
	t.Fatalf("task %s never reached %s (last: %+v)", taskID, state, st)
	return nil
}

func TestEnqueueAndComplete(t *testing.T) {
	st, q := openInfra(t)
	o := New(st, q, func(ctx context.Context, task *store.TaskRecord, progress func(int, string)) error {
		progress(30, "data_collection")
		progress(60, "synthesis")
		return nil
	}, Config{Workers: 1, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	res, err := o.Enqueue(context.Background(), newTask("tsk_1", PriorityNormal))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res.TaskID != "tsk_1" || res.FallbackHorizon != 300*time.Second {
		t.Fatalf("enqueue result: %+v", res)
	}
	if res.EstimatedCompletion <= 0 {
		t.Fatalf("estimate: %v", res.EstimatedCompletion)
	}

	status := waitForState(t, o, "tsk_1", StateCompleted)
	if status.Progress != 100 {
		t.Fatalf("progress: %d", status.Progress)
	}

	// The durable row agrees with the cache.
	row, err := st.GetTask(context.Background(), "tsk_1")
	if err != nil || row == nil {
		t.Fatalf("row: %v %v", row, err)
	}
	if row.State != StateCompleted || row.Progress != 100 {
		t.Fatalf("durable state: %+v", row)
	}
}

func TestStatusNotFound(t *testing.T) {
	st, q := openInfra(t)
	o := New(st, q, nil, Config{})

	status, err := o.GetStatus(context.Background(), "tsk_unknown")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != StateNotFound {
		t.Fatalf("expected not_found, got %s", status.State)
	}
}

func TestPriorityOrdering(t *testing.T) {
	st, q := openInfra(t)

	var mu sync.Mutex
	var order []string
	gate := make(chan struct{})
	o := New(st, q, func(ctx context.Context, task *store.TaskRecord, progress func(int, string)) error {
		<-gate
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil
	}, Config{Workers: 1, PollInterval: 10 * time.Millisecond})

	// Enqueue before starting the worker so claims see the full set.
	for _, tk := range []struct {
		id       string
		priority int
	}{
		{"tsk_low", PriorityLow},
		{"tsk_normal", PriorityNormal},
		{"tsk_high", PriorityHigh},
	} {
		if _, err := o.Enqueue(context.Background(), newTask(tk.id, tk.priority)); err != nil {
			t.Fatalf("enqueue %s: %v", tk.id, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()
	close(gate)

	waitForState(t, o, "tsk_low", StateCompleted)
	mu.Lock()
	defer mu.Unlock()
	want := []string{"tsk_high", "tsk_normal", "tsk_low"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("execution order: %v, want %v", order, want)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	st, q := openInfra(t)

	var current, peak atomic.Int32
	o := New(st, q, func(ctx context.Context, task *store.TaskRecord, progress func(int, string)) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		return nil
	}, Config{Workers: 3, PollInterval: 5 * time.Millisecond})

	for i := 0; i < 10; i++ {
		if _, err := o.Enqueue(context.Background(), newTask(fmt.Sprintf("tsk_%d", i), PriorityNormal)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	for i := 0; i < 10; i++ {
		waitForState(t, o, fmt.Sprintf("tsk_%d", i), StateCompleted)
	}
	if p := peak.Load(); p > 3 {
		t.Fatalf("worker pool exceeded its bound: peak %d", p)
	}
}

// Transient failures retry themselves: the worker reschedules the task
// with backoff until it succeeds or the retry budget runs out, with no
// manual Retry call involved.
func TestFailureRetriesAutomatically(t *testing.T) {
	st, q := openInfra(t)

	var attempts atomic.Int32
	o := New(st, q, func(ctx context.Context, task *store.TaskRecord, progress func(int, string)) error {
		if attempts.Add(1) < 3 {
			return errors.New("capture backend unavailable")
		}
		return nil
	}, Config{Workers: 1, PollInterval: 10 * time.Millisecond, RetryBackoff: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	if _, err := o.Enqueue(context.Background(), newTask("tsk_1", PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Two failed attempts, then success on the third, all self-driven.
	waitForState(t, o, "tsk_1", StateCompleted)
	if n := attempts.Load(); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}

	row, _ := st.GetTask(context.Background(), "tsk_1")
	if row.RetryCount != 2 {
		t.Fatalf("retry count: %d", row.RetryCount)
	}
}

// A task that never succeeds settles in failed once MaxRetries is spent.
func TestFailurePermanentAfterRetryBudget(t *testing.T) {
	st, q := openInfra(t)

	var attempts atomic.Int32
	o := New(st, q, func(ctx context.Context, task *store.TaskRecord, progress func(int, string)) error {
		attempts.Add(1)
		return errors.New("capture backend unavailable")
	}, Config{Workers: 1, MaxRetries: 2, PollInterval: 10 * time.Millisecond, RetryBackoff: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	if _, err := o.Enqueue(context.Background(), newTask("tsk_1", PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for attempts.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	status := waitForState(t, o, "tsk_1", StateFailed)
	if status.Err == "" {
		t.Fatal("failed status must carry the error")
	}
	// Give a stray extra retry a chance to surface, then check none did.
	time.Sleep(100 * time.Millisecond)
	if n := attempts.Load(); n != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", n)
	}
	if err := o.Retry(context.Background(), "tsk_1"); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	st, q := openInfra(t)
	o := New(st, q, nil, Config{})

	if _, err := o.Enqueue(context.Background(), newTask("tsk_1", PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := o.Retry(context.Background(), "tsk_1"); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable for queued task, got %v", err)
	}
	if err := o.Retry(context.Background(), "tsk_missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRetriesExhausted(t *testing.T) {
	st, q := openInfra(t)
	o := New(st, q, nil, Config{MaxRetries: 3})

	now := time.Now().UnixMilli()
	if err := st.InsertTask(context.Background(), &store.TaskRecord{
		ID: "tsk_1", ProjectID: "prj_1", Kind: "report", Priority: PriorityNormal,
		State: StateFailed, MaxRetries: 3, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := o.Retry(context.Background(), "tsk_1"); err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
		// Reset to failed as if the retried attempt failed again.
		if _, err := q.Remove(context.Background(), "tsk_1"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := st.UpdateTaskState(context.Background(), "tsk_1", StateFailed, "still failing", now); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}

	err := o.Retry(context.Background(), "tsk_1")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	o := New(nil, nil, nil, Config{})
	cases := map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		9: 5 * time.Minute,
	}
	for count, want := range cases {
		if got := o.retryBackoff(count); got != want {
			t.Errorf("retry %d: got %v want %v", count, got, want)
		}
	}
}

// A task running past the queue's visibility window must not be claimed a
// second time: the worker's heartbeat keeps the row invisible.
func TestHeartbeatOutlastsVisibility(t *testing.T) {
	db := dbopen.OpenMemory(t)
	st := store.NewStore(db)
	if err := st.Init(); err != nil {
		t.Fatalf("store schema: %v", err)
	}
	q := ptq.New(db, ptq.Options{Visibility: 150 * time.Millisecond})
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatalf("queue schema: %v", err)
	}

	var attempts atomic.Int32
	o := New(st, q, func(ctx context.Context, task *store.TaskRecord, progress func(int, string)) error {
		attempts.Add(1)
		time.Sleep(500 * time.Millisecond)
		return nil
	}, Config{Workers: 2, PollInterval: 10 * time.Millisecond, HeartbeatInterval: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	if _, err := o.Enqueue(context.Background(), newTask("tsk_1", PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForState(t, o, "tsk_1", StateCompleted)
	if n := attempts.Load(); n != 1 {
		t.Fatalf("attempts = %d, want 1 (job was reclaimed)", n)
	}
}

func TestCancelQueued(t *testing.T) {
	st, q := openInfra(t)
	o := New(st, q, nil, Config{})

	if _, err := o.Enqueue(context.Background(), newTask("tsk_1", PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := o.Cancel(context.Background(), "tsk_1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	status, _ := o.GetStatus(context.Background(), "tsk_1")
	if status.State != StateCancelled {
		t.Fatalf("state: %s", status.State)
	}
	stats, _ := q.QueueStats(context.Background())
	if stats.Waiting != 0 || stats.Active != 0 {
		t.Fatalf("queue not drained: %+v", stats)
	}

	// Terminal states cannot be cancelled again.
	if err := o.Cancel(context.Background(), "tsk_1"); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestCancelProcessing(t *testing.T) {
	st, q := openInfra(t)

	started := make(chan struct{})
	o := New(st, q, func(ctx context.Context, task *store.TaskRecord, progress func(int, string)) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, Config{Workers: 1, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	if _, err := o.Enqueue(context.Background(), newTask("tsk_1", PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started

	if err := o.Cancel(context.Background(), "tsk_1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForState(t, o, "tsk_1", StateCancelled)

	// The abandoned job must not linger in the queue.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats, _ := q.QueueStats(context.Background())
		if stats.Waiting == 0 && stats.Active == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cancelled job still in queue")
}

func TestHealthThresholdsAndEnqueueRefusal(t *testing.T) {
	st, q := openInfra(t)
	o := New(st, q, nil, Config{})
	ctx := context.Background()

	h, err := o.HealthCheck(ctx)
	if err != nil || h.Status != "healthy" {
		t.Fatalf("empty queue health: %+v %v", h, err)
	}

	// Past the degraded threshold.
	for i := 0; i < 51; i++ {
		if err := q.Publish(ctx, fmt.Sprintf("bulk_%d", i), PriorityNormal, []byte("{}")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	h, _ = o.HealthCheck(ctx)
	if h.Status != "degraded" {
		t.Fatalf("expected degraded at %d, got %s", h.Waiting, h.Status)
	}

	// Degraded still accepts work.
	if _, err := o.Enqueue(ctx, newTask("tsk_ok", PriorityNormal)); err != nil {
		t.Fatalf("degraded enqueue: %v", err)
	}

	// Past the critical threshold.
	for i := 51; i < 101; i++ {
		if err := q.Publish(ctx, fmt.Sprintf("bulk_%d", i), PriorityNormal, []byte("{}")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	h, _ = o.HealthCheck(ctx)
	if h.Status != "critical" {
		t.Fatalf("expected critical, got %s (waiting %d)", h.Status, h.Waiting)
	}
	if _, err := o.Enqueue(ctx, newTask("tsk_refused", PriorityNormal)); !errors.Is(err, ErrQueueCritical) {
		t.Fatalf("expected ErrQueueCritical, got %v", err)
	}
}

func TestPriorityFromString(t *testing.T) {
	cases := map[string]int{"high": 1, "normal": 2, "": 2, "low": 3}
	for in, want := range cases {
		got, err := PriorityFromString(in)
		if err != nil || got != want {
			t.Errorf("%q: got %d err %v", in, got, err)
		}
	}
	if _, err := PriorityFromString("urgent"); err == nil {
		t.Fatal("expected error for unknown priority")
	}
}
