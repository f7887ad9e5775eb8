package ptq_test

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rivalscope/rivalscope/dbopen"
	"github.com/rivalscope/rivalscope/ptq"
)

func newQ(t *testing.T, opts ptq.Options) *ptq.Q {
	t.Helper()
	db := dbopen.OpenMemory(t)
	q := ptq.New(db, opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestPublishAndClaim(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: time.Second})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", 2, []byte("payload")); err != nil {
		t.Fatal(err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.ID != "j1" {
		t.Fatalf("got id %q, want j1", job.ID)
	}
	if job.Attempts != 1 {
		t.Fatalf("got attempts %d, want 1", job.Attempts)
	}

	// Second claim returns nil — job is invisible.
	job2, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job2 != nil {
		t.Fatalf("expected no job, got %q", job2.ID)
	}
}

func TestClaim_PriorityOrder(t *testing.T) {
	// WHAT: lower priority numbers are claimed first, FIFO within a priority.
	// WHY: high-priority report tasks must jump the queue.
	q := newQ(t, ptq.Options{Visibility: time.Minute})
	ctx := context.Background()

	if err := q.Publish(ctx, "low", 3, nil); err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(ctx, "normal-1", 2, nil); err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(ctx, "high", 1, nil); err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(ctx, "normal-2", 2, nil); err != nil {
		t.Fatal(err)
	}

	want := []string{"high", "normal-1", "normal-2", "low"}
	for _, w := range want {
		job, err := q.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job == nil {
			t.Fatalf("expected job %q, queue empty", w)
		}
		if job.ID != w {
			t.Fatalf("got %q, want %q", job.ID, w)
		}
	}
}

// Timestamps are millisecond resolution; a burst of submissions lands many
// jobs on the same created_at, and claim order must still be insert order.
func TestClaim_FIFOWithinSameMillisecond(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: time.Minute})
	ctx := context.Background()

	ids := []string{"j0", "j1", "j2", "j3", "j4"}
	for _, id := range ids {
		if err := q.Publish(ctx, id, 2, nil); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range ids {
		pos, err := q.Position(ctx, want)
		if err != nil {
			t.Fatal(err)
		}
		if pos != i {
			t.Fatalf("%s position = %d, want %d", want, pos, i)
		}
	}
	for _, want := range ids {
		job, err := q.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job == nil || job.ID != want {
			t.Fatalf("claimed %+v, want id %s", job, want)
		}
	}
}

func TestVisibilityTimeout_Reappears(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", 2, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Claim(ctx); err != nil {
		t.Fatal(err)
	}

	time.Sleep(80 * time.Millisecond)

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("job should reappear after visibility timeout")
	}
	if job.Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", job.Attempts)
	}
}

func TestAck_Deletes(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: 10 * time.Millisecond})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", 2, nil); err != nil {
		t.Fatal(err)
	}
	job, _ := q.Claim(ctx)
	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(30 * time.Millisecond)
	again, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatal("acked job must not reappear")
	}
}

func TestNackDelay_SchedulesRetry(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: time.Minute})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", 2, nil); err != nil {
		t.Fatal(err)
	}
	job, _ := q.Claim(ctx)
	if err := q.NackDelay(ctx, job.ID, 60*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	// Not yet visible.
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("job must stay invisible during the backoff delay")
	}

	time.Sleep(90 * time.Millisecond)
	j, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if j == nil {
		t.Fatal("job should be claimable after the delay")
	}
	if j.Attempts != 2 {
		t.Fatalf("got attempts %d, want 2 (counter preserved across nack)", j.Attempts)
	}
}

// Extend is the holder's heartbeat: it pushes visibility forward so a job
// that legitimately needs longer than the window is not claimed twice.
func TestExtend_KeepsJobInvisible(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", 2, nil); err != nil {
		t.Fatal(err)
	}
	if job, _ := q.Claim(ctx); job == nil {
		t.Fatal("expected a job")
	}

	// A short extend never shortens the window granted at claim.
	if err := q.Extend(ctx, "j1", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if job, _ := q.Claim(ctx); job != nil {
		t.Fatalf("short extend exposed the job: %+v", job)
	}

	if err := q.Extend(ctx, "j1", time.Minute); err != nil {
		t.Fatal(err)
	}

	// Past the original window the job must still be held.
	time.Sleep(80 * time.Millisecond)
	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatalf("extended job reappeared: %+v", job)
	}
}

func TestRemove(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: time.Minute})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", 2, nil); err != nil {
		t.Fatal(err)
	}
	removed, err := q.Remove(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected removal")
	}
	removed, err = q.Remove(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("second removal should report false")
	}
}

func TestPosition(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: time.Minute})
	ctx := context.Background()

	if err := q.Publish(ctx, "a", 2, nil); err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(ctx, "b", 2, nil); err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(ctx, "urgent", 1, nil); err != nil {
		t.Fatal(err)
	}

	pos, err := q.Position(ctx, "urgent")
	if err != nil {
		t.Fatal(err)
	}
	if pos != 0 {
		t.Fatalf("urgent position = %d, want 0", pos)
	}

	pos, err = q.Position(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if pos != 2 {
		t.Fatalf("b position = %d, want 2", pos)
	}

	pos, err = q.Position(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if pos != -1 {
		t.Fatalf("missing position = %d, want -1", pos)
	}
}

func TestQueueStats(t *testing.T) {
	q := newQ(t, ptq.Options{Visibility: time.Minute})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(ctx, id, 2, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := q.Claim(ctx); err != nil {
		t.Fatal(err)
	}

	s, err := q.QueueStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Waiting != 2 || s.Active != 1 {
		t.Fatalf("stats = %+v, want waiting 2 active 1", s)
	}
}

func TestQueueIsolation(t *testing.T) {
	// Two queue names on the same table must not see each other's jobs.
	db := dbopen.OpenMemory(t)
	ctx := context.Background()
	qa := ptq.New(db, ptq.Options{Queue: "a"})
	qb := ptq.New(db, ptq.Options{Queue: "b"})
	if err := qa.EnsureTable(ctx); err != nil {
		t.Fatal(err)
	}

	if err := qa.Publish(ctx, "j1", 2, nil); err != nil {
		t.Fatal(err)
	}
	job, err := qb.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatalf("queue b claimed queue a's job %q", job.ID)
	}
}
