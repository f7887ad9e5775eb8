package observability_test

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rivalscope/rivalscope/dbopen"
	"github.com/rivalscope/rivalscope/observability"
)

func TestEventLogger(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := observability.Init(db); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	l := observability.NewEventLogger(db)
	l.Log(ctx, observability.Event{
		Type:       "task",
		EntityType: "report_task",
		EntityID:   "tsk_1",
		ProjectID:  "proj_1",
		Action:     "enqueued",
		Success:    true,
	})
	l.Log(ctx, observability.Event{
		Type:       "collection",
		EntityType: "project",
		EntityID:   "proj_1",
		Action:     "collected",
		Success:    false,
	})

	events, err := l.Recent(ctx, "task", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d task events, want 1", len(events))
	}
	if events[0].Action != "enqueued" {
		t.Fatalf("action = %q", events[0].Action)
	}

	all, err := l.Recent(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d events, want 2", len(all))
	}
}

func TestMetricsManager_FlushOnClose(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := observability.Init(db); err != nil {
		t.Fatal(err)
	}

	mm := observability.NewMetricsManager(db, 100, time.Minute)
	mm.RecordSimple("queue_waiting", 7, "count")
	mm.RecordSimple("task_duration_ms", 1234, "milliseconds")
	if err := mm.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := mm.Query("queue_waiting", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d datapoints, want 1", len(got))
	}
	if got[0].Value != 7 {
		t.Fatalf("value = %v, want 7", got[0].Value)
	}
}

func TestMetricsManager_FlushOnBufferFull(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := observability.Init(db); err != nil {
		t.Fatal(err)
	}

	mm := observability.NewMetricsManager(db, 2, time.Minute)
	defer mm.Close()

	mm.RecordSimple("m", 1, "count")
	mm.RecordSimple("m", 2, "count") // hits bufferSize, flushes synchronously

	got, err := mm.Query("m", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d datapoints, want 2", len(got))
	}
}
