// Package schedule runs recurring report generation.
//
// Next-run times come from a pure function over a typed Frequency, so
// scheduling arithmetic is testable without a clock and there are no cron
// expressions to mis-parse. The poll loop is deliberately simple: a ticker
// queries the store for due schedules and hands each one to a sink.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rivalscope/rivalscope/report/internal/store"
)

// Frequency is how often a schedule fires.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// ParseFrequency validates a frequency string.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case Daily, Weekly, Monthly:
		return Frequency(s), nil
	}
	return "", fmt.Errorf("schedule: unknown frequency %q", s)
}

// Volatility hints how fast a project's market moves. Volatile markets get
// denser daily coverage, quiet ones skip cycles.
type Volatility string

const (
	VolatilityQuiet    Volatility = "quiet"
	VolatilityNormal   Volatility = "normal"
	VolatilityVolatile Volatility = "volatile"
)

// RunAt fixes the wall-clock anchor for weekly and monthly schedules.
type RunAt struct {
	Weekday time.Weekday
	Hour    int
}

// DefaultRunAt fires weekly schedules Monday 09:00 and monthly schedules on
// the 1st at 09:00.
var DefaultRunAt = RunAt{Weekday: time.Monday, Hour: 9}

// ComputeNextRun returns the next firing time strictly after from.
// Daily advances exactly 24 hours. Weekly lands on the configured weekday
// at the configured hour. Monthly lands on day 1 of the next month.
func ComputeNextRun(freq Frequency, from time.Time, at RunAt) time.Time {
	switch freq {
	case Daily:
		return from.Add(24 * time.Hour)
	case Weekly:
		days := (int(at.Weekday) - int(from.Weekday()) + 7) % 7
		candidate := time.Date(from.Year(), from.Month(), from.Day()+days,
			at.Hour, 0, 0, 0, from.Location())
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate
	case Monthly:
		return time.Date(from.Year(), from.Month()+1, 1,
			at.Hour, 0, 0, 0, from.Location())
	}
	// Unknown frequencies behave like daily rather than firing hot.
	return from.Add(24 * time.Hour)
}

// AdjustForVolatility applies the market-sensitivity hint to a computed
// next run. Volatile daily schedules halve their cadence to 12 hours; quiet
// markets skip one full cycle.
func AdjustForVolatility(freq Frequency, vol Volatility, from, next time.Time, at RunAt) time.Time {
	switch vol {
	case VolatilityVolatile:
		if freq == Daily {
			return from.Add(12 * time.Hour)
		}
		return next
	case VolatilityQuiet:
		return ComputeNextRun(freq, next, at)
	}
	return next
}

// EnqueueFunc submits a report task for a due schedule. An error marks the
// firing as failed; the schedule still advances so one bad cycle cannot
// wedge the loop.
type EnqueueFunc func(ctx context.Context, sc *store.Schedule) error

// Config configures the poll loop.
type Config struct {
	PollInterval time.Duration // Default: 30s.
	BatchLimit   int           // Max due schedules per tick. Default: 20.
	RunAt        RunAt
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 20
	}
	if c.RunAt == (RunAt{}) {
		c.RunAt = DefaultRunAt
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler polls for due schedules and enqueues report tasks.
type Scheduler struct {
	store   *store.Store
	enqueue EnqueueFunc
	config  Config
}

// New creates a Scheduler.
func New(st *store.Store, enqueue EnqueueFunc, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{store: st, enqueue: enqueue, config: cfg}
}

// Run polls until ctx is cancelled. One tick runs at startup so due
// schedules are not left waiting a full interval after a restart.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due schedule once.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now.UnixMilli(), s.config.BatchLimit)
	if err != nil {
		s.config.Logger.Error("due schedule query failed", "error", err)
		return
	}

	for _, sc := range due {
		s.fire(ctx, sc, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sc *store.Schedule, now time.Time) {
	err := s.enqueue(ctx, sc)
	if err != nil {
		s.config.Logger.Warn("scheduled enqueue failed",
			"schedule_id", sc.ID, "project_id", sc.ProjectID, "error", err)
	}

	freq := Frequency(sc.Frequency)
	next := ComputeNextRun(freq, now, s.config.RunAt)
	next = AdjustForVolatility(freq, Volatility(sc.Volatility), now, next, s.config.RunAt)

	if uerr := s.store.UpdateScheduleRun(ctx, sc.ID, next.UnixMilli(), err != nil, now.UnixMilli()); uerr != nil {
		s.config.Logger.Error("schedule update failed", "schedule_id", sc.ID, "error", uerr)
		return
	}
	s.config.Logger.Info("schedule fired",
		"schedule_id", sc.ID,
		"project_id", sc.ProjectID,
		"next_run", next.Format(time.RFC3339),
		"failed", err != nil)
}
