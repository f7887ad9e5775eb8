package report

import (
	"time"

	"github.com/rivalscope/rivalscope/report/internal/orchestrate"
	"github.com/rivalscope/rivalscope/report/internal/quality"
	"github.com/rivalscope/rivalscope/report/internal/synth"
)

// TaskOptions tunes one report submission.
type TaskOptions struct {
	Priority         string        `json:"priority"` // high | normal | low
	RequireFreshData bool          `json:"require_fresh_data"`
	MaxDuration      time.Duration `json:"max_duration"`
	FallbackAllowed  bool          `json:"fallback_allowed"`
}

// SubmitResult is what a submitter gets back immediately.
type SubmitResult = orchestrate.EnqueueResult

// TaskStatus is the polling view of a task.
type TaskStatus = orchestrate.Status

// QueueHealth summarizes the task queue.
type QueueHealth = orchestrate.Health

// ReportBundle pairs a finished report with its quality assessment.
type ReportBundle struct {
	Report     *synth.Report       `json:"report"`
	Assessment *quality.Assessment `json:"assessment"`
}

// ScheduleInfo describes a created schedule.
type ScheduleInfo struct {
	ScheduleID string    `json:"schedule_id"`
	NextRun    time.Time `json:"next_run"`
}

// CompetitorInput is one competitor in a project definition.
type CompetitorInput struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Industry string `json:"industry"`
}

// ProjectInput defines a project with its subject product and competitors.
type ProjectInput struct {
	Name        string            `json:"name"`
	Industry    string            `json:"industry"`
	ProductName string            `json:"product_name"`
	ProductURL  string            `json:"product_url"`
	Positioning string            `json:"positioning"`
	Features    []string          `json:"features"`
	Pricing     string            `json:"pricing"`
	Competitors []CompetitorInput `json:"competitors"`
}

// ProjectInfo identifies a created project.
type ProjectInfo struct {
	ProjectID     string   `json:"project_id"`
	CompetitorIDs []string `json:"competitor_ids"`
}
