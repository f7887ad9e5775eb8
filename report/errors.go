package report

import (
	"errors"

	"github.com/rivalscope/rivalscope/report/internal/collect"
	"github.com/rivalscope/rivalscope/report/internal/orchestrate"
)

// Sentinel errors surfaced by the service API.
var (
	// ErrProjectNotFound means the project or its product record is missing.
	ErrProjectNotFound = collect.ErrProjectNotFound
	// ErrNoCompetitors means the project tracks no competitors; a report
	// over nothing is a precondition failure, not an empty report.
	ErrNoCompetitors = errors.New("report: project has no competitors")
	// ErrQueueCritical mirrors the orchestrator's capacity refusal.
	ErrQueueCritical = orchestrate.ErrQueueCritical
	// ErrTaskNotFound means no task exists for the given id.
	ErrTaskNotFound = orchestrate.ErrTaskNotFound
	// ErrReportNotReady means the task has not (yet) produced a report.
	ErrReportNotReady = errors.New("report: task has not produced a report")
	// ErrScheduleNotFound means no schedule exists for the given id.
	ErrScheduleNotFound = errors.New("report: schedule not found")
)
