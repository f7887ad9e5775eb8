package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rivalscope/rivalscope/report/internal/orchestrate"
	"github.com/rivalscope/rivalscope/report/internal/quality"
	"github.com/rivalscope/rivalscope/report/internal/schedule"
	"github.com/rivalscope/rivalscope/report/internal/store"
	"github.com/rivalscope/rivalscope/report/internal/synth"
)

// CreateProject stores a project with its subject product and competitors.
func (s *Service) CreateProject(ctx context.Context, in ProjectInput) (*ProjectInfo, error) {
	if in.Name == "" || in.ProductName == "" {
		return nil, fmt.Errorf("report: project and product names are required")
	}

	now := time.Now().UnixMilli()
	projectID := s.newProjectID()
	if err := s.store.InsertProject(ctx, &store.Project{
		ID: projectID, Name: in.Name, Industry: in.Industry,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return nil, err
	}

	features, err := json.Marshal(in.Features)
	if err != nil {
		return nil, fmt.Errorf("marshal features: %w", err)
	}
	if err := s.store.InsertProduct(ctx, &store.Product{
		ID:          "prd_" + projectID[len("prj_"):],
		ProjectID:   projectID,
		Name:        in.ProductName,
		URL:         in.ProductURL,
		Industry:    in.Industry,
		Positioning: in.Positioning,
		Features:    string(features),
		Pricing:     in.Pricing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, err
	}

	info := &ProjectInfo{ProjectID: projectID}
	for i, c := range in.Competitors {
		id := fmt.Sprintf("cmp_%s_%d", projectID[len("prj_"):], i)
		if err := s.store.InsertCompetitor(ctx, &store.Competitor{
			ID: id, ProjectID: projectID, Name: c.Name, URL: c.URL,
			Industry: c.Industry, CreatedAt: now + int64(i), UpdatedAt: now,
		}); err != nil {
			return nil, err
		}
		info.CompetitorIDs = append(info.CompetitorIDs, id)
	}

	s.logEvent(ctx, "project", "created", projectID, projectID, map[string]any{
		"competitors": len(in.Competitors),
	})
	return info, nil
}

// SubmitReportTask queues a report for a project. Precondition failures
// (missing project, no competitors) surface synchronously instead of
// producing a task doomed to fail.
func (s *Service) SubmitReportTask(ctx context.Context, projectID string, opts TaskOptions) (*SubmitResult, error) {
	product, err := s.store.ProductForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, ErrProjectNotFound
	}
	competitors, err := s.store.CompetitorsForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(competitors) == 0 {
		return nil, ErrNoCompetitors
	}

	priority, err := orchestrate.PriorityFromString(opts.Priority)
	if err != nil {
		return nil, err
	}

	task := &store.TaskRecord{
		ID:            s.newTaskID(),
		ProjectID:     projectID,
		Kind:          "report",
		Priority:      priority,
		RequireFresh:  opts.RequireFreshData,
		AllowFallback: opts.FallbackAllowed,
		MaxDurationMs: opts.MaxDuration.Milliseconds(),
	}

	res, err := s.orch.Enqueue(ctx, task)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, "task", "enqueued", task.ID, projectID, map[string]any{
		"priority": opts.Priority,
		"position": res.QueuePosition,
	})
	return res, nil
}

// GetTaskStatus returns the current status of a task. Unknown ids answer
// with state not_found, not an error.
func (s *Service) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	return s.orch.GetStatus(ctx, taskID)
}

// GetQueueHealth summarizes queue depth and terminal counts.
func (s *Service) GetQueueHealth(ctx context.Context) (*QueueHealth, error) {
	return s.orch.HealthCheck(ctx)
}

// RetryTask requeues a failed task with backoff.
func (s *Service) RetryTask(ctx context.Context, taskID string) error {
	return s.orch.Retry(ctx, taskID)
}

// CancelTask stops a queued or processing task.
func (s *Service) CancelTask(ctx context.Context, taskID string) error {
	return s.orch.Cancel(ctx, taskID)
}

// GetReport returns the finished report and assessment for a completed
// task.
func (s *Service) GetReport(ctx context.Context, taskID string) (*ReportBundle, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.State != orchestrate.StateCompleted {
		return nil, fmt.Errorf("%w: task state is %s", ErrReportNotReady, task.State)
	}

	record, err := s.store.ReportForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrReportNotReady
	}

	var rep synth.Report
	if err := json.Unmarshal([]byte(record.ReportJSON), &rep); err != nil {
		return nil, fmt.Errorf("decode stored report: %w", err)
	}
	var assessment quality.Assessment
	if err := json.Unmarshal([]byte(record.AssessmentJSON), &assessment); err != nil {
		return nil, fmt.Errorf("decode stored assessment: %w", err)
	}
	return &ReportBundle{Report: &rep, Assessment: &assessment}, nil
}

// CreateSchedule sets up recurring reports for a project.
func (s *Service) CreateSchedule(ctx context.Context, projectID, frequency, template, volatility string) (*ScheduleInfo, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}

	freq, err := schedule.ParseFrequency(frequency)
	if err != nil {
		return nil, err
	}
	if template == "" {
		template = "standard"
	}
	if volatility == "" {
		volatility = string(schedule.VolatilityNormal)
	}

	now := time.Now()
	next := schedule.ComputeNextRun(freq, now, s.config.Scheduler.RunAt)
	next = schedule.AdjustForVolatility(freq, schedule.Volatility(volatility),
		now, next, s.config.Scheduler.RunAt)

	sc := &store.Schedule{
		ID:         s.newScheduleID(),
		ProjectID:  projectID,
		Frequency:  string(freq),
		Template:   template,
		Volatility: volatility,
		NextRun:    next.UnixMilli(),
		IsActive:   true,
		CreatedAt:  now.UnixMilli(),
		UpdatedAt:  now.UnixMilli(),
	}
	if err := s.store.InsertSchedule(ctx, sc); err != nil {
		return nil, err
	}

	s.logEvent(ctx, "schedule", "created", sc.ID, projectID, map[string]any{
		"frequency": string(freq),
	})
	return &ScheduleInfo{ScheduleID: sc.ID, NextRun: next}, nil
}

// RemoveSchedule deactivates a schedule. The row stays for history.
func (s *Service) RemoveSchedule(ctx context.Context, scheduleID string) error {
	ok, err := s.store.DeactivateSchedule(ctx, scheduleID, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if !ok {
		return ErrScheduleNotFound
	}
	return nil
}
