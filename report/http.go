package report

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rivalscope/rivalscope/report/internal/orchestrate"
)

// Routes mounts the HTTP API on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/api/projects", s.handleCreateProject)
	r.Post("/api/projects/{projectID}/reports", s.handleSubmitTask)
	r.Get("/api/tasks/{taskID}", s.handleTaskStatus)
	r.Post("/api/tasks/{taskID}/retry", s.handleRetryTask)
	r.Post("/api/tasks/{taskID}/cancel", s.handleCancelTask)
	r.Get("/api/tasks/{taskID}/report", s.handleGetReport)
	r.Get("/api/queue/health", s.handleQueueHealth)
	r.Post("/api/schedules", s.handleCreateSchedule)
	r.Delete("/api/schedules/{scheduleID}", s.handleRemoveSchedule)
}

func (s *Service) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in ProjectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid body"})
		return
	}
	info, err := s.CreateProject(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 201, info)
}

type submitTaskBody struct {
	Priority         string `json:"priority"`
	RequireFreshData bool   `json:"require_fresh_data"`
	MaxDurationSec   int    `json:"max_duration_seconds"`
	FallbackAllowed  *bool  `json:"fallback_allowed"`
}

func (s *Service) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var body submitTaskBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, 400, map[string]string{"error": "invalid body"})
			return
		}
	}
	opts := TaskOptions{
		Priority:         body.Priority,
		RequireFreshData: body.RequireFreshData,
		MaxDuration:      time.Duration(body.MaxDurationSec) * time.Second,
		FallbackAllowed:  body.FallbackAllowed == nil || *body.FallbackAllowed,
	}
	res, err := s.SubmitReportTask(r.Context(), chi.URLParam(r, "projectID"), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 202, map[string]any{
		"task_id":                      res.TaskID,
		"queue_position":               res.QueuePosition,
		"estimated_completion_seconds": int(res.EstimatedCompletion.Seconds()),
		"fallback_horizon_seconds":     int(res.FallbackHorizon.Seconds()),
	})
}

func (s *Service) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.GetTaskStatus(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 200, status)
}

func (s *Service) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	if err := s.RetryTask(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "requeued"})
}

func (s *Service) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.CancelTask(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "cancelled"})
}

func (s *Service) handleGetReport(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.GetReport(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 200, bundle)
}

func (s *Service) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.GetQueueHealth(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 200, h)
}

type createScheduleBody struct {
	ProjectID  string `json:"project_id"`
	Frequency  string `json:"frequency"`
	Template   string `json:"template"`
	Volatility string `json:"volatility"`
}

func (s *Service) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body createScheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid body"})
		return
	}
	info, err := s.CreateSchedule(r.Context(), body.ProjectID, body.Frequency, body.Template, body.Volatility)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 201, info)
}

func (s *Service) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.RemoveSchedule(r.Context(), chi.URLParam(r, "scheduleID")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deactivated"})
}

// writeError maps service sentinels onto HTTP status codes.
func (s *Service) writeError(w http.ResponseWriter, err error) {
	code := 500
	switch {
	case errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrScheduleNotFound):
		code = 404
	case errors.Is(err, ErrNoCompetitors):
		code = 422
	case errors.Is(err, ErrQueueCritical):
		code = 503
	case errors.Is(err, ErrReportNotReady),
		errors.Is(err, orchestrate.ErrNotRetryable),
		errors.Is(err, orchestrate.ErrNotCancellable),
		errors.Is(err, orchestrate.ErrRetriesExhausted):
		code = 409
	}
	if code == 500 {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
