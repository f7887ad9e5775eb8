package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the report tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCreateProjectTool(srv)
	s.registerSubmitTool(srv)
	s.registerStatusTool(srv)
	s.registerHealthTool(srv)
	s.registerRetryTool(srv)
	s.registerCancelTool(srv)
	s.registerReportTool(srv)
	s.registerCreateScheduleTool(srv)
	s.registerRemoveScheduleTool(srv)
}

type endpoint func(ctx context.Context, req any) (any, error)

// registerTool wires an endpoint as an MCP tool: decode the arguments,
// run, JSON-encode the response as text content. Endpoint errors become
// tool errors, not protocol errors.
func registerTool(srv *mcp.Server, tool *mcp.Tool, ep endpoint, decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := ep(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

func decodeInto[T any](req *mcp.CallToolRequest) (any, error) {
	var r T
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- create_project ---

func (s *Service) registerCreateProjectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "create_project",
		Description: "Create a competitive-intelligence project with a subject product and its competitors.",
		InputSchema: inputSchema(map[string]any{
			"name":         map[string]any{"type": "string", "description": "Project name"},
			"industry":     map[string]any{"type": "string"},
			"product_name": map[string]any{"type": "string", "description": "Subject product name"},
			"product_url":  map[string]any{"type": "string"},
			"positioning":  map[string]any{"type": "string"},
			"features":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"pricing":      map[string]any{"type": "string"},
			"competitors": map[string]any{"type": "array", "items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string"},
					"url":      map[string]any{"type": "string"},
					"industry": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			}},
		}, []string{"name", "product_name", "competitors"}),
	}

	registerTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		return s.CreateProject(ctx, *req.(*ProjectInput))
	}, decodeInto[ProjectInput])
}

// --- submit_report_task ---

type submitTaskReq struct {
	ProjectID        string `json:"project_id"`
	Priority         string `json:"priority"`
	RequireFreshData bool   `json:"require_fresh_data"`
	MaxDurationSec   int    `json:"max_duration_seconds"`
	FallbackAllowed  *bool  `json:"fallback_allowed"`
}

func (s *Service) registerSubmitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "submit_report_task",
		Description: "Queue a competitive-intelligence report for a project. Returns the task id, queue position and an estimated completion delay.",
		InputSchema: inputSchema(map[string]any{
			"project_id":           map[string]any{"type": "string"},
			"priority":             map[string]any{"type": "string", "enum": []string{"high", "normal", "low"}},
			"require_fresh_data":   map[string]any{"type": "boolean"},
			"max_duration_seconds": map[string]any{"type": "integer"},
			"fallback_allowed":     map[string]any{"type": "boolean", "description": "Allow stale snapshots when live capture fails (default true)"},
		}, []string{"project_id"}),
	}

	registerTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*submitTaskReq)
		opts := TaskOptions{
			Priority:         r.Priority,
			RequireFreshData: r.RequireFreshData,
			MaxDuration:      time.Duration(r.MaxDurationSec) * time.Second,
			FallbackAllowed:  r.FallbackAllowed == nil || *r.FallbackAllowed,
		}
		res, err := s.SubmitReportTask(ctx, r.ProjectID, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"task_id":                      res.TaskID,
			"queue_position":               res.QueuePosition,
			"estimated_completion_seconds": int(res.EstimatedCompletion.Seconds()),
			"fallback_horizon_seconds":     int(res.FallbackHorizon.Seconds()),
		}, nil
	}, decodeInto[submitTaskReq])
}

// --- get_task_status ---

type taskIDReq struct {
	TaskID string `json:"task_id"`
}

func taskIDSchema() map[string]any {
	return inputSchema(map[string]any{
		"task_id": map[string]any{"type": "string"},
	}, []string{"task_id"})
}

func (s *Service) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "get_task_status",
		Description: "Get the current state, progress and milestone of a report task. Unknown ids answer with state not_found.",
		InputSchema: taskIDSchema(),
	}

	registerTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		return s.GetTaskStatus(ctx, req.(*taskIDReq).TaskID)
	}, decodeInto[taskIDReq])
}

// --- get_queue_health ---

func (s *Service) registerHealthTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "get_queue_health",
		Description: "Summarize task queue depth, active workers and terminal counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	registerTool(srv, tool, func(ctx context.Context, _ any) (any, error) {
		return s.GetQueueHealth(ctx)
	}, func(_ *mcp.CallToolRequest) (any, error) { return nil, nil })
}

// --- retry_task / cancel_task ---

func (s *Service) registerRetryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "retry_task",
		Description: "Requeue a failed report task with backoff.",
		InputSchema: taskIDSchema(),
	}

	registerTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		if err := s.RetryTask(ctx, req.(*taskIDReq).TaskID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "requeued"}, nil
	}, decodeInto[taskIDReq])
}

func (s *Service) registerCancelTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "cancel_task",
		Description: "Cancel a queued or processing report task.",
		InputSchema: taskIDSchema(),
	}

	registerTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		if err := s.CancelTask(ctx, req.(*taskIDReq).TaskID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "cancelled"}, nil
	}, decodeInto[taskIDReq])
}

// --- get_report ---

func (s *Service) registerReportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "get_report",
		Description: "Fetch the finished report and quality assessment for a completed task.",
		InputSchema: taskIDSchema(),
	}

	registerTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		return s.GetReport(ctx, req.(*taskIDReq).TaskID)
	}, decodeInto[taskIDReq])
}

// --- schedules ---

type createScheduleReq struct {
	ProjectID  string `json:"project_id"`
	Frequency  string `json:"frequency"`
	Template   string `json:"template"`
	Volatility string `json:"volatility"`
}

func (s *Service) registerCreateScheduleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "create_schedule",
		Description: "Set up recurring report generation for a project.",
		InputSchema: inputSchema(map[string]any{
			"project_id": map[string]any{"type": "string"},
			"frequency":  map[string]any{"type": "string", "enum": []string{"daily", "weekly", "monthly"}},
			"template":   map[string]any{"type": "string"},
			"volatility": map[string]any{"type": "string", "enum": []string{"quiet", "normal", "volatile"}},
		}, []string{"project_id", "frequency"}),
	}

	registerTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*createScheduleReq)
		return s.CreateSchedule(ctx, r.ProjectID, r.Frequency, r.Template, r.Volatility)
	}, decodeInto[createScheduleReq])
}

type removeScheduleReq struct {
	ScheduleID string `json:"schedule_id"`
}

func (s *Service) registerRemoveScheduleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "remove_schedule",
		Description: "Deactivate a report schedule.",
		InputSchema: inputSchema(map[string]any{
			"schedule_id": map[string]any{"type": "string"},
		}, []string{"schedule_id"}),
	}

	registerTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		if err := s.RemoveSchedule(ctx, req.(*removeScheduleReq).ScheduleID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "deactivated"}, nil
	}, decodeInto[removeScheduleReq])
}
