package report

import (
	"time"

	"github.com/rivalscope/rivalscope/report/internal/collect"
	"github.com/rivalscope/rivalscope/report/internal/orchestrate"
	"github.com/rivalscope/rivalscope/report/internal/schedule"
)

// Config configures the report service.
type Config struct {
	// Fetch settings for the fast-capture tier.
	Fetch collect.FetcherConfig

	// Collect settings.
	Collect collect.Config

	// Orchestrator settings: worker pool, timeouts, retries.
	Orchestrator orchestrate.Config

	// Scheduler settings.
	Scheduler schedule.Config

	// AI configures the analysis provider. An empty APIKey disables AI
	// analysis; reports are then synthesized from collected data alone.
	AI AIConfig

	// QueueVisibility is how long a claimed task stays invisible to other
	// workers. Must exceed the task processing timeout.
	QueueVisibility time.Duration

	// AnalysisTimeout bounds one AI analysis call inside a task.
	AnalysisTimeout time.Duration
}

// AIConfig selects the OpenAI-compatible analysis endpoint.
type AIConfig struct {
	APIKey  string
	BaseURL string // default: https://api.openai.com/v1
	Model   string // default: gpt-4o-mini
}

func (c *Config) defaults() {
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 10 * time.Second
	}
	if c.Collect.DefaultBudget <= 0 {
		c.Collect.DefaultBudget = 60 * time.Second
	}
	if c.Orchestrator.Workers <= 0 {
		c.Orchestrator.Workers = 3
	}
	if c.Orchestrator.TaskTimeout <= 0 {
		c.Orchestrator.TaskTimeout = 180 * time.Second
	}
	if c.Orchestrator.FallbackHorizon <= 0 {
		c.Orchestrator.FallbackHorizon = 300 * time.Second
	}
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = 30 * time.Second
	}
	if c.QueueVisibility <= 0 {
		c.QueueVisibility = c.Orchestrator.TaskTimeout + 2*time.Minute
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 60 * time.Second
	}
}
