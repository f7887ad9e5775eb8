package store

// Project is one comparison subject: a product against its competitors.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Industry  string `json:"industry"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Product is the form-supplied subject record for a project.
type Product struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Industry    string `json:"industry"`
	Positioning string `json:"positioning"`
	Features    string `json:"features"` // JSON array of feature strings
	Pricing     string `json:"pricing"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Competitor is a tracked rival product.
type Competitor struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Industry  string `json:"industry"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Snapshot is content captured from a competitor site at a point in time.
type Snapshot struct {
	ID           string `json:"id"`
	CompetitorID string `json:"competitor_id"`
	Source       string `json:"source"` // fresh_capture | fast_capture
	Title        string `json:"title"`
	Text         string `json:"text"` // markdown for fresh, meta digest for fast
	ContentHash  string `json:"content_hash"`
	StatusCode   int    `json:"status_code"`
	CaptureMs    int64  `json:"capture_ms"`
	CreatedAt    int64  `json:"created_at"`
}

// ReportRecord is a finished report with its quality assessment, both as JSON.
type ReportRecord struct {
	ID                string  `json:"id"`
	TaskID            string  `json:"task_id"`
	ProjectID         string  `json:"project_id"`
	Title             string  `json:"title"`
	ReportJSON        string  `json:"report_json"`
	AssessmentJSON    string  `json:"assessment_json"`
	CompletenessScore float64 `json:"completeness_score"`
	FreshnessTier     string  `json:"freshness_tier"`
	ConfidenceScore   float64 `json:"confidence_score"`
	Status            string  `json:"status"`
	CreatedAt         int64   `json:"created_at"`
}

// Schedule is a recurring report schedule.
type Schedule struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Frequency      string `json:"frequency"` // daily | weekly | monthly
	Template       string `json:"template"`
	Volatility     string `json:"volatility"` // quiet | normal | volatile
	NextRun        int64  `json:"next_run"`
	ExecutionCount int    `json:"execution_count"`
	FailureCount   int    `json:"failure_count"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// TaskRecord is the durable record of one report task.
type TaskRecord struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Kind         string `json:"kind"`
	Priority     int    `json:"priority"`
	State        string `json:"state"` // queued | processing | completed | failed | cancelled
	Progress     int    `json:"progress"`
	CurrentStep  string `json:"current_step"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
	LastError    string `json:"last_error"`
	// Collection options, persisted so retries and restarts replay the
	// original request faithfully.
	RequireFresh  bool   `json:"require_fresh"`
	AllowFallback bool   `json:"allow_fallback"`
	MaxDurationMs int64  `json:"max_duration_ms"`
	ScheduledFor  *int64 `json:"scheduled_for,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// TaskCounts aggregates terminal task states for queue health.
type TaskCounts struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
