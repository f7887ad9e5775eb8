// Package report is the competitive-intelligence report service.
//
// It produces reports asynchronously: a submission lands in a priority
// queue, a bounded worker pool drives collection, AI analysis, synthesis,
// and quality assessment, and the caller polls task status until the
// report is ready. The service never refuses to produce a report because
// data is thin; thin data produces a partial report that says so.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rivalscope/rivalscope/idgen"
	"github.com/rivalscope/rivalscope/observability"
	"github.com/rivalscope/rivalscope/ptq"
	"github.com/rivalscope/rivalscope/report/internal/analysis"
	"github.com/rivalscope/rivalscope/report/internal/collect"
	"github.com/rivalscope/rivalscope/report/internal/orchestrate"
	"github.com/rivalscope/rivalscope/report/internal/quality"
	"github.com/rivalscope/rivalscope/report/internal/schedule"
	"github.com/rivalscope/rivalscope/report/internal/store"
	"github.com/rivalscope/rivalscope/report/internal/synth"
)

// Service is the report pipeline orchestrator.
type Service struct {
	store     *store.Store
	queue     *ptq.Q
	collector *collect.Collector
	analyzer  *analysis.Analyzer
	synth     *synth.Synthesizer
	assessor  *quality.Assessor
	orch      *orchestrate.Orchestrator
	sched     *schedule.Scheduler
	events    *observability.EventLogger
	logger    *slog.Logger
	config    Config

	pool      collect.CaptureBackend
	completer analysis.Completer

	newTaskID     idgen.Generator
	newProjectID  idgen.Generator
	newScheduleID idgen.Generator
}

// Option customizes a Service.
type Option func(*Service)

// WithCapturePool enables the fresh-capture tier.
func WithCapturePool(pool collect.CaptureBackend) Option {
	return func(s *Service) { s.pool = pool }
}

// WithCompleter enables AI analysis. Without one, every report is
// synthesized from collected data alone.
func WithCompleter(c analysis.Completer) Option {
	return func(s *Service) { s.completer = c }
}

// WithEventLogger enables pipeline event logging.
func WithEventLogger(el *observability.EventLogger) Option {
	return func(s *Service) { s.events = el }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a report Service on an open database. It applies the store
// and queue schemas.
func New(db *sql.DB, cfg Config, opts ...Option) (*Service, error) {
	cfg.defaults()

	s := &Service{
		logger:        slog.Default(),
		config:        cfg,
		newTaskID:     idgen.Prefixed("tsk_", idgen.UUIDv7()),
		newProjectID:  idgen.Prefixed("prj_", idgen.UUIDv7()),
		newScheduleID: idgen.Prefixed("sch_", idgen.UUIDv7()),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store = store.NewStore(db)
	if err := s.store.Init(); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}

	s.queue = ptq.New(db, ptq.Options{
		Queue:      "reports",
		Visibility: cfg.QueueVisibility,
		Logger:     s.logger,
	})
	if err := s.queue.EnsureTable(context.Background()); err != nil {
		return nil, fmt.Errorf("queue schema: %w", err)
	}

	cfg.Collect.Logger = s.logger
	s.collector = collect.NewCollector(s.store, s.pool,
		collect.NewFetcher(cfg.Fetch), cfg.Collect)

	if s.completer == nil && cfg.AI.APIKey != "" {
		s.completer = analysis.NewClient(analysis.ClientConfig{
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
			Timeout: cfg.AnalysisTimeout,
			Logger:  s.logger,
		})
	}
	if s.completer != nil {
		s.analyzer = analysis.NewAnalyzer(s.completer, s.logger)
	}
	s.synth = synth.NewSynthesizer(s.logger)
	s.assessor = quality.NewAssessor(s.logger)

	cfg.Orchestrator.Logger = s.logger
	s.orch = orchestrate.New(s.store, s.queue, s.runTask, cfg.Orchestrator)

	cfg.Scheduler.Logger = s.logger
	s.sched = schedule.New(s.store, s.enqueueScheduled, cfg.Scheduler)

	return s, nil
}

// Start launches the worker pool and the schedule poll loop.
func (s *Service) Start(ctx context.Context) {
	s.orch.Start(ctx)
	go s.sched.Run(ctx)
	s.logger.Info("report service started")
}

// Close stops the workers and waits for in-flight tasks.
func (s *Service) Close() {
	s.orch.Stop()
	s.logger.Info("report service stopped")
}

// runTask is the pipeline one worker drives for one task:
// collect → analyze → synthesize → assess → persist.
func (s *Service) runTask(ctx context.Context, task *store.TaskRecord, progress func(int, string)) error {
	req := collect.Request{
		ProjectID:        task.ProjectID,
		RequireFreshData: task.RequireFresh,
		FallbackAllowed:  task.AllowFallback,
		MaxDuration:      time.Duration(task.MaxDurationMs) * time.Millisecond,
	}

	res, err := s.collector.Collect(ctx, req)
	if err != nil {
		return err
	}
	if len(res.Competitors) == 0 {
		return ErrNoCompetitors
	}
	progress(30, "data_collection")

	an, err := s.analyze(ctx, task, res)
	if err != nil {
		return err
	}
	progress(60, "analysis")

	rep := s.synth.Synthesize(res.Product.Name, res, an)
	assessment := s.assessor.Assess(rep, res)

	if err := s.persistReport(ctx, task, rep, assessment); err != nil {
		return err
	}

	s.logEvent(ctx, "task", "completed", task.ID, task.ProjectID, map[string]any{
		"report_id":    rep.ID,
		"completeness": res.CompletenessScore,
		"tier":         string(assessment.Tier),
	})
	return nil
}

// analyze runs AI analysis when a completer is configured. Terminal
// provider errors (bad credentials, exhausted quota) degrade to a nil
// analysis since retrying the task cannot fix them; retryable kinds fail
// the task so the backoff-retry path gets a chance.
func (s *Service) analyze(ctx context.Context, task *store.TaskRecord, res *collect.Result) (*analysis.Analysis, error) {
	if s.analyzer == nil {
		return nil, nil
	}

	input := analysis.Input{ProductName: res.Product.Name}
	if product, err := s.store.ProductForProject(ctx, task.ProjectID); err == nil && product != nil {
		input.ProductPositioning = product.Positioning
		input.ProductPricing = product.Pricing
		input.Industry = product.Industry
		_ = json.Unmarshal([]byte(product.Features), &input.ProductFeatures)
	}
	for _, c := range res.Competitors {
		input.Competitors = append(input.Competitors, analysis.CompetitorContent{
			Name:    c.Name,
			URL:     c.URL,
			Source:  string(c.Source),
			Content: c.Content,
		})
	}

	actx, cancel := context.WithTimeout(ctx, s.config.AnalysisTimeout)
	defer cancel()

	an, err := s.analyzer.Analyze(actx, input)
	if err != nil {
		kind := analysis.Classify(err)
		s.logger.Warn("analysis failed",
			"task_id", task.ID,
			"kind", string(kind),
			"terminal", kind.Terminal(),
			"user_message", kind.UserMessage(),
			"error", err)
		if kind.Terminal() {
			// Retrying cannot fix bad credentials or an exhausted quota;
			// the partial path will disclose the missing analysis.
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", kind.UserMessage(), err)
	}
	return an, nil
}

func (s *Service) persistReport(ctx context.Context, task *store.TaskRecord, rep *synth.Report, assessment *quality.Assessment) error {
	repJSON, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	asJSON, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}

	return s.store.InsertReport(ctx, &store.ReportRecord{
		ID:                rep.ID,
		TaskID:            task.ID,
		ProjectID:         task.ProjectID,
		Title:             rep.Title,
		ReportJSON:        string(repJSON),
		AssessmentJSON:    string(asJSON),
		CompletenessScore: rep.Metadata.CompletenessScore,
		FreshnessTier:     string(rep.Metadata.FreshnessTier),
		ConfidenceScore:   rep.Metadata.ConfidenceScore,
		Status:            rep.Status,
		CreatedAt:         time.Now().UnixMilli(),
	})
}

// enqueueScheduled is the schedule sink: a due schedule becomes a normal
// report task with fresh data required.
func (s *Service) enqueueScheduled(ctx context.Context, sc *store.Schedule) error {
	_, err := s.SubmitReportTask(ctx, sc.ProjectID, TaskOptions{
		Priority:         "normal",
		RequireFreshData: true,
		FallbackAllowed:  true,
	})
	return err
}

func (s *Service) logEvent(ctx context.Context, typ, action, entityID, projectID string, details map[string]any) {
	if s.events == nil {
		return
	}
	entityType := typ
	if typ == "task" || typ == "schedule" {
		entityType = "report_" + typ
	}
	payload, _ := json.Marshal(details)
	s.events.Log(ctx, observability.Event{
		Type:       typ,
		EntityType: entityType,
		EntityID:   entityID,
		ProjectID:  projectID,
		Action:     action,
		Details:    string(payload),
		Success:    true,
	})
}
