package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rivalscope/rivalscope/dbopen"
	"github.com/rivalscope/rivalscope/report/internal/orchestrate"
)

// cannedCompleter returns a fixed completion without any network.
type cannedCompleter struct {
	response string
	err      error
}

func (c *cannedCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return c.response, c.err
}

const cannedAnalysis = `{
	"market_position": "The product sits in the mid-market segment.",
	"key_insights": ["Rivals compete on price", "Feature gap in reporting"],
	"feature_comparison": "Broadly comparable feature sets.",
	"pricing_analysis": "Competitors undercut on entry tiers.",
	"strengths": ["Strong integrations"],
	"weaknesses": ["No free tier"],
	"strategic_recommendations": ["Add a free tier", "Invest in reporting"],
	"confidence_score": 80
}`

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	// httptest servers live on loopback, which the default validator
	// rejects.
	return newTestServiceWithValidator(t, func(string) error { return nil }, opts...)
}

func newTestServiceWithValidator(t *testing.T, validate func(string) error, opts ...Option) *Service {
	t.Helper()
	db := dbopen.OpenMemory(t)

	cfg := Config{}
	cfg.Fetch.URLValidator = validate
	cfg.Orchestrator.Workers = 2
	cfg.Orchestrator.PollInterval = 20 * time.Millisecond
	cfg.Scheduler.PollInterval = time.Hour

	svc, err := New(db, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		svc.Close()
	})
	return svc
}

func seedProject(t *testing.T, svc *Service, competitorURLs ...string) string {
	t.Helper()
	in := ProjectInput{
		Name:        "Acme CI",
		Industry:    "saas",
		ProductName: "Acme Analytics",
		ProductURL:  "https://acme.example",
		Positioning: "Analytics for mid-market teams",
		Features:    []string{"dashboards", "alerts"},
		Pricing:     "$49/mo",
	}
	for i, u := range competitorURLs {
		in.Competitors = append(in.Competitors, CompetitorInput{
			Name: fmt.Sprintf("Rival %d", i+1),
			URL:  u,
		})
	}
	info, err := svc.CreateProject(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return info.ProjectID
}

func waitForState(t *testing.T, svc *Service, taskID, want string) *TaskStatus {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		st, err := svc.GetTaskStatus(context.Background(), taskID)
		if err != nil {
			t.Fatalf("GetTaskStatus: %v", err)
		}
		if st.State == want {
			return st
		}
		if st.State == orchestrate.StateFailed && want != orchestrate.StateFailed {
			t.Fatalf("task failed: %s", st.Err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", taskID, want)
	return nil
}

func competitorSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Rival Inc</title>
<meta name="description" content="The rival analytics suite"></head>
<body><h1>Rival Inc</h1><p>Analytics from $29/mo with alerts and dashboards.</p></body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitAndGetReport(t *testing.T) {
	site := competitorSite(t)
	svc := newTestService(t, WithCompleter(&cannedCompleter{response: cannedAnalysis}))
	projectID := seedProject(t, svc, site.URL, site.URL)

	res, err := svc.SubmitReportTask(context.Background(), projectID, TaskOptions{
		Priority:        "high",
		FallbackAllowed: true,
	})
	if err != nil {
		t.Fatalf("SubmitReportTask: %v", err)
	}
	if res.TaskID == "" {
		t.Fatal("empty task id")
	}
	if res.FallbackHorizon != 300*time.Second {
		t.Errorf("fallback horizon = %v", res.FallbackHorizon)
	}

	st := waitForState(t, svc, res.TaskID, orchestrate.StateCompleted)
	if st.Progress != 100 {
		t.Errorf("progress = %d, want 100", st.Progress)
	}

	bundle, err := svc.GetReport(context.Background(), res.TaskID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if bundle.Report == nil || bundle.Assessment == nil {
		t.Fatal("incomplete bundle")
	}
	if len(bundle.Report.Sections) == 0 {
		t.Fatal("report has no sections")
	}
	if bundle.Report.Metadata.AnalysisMethod != "parsed" {
		t.Errorf("analysis method = %q, want parsed", bundle.Report.Metadata.AnalysisMethod)
	}
	if bundle.Assessment.OverallScore <= 0 {
		t.Errorf("overall score = %v", bundle.Assessment.OverallScore)
	}
}

func TestDegradedReportDisclosesGaps(t *testing.T) {
	// No completer and no reachable competitor sites: every tier of the
	// cascade fails down to basic metadata, and the report must say so.
	svc := newTestServiceWithValidator(t, func(string) error {
		return errors.New("blocked for test")
	})

	projectID := seedProject(t, svc,
		"https://unreachable-one.example", "https://unreachable-two.example")

	res, err := svc.SubmitReportTask(context.Background(), projectID, TaskOptions{
		FallbackAllowed: true,
	})
	if err != nil {
		t.Fatalf("SubmitReportTask: %v", err)
	}
	waitForState(t, svc, res.TaskID, orchestrate.StateCompleted)

	bundle, err := svc.GetReport(context.Background(), res.TaskID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if bundle.Report.Status != "partial" {
		t.Errorf("status = %q, want partial", bundle.Report.Status)
	}
	var foundGaps bool
	for _, sec := range bundle.Report.Sections {
		if sec.ID == "data-gaps" {
			foundGaps = true
		}
	}
	if !foundGaps {
		t.Error("partial report missing data-gaps section")
	}
}

func TestSubmitPreconditions(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.SubmitReportTask(context.Background(), "prj_missing", TaskOptions{}); err != ErrProjectNotFound {
		t.Errorf("unknown project: err = %v, want ErrProjectNotFound", err)
	}

	projectID := seedProject(t, svc) // no competitors
	if _, err := svc.SubmitReportTask(context.Background(), projectID, TaskOptions{}); err != ErrNoCompetitors {
		t.Errorf("no competitors: err = %v, want ErrNoCompetitors", err)
	}
}

func TestStatusAndReportForUnknownTask(t *testing.T) {
	svc := newTestService(t)

	st, err := svc.GetTaskStatus(context.Background(), "tsk_ghost")
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if st.State != orchestrate.StateNotFound {
		t.Errorf("state = %q, want not_found", st.State)
	}

	if _, err := svc.GetReport(context.Background(), "tsk_ghost"); err != ErrTaskNotFound {
		t.Errorf("GetReport: err = %v, want ErrTaskNotFound", err)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	site := competitorSite(t)
	svc := newTestService(t)
	projectID := seedProject(t, svc, site.URL)

	info, err := svc.CreateSchedule(context.Background(), projectID, "daily", "", "")
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	until := time.Until(info.NextRun)
	if until < 23*time.Hour || until > 25*time.Hour {
		t.Errorf("next run in %v, want ~24h", until)
	}

	if err := svc.RemoveSchedule(context.Background(), info.ScheduleID); err != nil {
		t.Fatalf("RemoveSchedule: %v", err)
	}
	if err := svc.RemoveSchedule(context.Background(), info.ScheduleID); err != ErrScheduleNotFound {
		t.Errorf("second remove: err = %v, want ErrScheduleNotFound", err)
	}

	if _, err := svc.CreateSchedule(context.Background(), "prj_missing", "daily", "", ""); err != ErrProjectNotFound {
		t.Errorf("unknown project: err = %v, want ErrProjectNotFound", err)
	}
	if _, err := svc.CreateSchedule(context.Background(), projectID, "hourly", "", ""); err == nil {
		t.Error("bad frequency accepted")
	}
}

func TestQueueHealth(t *testing.T) {
	svc := newTestService(t)
	h, err := svc.GetQueueHealth(context.Background())
	if err != nil {
		t.Fatalf("GetQueueHealth: %v", err)
	}
	if h.Status != "healthy" {
		t.Errorf("status = %q, want healthy on an empty queue", h.Status)
	}
}
