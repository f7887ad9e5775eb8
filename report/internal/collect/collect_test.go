package collect

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
	"github.com/rivalscope/rivalscope/report/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := store.NewStore(db)
	if err := s.Init(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

// seedProject creates a project with a product and n competitors pointing
// at url, returning the competitor ids.
func seedProject(t *testing.T, s *store.Store, url string, n int) []string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UnixMilli()
	if err := s.InsertProject(ctx, &store.Project{
		ID: "prj_1", Name: "Acme", Industry: "saas", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("project: %v", err)
	}
	if err := s.InsertProduct(ctx, &store.Product{
		ID: "prd_1", ProjectID: "prj_1", Name: "Acme CRM",
		Positioning: "CRM for plumbers", Features: `["pipelines"]`,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("product: %v", err)
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("cmp_%d", i)
		ids[i] = id
		if err := s.InsertCompetitor(ctx, &store.Competitor{
			ID: id, ProjectID: "prj_1", Name: fmt.Sprintf("Rival %d", i),
			URL: url, Industry: "saas", CreatedAt: now + int64(i), UpdatedAt: now,
		}); err != nil {
			t.Fatalf("competitor: %v", err)
		}
	}
	return ids
}

// permissiveFetcher skips SSRF validation so tests can hit httptest servers.
func permissiveFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{URLValidator: func(string) error { return nil }})
}

// blockedFetcher fails every fetch without touching the network.
func blockedFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{URLValidator: func(string) error {
		return errors.New("blocked for test")
	}})
}

func TestSiteComplexityTimeout(t *testing.T) {
	cases := []struct {
		url  string
		want time.Duration
	}{
		{"https://shop.example.com", timeoutShop},
		{"https://example.com/store/items", timeoutShop},
		{"https://app.example.com", timeoutSaaS},
		{"https://example.saas.io", timeoutSaaS},
		{"https://big-marketplace.com", timeoutMarketplace},
		{"https://example.com", timeoutDefault},
	}
	for _, tc := range cases {
		if got := siteComplexityTimeout(tc.url); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.url, got, tc.want)
		}
	}
}

func TestPerTargetTimeoutBudgetShare(t *testing.T) {
	// 30s budget over 6 competitors caps each at 5s regardless of site.
	if got := perTargetTimeout("https://example.com", 30*time.Second, 6); got != 5*time.Second {
		t.Fatalf("got %v", got)
	}
	// Generous budget leaves the complexity heuristic in charge.
	if got := perTargetTimeout("https://shop.example.com", 10*time.Minute, 2); got != timeoutShop {
		t.Fatalf("got %v", got)
	}
}

func TestSourceImpliesQuality(t *testing.T) {
	cases := map[Source]Quality{
		SourceFormInput:        QualityHigh,
		SourceFreshCapture:     QualityHigh,
		SourceFastCapture:      QualityMedium,
		SourceExistingSnapshot: QualityMedium,
		SourceBasicMetadata:    QualityMinimal,
	}
	for src, want := range cases {
		if got := src.Quality(); got != want {
			t.Errorf("%s: got %s want %s", src, got, want)
		}
	}
}

func TestCollectProjectNotFound(t *testing.T) {
	s := openStore(t)
	c := NewCollector(s, nil, blockedFetcher(), Config{})
	_, err := c.Collect(context.Background(), Request{ProjectID: "prj_missing"})
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestCollectFastCapturePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Rival Inc</title>
			<meta name="description" content="The rival product"></head>
			<body><h1>Better than Acme</h1></body></html>`)
	}))
	defer srv.Close()

	s := openStore(t)
	ids := seedProject(t, s, srv.URL, 2)
	c := NewCollector(s, nil, permissiveFetcher(), Config{})

	res, err := c.Collect(context.Background(), Request{
		ProjectID: "prj_1", MaxDuration: 30 * time.Second, FallbackAllowed: true,
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if res.Product.Source != SourceFormInput {
		t.Fatalf("product source: %s", res.Product.Source)
	}
	for _, cr := range res.Competitors {
		if cr.Source != SourceFastCapture {
			t.Fatalf("competitor source: %s (%s)", cr.Source, cr.Err)
		}
		if cr.Title != "Rival Inc" {
			t.Fatalf("title: %q", cr.Title)
		}
	}
	if res.PriorityUsage[SourceFastCapture] != 2 {
		t.Fatalf("usage: %+v", res.PriorityUsage)
	}

	// Successful captures become snapshots for future runs.
	snap, err := s.LatestSnapshot(context.Background(), ids[0])
	if err != nil || snap == nil {
		t.Fatalf("expected persisted snapshot, got %v / %v", snap, err)
	}
	if snap.Source != string(SourceFastCapture) {
		t.Fatalf("snapshot source: %s", snap.Source)
	}
}

func TestCollectFallsBackToExistingSnapshot(t *testing.T) {
	s := openStore(t)
	ids := seedProject(t, s, "https://unreachable.example.com", 1)

	// A stale snapshot from a previous run.
	if err := s.InsertSnapshot(context.Background(), &store.Snapshot{
		ID: "snp_old", CompetitorID: ids[0], Source: string(SourceFreshCapture),
		Title: "Old Title", Text: "old content", CreatedAt: time.Now().UnixMilli() - 86_400_000,
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	c := NewCollector(s, nil, blockedFetcher(), Config{})
	res, err := c.Collect(context.Background(), Request{
		ProjectID: "prj_1", MaxDuration: 10 * time.Second, FallbackAllowed: true,
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	cr := res.Competitors[0]
	if cr.Source != SourceExistingSnapshot {
		t.Fatalf("expected existing_snapshot, got %s", cr.Source)
	}
	if cr.Content != "old content" {
		t.Fatalf("content: %q", cr.Content)
	}
	// The failure that forced the fallback stays visible.
	if cr.Err == "" {
		t.Fatal("expected the capture error to be recorded")
	}
	if res.FreshnessTier != TierExisting {
		t.Fatalf("tier: %s", res.FreshnessTier)
	}
}

func TestCollectAllCapturesFailDegradesToPartial(t *testing.T) {
	// One product, three competitors, every capture fails, no stored
	// snapshots: the run must complete with basic metadata only and a
	// completeness score in the partial band.
	s := openStore(t)
	seedProject(t, s, "https://unreachable.example.com", 3)

	c := NewCollector(s, nil, blockedFetcher(), Config{})
	res, err := c.Collect(context.Background(), Request{
		ProjectID: "prj_1", MaxDuration: 10 * time.Second, FallbackAllowed: true,
	})
	if err != nil {
		t.Fatalf("collect must not fail on competitor failures: %v", err)
	}

	for _, cr := range res.Competitors {
		if cr.Source != SourceBasicMetadata {
			t.Fatalf("expected basic_metadata, got %s", cr.Source)
		}
		if cr.Quality != QualityMinimal {
			t.Fatalf("quality: %s", cr.Quality)
		}
	}
	if res.CompletenessScore <= 30 || res.CompletenessScore >= 70 {
		t.Fatalf("expected score in (30,70), got %v", res.CompletenessScore)
	}
	if res.FreshnessTier != TierBasic {
		t.Fatalf("tier: %s", res.FreshnessTier)
	}
}

func TestCompletenessScore(t *testing.T) {
	product := ItemResult{Source: SourceFormInput}

	fresh := []ItemResult{{Source: SourceFreshCapture}, {Source: SourceFreshCapture}}
	allFresh := completenessScore(product, fresh)
	// 0.4*100 + 0.6*60 = 76
	if allFresh != 76 {
		t.Fatalf("all fresh: %v", allFresh)
	}

	basic := []ItemResult{{Source: SourceBasicMetadata}, {Source: SourceBasicMetadata}}
	allBasic := completenessScore(product, basic)
	// 0.4*100 + 0.6*20 = 52
	if allBasic != 52 {
		t.Fatalf("all basic: %v", allBasic)
	}

	if allBasic >= allFresh {
		t.Fatal("degrading sources must never raise the score")
	}

	// No competitors tracked: only the product term remains.
	if got := completenessScore(product, nil); got != 40 {
		t.Fatalf("no competitors: %v", got)
	}
}

func TestFreshnessTier(t *testing.T) {
	product := ItemResult{Source: SourceFormInput}
	mk := func(sources ...Source) []ItemResult {
		out := make([]ItemResult, len(sources))
		for i, s := range sources {
			out[i] = ItemResult{Source: s}
		}
		return out
	}

	cases := []struct {
		name        string
		competitors []ItemResult
		want        Tier
	}{
		{"all fresh", mk(SourceFreshCapture, SourceFastCapture, SourceFreshCapture, SourceFreshCapture, SourceFreshCapture), TierNew},
		{"some fresh", mk(SourceFreshCapture, SourceBasicMetadata, SourceBasicMetadata), TierMixed},
		{"only stored", mk(SourceExistingSnapshot, SourceBasicMetadata, SourceBasicMetadata, SourceBasicMetadata, SourceBasicMetadata), TierExisting},
		{"nothing", mk(SourceBasicMetadata, SourceBasicMetadata), TierBasic},
	}
	for _, tc := range cases {
		if got := freshnessTier(product, tc.competitors); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}
