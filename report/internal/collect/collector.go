package collect

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rivalscope/rivalscope/capture"
	"github.com/rivalscope/rivalscope/extract"
	"github.com/rivalscope/rivalscope/idgen"
	"github.com/rivalscope/rivalscope/report/internal/store"
)

// CaptureBackend is the slice of the capture pool the collector needs.
// Nil means no browser backend is configured.
type CaptureBackend interface {
	Capture(ctx context.Context, req capture.Request) (*capture.Result, error)
	Available() int
}

// Config configures a Collector.
type Config struct {
	// DefaultBudget bounds a run when the request carries no MaxDuration.
	DefaultBudget time.Duration
	Logger        *slog.Logger
	IDs           idgen.Generator
}

func (c *Config) defaults() {
	if c.DefaultBudget <= 0 {
		c.DefaultBudget = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("snp_", idgen.UUIDv7())
	}
}

// Collector runs the acquisition cascade for a project.
type Collector struct {
	store    *store.Store
	pool     CaptureBackend
	fetcher  *Fetcher
	markdown *extract.Markdowner
	config   Config
}

// NewCollector wires a Collector. pool may be nil when no browser is
// available; the cascade then starts at fast_capture.
func NewCollector(st *store.Store, pool CaptureBackend, fetcher *Fetcher, cfg Config) *Collector {
	cfg.defaults()
	if fetcher == nil {
		fetcher = NewFetcher(FetcherConfig{})
	}
	return &Collector{
		store:    st,
		pool:     pool,
		fetcher:  fetcher,
		markdown: extract.NewMarkdowner(),
		config:   cfg,
	}
}

// Collect acquires data for every target of a project within the request
// budget. It returns ErrProjectNotFound when the subject product record is
// missing; every other failure degrades into a lower cascade tier.
func (c *Collector) Collect(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	budget := req.MaxDuration
	if budget <= 0 {
		budget = c.config.DefaultBudget
	}

	product, err := c.store.ProductForProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return nil, ErrProjectNotFound
	}

	competitors, err := c.store.CompetitorsForProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load competitors: %w", err)
	}

	res := &Result{
		Product:       productResult(product),
		Competitors:   make([]ItemResult, len(competitors)),
		PriorityUsage: SourceCounts{},
	}

	// Budget race: once runCtx expires, every in-flight cascade aborts its
	// current tier and settles on basic_metadata, so the wait below is
	// bounded by the budget plus tier teardown.
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var wg sync.WaitGroup
	for i, comp := range competitors {
		wg.Add(1)
		go func(i int, comp *store.Competitor) {
			defer wg.Done()
			timeout := perTargetTimeout(comp.URL, budget, len(competitors))
			res.Competitors[i] = c.collectCompetitor(runCtx, comp, timeout, req)
		}(i, comp)
	}
	wg.Wait()

	res.PriorityUsage[res.Product.Source]++
	for _, cr := range res.Competitors {
		res.PriorityUsage[cr.Source]++
	}
	res.CompletenessScore = completenessScore(res.Product, res.Competitors)
	res.FreshnessTier = freshnessTier(res.Product, res.Competitors)
	res.Duration = time.Since(start)

	c.config.Logger.Info("collection finished",
		"project_id", req.ProjectID,
		"completeness", res.CompletenessScore,
		"freshness", string(res.FreshnessTier),
		"duration_ms", res.Duration.Milliseconds(),
		"competitors", len(competitors))
	return res, nil
}

// collectCompetitor runs the cascade for one competitor. Each tier gets one
// attempt; a timeout or error moves straight to the next tier.
func (c *Collector) collectCompetitor(ctx context.Context, comp *store.Competitor, timeout time.Duration, req Request) ItemResult {
	var lastErr string

	if req.RequireFreshData && c.pool != nil && comp.URL != "" {
		item, err := c.freshCapture(ctx, comp, timeout)
		if err == nil {
			return item
		}
		lastErr = err.Error()
		c.config.Logger.Debug("fresh capture failed, degrading",
			"competitor_id", comp.ID, "error", err)
	}

	if comp.URL != "" {
		item, err := c.fastCapture(ctx, comp, timeout/2)
		if err == nil {
			item.Err = lastErr
			return item
		}
		lastErr = err.Error()
		c.config.Logger.Debug("fast capture failed, degrading",
			"competitor_id", comp.ID, "error", err)
	}

	if req.FallbackAllowed {
		if snap, err := c.store.LatestSnapshot(ctx, comp.ID); err == nil && snap != nil {
			age := float64(time.Now().UnixMilli()-snap.CreatedAt) / 86_400_000
			return ItemResult{
				TargetID: comp.ID,
				Name:     comp.Name,
				URL:      comp.URL,
				Source:   SourceExistingSnapshot,
				Quality:  SourceExistingSnapshot.Quality(),
				Title:    snap.Title,
				Content:  snap.Text,
				AgeDays:  age,
				Err:      lastErr,
			}
		}
	}

	item := basicMetadata(comp)
	item.Err = lastErr
	return item
}

func (c *Collector) freshCapture(ctx context.Context, comp *store.Competitor, timeout time.Duration) (ItemResult, error) {
	start := time.Now()
	capRes, err := c.pool.Capture(ctx, capture.Request{URL: comp.URL, Timeout: timeout})
	if err != nil {
		return ItemResult{}, err
	}

	text := c.markdown.Convert(capRes.HTML, comp.URL, capRes.Text)
	c.persistSnapshot(ctx, comp.ID, string(SourceFreshCapture), capRes.Title, text,
		capRes.StatusCode, time.Since(start))

	return ItemResult{
		TargetID:    comp.ID,
		Name:        comp.Name,
		URL:         comp.URL,
		Source:      SourceFreshCapture,
		Quality:     SourceFreshCapture.Quality(),
		Title:       capRes.Title,
		Content:     text,
		CaptureTime: time.Since(start),
	}, nil
}

func (c *Collector) fastCapture(ctx context.Context, comp *store.Competitor, timeout time.Duration) (ItemResult, error) {
	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fr, err := c.fetcher.Fetch(fetchCtx, comp.URL)
	if err != nil {
		return ItemResult{}, err
	}

	meta, err := extract.ParseMeta(fr.Body)
	if err != nil {
		return ItemResult{}, fmt.Errorf("parse metadata: %w", err)
	}
	content := metaDigest(meta)
	c.persistSnapshot(ctx, comp.ID, string(SourceFastCapture), meta.Title, content,
		fr.StatusCode, time.Since(start))

	return ItemResult{
		TargetID:    comp.ID,
		Name:        comp.Name,
		URL:         comp.URL,
		Source:      SourceFastCapture,
		Quality:     SourceFastCapture.Quality(),
		Title:       meta.Title,
		Content:     content,
		CaptureTime: time.Since(start),
	}, nil
}

// persistSnapshot stores a successful capture so later runs can fall back
// to existing_snapshot. Persistence failure is logged, never fatal.
func (c *Collector) persistSnapshot(ctx context.Context, competitorID, source, title, text string, statusCode int, elapsed time.Duration) {
	h := sha256.Sum256([]byte(text))
	err := c.store.InsertSnapshot(ctx, &store.Snapshot{
		ID:           c.config.IDs(),
		CompetitorID: competitorID,
		Source:       source,
		Title:        title,
		Text:         text,
		ContentHash:  fmt.Sprintf("%x", h),
		StatusCode:   statusCode,
		CaptureMs:    elapsed.Milliseconds(),
		CreatedAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		c.config.Logger.Warn("snapshot persist failed",
			"competitor_id", competitorID, "error", err)
	}
}

func productResult(p *store.Product) ItemResult {
	return ItemResult{
		TargetID: p.ID,
		Name:     p.Name,
		URL:      p.URL,
		Source:   SourceFormInput,
		Quality:  SourceFormInput.Quality(),
		Content:  p.Positioning,
	}
}

func basicMetadata(comp *store.Competitor) ItemResult {
	return ItemResult{
		TargetID: comp.ID,
		Name:     comp.Name,
		URL:      comp.URL,
		Source:   SourceBasicMetadata,
		Quality:  SourceBasicMetadata.Quality(),
		Content:  fmt.Sprintf("%s (%s) — %s", comp.Name, comp.Industry, comp.URL),
	}
}

func metaDigest(m *extract.Meta) string {
	out := m.Title
	if m.Headline != "" && m.Headline != m.Title {
		out += "\n" + m.Headline
	}
	if m.Description != "" {
		out += "\n" + m.Description
	}
	return out
}

// Scoring weights. Product counts for 40% of completeness, competitors 60%.
const (
	productWeight    = 0.4
	competitorWeight = 0.6
)

// completenessScore combines the product tier with a fresh-weighted
// competitor average, both on a 0-100 scale.
func completenessScore(product ItemResult, competitors []ItemResult) float64 {
	productScore := productTierPoints(product.Source) * 2.5

	competitorScore := 0.0
	if len(competitors) > 0 {
		sum := 0.0
		for _, c := range competitors {
			sum += competitorTierWeight(c.Source)
		}
		competitorScore = sum / float64(len(competitors)) * 100
	}

	score := productWeight*productScore + competitorWeight*competitorScore
	return math.Max(0, math.Min(100, score))
}

func productTierPoints(s Source) float64 {
	switch s {
	case SourceFormInput, SourceFreshCapture:
		return 40
	case SourceFastCapture, SourceExistingSnapshot:
		return 30
	default:
		return 20
	}
}

func competitorTierWeight(s Source) float64 {
	switch s {
	case SourceFreshCapture:
		return 0.6
	case SourceFastCapture, SourceExistingSnapshot:
		return 0.4
	default:
		return 0.2
	}
}

// freshnessTier classifies a run by how much of its data was captured live.
func freshnessTier(product ItemResult, competitors []ItemResult) Tier {
	productImmediate := product.Source == SourceFormInput || product.Source == SourceFreshCapture

	fresh, existing := 0, 0
	for _, c := range competitors {
		switch c.Source {
		case SourceFreshCapture, SourceFastCapture:
			fresh++
		case SourceExistingSnapshot:
			existing++
		}
	}

	if len(competitors) > 0 {
		ratio := float64(fresh) / float64(len(competitors))
		if productImmediate && ratio >= 0.8 {
			return TierNew
		}
		if productImmediate && ratio >= 0.3 {
			return TierMixed
		}
	}
	if fresh > 0 || existing > 0 {
		return TierExisting
	}
	return TierBasic
}
