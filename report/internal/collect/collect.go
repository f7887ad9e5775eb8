// Package collect acquires the best obtainable data for a report within a
// bounded time budget.
//
// Each target runs through a priority cascade of sources, most expensive
// and highest quality first, short-circuiting on the first success. The
// coordinator fans all competitors out concurrently inside an overall
// budget race, so a slow competitor can degrade its own result but never
// stall the report.
package collect

import (
	"errors"
	"strings"
	"time"
)

// ErrProjectNotFound means the subject product record does not exist.
// It is the only hard failure collection can raise.
var ErrProjectNotFound = errors.New("collect: project not found")

// Source identifies which cascade tier produced an ItemResult.
type Source string

const (
	SourceFormInput        Source = "form_input"
	SourceFreshCapture     Source = "fresh_capture"
	SourceFastCapture      Source = "fast_capture"
	SourceExistingSnapshot Source = "existing_snapshot"
	SourceBasicMetadata    Source = "basic_metadata"
)

// Quality is the data quality implied by a source tier.
type Quality string

const (
	QualityHigh    Quality = "high"
	QualityMedium  Quality = "medium"
	QualityLow     Quality = "low"
	QualityMinimal Quality = "minimal"
)

// Quality returns the quality tier a source implies. The mapping is fixed:
// a fresh capture is always high, basic metadata always minimal.
func (s Source) Quality() Quality {
	switch s {
	case SourceFormInput, SourceFreshCapture:
		return QualityHigh
	case SourceFastCapture, SourceExistingSnapshot:
		return QualityMedium
	case SourceBasicMetadata:
		return QualityMinimal
	}
	return QualityLow
}

// Tier classifies the overall freshness of a collection run.
type Tier string

const (
	TierNew      Tier = "new"
	TierMixed    Tier = "mixed"
	TierExisting Tier = "existing"
	TierBasic    Tier = "basic"
)

// Request describes one collection attempt. Immutable once built.
type Request struct {
	ProjectID        string
	RequireFreshData bool
	MaxDuration      time.Duration
	FallbackAllowed  bool
}

// ItemResult is the outcome for a single target (product or competitor).
type ItemResult struct {
	TargetID    string        `json:"target_id"`
	Name        string        `json:"name"`
	URL         string        `json:"url"`
	Source      Source        `json:"source"`
	Quality     Quality       `json:"quality"`
	Title       string        `json:"title"`
	Content     string        `json:"content"`
	CaptureTime time.Duration `json:"capture_time"`
	// AgeDays is how old the underlying data is. Zero for live captures,
	// the snapshot age for existing_snapshot results.
	AgeDays float64 `json:"age_days,omitempty"`
	Err     string  `json:"error,omitempty"`
}

// SourceCounts tallies which cascade tiers a run ended up using.
type SourceCounts map[Source]int

// Result is the outcome of one collection run. Built by a single
// coordinator goroutine and passed by value downstream.
type Result struct {
	Product           ItemResult    `json:"product"`
	Competitors       []ItemResult  `json:"competitors"`
	CompletenessScore float64       `json:"completeness_score"`
	FreshnessTier     Tier          `json:"freshness_tier"`
	PriorityUsage     SourceCounts  `json:"priority_usage"`
	Duration          time.Duration `json:"duration"`
}

// Site complexity timeouts. Rendering budgets differ by site style:
// e-commerce pages settle fast, marketplaces keep loading tiles for ages.
const (
	timeoutShop        = 15 * time.Second
	timeoutSaaS        = 25 * time.Second
	timeoutMarketplace = 30 * time.Second
	timeoutDefault     = 20 * time.Second
)

// siteComplexityTimeout estimates a capture timeout from URL keywords.
func siteComplexityTimeout(url string) time.Duration {
	lower := strings.ToLower(url)
	switch {
	case containsAny(lower, "marketplace", "market"):
		return timeoutMarketplace
	case containsAny(lower, "shop", "store", "cart"):
		return timeoutShop
	case containsAny(lower, "app", "saas", "platform"):
		return timeoutSaaS
	}
	return timeoutDefault
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// perTargetTimeout bounds each competitor by both its site complexity and
// its fair share of the overall budget.
func perTargetTimeout(url string, budget time.Duration, competitorCount int) time.Duration {
	t := siteComplexityTimeout(url)
	if competitorCount > 0 && budget > 0 {
		share := budget / time.Duration(competitorCount)
		if share < t {
			t = share
		}
	}
	return t
}
