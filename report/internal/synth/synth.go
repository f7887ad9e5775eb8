// Package synth renders collected data and analysis into a structured
// report.
//
// Two rendering paths share the same inputs. The standard path assumes the
// data is good enough to speak plainly. The partial path, taken when
// completeness drops below 70, discloses what is missing: a data-gaps
// section, per-section limitation notices, and quality footers. A nil
// analysis is a legitimate input on the partial path, not an error.
package synth

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rivalscope/rivalscope/idgen"
	"github.com/rivalscope/rivalscope/report/internal/analysis"
	"github.com/rivalscope/rivalscope/report/internal/collect"
)

// partialThreshold is the completeness score below which the degraded
// rendering path takes over.
const partialThreshold = 70

// footerThreshold marks sections that carry a trailing quality footer.
const footerThreshold = 80

// Section is one rendered report section.
type Section struct {
	ID                   string  `json:"id"`
	Title                string  `json:"title"`
	Body                 string  `json:"body"`
	CompletenessEstimate float64 `json:"completeness_estimate"`
	Limitation           string  `json:"limitation,omitempty"`
}

// Metadata describes the data quality behind a report.
type Metadata struct {
	CompletenessScore float64      `json:"completeness_score"`
	FreshnessTier     collect.Tier `json:"freshness_tier"`
	ConfidenceScore   float64      `json:"confidence_score"`
	GeneratedAt       time.Time    `json:"generated_at"`
	AnalysisMethod    string       `json:"analysis_method"`
}

// Report is the final synthesized artifact. Immutable once Status is
// completed.
type Report struct {
	ID                       string    `json:"id"`
	Title                    string    `json:"title"`
	Sections                 []Section `json:"sections"`
	Metadata                 Metadata  `json:"metadata"`
	StrategicRecommendations []string  `json:"strategic_recommendations"`
	Status                   string    `json:"status"`
}

// Dependency weights: how much each section leans on competitor data.
// Heavier sections degrade more when competitor data is missing.
var sectionWeights = map[string]float64{
	"executive-summary":         0.3,
	"market-position":           0.6,
	"feature-comparison":        0.8,
	"pricing-analysis":          0.7,
	"strengths-weaknesses":      0.5,
	"strategic-recommendations": 0.5,
}

// sectionOrder is the fixed rendering order for both paths.
var sectionOrder = []string{
	"executive-summary",
	"market-position",
	"feature-comparison",
	"pricing-analysis",
	"strengths-weaknesses",
	"strategic-recommendations",
}

// confidenceNoAnalysis is the metadata confidence when no analysis could be
// produced at all.
const confidenceNoAnalysis = 25

// Synthesizer renders reports.
type Synthesizer struct {
	logger *slog.Logger
	ids    idgen.Generator
}

// NewSynthesizer creates a Synthesizer. A nil logger falls back to
// slog.Default.
func NewSynthesizer(logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{logger: logger, ids: idgen.Prefixed("rpt_", idgen.UUIDv7())}
}

// Synthesize renders a report for productName from the collection result
// and an optional analysis. It always succeeds.
func (s *Synthesizer) Synthesize(productName string, res *collect.Result, an *analysis.Analysis) *Report {
	partial := res.CompletenessScore < partialThreshold

	r := &Report{
		ID:     s.ids(),
		Title:  reportTitle(productName, res.CompletenessScore, partial),
		Status: "completed",
		Metadata: Metadata{
			CompletenessScore: res.CompletenessScore,
			FreshnessTier:     res.FreshnessTier,
			GeneratedAt:       time.Now().UTC(),
		},
	}
	if an != nil {
		r.Metadata.ConfidenceScore = an.ConfidenceScore
		r.Metadata.AnalysisMethod = string(an.Method)
	} else {
		r.Metadata.ConfidenceScore = confidenceNoAnalysis
		r.Metadata.AnalysisMethod = "none"
	}

	r.StrategicRecommendations = recommendations(an)

	for _, id := range sectionOrder {
		sec := Section{
			ID:    id,
			Title: sectionTitle(id),
			Body:  s.sectionBody(id, productName, res, an, r.StrategicRecommendations),
		}
		if partial {
			sec.CompletenessEstimate = sectionCompleteness(id, res.CompletenessScore)
			if w := sectionWeights[id]; w >= 0.7 {
				sec.Limitation = fmt.Sprintf(
					"This section depends heavily on competitor data that is incomplete (%.0f%% available).",
					sec.CompletenessEstimate)
			}
			if sec.CompletenessEstimate < footerThreshold {
				sec.Body += qualityFooter(res)
			}
		} else {
			sec.CompletenessEstimate = 100
		}
		r.Sections = append(r.Sections, sec)
	}

	if partial {
		r.Sections = append(r.Sections, dataGapsSection(res, an))
	}

	s.logger.Info("report synthesized",
		"report_id", r.ID,
		"partial", partial,
		"sections", len(r.Sections),
		"completeness", res.CompletenessScore)
	return r
}

// sectionCompleteness estimates how complete one section can be when the
// overall data is incomplete, scaled by the section's dependency weight.
func sectionCompleteness(id string, overall float64) float64 {
	w, ok := sectionWeights[id]
	if !ok {
		w = 0.5
	}
	est := 100 - w*(100-overall)
	if est < 0 {
		return 0
	}
	return est
}

func reportTitle(productName string, completeness float64, partial bool) string {
	title := fmt.Sprintf("Competitive Analysis: %s", productName)
	if partial {
		title += fmt.Sprintf(" (%.0f%% Complete)", completeness)
	}
	return title
}

func sectionTitle(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// qualityFooter is appended to sections rendered from sub-threshold data.
func qualityFooter(res *collect.Result) string {
	return fmt.Sprintf(
		"\n\n---\n*Data quality: %s tier, %.0f%% complete, freshness: %s.*",
		qualityLabel(res.CompletenessScore), res.CompletenessScore, res.FreshnessTier)
}

func qualityLabel(score float64) string {
	switch {
	case score >= 75:
		return "good"
	case score >= 50:
		return "fair"
	default:
		return "limited"
	}
}

// genericRecommendations substitute for missing AI output. The label makes
// clear they are not derived from the collected data.
var genericRecommendations = []string{
	"General guidance: conduct a comprehensive competitor analysis with fresh data",
	"General guidance: monitor competitor pricing pages for changes",
	"General guidance: track competitor feature announcements and release notes",
}

func recommendations(an *analysis.Analysis) []string {
	if an != nil && len(an.StrategicRecommendations) > 0 {
		return an.StrategicRecommendations
	}
	out := make([]string, len(genericRecommendations))
	copy(out, genericRecommendations)
	return out
}
