// Package quality scores a finished report for trustworthiness.
//
// Every score is deterministic: the same report and collection result
// always produce the same assessment, so an assessment can be regenerated
// at any time from its inputs.
package quality

import (
	"log/slog"
	"math"
	"sort"

	"github.com/rivalscope/rivalscope/report/internal/collect"
	"github.com/rivalscope/rivalscope/report/internal/synth"
)

// ConfidenceLevel buckets a per-section confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceCritical ConfidenceLevel = "critical"
)

// Tier buckets an overall score.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierPoor      Tier = "poor"
	TierCritical  Tier = "critical"
)

// Recommendation is one actionable way to improve report quality. Cost and
// TimeToImplement are independent axes: a cheap fix can be slow and an
// expensive one fast.
type Recommendation struct {
	Category        string  `json:"category"`
	Description     string  `json:"description"`
	Priority        int     `json:"priority"` // 1 is highest
	EstimatedImpact float64 `json:"estimated_impact"`
	Cost            string  `json:"cost"`              // low | medium | high
	TimeToImplement string  `json:"time_to_implement"` // hours | days | weeks
}

// Assessment is the quality verdict for one report. Never mutated after
// creation.
type Assessment struct {
	ReportID            string                     `json:"report_id"`
	OverallScore        float64                    `json:"overall_score"`
	CompletenessScore   float64                    `json:"completeness_score"`
	FreshnessScore      float64                    `json:"freshness_score"`
	ConfidenceScore     float64                    `json:"confidence_score"`
	SectionScores       map[string]float64         `json:"section_scores"`
	ConfidenceBySection map[string]ConfidenceLevel `json:"confidence_by_section"`
	Recommendations     []Recommendation           `json:"recommendations"`
	Tier                Tier                       `json:"tier"`
}

// Overall score weights.
const (
	weightCompleteness = 0.4
	weightFreshness    = 0.25
	weightConfidence   = 0.35
)

// Assessor scores reports.
type Assessor struct {
	logger *slog.Logger
}

// NewAssessor creates an Assessor. A nil logger falls back to slog.Default.
func NewAssessor(logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{logger: logger}
}

// Assess scores a report against the collection result it was built from.
func (a *Assessor) Assess(r *synth.Report, res *collect.Result) *Assessment {
	completeness := completenessScore(r, res)
	freshness := freshnessScore(res)
	confidence := r.Metadata.ConfidenceScore

	overall := math.Round(weightCompleteness*completeness +
		weightFreshness*freshness +
		weightConfidence*confidence)

	as := &Assessment{
		ReportID:            r.ID,
		OverallScore:        overall,
		CompletenessScore:   completeness,
		FreshnessScore:      freshness,
		ConfidenceScore:     confidence,
		SectionScores:       map[string]float64{},
		ConfidenceBySection: map[string]ConfidenceLevel{},
		Tier:                tierFor(overall),
	}

	coverage := coverageRatio(res)
	for _, sec := range r.Sections {
		score := sectionConfidence(sec, coverage, confidence)
		as.SectionScores[sec.ID] = score
		as.ConfidenceBySection[sec.ID] = levelFor(score)
	}

	as.Recommendations = recommend(as)

	a.logger.Info("report assessed",
		"report_id", r.ID,
		"overall", overall,
		"tier", string(as.Tier),
		"recommendations", len(as.Recommendations))
	return as
}

// completenessScore: 30 points for product identity, up to 50 scaled by
// competitor coverage, up to 20 by analysis depth.
func completenessScore(r *synth.Report, res *collect.Result) float64 {
	score := 0.0
	if res.Product.Name != "" {
		score += 30
	}
	score += 50 * coverageRatio(res)
	score += analysisDepth(r)
	return clamp(score)
}

// coverageRatio is the share of competitors with any captured or stored
// data, as opposed to synthesized basic metadata.
func coverageRatio(res *collect.Result) float64 {
	if len(res.Competitors) == 0 {
		return 0
	}
	covered := 0
	for _, c := range res.Competitors {
		if c.Source != collect.SourceBasicMetadata {
			covered++
		}
	}
	return float64(covered) / float64(len(res.Competitors))
}

// analysisDepth awards up to 20 points for section count, average section
// length, and the presence of recommendations.
func analysisDepth(r *synth.Report) float64 {
	score := 0.0

	if n := len(r.Sections); n >= 6 {
		score += 8
	} else {
		score += float64(n) / 6 * 8
	}

	totalLen := 0
	for _, sec := range r.Sections {
		totalLen += len(sec.Body)
	}
	if len(r.Sections) > 0 {
		avg := float64(totalLen) / float64(len(r.Sections))
		if avg >= 200 {
			score += 6
		} else {
			score += avg / 200 * 6
		}
	}

	if len(r.StrategicRecommendations) > 0 {
		score += 6
	}
	return score
}

// Freshness tier factors.
var tierFactor = map[collect.Tier]float64{
	collect.TierNew:      1.0,
	collect.TierMixed:    0.8,
	collect.TierExisting: 0.6,
	collect.TierBasic:    0.4,
}

// freshnessScore starts at 100, loses up to 50 points linearly as average
// data age approaches 30 days and up to 20 more past 7 days, gains up to 20
// for the live-capture ratio, then scales by the tier factor.
func freshnessScore(res *collect.Result) float64 {
	avgAge := 0.0
	fresh := 0
	if n := len(res.Competitors); n > 0 {
		sum := 0.0
		for _, c := range res.Competitors {
			sum += c.AgeDays
			if c.Source == collect.SourceFreshCapture || c.Source == collect.SourceFastCapture {
				fresh++
			}
		}
		avgAge = sum / float64(n)
	}

	score := 100.0
	score -= math.Min(50, avgAge/30*50)
	score -= math.Min(20, avgAge/7*20)
	if n := len(res.Competitors); n > 0 {
		score += 20 * float64(fresh) / float64(n)
	}

	factor, ok := tierFactor[res.FreshnessTier]
	if !ok {
		factor = 0.4
	}
	return clamp(score * factor)
}

// sectionConfidence starts from the section's completeness estimate and
// adjusts by up to ±20 across three weighted factors.
func sectionConfidence(sec synth.Section, coverage, analysisConfidence float64) float64 {
	score := sec.CompletenessEstimate

	// Data availability.
	if coverage >= 0.5 {
		score += 8
	} else {
		score -= 8
	}
	// Content depth.
	if len(sec.Body) >= 200 {
		score += 6
	} else {
		score -= 6
	}
	// Overall analysis confidence.
	if analysisConfidence >= 70 {
		score += 6
	} else {
		score -= 6
	}
	return clamp(score)
}

func levelFor(score float64) ConfidenceLevel {
	switch {
	case score >= 80:
		return ConfidenceHigh
	case score >= 60:
		return ConfidenceMedium
	case score >= 40:
		return ConfidenceLow
	default:
		return ConfidenceCritical
	}
}

func tierFor(overall float64) Tier {
	switch {
	case overall >= 90:
		return TierExcellent
	case overall >= 75:
		return TierGood
	case overall >= 60:
		return TierFair
	case overall >= 40:
		return TierPoor
	default:
		return TierCritical
	}
}

// Recommendation thresholds.
const (
	recCompletenessBelow = 70
	recFreshnessBelow    = 60
	recConfidenceBelow   = 75
	recSectionBelow      = 60
)

// recommend derives improvement actions from the assessment's scores.
// Output order is stable: priority ascending, then impact descending, then
// category.
func recommend(as *Assessment) []Recommendation {
	var recs []Recommendation

	if as.CompletenessScore < recCompletenessBelow {
		recs = append(recs, Recommendation{
			Category:        "data-coverage",
			Description:     "Improve competitor data coverage: verify competitor URLs and enable fresh captures",
			Priority:        1,
			EstimatedImpact: (recCompletenessBelow - as.CompletenessScore) * weightCompleteness,
			Cost:            "low",
			TimeToImplement: "days",
		})
	}
	if as.FreshnessScore < recFreshnessBelow {
		recs = append(recs, Recommendation{
			Category:        "data-freshness",
			Description:     "Update data sources: schedule more frequent captures so snapshots stay current",
			Priority:        2,
			EstimatedImpact: (recFreshnessBelow - as.FreshnessScore) * weightFreshness,
			Cost:            "medium",
			TimeToImplement: "hours",
		})
	}
	if as.ConfidenceScore < recConfidenceBelow {
		recs = append(recs, Recommendation{
			Category:        "analysis-methodology",
			Description:     "Enhance analysis methodology: provide richer product details to raise analysis confidence",
			Priority:        2,
			EstimatedImpact: (recConfidenceBelow - as.ConfidenceScore) * weightConfidence,
			Cost:            "high",
			TimeToImplement: "weeks",
		})
	}
	for id, score := range as.SectionScores {
		if score < recSectionBelow {
			recs = append(recs, Recommendation{
				Category:        "section:" + id,
				Description:     "Strengthen the " + id + " section by collecting the data it depends on",
				Priority:        3,
				EstimatedImpact: (recSectionBelow - score) * 0.1,
				Cost:            "low",
				TimeToImplement: "days",
			})
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority < recs[j].Priority
		}
		if recs[i].EstimatedImpact != recs[j].EstimatedImpact {
			return recs[i].EstimatedImpact > recs[j].EstimatedImpact
		}
		return recs[i].Category < recs[j].Category
	})
	return recs
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
