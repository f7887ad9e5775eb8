package synth

import (
	"fmt"
	"strings"

	"github.com/rivalscope/rivalscope/report/internal/analysis"
	"github.com/rivalscope/rivalscope/report/internal/collect"
)

// sectionBody renders one section. Every section renders something useful
// even with a nil analysis, drawing on the collection result instead.
func (s *Synthesizer) sectionBody(id, productName string, res *collect.Result, an *analysis.Analysis, recs []string) string {
	switch id {
	case "executive-summary":
		return executiveSummary(productName, res, an)
	case "market-position":
		return marketPosition(res, an)
	case "feature-comparison":
		return featureComparison(res, an)
	case "pricing-analysis":
		return pricingAnalysis(res, an)
	case "strengths-weaknesses":
		return strengthsWeaknesses(an)
	case "strategic-recommendations":
		return bulletList(recs)
	}
	return ""
}

func executiveSummary(productName string, res *collect.Result, an *analysis.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This report compares %s against %d tracked competitors.\n",
		productName, len(res.Competitors))

	if an != nil && len(an.KeyInsights) > 0 {
		b.WriteString("\nKey insights:\n")
		b.WriteString(bulletList(an.KeyInsights))
	} else {
		b.WriteString("\nNo analysis insights are available for this run.\n")
	}

	fresh := res.PriorityUsage[collect.SourceFreshCapture] + res.PriorityUsage[collect.SourceFastCapture]
	fmt.Fprintf(&b, "\nData coverage: %d of %d competitors captured live (freshness: %s).",
		fresh, len(res.Competitors), res.FreshnessTier)
	return b.String()
}

func marketPosition(res *collect.Result, an *analysis.Analysis) string {
	if an != nil && an.MarketPosition != "" {
		return an.MarketPosition
	}
	var b strings.Builder
	b.WriteString("Tracked competitors:\n")
	for _, c := range res.Competitors {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.URL)
	}
	return b.String()
}

func featureComparison(res *collect.Result, an *analysis.Analysis) string {
	if an != nil && an.FeatureComparison != "" {
		return an.FeatureComparison
	}
	var b strings.Builder
	b.WriteString("Collected competitor material:\n")
	for _, c := range res.Competitors {
		summary := c.Content
		if len(summary) > 300 {
			summary = summary[:300] + "…"
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", c.Name, summary)
	}
	return b.String()
}

func pricingAnalysis(res *collect.Result, an *analysis.Analysis) string {
	if an != nil && an.PricingAnalysis != "" {
		return an.PricingAnalysis
	}
	return "Pricing data could not be analyzed for this run. Competitor pricing pages were not captured or analysis was unavailable."
}

func strengthsWeaknesses(an *analysis.Analysis) string {
	if an == nil || (len(an.Strengths) == 0 && len(an.Weaknesses) == 0) {
		return "No strengths and weaknesses assessment is available for this run."
	}
	var b strings.Builder
	if len(an.Strengths) > 0 {
		b.WriteString("Strengths:\n")
		b.WriteString(bulletList(an.Strengths))
	}
	if len(an.Weaknesses) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Weaknesses:\n")
		b.WriteString(bulletList(an.Weaknesses))
	}
	return b.String()
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it)
	}
	return b.String()
}
