package synth

import (
	"fmt"
	"strings"

	"github.com/rivalscope/rivalscope/report/internal/analysis"
	"github.com/rivalscope/rivalscope/report/internal/collect"
)

// gap is one disclosed data deficiency with a way to fix it.
type gap struct {
	severity       string // high | medium
	category       string
	recommendation string
}

// dataGapsSection enumerates everything missing or stale in this run,
// grouped by severity, so the reader knows exactly how far to trust the
// report and what to do about it.
func dataGapsSection(res *collect.Result, an *analysis.Analysis) Section {
	gaps := collectGaps(res, an)

	var b strings.Builder
	b.WriteString("This report was generated from incomplete data. The following gaps affect its conclusions:\n")
	for _, severity := range []string{"high", "medium"} {
		var group []gap
		for _, g := range gaps {
			if g.severity == severity {
				group = append(group, g)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n**%s severity:**\n", strings.ToUpper(severity[:1])+severity[1:])
		for _, g := range group {
			fmt.Fprintf(&b, "- %s — %s\n", g.category, g.recommendation)
		}
	}

	return Section{
		ID:                   "data-gaps",
		Title:                "Data Gaps",
		Body:                 b.String(),
		CompletenessEstimate: 100, // the gaps list itself is always complete
	}
}

func collectGaps(res *collect.Result, an *analysis.Analysis) []gap {
	var gaps []gap

	for _, c := range res.Competitors {
		switch c.Source {
		case collect.SourceBasicMetadata:
			gaps = append(gaps, gap{
				severity: "high",
				category: fmt.Sprintf("No captured data for %s", c.Name),
				recommendation: "verify the competitor URL is reachable, or supply " +
					"competitor details manually",
			})
		case collect.SourceExistingSnapshot:
			gaps = append(gaps, gap{
				severity: "medium",
				category: fmt.Sprintf("Stale data for %s", c.Name),
				recommendation: "re-run the report with fresh data required once the " +
					"site is reachable again",
			})
		}
	}

	if an == nil {
		gaps = append(gaps, gap{
			severity:       "high",
			category:       "AI analysis unavailable",
			recommendation: "re-run once more competitor data has been captured; analysis needs enough material to work with",
		})
	} else if an.Method == analysis.MethodFallback {
		gaps = append(gaps, gap{
			severity:       "medium",
			category:       "Analysis degraded to text extraction",
			recommendation: "structured analysis output could not be parsed; insights below are best-effort extractions",
		})
	}

	return gaps
}
