package analysis

import (
	"encoding/json"
	"strings"
)

// fallbackConfidence is the confidence assigned whenever structured parsing
// fails. It must stay below 65 so downstream scoring treats fallback output
// as weak evidence.
const fallbackConfidence = 50

// ParseAnalysis turns raw model output into an Analysis. It never fails:
// strict JSON decoding with structural validation yields Method=parsed;
// anything else degrades to extracting bullet and numbered lines from the
// raw text.
func ParseAnalysis(raw string) *Analysis {
	cleaned := stripFences(raw)

	var an Analysis
	if err := json.Unmarshal([]byte(cleaned), &an); err != nil {
		return fallback(raw, "invalid JSON")
	}
	if reason := validate(&an); reason != "" {
		return fallback(raw, "incomplete structure: "+reason)
	}
	an.Method = MethodParsed
	an.ConfidenceScore = clampScore(an.ConfidenceScore)
	return &an
}

// validate checks the fields the synthesizer depends on. An empty return
// means the structure is usable.
func validate(an *Analysis) string {
	if strings.TrimSpace(an.MarketPosition) == "" {
		return "missing market_position"
	}
	if len(an.KeyInsights) == 0 && len(an.Strengths) == 0 && len(an.Weaknesses) == 0 {
		return "no insights, strengths, or weaknesses"
	}
	return ""
}

// fallback extracts whatever list-shaped lines the raw text offers so a
// partial report can still cite something concrete.
func fallback(raw, reason string) *Analysis {
	an := &Analysis{
		Method:          MethodFallback,
		FallbackReason:  reason,
		ConfidenceScore: fallbackConfidence,
	}

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if isListLine(line) {
			lines = append(lines, trimListMarker(line))
		}
	}

	// First half of the extracted lines become insights, the rest
	// recommendations; with few lines everything is an insight.
	if len(lines) > 4 {
		half := len(lines) / 2
		an.KeyInsights = lines[:half]
		an.StrategicRecommendations = lines[half:]
	} else {
		an.KeyInsights = lines
	}
	return an
}

func isListLine(line string) bool {
	if len(line) < 3 {
		return false
	}
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• ") {
		return true
	}
	// Numbered: "1. ", "2) "
	if line[0] >= '1' && line[0] <= '9' && len(line) > 3 &&
		(line[1] == '.' || line[1] == ')') && line[2] == ' ' {
		return true
	}
	return false
}

func trimListMarker(line string) string {
	line = strings.TrimLeft(line, "-*• ")
	if len(line) > 2 && line[0] >= '1' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') {
		line = strings.TrimSpace(line[2:])
	}
	return strings.TrimSpace(line)
}

// stripFences removes a surrounding ```json ... ``` block when present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
