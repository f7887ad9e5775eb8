// Package analysis turns collected competitor content into a structured
// competitive analysis through an AI completion endpoint.
//
// The package owns two failure boundaries. Transport and provider failures
// are classified into typed ErrorKinds where they happen, so the
// orchestrator can decide between retrying and giving up without parsing
// error strings. Malformed model output is never an error at all: ParseAnalysis
// falls back to extracting whatever usable lines the raw text contains and
// marks the result accordingly.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Method records how an Analysis was obtained from the model output.
type Method string

const (
	MethodParsed   Method = "parsed"
	MethodFallback Method = "fallback"
)

// Analysis is the structured output of one competitive analysis run.
type Analysis struct {
	MarketPosition           string   `json:"market_position"`
	KeyInsights              []string `json:"key_insights"`
	FeatureComparison        string   `json:"feature_comparison"`
	PricingAnalysis          string   `json:"pricing_analysis"`
	Strengths                []string `json:"strengths"`
	Weaknesses               []string `json:"weaknesses"`
	StrategicRecommendations []string `json:"strategic_recommendations"`
	ConfidenceScore          float64  `json:"confidence_score"`

	// Method and FallbackReason are set by ParseAnalysis, not the model.
	Method         Method `json:"-"`
	FallbackReason string `json:"-"`
}

// CompetitorContent is the collected material for one competitor.
type CompetitorContent struct {
	Name    string
	URL     string
	Source  string
	Content string
}

// Input is everything the analyzer needs about the subject and its rivals.
type Input struct {
	ProductName        string
	ProductPositioning string
	ProductFeatures    []string
	ProductPricing     string
	Industry           string
	Competitors        []CompetitorContent
}

// Analyzer runs completions and parses their output.
type Analyzer struct {
	completer Completer
	logger    *slog.Logger
}

// NewAnalyzer wires a Completer into an Analyzer. A nil logger falls back
// to slog.Default.
func NewAnalyzer(c Completer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{completer: c, logger: logger}
}

const systemPrompt = `You are a competitive intelligence analyst. Respond with a single JSON object, no markdown fences, with exactly these fields: market_position (string), key_insights (array of strings), feature_comparison (string), pricing_analysis (string), strengths (array of strings), weaknesses (array of strings), strategic_recommendations (array of strings), confidence_score (number 0-100 reflecting how well the provided data supports the analysis).`

// Analyze completes the analysis prompt and parses the result. Completion
// failures return a typed *Error; unparseable output degrades to a fallback
// Analysis rather than failing.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*Analysis, error) {
	raw, err := a.completer.Complete(ctx, systemPrompt, buildPrompt(in))
	if err != nil {
		return nil, err
	}

	an := ParseAnalysis(raw)
	if an.Method == MethodFallback {
		a.logger.Warn("analysis output unparseable, using fallback extraction",
			"reason", an.FallbackReason)
	}
	return an, nil
}

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject product: %s\n", in.ProductName)
	if in.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", in.Industry)
	}
	if in.ProductPositioning != "" {
		fmt.Fprintf(&b, "Positioning: %s\n", in.ProductPositioning)
	}
	if len(in.ProductFeatures) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(in.ProductFeatures, "; "))
	}
	if in.ProductPricing != "" {
		fmt.Fprintf(&b, "Pricing: %s\n", in.ProductPricing)
	}

	b.WriteString("\nCompetitors:\n")
	for _, c := range in.Competitors {
		fmt.Fprintf(&b, "\n## %s (%s)\nData source: %s\n", c.Name, c.URL, c.Source)
		b.WriteString(truncate(c.Content, 6000))
		b.WriteString("\n")
	}

	b.WriteString("\nAnalyze the subject product against these competitors.")
	return b.String()
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
