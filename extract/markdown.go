package extract

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Markdowner converts sanitized page HTML into markdown snapshot text.
// Safe for concurrent use; build one per process.
type Markdowner struct {
	sanitizer *bluemonday.Policy
	conv      *converter.Converter
}

// NewMarkdowner builds the sanitize-then-convert pipeline. The UGC policy
// strips scripts, event handlers, and embedded styling while keeping the
// structural elements the markdown converter understands.
func NewMarkdowner() *Markdowner {
	return &Markdowner{
		sanitizer: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Convert sanitizes rawHTML and converts it to markdown. If conversion fails
// or produces empty output, the fallback plain text is returned instead so a
// capture is never lost to a converter edge case.
func (m *Markdowner) Convert(rawHTML, sourceURL, fallback string) string {
	if rawHTML == "" {
		return fallback
	}
	clean := m.sanitizer.Sanitize(rawHTML)
	result, err := m.conv.ConvertString(clean, converter.WithDomain(sourceURL))
	if err != nil || strings.TrimSpace(result) == "" {
		return fallback
	}
	return strings.TrimSpace(result)
}
