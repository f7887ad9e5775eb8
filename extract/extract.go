// Package extract pulls structured content out of captured competitor pages.
//
// Two levels of extraction match the two capture tiers: Meta reads only the
// head of the document (title, description, first headline) and is what fast
// capture stores; Markdown sanitizes a fully rendered page and converts it
// to markdown, which is what fresh capture stores as snapshot text.
package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Meta is the cheap extraction result: identity-level page facts.
type Meta struct {
	Title       string
	Description string
	Headline    string // first h1 text, if any
}

// ParseMeta extracts title, meta description, and the first h1 from an HTML
// document. It never fails on malformed markup: the html package repairs
// what it can, and missing fields stay empty.
func ParseMeta(body []byte) (*Meta, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	m := &Meta{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if m.Title == "" {
					m.Title = collapseSpace(collectText(n))
				}
			case atom.Meta:
				if m.Description == "" && metaName(n) == "description" {
					m.Description = collapseSpace(attr(n, "content"))
				}
			case atom.H1:
				if m.Headline == "" {
					m.Headline = collapseSpace(collectText(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return m, nil
}

// collectText concatenates all text nodes under n.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func metaName(n *html.Node) string {
	name := attr(n, "name")
	if name == "" {
		name = attr(n, "property") // og:description et al.
	}
	return strings.ToLower(name)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
