// internal/parse/anchors.go
package parse

import (
	"regexp"
	"strings"
)

// proximityWindow is how far back from an anchor the date heuristic looks.
const proximityWindow = 200

// Anchor is a raw <a> tag found in page text.
type Anchor struct {
	Href string
	Text string
	Pos  int // byte offset of the anchor in the source HTML
}

// DatedAnchor pairs an anchor with a date fragment sniffed from the
// surrounding text.
type DatedAnchor struct {
	Anchor
	DateText string
}

var anchorRe = regexp.MustCompile(`(?is)<a\b[^>]*href\s*=\s*["']([^"'#][^"']*)["'][^>]*>(.*?)</a>`)
var tagRe = regexp.MustCompile(`(?s)<[^>]*>`)

// ScanAnchors extracts every anchor from raw HTML text. Nested markup inside
// the anchor body is stripped to plain text.
func ScanAnchors(html string) []Anchor {
	matches := anchorRe.FindAllStringSubmatchIndex(html, -1)
	anchors := make([]Anchor, 0, len(matches))
	for _, m := range matches {
		href := strings.TrimSpace(html[m[2]:m[3]])
		text := strings.TrimSpace(tagRe.ReplaceAllString(html[m[4]:m[5]], " "))
		text = strings.Join(strings.Fields(text), " ")
		if href == "" {
			continue
		}
		anchors = append(anchors, Anchor{Href: href, Text: text, Pos: m[0]})
	}
	return anchors
}

// DatedAnchors pairs each anchor with a date found in the ~200 characters of
// HTML preceding it. Anchors with no nearby date are omitted.
func DatedAnchors(html string) []DatedAnchor {
	var dated []DatedAnchor
	for _, anchor := range ScanAnchors(html) {
		start := anchor.Pos - proximityWindow
		if start < 0 {
			start = 0
		}
		fragment := FindDate(html[start:anchor.Pos])
		if fragment == "" {
			// The date may sit inside the anchor text itself.
			fragment = FindDate(anchor.Text)
		}
		if fragment == "" {
			continue
		}
		dated = append(dated, DatedAnchor{Anchor: anchor, DateText: fragment})
	}
	return dated
}

// DefaultPathHints are the per-host path prefixes historically used as a
// fallback of last resort when no dated anchors are found. Sources may
// override them in configuration.
var DefaultPathHints = []string{"/events/", "/event/", "/shows/", "/whats-on/"}

// PathHintAnchors returns anchors whose href path matches one of the hint
// prefixes. Hints default to DefaultPathHints when empty.
func PathHintAnchors(anchors []Anchor, hints []string) []Anchor {
	if len(hints) == 0 {
		hints = DefaultPathHints
	}
	var matched []Anchor
	for _, anchor := range anchors {
		href := strings.ToLower(anchor.Href)
		for _, hint := range hints {
			if strings.Contains(href, strings.ToLower(hint)) {
				matched = append(matched, anchor)
				break
			}
		}
	}
	return matched
}
