// internal/extract/cascade.go
package extract

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/harbourline/ingest/internal/parse"
)

// Page is one fetched listing page handed to the cascade.
type Page struct {
	URL  string
	HTML string
}

// Candidate is a pre-normalization record extracted from a page. Fields are
// raw strings exactly as found; normalization resolves URLs and parses dates.
type Candidate struct {
	NativeID    string
	Title       string
	URL         string
	DateText    string
	Venue       string
	Address     string
	Description string

	// Node holds the originating JSON-LD node when the candidate came from
	// structured data; Raw holds an HTML fragment snapshot otherwise.
	Node map[string]interface{}
	Raw  string
}

// Cascade evaluates extraction strategies in priority order and uses the
// first one that yields candidates. Strategy order reflects precision:
// selector > pattern > anchor proximity > path hints > JSON-LD.
type Cascade struct {
	rules  Rules
	logger *zap.Logger
}

// NewCascade builds a cascade for one source's compiled rules.
func NewCascade(rules Rules, logger *zap.Logger) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cascade{rules: rules, logger: logger}
}

type strategy struct {
	name string
	fn   func(Page) []Candidate
}

// Extract runs the cascade against one page, returning the candidates and
// the name of the winning strategy ("" when every strategy came up empty).
func (c *Cascade) Extract(page Page) ([]Candidate, string) {
	strategies := []strategy{
		{"selector", c.fromSelectors},
		{"pattern", c.fromPatterns},
		{"anchors", c.fromDatedAnchors},
		{"path-hints", c.fromPathHints},
		{"jsonld", c.fromJSONLD},
	}
	for _, s := range strategies {
		candidates := c.safely(s.name, s.fn, page)
		if len(candidates) > 0 {
			return candidates, s.name
		}
	}
	return nil, ""
}

// safely runs one strategy, converting a panic into "produced nothing" so
// the cascade can proceed to the next strategy instead of aborting the page.
func (c *Cascade) safely(name string, fn func(Page) []Candidate, page Page) (candidates []Candidate) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("extraction strategy panicked",
				zap.String("strategy", name),
				zap.String("url", page.URL),
				zap.String("panic", fmt.Sprint(r)))
			candidates = nil
		}
	}()
	return fn(page)
}

// fromPatterns applies the configured item regex to the raw page text and
// pulls fields out of each matching block with the title/url/date/venue
// patterns. Requires an item pattern; skipped otherwise.
func (c *Cascade) fromPatterns(page Page) []Candidate {
	if c.rules.Item == nil {
		return nil
	}
	blocks := c.rules.Item.FindAllString(page.HTML, -1)
	var candidates []Candidate
	for _, block := range blocks {
		candidate := Candidate{
			Title:    firstGroup(c.rules.Title, block),
			URL:      firstGroup(c.rules.URL, block),
			DateText: c.sniffDate(block),
			Venue:    firstGroup(c.rules.Venue, block),
			Raw:      block,
		}
		if candidate.Title == "" && candidate.URL == "" {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates
}

// fromDatedAnchors pairs anchors with dates found in the preceding text.
func (c *Cascade) fromDatedAnchors(page Page) []Candidate {
	var candidates []Candidate
	for _, dated := range parse.DatedAnchors(page.HTML) {
		candidates = append(candidates, Candidate{
			Title:    dated.Text,
			URL:      dated.Href,
			DateText: dated.DateText,
			Raw:      fmt.Sprintf("%s | %s", dated.DateText, dated.Href),
		})
	}
	return candidates
}

// fromPathHints collects anchors matching known listing path prefixes. The
// hints come from per-source configuration, defaulting to the historical
// built-ins; this is the fallback when no dated anchors are found.
func (c *Cascade) fromPathHints(page Page) []Candidate {
	anchors := parse.PathHintAnchors(parse.ScanAnchors(page.HTML), c.rules.PathHints)
	var candidates []Candidate
	for _, anchor := range anchors {
		candidates = append(candidates, Candidate{
			Title: anchor.Text,
			URL:   anchor.Href,
			Raw:   anchor.Href,
		})
	}
	return candidates
}

// fromJSONLD extracts schema.org Event nodes as a last resort.
func (c *Cascade) fromJSONLD(page Page) []Candidate {
	return CandidatesFromJSONLD(parse.EventNodes(parse.ExtractJSONLD(page.HTML)))
}

// CandidatesFromJSONLD converts Event-typed JSON-LD nodes into candidates.
// Exposed for the jsonld source type, which skips the rest of the cascade.
func CandidatesFromJSONLD(nodes []map[string]interface{}) []Candidate {
	var candidates []Candidate
	for _, node := range nodes {
		candidate := Candidate{
			NativeID:    parse.NodeString(node, "@id"),
			Title:       parse.NodeString(node, "name"),
			URL:         parse.NodeString(node, "url"),
			DateText:    parse.NodeString(node, "startDate"),
			Description: parse.NodeString(node, "description"),
			Venue:       parse.NodeString(node, "location", "name"),
			Node:        node,
		}
		if candidate.Venue == "" {
			candidate.Venue = parse.NodeString(node, "location", "address", "streetAddress")
		}
		if candidate.Title == "" && candidate.URL == "" {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates
}

// sniffDate prefers the configured date pattern and falls back to the
// generic date sniffer.
func (c *Cascade) sniffDate(block string) string {
	if c.rules.Date != nil {
		if m := firstGroup(c.rules.Date, block); m != "" {
			return m
		}
	}
	return parse.FindDate(block)
}

// firstGroup returns the first capture group of re in text (or the whole
// match when the pattern has no groups). Nil-safe.
func firstGroup(re *regexp.Regexp, text string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	switch {
	case len(m) > 1:
		return m[1]
	case len(m) == 1:
		return m[0]
	default:
		return ""
	}
}
