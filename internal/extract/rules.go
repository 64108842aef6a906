// internal/extract/rules.go
package extract

import (
	"regexp"

	"go.uber.org/zap"
)

// RuleStrings is the wire form of caller-supplied extraction rules: CSS
// selectors and regex pattern sources arriving over HTTP or from YAML.
type RuleStrings struct {
	ItemSelector  string `json:"itemSelector,omitempty" yaml:"item_selector,omitempty"`
	TitleSelector string `json:"titleSelector,omitempty" yaml:"title_selector,omitempty"`
	URLSelector   string `json:"urlSelector,omitempty" yaml:"url_selector,omitempty"`
	DateSelector  string `json:"dateSelector,omitempty" yaml:"date_selector,omitempty"`
	VenueSelector string `json:"venueSelector,omitempty" yaml:"venue_selector,omitempty"`

	ItemPattern  string `json:"itemPattern,omitempty" yaml:"item_pattern,omitempty"`
	TitlePattern string `json:"titlePattern,omitempty" yaml:"title_pattern,omitempty"`
	URLPattern   string `json:"urlPattern,omitempty" yaml:"url_pattern,omitempty"`
	DatePattern  string `json:"datePattern,omitempty" yaml:"date_pattern,omitempty"`
	VenuePattern string `json:"venuePattern,omitempty" yaml:"venue_pattern,omitempty"`

	PathHints []string `json:"pathHints,omitempty" yaml:"path_hints,omitempty"`
	URLBase   string   `json:"urlBase,omitempty" yaml:"url_base,omitempty"`
}

// Rules is the validated, compiled form of RuleStrings, built once per run.
type Rules struct {
	ItemSelector  string
	TitleSelector string
	URLSelector   string
	DateSelector  string
	VenueSelector string

	Item  *regexp.Regexp
	Title *regexp.Regexp
	URL   *regexp.Regexp
	Date  *regexp.Regexp
	Venue *regexp.Regexp

	PathHints []string
	URLBase   string
}

// Default intra-block patterns for the regex strategy, used when the caller
// supplies only an item pattern.
var (
	defaultTitlePattern = regexp.MustCompile(`(?s)>\s*([^<>]{3,200}?)\s*<`)
	defaultURLPattern   = regexp.MustCompile(`(?i)href\s*=\s*["']([^"'#][^"']*)["']`)
)

// CompileRules compiles the wire strings into a Rules value. Invalid regex
// sources are logged and ignored rather than failing the run; the cascade
// simply proceeds without the affected pattern.
func CompileRules(ws RuleStrings, logger *zap.Logger) Rules {
	if logger == nil {
		logger = zap.NewNop()
	}
	compile := func(name, src string) *regexp.Regexp {
		if src == "" {
			return nil
		}
		re, err := regexp.Compile(src)
		if err != nil {
			logger.Warn("ignoring invalid extraction pattern",
				zap.String("pattern", name), zap.Error(err))
			return nil
		}
		return re
	}

	rules := Rules{
		ItemSelector:  ws.ItemSelector,
		TitleSelector: ws.TitleSelector,
		URLSelector:   ws.URLSelector,
		DateSelector:  ws.DateSelector,
		VenueSelector: ws.VenueSelector,
		Item:          compile("itemPattern", ws.ItemPattern),
		Title:         compile("titlePattern", ws.TitlePattern),
		URL:           compile("urlPattern", ws.URLPattern),
		Date:          compile("datePattern", ws.DatePattern),
		Venue:         compile("venuePattern", ws.VenuePattern),
		PathHints:     ws.PathHints,
		URLBase:       ws.URLBase,
	}
	if rules.Title == nil {
		rules.Title = defaultTitlePattern
	}
	if rules.URL == nil {
		rules.URL = defaultURLPattern
	}
	return rules
}
