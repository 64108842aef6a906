// internal/job/params.go
package job

import (
	"fmt"
	"os"
	"time"

	"github.com/harbourline/ingest/internal/extract"
	"github.com/harbourline/ingest/pkg/types"
)

// Source type tags accepted in run parameters.
const (
	SourceICS    = "free-ics"
	SourceHTML   = "html-extract"
	SourceJSONLD = "jsonld"
	SourceFeed   = "feed"
	SourcePlaces = "places"
)

// DefaultWindowDays bounds the look-ahead ingestion window.
const DefaultWindowDays = 60

// HTMLParams carries the listing URLs plus caller-supplied extraction rules.
type HTMLParams struct {
	ListingURLs []string `json:"listingUrls,omitempty" yaml:"listing_urls,omitempty"`
	extract.RuleStrings `yaml:",inline"`
}

// Params is the JSON body of one job invocation.
type Params struct {
	JobName    string     `json:"jobName,omitempty" yaml:"job_name,omitempty"`
	Source     string     `json:"source,omitempty" yaml:"source,omitempty"`
	City       string     `json:"city,omitempty" yaml:"city,omitempty"`
	WindowDays int        `json:"windowDays,omitempty" yaml:"window_days,omitempty"`
	PageSize   int        `json:"pageSize,omitempty" yaml:"page_size,omitempty"`
	MaxPages   int        `json:"maxPages,omitempty" yaml:"max_pages,omitempty"`
	DryRun     *bool      `json:"dryRun,omitempty" yaml:"dry_run,omitempty"`
	Timezone   string     `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	FeedURLs   []string   `json:"feedUrls,omitempty" yaml:"feed_urls,omitempty"`
	HTML       HTMLParams `json:"html,omitempty" yaml:"html,omitempty"`
}

// DefaultTimezone is the zone applied to naive local times when the job does
// not specify one.
const DefaultTimezone = "Pacific/Auckland"

// dryRun defaults to true for safety: persisting requires an explicit opt-in.
func (p Params) dryRun() bool {
	if p.DryRun == nil {
		return true
	}
	return *p.DryRun
}

func (p Params) windowDays() int {
	if p.WindowDays <= 0 {
		return DefaultWindowDays
	}
	return p.WindowDays
}

func (p Params) jobName() string {
	if p.JobName != "" {
		return p.JobName
	}
	return "scrape-" + p.Source
}

// location resolves the job's timezone, defaulting to the target locale.
func (p Params) location() (*time.Location, error) {
	name := p.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// kind maps the source type to its record variant.
func (p Params) kind() types.RecordKind {
	if p.Source == SourcePlaces {
		return types.KindPlace
	}
	return types.KindEvent
}

// Validate checks the parameters that must fail fast before any work begins:
// unknown source types, missing URL lists, and missing provider credentials.
func (p Params) Validate() error {
	switch p.Source {
	case SourceICS, SourceFeed:
		if len(p.FeedURLs) == 0 {
			return fmt.Errorf("source %q requires feedUrls", p.Source)
		}
	case SourceHTML, SourceJSONLD:
		if len(p.HTML.ListingURLs) == 0 {
			return fmt.Errorf("source %q requires html.listingUrls", p.Source)
		}
	case SourcePlaces:
		if os.Getenv("PLACES_API_KEY") == "" {
			return fmt.Errorf("source %q requires the PLACES_API_KEY environment variable", p.Source)
		}
		if p.City == "" {
			return fmt.Errorf("source %q requires city", p.Source)
		}
	case "":
		return fmt.Errorf("source is required")
	default:
		return fmt.Errorf("unknown source %q", p.Source)
	}
	return nil
}
