// internal/normalize/normalize.go
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/harbourline/ingest/internal/extract"
	"github.com/harbourline/ingest/internal/parse"
	"github.com/harbourline/ingest/pkg/types"
)

// MaxRawChars bounds the persisted raw snapshot of an HTML fragment.
const MaxRawChars = 200000

// Outcome classifies what happened to one candidate during normalization.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
	Filtered
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Filtered:
		return "filtered"
	default:
		return "invalid"
	}
}

// Normalizer maps extracted candidates into canonical ScrapedRecords for one
// source within one run. It owns the run's seen-set; it is not safe for
// concurrent use and is not shared across runs.
type Normalizer struct {
	Source     string
	Kind       types.RecordKind
	City       string
	WindowDays int
	Loc        *time.Location
	Now        time.Time

	base *url.URL
	seen map[string]struct{}
}

// Config carries the per-run normalization settings.
type Config struct {
	Source     string
	Kind       types.RecordKind
	City       string
	WindowDays int
	Location   *time.Location
	Now        time.Time
}

// New creates a Normalizer. Zero-value fields get working defaults: a 60-day
// window and UTC interpretation of naive local times.
func New(config Config) *Normalizer {
	if config.WindowDays <= 0 {
		config.WindowDays = 60
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now.IsZero() {
		config.Now = time.Now()
	}
	return &Normalizer{
		Source:     config.Source,
		Kind:       config.Kind,
		City:       config.City,
		WindowDays: config.WindowDays,
		Loc:        config.Location,
		Now:        config.Now,
		seen:       make(map[string]struct{}),
	}
}

// SetSource retags the normalizer for the next batch of candidates. The
// seen-set is keyed on (source, external_id), so records from different
// source tags never collide.
func (n *Normalizer) SetSource(source string) {
	n.Source = source
}

// SetBase sets the listing page URL that relative hrefs resolve against.
func (n *Normalizer) SetBase(pageURL string) {
	if parsed, err := url.Parse(pageURL); err == nil {
		n.base = parsed
	}
}

// Normalize converts one candidate into a ScrapedRecord. The returned record
// is only meaningful when the outcome is Accepted.
func (n *Normalizer) Normalize(c extract.Candidate) (types.ScrapedRecord, Outcome) {
	record := types.ScrapedRecord{
		Source:      n.Source,
		Kind:        n.Kind,
		Title:       Clean(c.Title),
		Description: Clean(c.Description),
		VenueName:   Clean(c.Venue),
		Address:     Clean(c.Address),
		City:        n.City,
		Timezone:    n.Loc.String(),
		URL:         n.ResolveURL(c.URL),
		Raw:         rawSnapshot(c),
		ScrapedAt:   n.Now,
	}

	if c.DateText != "" {
		if t, ok := parse.NormalizeSniffedDate(c.DateText, n.Loc); ok {
			record.StartsAt = &t
		}
	}

	record.ExternalID = n.deriveExternalID(c, record)
	if record.ExternalID == "" {
		return record, Invalid
	}

	if record.StartsAt != nil && record.StartsAt.After(n.windowEnd()) {
		return record, Filtered
	}

	if _, dup := n.seen[record.Key()]; dup {
		return record, Duplicate
	}
	n.seen[record.Key()] = struct{}{}
	return record, Accepted
}

// NormalizeICS converts one parsed VEVENT property map into a record.
func (n *Normalizer) NormalizeICS(event map[string]string) (types.ScrapedRecord, Outcome) {
	candidate := extract.Candidate{
		NativeID:    event["UID"],
		Title:       event["SUMMARY"],
		Description: event["DESCRIPTION"],
		Venue:       event["LOCATION"],
		URL:         event["URL"],
	}
	record, outcome := n.normalizeWithoutDate(candidate)
	if outcome != Accepted {
		return record, outcome
	}

	if starts, ok := parse.DecodeICSTime(event["DTSTART"], n.Loc); ok {
		record.StartsAt = &starts
	}
	if ends, ok := parse.DecodeICSTime(event["DTEND"], n.Loc); ok {
		record.EndsAt = &ends
	}
	if record.StartsAt != nil && record.StartsAt.After(n.windowEnd()) {
		delete(n.seen, record.Key())
		return record, Filtered
	}
	return record, Accepted
}

// normalizeWithoutDate runs the shared mapping and dedup for candidates
// whose temporal fields are decoded by the caller.
func (n *Normalizer) normalizeWithoutDate(c extract.Candidate) (types.ScrapedRecord, Outcome) {
	record := types.ScrapedRecord{
		Source:      n.Source,
		Kind:        n.Kind,
		Title:       Clean(c.Title),
		Description: Clean(c.Description),
		VenueName:   Clean(c.Venue),
		Address:     Clean(c.Address),
		City:        n.City,
		Timezone:    n.Loc.String(),
		URL:         n.ResolveURL(c.URL),
		Raw:         rawSnapshot(c),
		ScrapedAt:   n.Now,
	}
	record.ExternalID = n.deriveExternalID(c, record)
	if record.ExternalID == "" {
		return record, Invalid
	}
	if _, dup := n.seen[record.Key()]; dup {
		return record, Duplicate
	}
	n.seen[record.Key()] = struct{}{}
	return record, Accepted
}

// windowEnd is the far edge of the look-ahead ingestion window.
func (n *Normalizer) windowEnd() time.Time {
	return n.Now.AddDate(0, 0, n.WindowDays)
}

// deriveExternalID derives the stable per-source identifier: provider-native
// ID first, then the canonicalized absolute URL, then a hash composite of
// title and date, then a hash of the raw snapshot as a generated fallback.
func (n *Normalizer) deriveExternalID(c extract.Candidate, record types.ScrapedRecord) string {
	if id := strings.TrimSpace(c.NativeID); id != "" {
		return id
	}
	if record.URL != "" {
		return canonicalURL(record.URL)
	}
	if record.Title != "" {
		composite := record.Title
		if record.StartsAt != nil {
			composite += "|" + record.StartsAt.UTC().Format(time.RFC3339)
		} else if c.DateText != "" {
			composite += "|" + c.DateText
		}
		return shortHash(composite)
	}
	if len(record.Raw) > 0 {
		return shortHash(string(record.Raw))
	}
	return ""
}

// ResolveURL resolves a possibly-relative href against the listing page base
// and returns an absolute URL, or "" when nothing sensible can be made.
func (n *Normalizer) ResolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if n.base == nil {
		return ""
	}
	return n.base.ResolveReference(ref).String()
}

// canonicalURL strips fragments and trailing slashes so that trivially
// different hrefs to the same page dedupe together.
func canonicalURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String()
}

// Clean applies unicode NFC normalization and collapses whitespace.
func Clean(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// shortHash returns a 16-byte hex digest for composite identifiers.
func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// rawSnapshot serializes the candidate's originating fragment, size-bounded.
// JSON-LD nodes are kept as JSON; HTML fragments are wrapped as a JSON
// string and truncated to MaxRawChars.
func rawSnapshot(c extract.Candidate) json.RawMessage {
	if c.Node != nil {
		if data, err := json.Marshal(c.Node); err == nil {
			return data
		}
	}
	if c.Raw == "" {
		return nil
	}
	fragment := c.Raw
	if len(fragment) > MaxRawChars {
		fragment = fragment[:MaxRawChars]
	}
	data, err := json.Marshal(map[string]string{"html": fragment})
	if err != nil {
		return nil
	}
	return data
}
