// internal/normalize/normalize_test.go
package normalize

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/harbourline/ingest/internal/extract"
	"github.com/harbourline/ingest/pkg/types"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(Config{
		Source:     "html:generic",
		Kind:       types.KindEvent,
		City:       "Auckland",
		WindowDays: 60,
		Location:   time.UTC,
		Now:        testNow,
	})
}

func TestNormalizeAccepted(t *testing.T) {
	n := newTestNormalizer()
	n.SetBase("https://venue.nz/whats-on")

	record, outcome := n.Normalize(extract.Candidate{
		Title:    "  Jazz   Night ",
		URL:      "/events/jazz-night",
		DateText: "15 June 2025",
		Venue:    "Town Hall",
		Raw:      "<li>Jazz Night</li>",
	})
	if outcome != Accepted {
		t.Fatalf("outcome = %s, want accepted", outcome)
	}
	if record.Title != "Jazz Night" {
		t.Errorf("title not cleaned: %q", record.Title)
	}
	if record.URL != "https://venue.nz/events/jazz-night" {
		t.Errorf("url = %q", record.URL)
	}
	if record.ExternalID != "https://venue.nz/events/jazz-night" {
		t.Errorf("external id = %q, want canonical url", record.ExternalID)
	}
	if record.StartsAt == nil || !record.StartsAt.Equal(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("starts_at = %v", record.StartsAt)
	}
	if record.City != "Auckland" || record.Source != "html:generic" {
		t.Errorf("record = %+v", record)
	}
}

func TestNormalizeDedup(t *testing.T) {
	n := newTestNormalizer()
	n.SetBase("https://venue.nz/")

	// Same page reached via trivially different hrefs must dedupe.
	hrefs := []string{
		"/events/jazz-night",
		"/events/jazz-night/",
		"/events/jazz-night#tickets",
	}
	accepted := 0
	for _, href := range hrefs {
		_, outcome := n.Normalize(extract.Candidate{Title: "Jazz Night", URL: href})
		if outcome == Accepted {
			accepted++
		} else if outcome != Duplicate {
			t.Fatalf("href %q: outcome = %s", href, outcome)
		}
	}
	if accepted != 1 {
		t.Errorf("accepted %d of %d trivially-equal hrefs, want 1", accepted, len(hrefs))
	}
}

func TestNormalizeDedupScopedBySource(t *testing.T) {
	n := newTestNormalizer()
	candidate := extract.Candidate{NativeID: "evt-1", Title: "Shared"}

	if _, outcome := n.Normalize(candidate); outcome != Accepted {
		t.Fatalf("first: %s", outcome)
	}
	n.SetSource("ics:other.nz")
	if _, outcome := n.Normalize(candidate); outcome != Accepted {
		t.Errorf("same external id under a different source tag should be accepted, got %s", outcome)
	}
}

func TestNormalizeWindowFilter(t *testing.T) {
	n := newTestNormalizer()

	cases := []struct {
		name string
		date string
		want Outcome
	}{
		{"inside window", "2025-06-15", Accepted},
		{"window edge", "2025-07-31", Accepted},
		{"beyond window", "2025-09-01", Filtered},
		{"past event kept", "2024-01-01", Accepted},
		{"undated kept", "", Accepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, outcome := n.Normalize(extract.Candidate{
				NativeID: tc.name,
				Title:    tc.name,
				DateText: tc.date,
			})
			if outcome != tc.want {
				t.Errorf("outcome = %s, want %s", outcome, tc.want)
			}
		})
	}
}

func TestNormalizeExternalIDDerivation(t *testing.T) {
	t.Run("native id wins", func(t *testing.T) {
		n := newTestNormalizer()
		n.SetBase("https://venue.nz/")
		record, _ := n.Normalize(extract.Candidate{NativeID: " evt-7 ", Title: "X", URL: "/events/x"})
		if record.ExternalID != "evt-7" {
			t.Errorf("external id = %q", record.ExternalID)
		}
	})

	t.Run("title and date hash", func(t *testing.T) {
		n := newTestNormalizer()
		a, _ := n.Normalize(extract.Candidate{Title: "Jazz Night", DateText: "2025-06-15"})
		b, _ := n.Normalize(extract.Candidate{Title: "Jazz Night", DateText: "2025-06-16"})
		if a.ExternalID == "" || b.ExternalID == "" {
			t.Fatal("expected hash ids")
		}
		if a.ExternalID == b.ExternalID {
			t.Error("different dates should hash to different ids")
		}
	})

	t.Run("raw fallback", func(t *testing.T) {
		n := newTestNormalizer()
		record, outcome := n.Normalize(extract.Candidate{Raw: "<li>mystery</li>"})
		if outcome != Accepted || record.ExternalID == "" {
			t.Errorf("outcome = %s, id = %q", outcome, record.ExternalID)
		}
	})

	t.Run("nothing derivable", func(t *testing.T) {
		n := newTestNormalizer()
		if _, outcome := n.Normalize(extract.Candidate{}); outcome != Invalid {
			t.Errorf("outcome = %s, want invalid", outcome)
		}
	})
}

func TestNormalizeICS(t *testing.T) {
	n := New(Config{
		Source: "ics:venue.nz",
		Kind:   types.KindEvent,
		City:   "Auckland",
		Now:    testNow,
	})

	record, outcome := n.NormalizeICS(map[string]string{
		"UID":      "evt-1@venue.nz",
		"SUMMARY":  "Food Fair",
		"LOCATION": "Domain",
		"DTSTART":  "20250615T180000Z",
		"DTEND":    "20250615T210000Z",
	})
	if outcome != Accepted {
		t.Fatalf("outcome = %s", outcome)
	}
	if record.ExternalID != "evt-1@venue.nz" {
		t.Errorf("external id = %q", record.ExternalID)
	}
	if record.VenueName != "Domain" {
		t.Errorf("venue = %q", record.VenueName)
	}
	if record.StartsAt == nil || record.StartsAt.Format(time.RFC3339) != "2025-06-15T18:00:00Z" {
		t.Errorf("starts_at = %v", record.StartsAt)
	}
	if record.EndsAt == nil || record.EndsAt.Format(time.RFC3339) != "2025-06-15T21:00:00Z" {
		t.Errorf("ends_at = %v", record.EndsAt)
	}
}

func TestNormalizeICSFilteredEventReleasesSeenSlot(t *testing.T) {
	n := New(Config{Source: "ics:venue.nz", Kind: types.KindEvent, Now: testNow})

	event := map[string]string{
		"UID":     "evt-2",
		"SUMMARY": "Distant Gala",
		"DTSTART": "20260101T180000Z",
	}
	if _, outcome := n.NormalizeICS(event); outcome != Filtered {
		t.Fatal("expected the far-future event to be filtered")
	}
	// A later in-window occurrence with the same UID is not a duplicate of
	// the filtered one.
	event["DTSTART"] = "20250615T180000Z"
	if _, outcome := n.NormalizeICS(event); outcome != Accepted {
		t.Errorf("outcome after filter = %s, want accepted", outcome)
	}
}

func TestRawSnapshotTruncation(t *testing.T) {
	n := newTestNormalizer()
	record, outcome := n.Normalize(extract.Candidate{
		NativeID: "big",
		Title:    "Big",
		Raw:      strings.Repeat("x", MaxRawChars+5000),
	})
	if outcome != Accepted {
		t.Fatalf("outcome = %s", outcome)
	}
	var snapshot map[string]string
	if err := json.Unmarshal(record.Raw, &snapshot); err != nil {
		t.Fatalf("raw snapshot is not valid JSON: %v", err)
	}
	if len(snapshot["html"]) != MaxRawChars {
		t.Errorf("snapshot length = %d, want %d", len(snapshot["html"]), MaxRawChars)
	}
}

func TestRawSnapshotKeepsJSONLDNode(t *testing.T) {
	n := newTestNormalizer()
	record, _ := n.Normalize(extract.Candidate{
		NativeID: "node",
		Title:    "Node",
		Node:     map[string]interface{}{"@type": "Event", "name": "Node"},
	})
	var node map[string]interface{}
	if err := json.Unmarshal(record.Raw, &node); err != nil {
		t.Fatalf("node snapshot is not valid JSON: %v", err)
	}
	if node["name"] != "Node" {
		t.Errorf("node snapshot = %v", node)
	}
}

func TestResolveURL(t *testing.T) {
	n := newTestNormalizer()
	n.SetBase("https://venue.nz/whats-on/")

	cases := []struct {
		name string
		href string
		want string
	}{
		{"absolute", "https://other.nz/x", "https://other.nz/x"},
		{"root relative", "/events/x", "https://venue.nz/events/x"},
		{"page relative", "x", "https://venue.nz/whats-on/x"},
		{"empty", "", ""},
		{"whitespace", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := n.ResolveURL(tc.href); got != tc.want {
				t.Errorf("ResolveURL(%q) = %q, want %q", tc.href, got, tc.want)
			}
		})
	}
}

func TestResolveURLWithoutBase(t *testing.T) {
	n := newTestNormalizer()
	if got := n.ResolveURL("/events/x"); got != "" {
		t.Errorf("relative href without a base resolved to %q, want empty", got)
	}
}

func TestClean(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"collapse", "a \t b\n\nc", "a b c"},
		{"trim", "  edge  ", "edge"},
		{"empty", "", ""},
		{"nfc", "café", "café"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Clean(tc.input); got != tc.want {
				t.Errorf("Clean(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
