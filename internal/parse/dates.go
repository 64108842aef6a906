// internal/parse/dates.go
package parse

import (
	"regexp"
	"strings"
	"time"
)

// whenLayouts is the cascade of upstream date formats accepted by ParseWhen,
// most specific first. Layouts without a zone are interpreted in the
// caller-supplied location.
var whenLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339, true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
	{"2 January 2006 3:04 PM", false},
	{"2 January 2006 15:04", false},
	{"2 January 2006", false},
	{"2 Jan 2006", false},
	{"January 2, 2006", false},
	{"Jan 2, 2006", false},
	{"Monday 2 January 2006", false},
	{"Monday, 2 January 2006", false},
	{"02/01/2006", false},
}

// ParseWhen parses a free-text date into a UTC instant. Naive local times
// are interpreted in loc. Returns false when nothing parses.
func ParseWhen(text string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return time.Time{}, false
	}
	for _, candidate := range whenLayouts {
		var t time.Time
		var err error
		if candidate.zoned {
			t, err = time.Parse(candidate.layout, cleaned)
		} else {
			t, err = time.ParseInLocation(candidate.layout, cleaned, loc)
		}
		if err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// dateSniffers match human-written dates inside arbitrary HTML text, used by
// the anchor-proximity heuristic. Ordered by specificity.
var dateSniffers = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?)?`),
	regexp.MustCompile(`(?i)\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{4}`),
	regexp.MustCompile(`(?i)(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},?\s+\d{4}`),
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
}

// FindDate returns the last date-looking substring in text, or "".
// The last match is preferred because the heuristic scans the text that
// precedes an anchor, where the nearest date is the most relevant one.
func FindDate(text string) string {
	best := ""
	bestPos := -1
	for _, re := range dateSniffers {
		locs := re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		last := locs[len(locs)-1]
		if last[0] > bestPos {
			bestPos = last[0]
			best = text[last[0]:last[1]]
		}
	}
	return best
}

// NormalizeSniffedDate converts a sniffed fragment into a parseable form and
// runs it through ParseWhen.
func NormalizeSniffedDate(fragment string, loc *time.Location) (time.Time, bool) {
	cleaned := strings.ReplaceAll(fragment, ",", "")
	cleaned = regexp.MustCompile(`\s+`).ReplaceAllString(cleaned, " ")
	if t, ok := ParseWhen(cleaned, loc); ok {
		return t, true
	}
	// Month-first forms ("July 1 2025") flipped to day-first.
	parts := strings.Fields(cleaned)
	if len(parts) == 3 {
		flipped := parts[1] + " " + parts[0] + " " + parts[2]
		return ParseWhen(flipped, loc)
	}
	return time.Time{}, false
}
