// internal/parse/ics.go
package parse

import (
	"strings"
	"time"
)

// ParseICS scans an iCalendar document for VEVENT blocks and returns one flat
// property map per event. It is total: malformed input yields an empty slice.
//
// RFC 5545 folded continuation lines (physical lines starting with a space or
// tab) are joined back onto the previous logical line before properties are
// split. Property parameters are stripped, so "DTSTART;TZID=..." is keyed as
// "DTSTART".
func ParseICS(data string) []map[string]string {
	lines := unfoldICS(data)

	var events []map[string]string
	var current map[string]string

	for _, line := range lines {
		switch {
		case strings.EqualFold(line, "BEGIN:VEVENT"):
			current = make(map[string]string)
		case strings.EqualFold(line, "END:VEVENT"):
			if current != nil {
				events = append(events, current)
				current = nil
			}
		case current != nil:
			key, value, ok := splitICSProperty(line)
			if ok {
				current[key] = value
			}
		}
	}
	return events
}

// unfoldICS splits raw ICS text into logical lines, joining folded
// continuations onto their predecessor.
func unfoldICS(data string) []string {
	physical := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	var logical []string
	for _, line := range physical {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(logical) > 0 {
			logical[len(logical)-1] += line[1:]
			continue
		}
		logical = append(logical, line)
	}
	return logical
}

// splitICSProperty splits "NAME;PARAM=X:value" into ("NAME", "value"). Only
// the portion of the property name before any ';' parameter is kept.
func splitICSProperty(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	name := line[:idx]
	value := line[idx+1:]
	if semi := strings.Index(name, ";"); semi >= 0 {
		name = name[:semi]
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return "", "", false
	}
	return name, unescapeICS(value), true
}

// unescapeICS reverses RFC 5545 text escaping.
func unescapeICS(value string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(value)
}

// icsLayouts are the iCalendar basic date-time forms. Layouts without a
// trailing Z carry no zone and are interpreted in the feed's location.
var icsLayouts = []struct {
	layout string
	utc    bool
}{
	{"20060102T150405Z", true},
	{"20060102T150405", false},
	{"20060102", false}, // all-day
}

// DecodeICSTime converts an iCalendar date-time value to a UTC instant.
// Accepts the basic format with and without Z, bare dates (all-day events),
// and falls back to generic date parsing. Returns false when nothing parses.
func DecodeICSTime(value string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return time.Time{}, false
	}
	for _, candidate := range icsLayouts {
		var t time.Time
		var err error
		if candidate.utc {
			t, err = time.Parse(candidate.layout, cleaned)
		} else {
			t, err = time.ParseInLocation(candidate.layout, cleaned, loc)
		}
		if err == nil {
			return t.UTC(), true
		}
	}
	return ParseWhen(cleaned, loc)
}
