// pkg/types/types.go
package types

import (
	"encoding/json"
	"time"
)

// RecordKind identifies which domain variant a ScrapedRecord carries.
type RecordKind string

const (
	KindEvent   RecordKind = "event"
	KindPlace   RecordKind = "place"
	KindSpecial RecordKind = "special"
)

// ScrapedRecord is the canonical normalized unit produced by every source.
// Source and ExternalID are never empty for a persisted record; together they
// form the natural key used for in-run deduplication and idempotent upsert.
type ScrapedRecord struct {
	Source      string     `json:"source"`
	ExternalID  string     `json:"external_id"`
	Kind        RecordKind `json:"kind"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	VenueName   string     `json:"venue_name,omitempty"`
	City        string     `json:"city,omitempty"`
	Address     string     `json:"address,omitempty"`
	URL         string     `json:"url,omitempty"`

	// Raw holds a size-bounded snapshot of the original parsed fragment,
	// retained for audit and debugging.
	Raw json.RawMessage `json:"raw,omitempty"`

	ScrapedAt time.Time `json:"scraped_at"`
}

// Key returns the (source, external_id) composite used for deduplication.
func (r ScrapedRecord) Key() string {
	return r.Source + "\x00" + r.ExternalID
}

// RunStatus is the terminal state of a job run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// MaxRunErrors bounds the per-run error list persisted with a JobRun.
const MaxRunErrors = 10

// RunSummary accumulates the outcome counts for one pipeline run. It is both
// the HTTP response payload and the JobRun result serialization.
type RunSummary struct {
	Source   string   `json:"source"`
	Scraped  int      `json:"scraped"`
	Failures int      `json:"failures"`
	Filtered int      `json:"filtered"`
	Deduped  int      `json:"deduped"`
	Total    int      `json:"total"`
	DryRun   bool     `json:"dry_run"`
	Errors   []string `json:"errors,omitempty"`
}

// AddError appends msg to the summary's error list, dropping it once the
// bounded capacity is reached. The failure counter is always incremented.
func (s *RunSummary) AddError(msg string) {
	s.Failures++
	if len(s.Errors) < MaxRunErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// JobRun is the audit row written once per pipeline invocation, success or
// not. Result holds the JSON-serialized RunSummary.
type JobRun struct {
	ID         string          `json:"id"`
	JobName    string          `json:"job_name"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Status     RunStatus       `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
}
