// internal/job/runner_test.go
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harbourline/ingest/internal/fetch"
	"github.com/harbourline/ingest/pkg/types"
)

// recordingSink captures every persistence call for assertions.
type recordingSink struct {
	mu        sync.Mutex
	batches   [][]types.ScrapedRecord
	runs      []types.JobRun
	upsertErr error
}

func (s *recordingSink) UpsertBatch(ctx context.Context, records []types.ScrapedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.batches = append(s.batches, records)
	return nil
}

func (s *recordingSink) LogJobRun(ctx context.Context, run types.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func newTestRunner(sink *recordingSink) *Runner {
	fetcher := fetch.NewClient(fetch.ClientConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		RateLimit:   1000,
		RateBurst:   100,
	}, nil, nil)
	return NewRunner(fetcher, sink, nil, nil)
}

func boolPtr(b bool) *bool { return &b }

const testICS = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-1@venue.nz\r\n" +
	"DTSTART:20990615T180000Z\r\n" +
	"SUMMARY:Food Fair\r\n" +
	"LOCATION:Domain\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestRunICSPersistsRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		fmt.Fprint(w, testICS)
	}))
	defer server.Close()

	sink := &recordingSink{}
	runner := newTestRunner(sink)

	summary, err := runner.Run(context.Background(), Params{
		Source:     SourceICS,
		City:       "Auckland",
		Timezone:   "UTC",
		WindowDays: 100000, // the fixture event is far in the future
		FeedURLs:   []string{server.URL + "/cal.ics"},
		DryRun:     boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Scraped != 1 || summary.Failures != 0 {
		t.Errorf("summary = %+v", summary)
	}

	if len(sink.batches) != 1 || len(sink.batches[0]) != 1 {
		t.Fatalf("batches = %+v", sink.batches)
	}
	record := sink.batches[0][0]
	if record.ExternalID != "evt-1@venue.nz" {
		t.Errorf("external id = %q", record.ExternalID)
	}
	if record.Title != "Food Fair" || record.VenueName != "Domain" {
		t.Errorf("record = %+v", record)
	}
	if record.Kind != types.KindEvent {
		t.Errorf("kind = %q", record.Kind)
	}

	if len(sink.runs) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(sink.runs))
	}
	run := sink.runs[0]
	if run.Status != types.RunSuccess {
		t.Errorf("run status = %q", run.Status)
	}
	if run.JobName != "scrape-free-ics" {
		t.Errorf("job name = %q", run.JobName)
	}
	var result types.RunSummary
	if err := json.Unmarshal(run.Result, &result); err != nil {
		t.Fatalf("run result is not a summary: %v", err)
	}
	if result.Scraped != 1 {
		t.Errorf("audited scraped = %d", result.Scraped)
	}
}

func TestRunDryRunByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testICS)
	}))
	defer server.Close()

	sink := &recordingSink{}
	runner := newTestRunner(sink)

	summary, err := runner.Run(context.Background(), Params{
		Source:     SourceICS,
		Timezone:   "UTC",
		WindowDays: 100000,
		FeedURLs:   []string{server.URL},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.DryRun {
		t.Error("dry_run should default to true")
	}
	if summary.Scraped != 1 {
		t.Errorf("scraped = %d", summary.Scraped)
	}
	if len(sink.batches) != 0 {
		t.Errorf("dry run must not persist, got %d batches", len(sink.batches))
	}
	if len(sink.runs) != 1 {
		t.Errorf("dry run must still write an audit row, got %d", len(sink.runs))
	}
}

func TestRunJSONLDSource(t *testing.T) {
	page := `<html><head><script type="application/ld+json">
	{"@type":"Event","name":"Jazz Night","url":"https://venue.nz/events/jazz",
	 "startDate":"2099-07-01T20:00:00Z","location":{"name":"Town Hall"}}
	</script></head></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	sink := &recordingSink{}
	runner := newTestRunner(sink)

	summary, err := runner.Run(context.Background(), Params{
		Source:     SourceJSONLD,
		Timezone:   "UTC",
		WindowDays: 100000,
		HTML:       HTMLParams{ListingURLs: []string{server.URL}},
		DryRun:     boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Scraped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	record := sink.batches[0][0]
	if record.Source != "html:jsonld" {
		t.Errorf("source tag = %q", record.Source)
	}
	if record.VenueName != "Town Hall" {
		t.Errorf("venue = %q", record.VenueName)
	}
	if record.StartsAt == nil {
		t.Error("starts_at missing")
	}
}

func TestRunFeedFailureDoesNotFailRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	sink := &recordingSink{}
	runner := newTestRunner(sink)

	summary, err := runner.Run(context.Background(), Params{
		Source:   SourceICS,
		Timezone: "UTC",
		FeedURLs: []string{server.URL},
	})
	if err != nil {
		t.Fatalf("per-feed failures must not fail the run: %v", err)
	}
	if summary.Failures != 1 || len(summary.Errors) != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(sink.runs) != 1 || sink.runs[0].Status != types.RunSuccess {
		t.Errorf("runs = %+v", sink.runs)
	}
}

func TestRunBoundedErrorList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	feedURLs := make([]string, types.MaxRunErrors+5)
	for i := range feedURLs {
		feedURLs[i] = fmt.Sprintf("%s/feed-%d.ics", server.URL, i)
	}

	sink := &recordingSink{}
	runner := newTestRunner(sink)

	summary, err := runner.Run(context.Background(), Params{
		Source:   SourceICS,
		Timezone: "UTC",
		FeedURLs: feedURLs,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failures != len(feedURLs) {
		t.Errorf("failures = %d, want %d", summary.Failures, len(feedURLs))
	}
	if len(summary.Errors) != types.MaxRunErrors {
		t.Errorf("error list = %d entries, want cap %d", len(summary.Errors), types.MaxRunErrors)
	}
}

func TestRunBatchPersistFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testICS)
	}))
	defer server.Close()

	sink := &recordingSink{upsertErr: errors.New("connection lost")}
	runner := newTestRunner(sink)

	summary, err := runner.Run(context.Background(), Params{
		Source:     SourceICS,
		Timezone:   "UTC",
		WindowDays: 100000,
		FeedURLs:   []string{server.URL},
		DryRun:     boolPtr(false),
	})
	if err == nil {
		t.Fatal("expected the run to fail when the batch persist fails")
	}
	if len(sink.runs) != 1 {
		t.Fatalf("expected an audit row even on failure, got %d", len(sink.runs))
	}
	if sink.runs[0].Status != types.RunFailed {
		t.Errorf("run status = %q, want failed", sink.runs[0].Status)
	}

	// The persist failure lands in the counters after Scraped is fixed, so
	// the total must be re-derived from the final counts everywhere.
	wantTotal := summary.Scraped + summary.Failures + summary.Filtered + summary.Deduped
	if summary.Total != wantTotal {
		t.Errorf("summary total = %d, want %d", summary.Total, wantTotal)
	}
	var audited types.RunSummary
	if err := json.Unmarshal(sink.runs[0].Result, &audited); err != nil {
		t.Fatalf("audit result: %v", err)
	}
	if audited.Total != wantTotal || audited.Failures != 1 {
		t.Errorf("audited summary = %+v, want total %d with 1 failure", audited, wantTotal)
	}
}

func TestRunInvalidParamsFailFast(t *testing.T) {
	sink := &recordingSink{}
	runner := newTestRunner(sink)

	cases := []struct {
		name   string
		params Params
	}{
		{"missing source", Params{}},
		{"unknown source", Params{Source: "carrier-pigeon"}},
		{"ics without feeds", Params{Source: SourceICS}},
		{"html without listings", Params{Source: SourceHTML}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := runner.Run(context.Background(), tc.params); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
	if len(sink.runs) != 0 {
		t.Errorf("validation failures must not write audit rows, got %d", len(sink.runs))
	}
}

func TestRunPlaces(t *testing.T) {
	var pages int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key, query = %s", r.URL.RawQuery)
		}
		atomic.AddInt32(&pages, 1)
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `{"results":[{"place_id":"p1","name":"Town Hall","formatted_address":"301 Queen St"}]}`)
			return
		}
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer server.Close()

	t.Setenv("PLACES_API_KEY", "test-key")
	t.Setenv("PLACES_API_URL", server.URL)

	sink := &recordingSink{}
	runner := newTestRunner(sink)

	summary, err := runner.Run(context.Background(), Params{
		Source:   SourcePlaces,
		City:     "Auckland",
		Timezone: "UTC",
		MaxPages: 3,
		DryRun:   boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Scraped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	record := sink.batches[0][0]
	if record.Kind != types.KindPlace {
		t.Errorf("kind = %q, want place", record.Kind)
	}
	if record.ExternalID != "p1" || record.Address != "301 Queen St" {
		t.Errorf("record = %+v", record)
	}
	if got := atomic.LoadInt32(&pages); got != 2 {
		t.Errorf("pagination stopped after %d pages, want 2", got)
	}
}

func TestParamsDefaults(t *testing.T) {
	p := Params{Source: SourceICS}
	if !p.dryRun() {
		t.Error("dryRun default should be true")
	}
	if p.windowDays() != DefaultWindowDays {
		t.Errorf("windowDays = %d", p.windowDays())
	}
	if p.jobName() != "scrape-free-ics" {
		t.Errorf("jobName = %q", p.jobName())
	}

	p.DryRun = boolPtr(false)
	if p.dryRun() {
		t.Error("explicit dryRun false ignored")
	}
	p.JobName = "custom"
	if p.jobName() != "custom" {
		t.Errorf("jobName = %q", p.jobName())
	}
}

func TestParamsValidatePlacesKey(t *testing.T) {
	t.Setenv("PLACES_API_KEY", "")
	p := Params{Source: SourcePlaces, City: "Auckland"}
	if err := p.Validate(); err == nil {
		t.Fatal("expected a missing-key error")
	}
	t.Setenv("PLACES_API_KEY", "k")
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
