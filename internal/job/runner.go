// internal/job/runner.go
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harbourline/ingest/internal/fetch"
	"github.com/harbourline/ingest/internal/monitoring"
	"github.com/harbourline/ingest/internal/normalize"
	"github.com/harbourline/ingest/internal/sink"
	"github.com/harbourline/ingest/pkg/types"
)

// Runner executes one scrape pipeline per call: fetch, extract, normalize,
// batch-persist, and audit. Sources and items are processed strictly
// sequentially; the fetch client's rate limiter provides the politeness
// delay between item fetches.
type Runner struct {
	fetcher *fetch.Client
	sink    sink.Sink
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewRunner constructs a Runner. A nil logger is replaced with a no-op.
func NewRunner(fetcher *fetch.Client, persistence sink.Sink, logger *zap.Logger, metrics *monitoring.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		fetcher: fetcher,
		sink:    persistence,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Run executes the pipeline described by params. Parameter validation fails
// fast before any work begins; everything after that is accounted for in the
// returned summary and in a JobRun audit row, which is written even when the
// run fails part-way.
func (r *Runner) Run(ctx context.Context, params Params) (summary types.RunSummary, runErr error) {
	if err := params.Validate(); err != nil {
		return types.RunSummary{}, err
	}
	loc, err := params.location()
	if err != nil {
		return types.RunSummary{}, err
	}

	startedAt := r.now()
	summary = types.RunSummary{Source: params.Source, DryRun: params.dryRun()}

	defer func() {
		// Convert a pipeline panic into a failed run so the audit row and
		// HTTP error are still produced.
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("pipeline panic: %v", rec)
			summary.AddError(runErr.Error())
		}
		r.finalize(params, startedAt, &summary, runErr)
	}()

	normalizer := normalize.New(normalize.Config{
		Source:     params.Source,
		Kind:       params.kind(),
		City:       params.City,
		WindowDays: params.windowDays(),
		Location:   loc,
		Now:        startedAt,
	})

	var batch []types.ScrapedRecord
	switch params.Source {
	case SourceICS:
		batch = r.runICS(ctx, params, normalizer, &summary)
	case SourceFeed:
		batch = r.runFeed(ctx, params, normalizer, &summary)
	case SourceHTML:
		batch = r.runHTML(ctx, params, normalizer, &summary, false)
	case SourceJSONLD:
		batch = r.runHTML(ctx, params, normalizer, &summary, true)
	case SourcePlaces:
		batch = r.runPlaces(ctx, params, normalizer, &summary)
	}

	summary.Scraped = len(batch)

	if params.dryRun() {
		r.logger.Info("dry run: skipping batch persistence",
			zap.String("job", params.jobName()),
			zap.Int("records", len(batch)))
		return summary, runErr
	}

	if len(batch) > 0 {
		persistStart := r.now()
		if err := r.sink.UpsertBatch(ctx, batch); err != nil {
			summary.AddError(fmt.Sprintf("batch persist: %v", err))
			runErr = fmt.Errorf("batch persist failed: %w", err)
		}
		r.metrics.RecordBatch(len(batch), r.now().Sub(persistStart))
	}
	return summary, runErr
}

// record routes one normalization outcome into the batch and counters.
func (r *Runner) record(batch []types.ScrapedRecord, rec types.ScrapedRecord,
	outcome normalize.Outcome, summary *types.RunSummary) []types.ScrapedRecord {
	switch outcome {
	case normalize.Accepted:
		r.metrics.RecordScraped(rec.Source)
		return append(batch, rec)
	case normalize.Duplicate:
		// Silent: duplicates are expected and are not failures.
		summary.Deduped++
		r.metrics.RecordDeduped(rec.Source)
	case normalize.Filtered:
		summary.Filtered++
		r.metrics.RecordFiltered(rec.Source)
	case normalize.Invalid:
		summary.AddError(fmt.Sprintf("%s: candidate with no derivable identity", rec.Source))
		r.metrics.RecordItemError(rec.Source)
	}
	return batch
}

// fail records one per-item or per-source error without aborting the run.
func (r *Runner) fail(summary *types.RunSummary, source, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	summary.AddError(msg)
	r.metrics.RecordItemError(source)
	r.logger.Warn("pipeline item failed", zap.String("source", source), zap.String("error", msg))
}

// finalize writes the JobRun audit row. The write is best-effort: its own
// failure is logged but never masks the run's result.
func (r *Runner) finalize(params Params, startedAt time.Time, summary *types.RunSummary, runErr error) {
	finishedAt := r.now()
	status := types.RunSuccess
	if runErr != nil {
		status = types.RunFailed
	}

	// Totalled here, after the persist attempt, so a batch failure recorded
	// via AddError is reflected in both the response and the audit row.
	summary.Total = summary.Scraped + summary.Failures + summary.Filtered + summary.Deduped

	result, err := json.Marshal(summary)
	if err != nil {
		result = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	run := types.JobRun{
		ID:         uuid.NewString(),
		JobName:    params.jobName(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Status:     status,
		Result:     result,
	}

	// Detached context: the audit write must still happen when the run's
	// context was cancelled mid-flight.
	auditCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.sink.LogJobRun(auditCtx, run); err != nil {
		r.logger.Warn("job run audit write failed",
			zap.String("job", run.JobName), zap.Error(err))
	}

	r.metrics.RecordJobRun(params.jobName(), string(status), finishedAt.Sub(startedAt))
	r.logger.Info("job run finished",
		zap.String("job", run.JobName),
		zap.String("status", string(status)),
		zap.Int("scraped", summary.Scraped),
		zap.Int("failures", summary.Failures),
		zap.Int("filtered", summary.Filtered),
		zap.Int("deduped", summary.Deduped),
		zap.Bool("dry_run", summary.DryRun))
}
