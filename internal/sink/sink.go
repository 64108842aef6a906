// internal/sink/sink.go
package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/harbourline/ingest/pkg/types"
)

// Sink is the persistence collaborator for the pipeline: a batch-upsert
// endpoint keyed on (source, external_id) plus a job-run audit log. Batch
// calls are all-or-nothing; the sink never retries on its own, because a
// failed run is safely re-runnable thanks to upsert idempotency.
type Sink interface {
	// UpsertBatch submits the whole batch in one call, inserting new records
	// and updating existing ones by (source, external_id).
	UpsertBatch(ctx context.Context, records []types.ScrapedRecord) error

	// LogJobRun writes one audit row for a pipeline invocation.
	LogJobRun(ctx context.Context, run types.JobRun) error

	Close() error
}

// LogSink discards batches after logging them. Used when no DSN is
// configured, which keeps local development runs observable but stateless.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that only logs.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) UpsertBatch(ctx context.Context, records []types.ScrapedRecord) error {
	s.logger.Info("discarding batch (no sink configured)", zap.Int("records", len(records)))
	return nil
}

func (s *LogSink) LogJobRun(ctx context.Context, run types.JobRun) error {
	s.logger.Info("job run",
		zap.String("job", run.JobName),
		zap.String("status", string(run.Status)),
		zap.Time("started_at", run.StartedAt),
		zap.Time("finished_at", run.FinishedAt))
	return nil
}

func (s *LogSink) Close() error { return nil }
