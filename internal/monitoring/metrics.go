// internal/monitoring/metrics.go
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the ingestion pipeline. All
// methods are nil-safe so callers may pass a nil *Metrics in tests.
type Metrics struct {
	fetchRequests  *prometheus.CounterVec
	fetchRetries   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	recordsScraped *prometheus.CounterVec
	recordsDeduped *prometheus.CounterVec
	recordsDropped *prometheus.CounterVec
	itemErrors     *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	batchDuration  prometheus.Histogram
	batchSize      prometheus.Histogram
}

// MetricsConfig configures metric naming.
type MetricsConfig struct {
	Namespace string
	Registry  prometheus.Registerer
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "ingest"
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		fetchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total number of HTTP fetches attempted",
		}, []string{"host", "outcome"}),
		fetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Total number of fetch retries",
		}, []string{"host"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Fetch duration including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		recordsScraped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "pipeline",
			Name:      "records_scraped_total",
			Help:      "Records accepted into the output batch",
		}, []string{"source"}),
		recordsDeduped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "pipeline",
			Name:      "records_deduped_total",
			Help:      "Records discarded as in-run duplicates",
		}, []string{"source"}),
		recordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "pipeline",
			Name:      "records_filtered_total",
			Help:      "Records dropped by the time-window filter",
		}, []string{"source"}),
		itemErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "pipeline",
			Name:      "item_errors_total",
			Help:      "Per-item errors recorded without aborting the run",
		}, []string{"source"}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Completed job runs by terminal status",
		}, []string{"job", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of job runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "sink",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch upsert calls",
			Buckets:   prometheus.DefBuckets,
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "sink",
			Name:      "batch_size",
			Help:      "Number of records per batch upsert",
			Buckets:   []float64{1, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

// RecordFetch records the outcome of one logical fetch (after retries).
func (m *Metrics) RecordFetch(host, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchRequests.WithLabelValues(host, outcome).Inc()
	m.fetchDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordRetry records a single retry against host.
func (m *Metrics) RecordRetry(host string) {
	if m == nil {
		return
	}
	m.fetchRetries.WithLabelValues(host).Inc()
}

// RecordScraped counts a record accepted into the output batch.
func (m *Metrics) RecordScraped(source string) {
	if m == nil {
		return
	}
	m.recordsScraped.WithLabelValues(source).Inc()
}

// RecordDeduped counts an in-run duplicate.
func (m *Metrics) RecordDeduped(source string) {
	if m == nil {
		return
	}
	m.recordsDeduped.WithLabelValues(source).Inc()
}

// RecordFiltered counts a record dropped by the window filter.
func (m *Metrics) RecordFiltered(source string) {
	if m == nil {
		return
	}
	m.recordsDropped.WithLabelValues(source).Inc()
}

// RecordItemError counts a per-item failure.
func (m *Metrics) RecordItemError(source string) {
	if m == nil {
		return
	}
	m.itemErrors.WithLabelValues(source).Inc()
}

// RecordJobRun records a finished run and its duration.
func (m *Metrics) RecordJobRun(job, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordBatch records one batch upsert call.
func (m *Metrics) RecordBatch(size int, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
	m.batchDuration.Observe(duration.Seconds())
}
