package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the harvester.
// Metrics are organized by subsystem: runs, pages, papers, transform and
// source requests. All collectors are registered via promauto with the
// default Prometheus registry.
type Metrics struct {
	// RunsStarted counts harvest runs initiated.
	RunsStarted prometheus.Counter

	// RunsCompleted counts runs that reached the Done state.
	RunsCompleted prometheus.Counter

	// RunsAborted counts runs that ended in the Aborted state.
	RunsAborted prometheus.Counter

	// RunDuration observes end-to-end run duration in seconds.
	RunDuration prometheus.Histogram

	// PagesFetched counts result pages fetched and parsed.
	PagesFetched prometheus.Counter

	// PagesFailed counts pages whose fetch or transform failed.
	PagesFailed prometheus.Counter

	// PapersInserted counts record graphs committed.
	PapersInserted prometheus.Counter

	// PapersFailed counts record graphs whose load rolled back.
	PapersFailed prometheus.Counter

	// PapersSkipped counts record graphs skipped as already processed.
	PapersSkipped prometheus.Counter

	// PapersDuplicate counts skips caused by a repeat within the same run.
	PapersDuplicate prometheus.Counter

	// TransformDiagnostics counts dropped documents and sub-records by reason.
	TransformDiagnostics *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to E-utilities by endpoint and status.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts calls that exhausted retries, by endpoint and failure kind.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes single-attempt latency in seconds by endpoint.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts 429 responses by endpoint.
	SourceRateLimited *prometheus.CounterVec

	// SourceRetries counts retried attempts by endpoint and reason.
	SourceRetries *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of harvest runs started",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of harvest runs completed",
		}),
		RunsAborted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_aborted_total",
			Help:      "Total number of harvest runs aborted",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of harvest runs in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}),

		// Pages
		PagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Total number of result pages fetched",
		}),
		PagesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_failed_total",
			Help:      "Total number of result pages that failed to fetch or parse",
		}),

		// Papers
		PapersInserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_inserted_total",
			Help:      "Total number of papers committed",
		}),
		PapersFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_failed_total",
			Help:      "Total number of papers whose load failed",
		}),
		PapersSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_skipped_total",
			Help:      "Total number of papers skipped as already processed",
		}),
		PapersDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_duplicate_total",
			Help:      "Total number of papers seen more than once in a run",
		}),

		// Transform
		TransformDiagnostics: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_diagnostics_total",
			Help:      "Total number of transform diagnostics by reason",
		}, []string{"reason"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of HTTP requests to E-utilities",
		}, []string{"endpoint", "status"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of E-utilities calls that failed after retries",
		}, []string{"endpoint", "kind"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of HTTP requests to E-utilities in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate-limited responses from E-utilities",
		}, []string{"endpoint"}),
		SourceRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      "Total number of retried E-utilities requests",
		}, []string{"endpoint", "reason"}),
	}
}

// RecordRunStarted records that a run has started.
func (m *Metrics) RecordRunStarted() {
	m.RunsStarted.Inc()
}

// RecordRunCompleted records that a run has completed.
func (m *Metrics) RecordRunCompleted(duration time.Duration) {
	m.RunsCompleted.Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// RecordRunAborted records that a run was aborted.
func (m *Metrics) RecordRunAborted(duration time.Duration) {
	m.RunsAborted.Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// RecordPageFetched records a successfully fetched page.
func (m *Metrics) RecordPageFetched() {
	m.PagesFetched.Inc()
}

// RecordPageFailed records a page that could not be fetched or parsed.
func (m *Metrics) RecordPageFailed() {
	m.PagesFailed.Inc()
}

// RecordPaperInserted records a committed paper.
func (m *Metrics) RecordPaperInserted() {
	m.PapersInserted.Inc()
}

// RecordPaperFailed records a paper whose load failed.
func (m *Metrics) RecordPaperFailed() {
	m.PapersFailed.Inc()
}

// RecordPaperSkipped records a paper skipped as already processed.
// duplicate marks a repeat seen earlier in the same run.
func (m *Metrics) RecordPaperSkipped(duplicate bool) {
	m.PapersSkipped.Inc()
	if duplicate {
		m.PapersDuplicate.Inc()
	}
}

// RecordTransformDiagnostic records a dropped document or sub-record.
func (m *Metrics) RecordTransformDiagnostic(reason string) {
	m.TransformDiagnostics.WithLabelValues(reason).Inc()
}

// ObserveSourceRequest records one HTTP attempt against an endpoint.
// statusCode is zero when no response was received.
func (m *Metrics) ObserveSourceRequest(endpoint string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	m.SourceRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.SourceRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if statusCode == 429 {
		m.SourceRateLimited.WithLabelValues(endpoint).Inc()
	}
}

// ObserveSourceRetry records a retry scheduled for an endpoint.
func (m *Metrics) ObserveSourceRetry(endpoint, reason string) {
	m.SourceRetries.WithLabelValues(endpoint, reason).Inc()
}

// ObserveSourceFailure records a call that gave up.
func (m *Metrics) ObserveSourceFailure(endpoint, kind string) {
	m.SourceRequestsFailed.WithLabelValues(endpoint, kind).Inc()
}
