package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ETLRecordsTotal tracks flattened records by processing outcome
	ETLRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_records_total",
			Help: "Total number of records handled by the ETL pipeline",
		},
		[]string{"status"}, // "processed", "skipped", "invalid"
	)

	// ETLRunsTotal tracks completed ETL runs
	ETLRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_runs_total",
			Help: "Total number of ETL runs",
		},
		[]string{"status"}, // "success", "error"
	)

	// ETLRunDuration tracks full run duration
	ETLRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Duration of complete ETL runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// SourceFetchTotal tracks fetches against the upstream FHIR store
	SourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetch_total",
			Help: "Total number of fetch operations against the source store",
		},
		[]string{"operation", "status"}, // "bundle_fetch", "success", "error"
	)

	// SourceFetchDuration tracks source fetch duration
	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Duration of source fetch operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// SinkOperationsTotal tracks Postgres sink operations
	SinkOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_operations_total",
			Help: "Total number of sink database operations",
		},
		[]string{"operation", "status"}, // "insert_batch", "clear", "query", "success", "error"
	)

	// SinkOperationDuration tracks sink operation duration
	SinkOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sink_operation_duration_seconds",
			Help:    "Duration of sink database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// HTTPRequestsTotal tracks API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTPRequestDuration tracks API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

// RecordETLRun records counts and duration for one completed run.
func RecordETLRun(status string, processed, skipped, invalid int, elapsed time.Duration) {
	ETLRunsTotal.WithLabelValues(status).Inc()
	ETLRunDuration.Observe(elapsed.Seconds())
	ETLRecordsTotal.WithLabelValues("processed").Add(float64(processed))
	ETLRecordsTotal.WithLabelValues("skipped").Add(float64(skipped))
	ETLRecordsTotal.WithLabelValues("invalid").Add(float64(invalid))
}

// RecordSourceFetch records a fetch against the source store.
func RecordSourceFetch(operation, status string) {
	SourceFetchTotal.WithLabelValues(operation, status).Inc()
}

// RecordSourceFetchDuration records source fetch duration.
func RecordSourceFetchDuration(operation string, duration time.Duration) {
	SourceFetchDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSinkOperation records a sink database operation.
func RecordSinkOperation(operation, status string) {
	SinkOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordSinkOperationDuration records sink operation duration.
func RecordSinkOperationDuration(operation string, duration time.Duration) {
	SinkOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served API request.
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}
