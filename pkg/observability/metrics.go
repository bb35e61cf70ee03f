package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for operation metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

var (
	// Operation metrics
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firepwn_operations_total",
			Help: "Total number of console operations by subsystem, action and outcome",
		},
		[]string{"subsystem", "action", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firepwn_operation_duration_seconds",
			Help:    "Backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subsystem", "action"},
	)

	operationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firepwn_operations_in_flight",
			Help: "Number of backend calls that have not settled",
		},
	)

	// Log metrics
	logEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firepwn_log_entries_total",
			Help: "Total number of log entries by class",
		},
		[]string{"class"},
	)

	// Upload metrics
	uploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firepwn_upload_bytes_total",
			Help: "Total number of bytes uploaded to blob storage",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			operationsTotal,
			operationDuration,
			operationsInFlight,
			logEntriesTotal,
			uploadBytesTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordOperation records a settled backend call.
func RecordOperation(subsystem, action, outcome string, duration time.Duration) {
	operationsTotal.WithLabelValues(subsystem, action, outcome).Inc()
	operationDuration.WithLabelValues(subsystem, action).Observe(duration.Seconds())
}

// RecordRejected records an operation rejected before any backend call.
func RecordRejected(subsystem, action string) {
	operationsTotal.WithLabelValues(subsystem, action, OutcomeRejected).Inc()
}

// OperationStarted increments the in-flight gauge.
func OperationStarted() {
	operationsInFlight.Inc()
}

// OperationSettled decrements the in-flight gauge.
func OperationSettled() {
	operationsInFlight.Dec()
}

// RecordLogEntry counts one log entry of the given class.
func RecordLogEntry(class string) {
	logEntriesTotal.WithLabelValues(class).Inc()
}

// RecordUploadBytes adds n uploaded bytes.
func RecordUploadBytes(n int64) {
	if n > 0 {
		uploadBytesTotal.Add(float64(n))
	}
}
