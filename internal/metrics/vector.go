package metrics

import "github.com/prometheus/client_golang/prometheus"

// Vector store, retry and retrieval metrics.
var (
	VectorOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "vector_operations_total",
			Help:      "Vector store operations by backend, operation and outcome",
		},
		[]string{"backend", "operation", "status"},
	)

	VectorOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "vector_operation_duration_seconds",
			Help:      "Vector store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "operation"},
	)

	VectorDocumentsIndexed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "vector_documents",
			Help:      "Documents held by the in-memory store",
		},
		[]string{"backend"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retry_attempts_total",
			Help:      "Remote call attempts by operation and outcome",
		},
		[]string{"operation", "outcome"}, // ok / retry / give_up / fatal
	)

	PayloadDecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "payload_decode_errors_total",
			Help:      "Remote neighbors skipped because their payload could not be decoded",
		},
	)

	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retrieval_requests_total",
			Help:      "Knowledge retrieval requests by outcome",
		},
		[]string{"outcome"}, // hit / empty / degraded
	)

	RetrievalCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retrieval_cache_total",
			Help:      "Retrieval result cache hits and misses",
		},
		[]string{"result"},
	)
)

var vectorMetricsRegistered bool

// RegisterVectorMetrics registers vector, retry and retrieval metrics. Must be called once from main.
func RegisterVectorMetrics() {
	if vectorMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		VectorOperationsTotal,
		VectorOperationDuration,
		VectorDocumentsIndexed,
		RetryAttemptsTotal,
		PayloadDecodeErrorsTotal,
		RetrievalRequestsTotal,
		RetrievalCacheTotal,
	)
	vectorMetricsRegistered = true
}

// Status maps an error to the status label used across counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
