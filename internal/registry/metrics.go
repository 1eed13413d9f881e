package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics emitted by PostgresArtifactRepository,
// mirroring the shape of the alert-history repository's HistoryMetrics:
// one duration histogram and one error counter per operation, plus a
// result-size histogram for list-returning operations.
type Metrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	ResultSize    *prometheus.HistogramVec
}

// NewMetrics registers the repository's metrics against their own private
// registry, so multiple repositories (or test instances) never collide on
// metric names against the global default registry.
func NewMetrics() *Metrics {
	factory := promauto.With(prometheus.NewRegistry())
	return &Metrics{
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deliverycore_artifact_repository_query_duration_seconds",
			Help:    "Duration of artifact repository operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverycore_artifact_repository_query_errors_total",
			Help: "Total number of artifact repository query errors",
		}, []string{"operation", "error_type"}),
		ResultSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deliverycore_artifact_repository_result_size",
			Help:    "Number of results returned by artifact repository list operations",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"operation"}),
	}
}
