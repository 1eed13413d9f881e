package resource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics emitted by PostgresRepository.
type Metrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	ResultSize    *prometheus.HistogramVec
}

// NewMetrics registers against a private registry so concurrent
// repository/test instances never collide on metric names.
func NewMetrics() *Metrics {
	factory := promauto.With(prometheus.NewRegistry())
	return &Metrics{
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deliverycore_resource_repository_query_duration_seconds",
			Help:    "Duration of resource repository operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverycore_resource_repository_query_errors_total",
			Help: "Total number of resource repository query errors",
		}, []string{"operation", "error_type"}),
		ResultSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deliverycore_resource_repository_result_size",
			Help:    "Number of results returned by resource repository list operations",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"operation"}),
	}
}
