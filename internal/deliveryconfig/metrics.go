package deliveryconfig

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics emitted by PostgresRepository,
// mirroring registry.Metrics' shape: one duration histogram and one error
// counter per operation, plus a result-size histogram for list operations.
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
			Name:    "deliverycore_delivery_config_repository_query_duration_seconds",
			Help:    "Duration of delivery config repository operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverycore_delivery_config_repository_query_errors_total",
			Help: "Total number of delivery config repository query errors",
		}, []string{"operation", "error_type"}),
		ResultSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deliverycore_delivery_config_repository_result_size",
			Help:    "Number of results returned by delivery config repository list operations",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}, []string{"operation"}),
	}
}
