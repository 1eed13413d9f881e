// Package postgres provides PostgreSQL database connection pooling with Prometheus metrics export.
package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolStatsProvider is an interface for providing pool statistics.
// This allows for easier testing and decoupling from concrete PostgresPool implementation.
type PoolStatsProvider interface {
	Stats() PoolStats
}

// DatabaseMetrics holds the Prometheus metrics exported for a connection pool.
type DatabaseMetrics struct {
	ConnectionsActive             prometheus.Gauge
	ConnectionsIdle               prometheus.Gauge
	ConnectionWaitDurationSeconds prometheus.Histogram
	QueryDurationSeconds          *prometheus.HistogramVec
	QueriesTotal                  *prometheus.CounterVec
	ErrorsTotal                   *prometheus.CounterVec
}

// NewDatabaseMetrics registers and returns the pool's Prometheus metric set
// against its own private registry, so multiple pools (or tests) never
// collide on metric names in the global default registry.
func NewDatabaseMetrics() *DatabaseMetrics {
	factory := promauto.With(prometheus.NewRegistry())
	return &DatabaseMetrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deliverycore_db_connections_active",
			Help: "Number of active connections held by the pool",
		}),
		ConnectionsIdle: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deliverycore_db_connections_idle",
			Help: "Number of idle connections held by the pool",
		}),
		ConnectionWaitDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deliverycore_db_connection_wait_seconds",
			Help:    "Time spent waiting to acquire a pooled connection",
			Buckets: prometheus.DefBuckets,
		}),
		QueryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deliverycore_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverycore_db_queries_total",
			Help: "Total number of database queries",
		}, []string{"operation", "status"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deliverycore_db_errors_total",
			Help: "Total number of database errors by class",
		}, []string{"class"}),
	}
}

// PrometheusExporter exports database pool metrics to Prometheus.
//
// Periodically reads internal atomic metrics from PoolMetrics and pushes them
// to Prometheus Gauge/Counter/Histogram metrics.
//
// This bridges the gap between internal atomic counters (fast, lock-free)
// and Prometheus metrics (thread-safe, scrapable).
type PrometheusExporter struct {
	pool       PoolStatsProvider
	dbMetrics  *DatabaseMetrics
	logger     *slog.Logger
	cancelFunc context.CancelFunc
}

// NewPrometheusExporter creates a new Prometheus exporter for database pool metrics.
func NewPrometheusExporter(pool PoolStatsProvider, dbMetrics *DatabaseMetrics) *PrometheusExporter {
	if dbMetrics == nil {
		dbMetrics = NewDatabaseMetrics()
	}
	return &PrometheusExporter{
		pool:      pool,
		dbMetrics: dbMetrics,
		logger:    slog.Default(),
	}
}

// Start begins periodic export of database pool metrics to Prometheus.
//
// Runs in a background goroutine, exporting metrics at the specified interval.
// Call Stop() to gracefully shut down the exporter.
func (e *PrometheusExporter) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.exportMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.exportMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the Prometheus exporter, performing one final export.
func (e *PrometheusExporter) Stop() {
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.exportMetrics()
}

// exportMetrics reads current pool metrics and exports them to Prometheus.
func (e *PrometheusExporter) exportMetrics() {
	if e.pool == nil || e.dbMetrics == nil {
		e.logger.Warn("Prometheus exporter not fully initialized, skipping metrics export")
		return
	}

	stats := e.pool.Stats()

	e.dbMetrics.ConnectionsActive.Set(float64(stats.ActiveConnections))
	e.dbMetrics.ConnectionsIdle.Set(float64(stats.IdleConnections))

	if stats.TotalQueries > 0 {
		avgQueryDuration := stats.QueryExecutionTime.Seconds() / float64(stats.TotalQueries)
		e.dbMetrics.QueryDurationSeconds.WithLabelValues("all").Observe(avgQueryDuration)
	}

	if stats.ConnectionErrors > 0 {
		e.dbMetrics.ErrorsTotal.WithLabelValues("connection").Add(float64(stats.ConnectionErrors))
	}
	if stats.QueryErrors > 0 {
		e.dbMetrics.ErrorsTotal.WithLabelValues("query").Add(float64(stats.QueryErrors))
	}
	if stats.TimeoutErrors > 0 {
		e.dbMetrics.ErrorsTotal.WithLabelValues("timeout").Add(float64(stats.TimeoutErrors))
	}
}

// RecordConnectionWait records the time spent waiting for a database connection.
func (e *PrometheusExporter) RecordConnectionWait(duration time.Duration) {
	e.dbMetrics.ConnectionWaitDurationSeconds.Observe(duration.Seconds())
}

// RecordQuery records a database query execution.
func (e *PrometheusExporter) RecordQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	e.dbMetrics.QueryDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
	e.dbMetrics.QueriesTotal.WithLabelValues(operation, status).Inc()
}
