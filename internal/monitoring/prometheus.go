// Package monitoring provides the Prometheus metrics surface for the
// scheduling, execution and alerting pipeline.
package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_core_jobs_processed_total",
			Help: "Total number of check jobs processed by the worker pool",
		},
		[]string{"check_type", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siteguard_core_job_duration_seconds",
			Help:    "Check job execution duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"check_type"},
	)

	queueOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_core_queue_operations_total",
			Help: "Total number of queue operations",
		},
		[]string{"operation", "status"},
	)

	cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_core_cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"operation", "result"}, // result: hit, miss, success, conflict, error
	)

	notificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_core_notifications_sent_total",
			Help: "Total number of notification deliveries attempted",
		},
		[]string{"channel", "result"},
	)

	alertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "siteguard_core_alerts_suppressed_total",
			Help: "Total number of alerting results suppressed by the cooldown gate",
		},
	)

	escalationTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_core_escalation_transitions_total",
			Help: "Total number of escalation issue state transitions",
		},
		[]string{"transition"}, // opened, acknowledged, in_progress, resolved, promoted, exhausted
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_core_sweep_runs_total",
			Help: "Total number of periodic sweeper executions",
		},
		[]string{"sweeper", "status"},
	)
)

// SetupPrometheusMetrics registers the pipeline metrics and exposes the
// /metrics endpoint on the given router.
func SetupPrometheusMetrics(router gin.IRoutes) {
	for _, c := range []prometheus.Collector{
		jobsProcessedTotal,
		jobDuration,
		queueOperationsTotal,
		cacheOperationsTotal,
		notificationsSentTotal,
		alertsSuppressedTotal,
		escalationTransitionsTotal,
		sweepRunsTotal,
	} {
		// Ignore duplicate registration when tests build multiple routers.
		_ = prometheus.Register(c)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func RecordJobProcessed(checkType, status string, duration time.Duration) {
	jobsProcessedTotal.WithLabelValues(checkType, status).Inc()
	jobDuration.WithLabelValues(checkType).Observe(duration.Seconds())
}

func RecordQueueOperation(operation, status string) {
	queueOperationsTotal.WithLabelValues(operation, status).Inc()
}

func RecordCacheOperation(operation, result string) {
	cacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

func RecordNotification(channel, result string) {
	notificationsSentTotal.WithLabelValues(channel, result).Inc()
}

func RecordAlertSuppressed() {
	alertsSuppressedTotal.Inc()
}

func RecordEscalationTransition(transition string) {
	escalationTransitionsTotal.WithLabelValues(transition).Inc()
}

func RecordSweepRun(sweeper, status string) {
	sweepRunsTotal.WithLabelValues(sweeper, status).Inc()
}
