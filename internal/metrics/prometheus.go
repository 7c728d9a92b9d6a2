package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/angeloszaimis/failover-gateway/internal/scheduler"
)

const namespace = "failover"

type promMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	selections      *prometheus.CounterVec
	healthy         *prometheus.GaugeVec
	probes          *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec
	failovers       *prometheus.CounterVec
	unavailable     prometheus.Counter
	notifications   *prometheus.CounterVec
	dropped         prometheus.Counter
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)

	return &promMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests by backend and status code",
		}, []string{"backend", "code"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Proxied request duration by backend",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		selections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_selections_total",
			Help:      "Times a backend was picked by the strategy",
		}, []string{"backend"}),

		healthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "Backend health (1=healthy, 0=unhealthy)",
		}, []string{"backend"}),

		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Health probes by backend, priority and result",
		}, []string{"backend", "priority", "result"}),

		probeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Health probe duration by priority",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, .8, 1, 2, 5},
		}, []string{"priority"}),

		failovers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Requests moved away from a backend that failed its probe",
		}, []string{"backend"}),

		unavailable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unavailable_total",
			Help:      "Requests rejected because no backend was available",
		}),

		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by type and result (sent, fallback, failed)",
		}, []string{"type", "result"}),

		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_events_dropped_total",
			Help:      "Metric events dropped because the collector buffer was full",
		}),
	}
}

// RegisterScheduler exposes the probe scheduler's live state as gauges.
func RegisterScheduler(reg prometheus.Registerer, stats func() scheduler.Snapshot) {
	factory := promauto.With(reg)

	gauge := func(name, help string, value func(scheduler.Snapshot) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}

	gauge("active_tasks", "Probes holding a scheduler slot",
		func(s scheduler.Snapshot) float64 { return float64(s.Active) })
	gauge("queued_tasks", "Probes waiting for a scheduler slot",
		func(s scheduler.Snapshot) float64 { return float64(s.Queued) })
	gauge("utilization", "Active probes as a fraction of the concurrency limit",
		func(s scheduler.Snapshot) float64 { return s.Utilization })
	gauge("started_tasks", "Probes started since the last stats reset",
		func(s scheduler.Snapshot) float64 { return float64(s.TotalStarted) })
	gauge("failed_tasks", "Probes failed since the last stats reset",
		func(s scheduler.Snapshot) float64 { return float64(s.Errors) })
}
