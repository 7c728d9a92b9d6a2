package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventRequestReceived   EventType = "request_received"
	EventBackendSelected   EventType = "backend_selected"
	EventResponseCompleted EventType = "response_completed"
	EventHealthChanged     EventType = "health_changed"
	EventProbeCompleted    EventType = "probe_completed"
	EventFailover          EventType = "failover"
	EventNoBackend         EventType = "no_backend"
	EventNotification      EventType = "notification"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Backend    string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
	// Label is the probe priority for EventProbeCompleted and the
	// notification type for EventNotification.
	Label    string
	Success  bool
	Fallback bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	prom    *promMetrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, reg prometheus.Registerer, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		prom:    newPromMetrics(reg),
		logger:  logger,
	}
}

// Record queues event without blocking. Events are dropped when the buffer is full.
func (c *Collector) Record(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.prom.dropped.Inc()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Backend)

	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.Backend)
		c.prom.selections.WithLabelValues(event.Backend).Inc()

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Backend, event.Duration, event.StatusCode)
		c.prom.requests.WithLabelValues(event.Backend, strconv.Itoa(event.StatusCode)).Inc()
		c.prom.requestDuration.WithLabelValues(event.Backend).Observe(event.Duration.Seconds())

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy)
		c.prom.healthy.WithLabelValues(event.Backend).Set(boolToFloat(event.Healthy))

	case EventProbeCompleted:
		c.metrics.RecordProbe(event.Backend, event.Healthy)
		c.prom.probes.WithLabelValues(event.Backend, event.Label, probeResult(event.Healthy)).Inc()
		if event.Duration > 0 {
			c.prom.probeDuration.WithLabelValues(event.Label).Observe(event.Duration.Seconds())
		}

	case EventFailover:
		c.metrics.RecordFailover(event.Backend)
		c.prom.failovers.WithLabelValues(event.Backend).Inc()

	case EventNoBackend:
		c.metrics.RecordUnavailable()
		c.prom.unavailable.Inc()

	case EventNotification:
		c.metrics.RecordNotification(event.Label, event.Success, event.Fallback)
		c.prom.notifications.WithLabelValues(event.Label, notificationResult(event.Success, event.Fallback)).Inc()

	default:
		c.logger.Warn("Unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(algorithm string) Snapshot {
	return c.metrics.Snapshot(algorithm)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func probeResult(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func notificationResult(success, fallback bool) string {
	switch {
	case success:
		return "sent"
	case fallback:
		return "fallback"
	default:
		return "failed"
	}
}
