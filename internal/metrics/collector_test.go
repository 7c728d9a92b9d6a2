package metrics_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/angeloszaimis/failover-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/failover-gateway/internal/metrics"
	"github.com/angeloszaimis/failover-gateway/internal/scheduler"
)

// metricValue sums every sample of the named family whose labels include want.
func metricValue(reg *prometheus.Registry, name string, want map[string]string) float64 {
	families, err := reg.Gather()
	Expect(err).NotTo(HaveOccurred())

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if !hasLabels(m, want) {
				continue
			}
			switch {
			case m.Counter != nil:
				total += m.GetCounter().GetValue()
			case m.Gauge != nil:
				total += m.GetGauge().GetValue()
			case m.Histogram != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	found := 0
	for _, pair := range m.GetLabel() {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			found++
		}
	}
	return found == len(want)
}

var _ = Describe("Collector", func() {
	const backendURL = "http://localhost:25500"

	var (
		collector *metrics.Collector
		reg       *prometheus.Registry
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError, // Suppress logs in tests
		}))
		ctx, cancel = context.WithCancel(context.Background())
		reg = prometheus.NewRegistry()
		collector = metrics.NewCollector(100, reg, log)
	})

	AfterEach(func() {
		cancel()
	})

	snapshot := func() metrics.Snapshot {
		return collector.Snapshot("weighted-round-robin")
	}

	Describe("Start and event processing", func() {
		BeforeEach(func() {
			collector.Start(ctx)
		})

		It("should process EventRequestReceived", func() {
			collector.Record(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: backendURL})

			Eventually(func() int64 { return snapshot().Backends[backendURL].Requests }).Should(Equal(int64(1)))
		})

		It("should process EventBackendSelected", func() {
			collector.Record(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: backendURL})

			Eventually(func() int64 { return snapshot().Backends[backendURL].Selections }).Should(Equal(int64(1)))
			Expect(metricValue(reg, "failover_backend_selections_total", map[string]string{"backend": backendURL})).To(Equal(1.0))
		})

		It("should process EventResponseCompleted", func() {
			collector.Record(metrics.MetricEvent{
				Type:       metrics.EventResponseCompleted,
				Backend:    backendURL,
				Duration:   100 * time.Millisecond,
				StatusCode: 200,
			})

			Eventually(func() int64 { return snapshot().Backends[backendURL].StatusCodes[200] }).Should(Equal(int64(1)))
			Expect(snapshot().Backends[backendURL].AvgResponse).To(Equal(100 * time.Millisecond))
			Expect(metricValue(reg, "failover_requests_total", map[string]string{"backend": backendURL, "code": "200"})).To(Equal(1.0))
			Expect(metricValue(reg, "failover_request_duration_seconds", map[string]string{"backend": backendURL})).To(Equal(1.0))
		})

		It("should process EventHealthChanged", func() {
			collector.Record(metrics.MetricEvent{Type: metrics.EventHealthChanged, Backend: backendURL, Healthy: true})

			Eventually(func() bool { return snapshot().Backends[backendURL].Healthy }).Should(BeTrue())
			Expect(metricValue(reg, "failover_backend_healthy", map[string]string{"backend": backendURL})).To(Equal(1.0))
		})

		It("should process EventProbeCompleted", func() {
			collector.Record(metrics.MetricEvent{
				Type:     metrics.EventProbeCompleted,
				Backend:  backendURL,
				Label:    "high",
				Duration: 30 * time.Millisecond,
				Healthy:  false,
			})

			Eventually(func() int64 { return snapshot().Backends[backendURL].ProbeFailures }).Should(Equal(int64(1)))
			Expect(metricValue(reg, "failover_probes_total", map[string]string{"priority": "high", "result": "unhealthy"})).To(Equal(1.0))
			Expect(metricValue(reg, "failover_probe_duration_seconds", map[string]string{"priority": "high"})).To(Equal(1.0))
		})

		It("should process failovers and unavailability", func() {
			collector.Record(metrics.MetricEvent{Type: metrics.EventFailover, Backend: backendURL})
			collector.Record(metrics.MetricEvent{Type: metrics.EventNoBackend})

			Eventually(func() int64 { return snapshot().Unavailable }).Should(Equal(int64(1)))
			Expect(snapshot().Backends[backendURL].Failovers).To(Equal(int64(1)))
			Expect(metricValue(reg, "failover_unavailable_total", nil)).To(Equal(1.0))
		})

		It("should process EventNotification", func() {
			collector.Record(metrics.MetricEvent{Type: metrics.EventNotification, Label: "request", Fallback: true})

			Eventually(func() int64 { return snapshot().Notifications["request"].Fallback }).Should(Equal(int64(1)))
			Expect(metricValue(reg, "failover_notifications_total", map[string]string{"type": "request", "result": "fallback"})).To(Equal(1.0))
		})

		It("should process multiple events in sequence", func() {
			events := []metrics.MetricEvent{
				{Type: metrics.EventRequestReceived, Backend: backendURL},
				{Type: metrics.EventBackendSelected, Backend: backendURL},
				{Type: metrics.EventResponseCompleted, Backend: backendURL, Duration: 50 * time.Millisecond, StatusCode: 201},
			}

			for _, event := range events {
				collector.Record(event)
			}

			Eventually(func() int64 { return snapshot().Backends[backendURL].StatusCodes[201] }).Should(Equal(int64(1)))
			backend := snapshot().Backends[backendURL]
			Expect(backend.Requests).To(Equal(int64(1)))
			Expect(backend.Selections).To(Equal(int64(1)))
			Expect(backend.AvgResponse).To(Equal(50 * time.Millisecond))
		})
	})

	Describe("Shutdown", func() {
		It("should drain events on context cancellation", func() {
			for i := 0; i < 5; i++ {
				collector.Record(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: backendURL})
			}

			collector.Start(ctx)
			cancel()

			// All events should be processed either by the loop or by the drain
			Eventually(func() int64 { return snapshot().Backends[backendURL].Requests }).Should(Equal(int64(5)))
		})
	})

	Describe("Record", func() {
		It("should drop events instead of blocking when the buffer is full", func() {
			small := prometheus.NewRegistry()
			c := metrics.NewCollector(1, small, log)

			c.Record(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: backendURL})
			c.Record(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: backendURL})

			Expect(metricValue(small, "failover_metrics_events_dropped_total", nil)).To(Equal(1.0))
		})
	})

	Describe("Handler", func() {
		It("should serve the snapshot and scheduler stats as JSON", func() {
			collector.Start(ctx)
			collector.Record(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: backendURL})
			Eventually(func() int64 { return snapshot().TotalRequests }).Should(Equal(int64(1)))

			handler := collector.Handler("round-robin", func() scheduler.Snapshot {
				return scheduler.Snapshot{MaxConcurrent: 5, Active: 2}
			}, func() map[string]circuitbreaker.State {
				return map[string]circuitbreaker.State{backendURL: circuitbreaker.StateOpen}
			})
			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var body metrics.Stats
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Metrics.Algorithm).To(Equal("round-robin"))
			Expect(body.Metrics.TotalRequests).To(Equal(int64(1)))
			Expect(body.Scheduler).NotTo(BeNil())
			Expect(body.Scheduler.Active).To(Equal(2))
			Expect(rec.Body.String()).To(ContainSubstring(`"breakers":{"http://localhost:25500":"OPEN"}`))
		})

		It("should omit scheduler and breaker stats when none are wired", func() {
			rec := httptest.NewRecorder()
			collector.Handler("round-robin", nil, nil)(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

			Expect(rec.Body.String()).NotTo(ContainSubstring(`"scheduler"`))
			Expect(rec.Body.String()).NotTo(ContainSubstring(`"breakers"`))
		})
	})

	Describe("RegisterScheduler", func() {
		It("should expose the live scheduler state", func() {
			ctrl := scheduler.New[int](scheduler.Options{MaxConcurrent: 4})
			metrics.RegisterScheduler(reg, ctrl.Stats)

			_, err := ctrl.ScheduleCheck(ctx, "http://b1", "req-1", func(context.Context) (int, error) { return 1, nil })
			Expect(err).NotTo(HaveOccurred())

			Expect(metricValue(reg, "failover_scheduler_started_tasks", nil)).To(Equal(1.0))
			Expect(metricValue(reg, "failover_scheduler_active_tasks", nil)).To(Equal(1.0))
			Expect(metricValue(reg, "failover_scheduler_utilization", nil)).To(Equal(0.25))
		})
	})
})
