package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/failover-gateway/config"
	"github.com/angeloszaimis/failover-gateway/internal/healthcheck"
	"github.com/angeloszaimis/failover-gateway/internal/notifier"
	"github.com/angeloszaimis/failover-gateway/internal/store"
)

func testConfig(backendURLs ...string) *config.Config {
	cfg := &config.Config{
		Server:   config.ServerConfig{Address: ":0", Environment: config.EnvDev},
		Strategy: config.StrategyConfig{Type: "round-robin"},
		HealthCheck: config.HealthCheckConfig{
			Interval:           time.Hour,
			Endpoint:           "/version",
			ServiceName:        "subconverter",
			PriorityTimeout:    500 * time.Millisecond,
			FullTimeout:        time.Second,
			MaxConcurrent:      5,
			CleanupDelay:       10 * time.Millisecond,
			QueueTimeout:       time.Second,
			StatsResetInterval: time.Minute,
			ScoreThreshold:     2 * time.Second,
			ProbeOnRequest:     true,
		},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true, Threshold: 3, Timeout: time.Minute},
		Notifier: config.NotifierConfig{
			APIBaseURL:     "http://127.0.0.1:1",
			MaxAttempts:    1,
			BaseDelay:      time.Millisecond,
			AttemptTimeout: time.Second,
		},
		Store:   config.StoreConfig{Driver: store.DriverMemory, Capacity: 10},
		Metrics: config.MetricsConfig{BufferSize: 100},
	}
	for _, u := range backendURLs {
		cfg.Backends = append(cfg.Backends, config.BackendConfig{URL: u, Weight: 1})
	}
	return cfg
}

var _ = Describe("initializeBackends", func() {
	var log *slog.Logger

	BeforeEach(func() {
		log = slog.New(slog.DiscardHandler)
	})

	It("should initialize every valid backend with its weight", func() {
		cfg := testConfig("http://localhost:25500", "https://api.example.com/api/v1")
		cfg.Backends[1].Weight = 4

		backends, err := initializeBackends(cfg, log)
		Expect(err).NotTo(HaveOccurred())
		Expect(backends).To(HaveLen(2))
		Expect(backends[1].Weight()).To(Equal(4))
		Expect(backends[1].URL().Host).To(Equal("api.example.com"))
	})

	It("should skip invalid URLs but continue with valid ones", func() {
		cfg := testConfig("://invalid", "http://localhost:25500")

		backends, err := initializeBackends(cfg, log)
		Expect(err).NotTo(HaveOccurred())
		Expect(backends).To(HaveLen(1))
	})

	It("should return error when all URLs are invalid", func() {
		backends, err := initializeBackends(testConfig("://invalid", "localhost"), log)
		Expect(err).To(HaveOccurred())
		Expect(backends).To(BeNil())
	})

	It("should return error when no backends configured", func() {
		_, err := initializeBackends(testConfig(), log)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("notifierConfig", func() {
	It("should carry every setting and convert the type toggles", func() {
		nc := notifierConfig(config.NotifierConfig{
			BotToken:        "123:abc",
			ChatID:          "-100",
			MaxAttempts:     4,
			FallbackEnabled: true,
			RatePerSecond:   2,
			Types:           map[string]bool{"request": false, "error": true},
		})

		Expect(nc.BotToken).To(Equal("123:abc"))
		Expect(nc.MaxAttempts).To(Equal(4))
		Expect(nc.FallbackEnabled).To(BeTrue())
		Expect(nc.RatePerSecond).To(Equal(2.0))
		Expect(nc.Types).To(Equal(map[notifier.Type]bool{
			notifier.TypeRequest: false,
			notifier.TypeError:   true,
		}))
	})
})

var _ = Describe("gateway", func() {
	var (
		backendServer *httptest.Server
		healthy       atomic.Bool
		gw            *gateway
		router        http.Handler
		ctx           context.Context
		cancel        context.CancelFunc
	)

	BeforeEach(func() {
		healthy.Store(true)
		backendServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("subconverter v0.9.9-7544246 backend"))
		}))

		ctx, cancel = context.WithCancel(context.Background())

		var err error
		gw, err = newGateway(ctx, testConfig(backendServer.URL), slog.New(slog.DiscardHandler))
		Expect(err).NotTo(HaveOccurred())
		router = setupRouter(gw)
	})

	AfterEach(func() {
		cancel()
		backendServer.Close()
		gw.close(context.Background())
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	It("should reject an unknown strategy", func() {
		cfg := testConfig(backendServer.URL)
		cfg.Strategy.Type = "consistent_hash"

		_, err := newGateway(ctx, cfg, slog.New(slog.DiscardHandler))
		Expect(err).To(HaveOccurred())
	})

	It("should reject an unknown store driver", func() {
		cfg := testConfig(backendServer.URL)
		cfg.Store.Driver = "mongo"

		_, err := newGateway(ctx, cfg, slog.New(slog.DiscardHandler))
		Expect(err).To(MatchError(ContainSubstring("unknown driver")))
	})

	It("should proxy requests to the backend", func() {
		w := get("/sub?target=clash")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("subconverter"))
		Expect(w.Header().Get("X-Request-ID")).NotTo(BeEmpty())
	})

	It("should answer 503 once the only backend fails its probe", func() {
		healthy.Store(false)

		Expect(get("/sub").Code).To(Equal(http.StatusServiceUnavailable))
		Expect(gw.backends[0].IsHealthy()).To(BeFalse())
	})

	It("should persist the backend status when it goes down", func() {
		healthy.Store(false)
		get("/sub")

		memory, ok := gw.store.(*store.MemoryStore)
		Expect(ok).To(BeTrue())
		statuses := memory.BackendStatuses()
		Expect(statuses).To(HaveLen(1))
		Expect(statuses[0].URL).To(Equal(backendServer.URL))
		Expect(statuses[0].Healthy).To(BeFalse())
		Expect(statuses[0].Status).To(Equal(http.StatusServiceUnavailable))
	})

	It("should serve healthz", func() {
		w := get("/healthz")
		Expect(w.Code).To(Equal(http.StatusOK))

		var body healthzResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(Equal(healthzResponse{Status: "ok", HealthyBackends: 1, TotalBackends: 1}))

		gw.backends[0].SetHealthy(false)
		Expect(get("/healthz").Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should serve stats with scheduler counters and breaker states", func() {
		get("/sub")

		w := get("/stats")
		Expect(w.Code).To(Equal(http.StatusOK))

		var body struct {
			Scheduler struct {
				TotalStarted int64 `json:"total_started"`
			} `json:"scheduler"`
			Breakers map[string]string `json:"breakers"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Scheduler.TotalStarted).To(BeNumerically(">=", 1))
		Expect(body.Breakers).To(Equal(map[string]string{backendServer.URL: "CLOSED"}))
	})

	It("should serve Prometheus metrics", func() {
		get("/sub")

		w := get("/metrics")
		Expect(w.Code).To(Equal(http.StatusOK))
		body, err := io.ReadAll(w.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("failover_scheduler_started_tasks"))
		Expect(string(body)).To(ContainSubstring("go_goroutines"))
	})

	It("should serve an on-demand status report", func() {
		w := get("/status")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"version":"subconverter v0.9.9-7544246 backend"`))
	})

	It("should bring a recovered backend back through its monitor", func() {
		gw.backends[0].SetHealthy(false)
		gw.start(ctx)

		Eventually(gw.backends[0].IsHealthy).Should(BeTrue())
		Eventually(func() bool {
			return gw.collector.Snapshot("round-robin").Backends[backendServer.URL].Healthy
		}).Should(BeTrue())
	})

	It("should apply full checks to the backend", func() {
		res := healthcheck.CheckBackend(ctx, gw.backends[0], gw.checker, gw.onTransition, gw.log)
		Expect(res.Healthy).To(BeTrue())
		Expect(gw.backends[0].Version()).To(Equal("subconverter v0.9.9-7544246 backend"))
	})
})
