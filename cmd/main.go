package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angeloszaimis/failover-gateway/config"
	"github.com/angeloszaimis/failover-gateway/internal/backend"
	"github.com/angeloszaimis/failover-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/failover-gateway/internal/handler"
	"github.com/angeloszaimis/failover-gateway/internal/healthcheck"
	"github.com/angeloszaimis/failover-gateway/internal/httpserver"
	"github.com/angeloszaimis/failover-gateway/internal/loadbalancer"
	"github.com/angeloszaimis/failover-gateway/internal/metrics"
	"github.com/angeloszaimis/failover-gateway/internal/notifier"
	"github.com/angeloszaimis/failover-gateway/internal/scheduler"
	"github.com/angeloszaimis/failover-gateway/internal/store"
	"github.com/angeloszaimis/failover-gateway/internal/strategy"
	"github.com/angeloszaimis/failover-gateway/pkg/logger"
)

const statusSaveTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := newGateway(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize gateway", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(gw), httpserver.Timeouts{
		Read:     cfg.Server.ReadTimeout,
		Write:    cfg.Server.WriteTimeout,
		Idle:     cfg.Server.IdleTimeout,
		Shutdown: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	gw.start(ctx)

	srvErrCh := make(chan error, 1)

	go func() {
		log.Info("Gateway listening",
			slog.String("address", srv.Addr()),
			slog.String("strategy", cfg.Strategy.Type),
			slog.Int("backends", len(gw.backends)))
		srvErrCh <- srv.Start()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting gateway", slog.Any("err", err))
			exitCode = 1
		}
	}

	cancel()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer closeCancel()
	gw.close(closeCtx)

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// gateway holds the wired components of a running process.
type gateway struct {
	cfg       *config.Config
	log       *slog.Logger
	backends  []*backend.Backend
	registry  *prometheus.Registry
	collector *metrics.Collector
	checker   *healthcheck.Checker
	store     store.Store
	alerter   *handler.Alerter
	balancer  *loadbalancer.LoadBalancer
	proxy     *handler.LoadBalancerHandler
}

func newGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gateway, error) {
	backends, err := initializeBackends(cfg, log)
	if err != nil {
		return nil, err
	}

	strat, err := strategy.New(cfg.Strategy.Type)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, registry, log)

	ctrl := scheduler.New[healthcheck.Result](scheduler.Options{
		MaxConcurrent: cfg.HealthCheck.MaxConcurrent,
		CleanupDelay:  cfg.HealthCheck.CleanupDelay,
		QueueTimeout:  cfg.HealthCheck.QueueTimeout,
		ResetInterval: cfg.HealthCheck.StatsResetInterval,
		Logger:        log,
	})
	metrics.RegisterScheduler(registry, ctrl.Stats)

	checker := healthcheck.NewChecker(healthcheck.Config{
		Endpoint:        cfg.HealthCheck.Endpoint,
		ServiceName:     cfg.HealthCheck.ServiceName,
		PriorityTimeout: cfg.HealthCheck.PriorityTimeout,
		FullTimeout:     cfg.HealthCheck.FullTimeout,
	}, ctrl, healthcheck.LinearScorer{Threshold: cfg.HealthCheck.ScoreThreshold}, log)

	st, err := store.Open(ctx, store.Config{
		Driver:         cfg.Store.Driver,
		PostgresDSN:    cfg.Store.PostgresDSN,
		RedisAddr:      cfg.Store.RedisAddr,
		RedisPassword:  cfg.Store.RedisPassword,
		RedisDB:        cfg.Store.RedisDB,
		RedisKeyPrefix: cfg.Store.RedisKeyPrefix,
		Capacity:       cfg.Store.Capacity,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	n := notifier.New(notifierConfig(cfg.Notifier), notifier.Options{
		Recorder: st,
		Logger:   log,
	})
	if cfg.Notifier.BotToken == "" || cfg.Notifier.ChatID == "" {
		log.Warn("Telegram credentials missing, notifications will be skipped")
	}

	var breakers *circuitbreaker.Registry
	if cfg.CircuitBreaker.Enabled {
		breakers = circuitbreaker.NewRegistry(cfg.CircuitBreaker.Threshold, cfg.CircuitBreaker.Timeout)
	}

	gw := &gateway{
		cfg:       cfg,
		log:       log,
		backends:  backends,
		registry:  registry,
		collector: collector,
		checker:   checker,
		store:     st,
		alerter:   handler.NewAlerter(n, collector, log),
		balancer:  loadbalancer.NewLoadBalancer(strat, breakers),
	}

	opts := handler.Options{
		Collector:    collector,
		Alerter:      gw.alerter,
		OnTransition: gw.onTransition,
	}
	if cfg.HealthCheck.ProbeOnRequest {
		opts.Prober = checker
	}
	gw.proxy = handler.NewLoadBalancerHandler(log, gw.balancer, backends, opts)

	return gw, nil
}

// start launches the metrics pipeline and one health monitor per backend.
func (gw *gateway) start(ctx context.Context) {
	gw.collector.Start(ctx)

	for _, b := range gw.backends {
		gw.collector.Record(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Backend: b.URL().String(),
			Healthy: b.IsHealthy(),
		})
		go healthcheck.Watch(ctx, b, gw.cfg.HealthCheck.Interval, gw.checker, gw.onTransition, gw.log)
	}
}

// close flushes pending notifications and releases the store.
func (gw *gateway) close(ctx context.Context) {
	if err := gw.alerter.Wait(ctx); err != nil {
		gw.log.Warn("Pending notifications abandoned", slog.Any("err", err))
	}
	if err := gw.store.Close(); err != nil {
		gw.log.Error("Failed to close store", slog.Any("err", err))
	}
}

// onTransition records, persists and announces a backend going up or down.
func (gw *gateway) onTransition(ctx context.Context, b *backend.Backend, result healthcheck.Result) {
	backendURL := b.URL().String()

	gw.collector.Record(metrics.MetricEvent{
		Type:    metrics.EventHealthChanged,
		Backend: backendURL,
		Healthy: result.Healthy,
	})

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusSaveTimeout)
	defer cancel()

	status := store.BackendStatus{
		URL:            backendURL,
		Healthy:        result.Healthy,
		Version:        b.Version(),
		Status:         result.Status,
		ResponseTimeMs: result.ResponseTime,
		Reliability:    b.Reliability(),
		Error:          result.Error,
		CheckedAt:      result.Timestamp,
	}
	if err := gw.store.SaveBackendStatus(saveCtx, status); err != nil {
		gw.log.Error("Failed to persist backend status",
			slog.String("server", backendURL),
			slog.String("error", err.Error()))
	}

	message := "Backend is down"
	if result.Healthy {
		message = "Backend is back up"
	}

	payload := notifier.Payload{
		Type:       notifier.TypeHealthChange,
		BackendURL: backendURL,
		StatusCode: result.Status,
		Healthy:    result.Healthy,
		Version:    b.Version(),
		Message:    message,
		Error:      result.Error,
	}
	if result.ResponseTime != nil {
		payload.ResponseTime = time.Duration(*result.ResponseTime) * time.Millisecond
	}

	gw.alerter.Alert(ctx, payload, "health-"+uuid.NewString())
}

func initializeBackends(cfg *config.Config, log *slog.Logger) ([]*backend.Backend, error) {
	var backends []*backend.Backend

	for _, bc := range cfg.Backends {
		u, err := url.Parse(bc.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			log.Error("Failed to parse URL",
				slog.String("url", bc.URL),
				slog.Any("error", err))
			continue
		}

		backends = append(backends, backend.New(u, bc.Weight))
	}

	if len(backends) == 0 {
		return nil, errors.New("no valid backends configured")
	}

	return backends, nil
}

func notifierConfig(nc config.NotifierConfig) notifier.Config {
	types := make(map[notifier.Type]bool, len(nc.Types))
	for name, enabled := range nc.Types {
		types[notifier.Type(name)] = enabled
	}

	return notifier.Config{
		BotToken:        nc.BotToken,
		ChatID:          nc.ChatID,
		APIBaseURL:      nc.APIBaseURL,
		MaxAttempts:     nc.MaxAttempts,
		BaseDelay:       nc.BaseDelay,
		AttemptTimeout:  nc.AttemptTimeout,
		FallbackEnabled: nc.FallbackEnabled,
		RatePerSecond:   nc.RatePerSecond,
		Burst:           nc.Burst,
		Types:           types,
	}
}
