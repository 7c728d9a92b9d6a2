package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/failover-gateway/internal/backend"
	"github.com/angeloszaimis/failover-gateway/internal/healthcheck"
	"github.com/angeloszaimis/failover-gateway/internal/loadbalancer"
	"github.com/angeloszaimis/failover-gateway/internal/metrics"
	"github.com/angeloszaimis/failover-gateway/internal/notifier"
)

const (
	RequestIDHeader     = "X-Request-ID"
	BackendServerHeader = "X-Backend-Server"
)

// Prober runs the fast pre-proxy liveness check.
type Prober interface {
	PriorityCheck(ctx context.Context, backendURL, requestID string) healthcheck.Result
}

type Options struct {
	Collector *metrics.Collector
	// Prober enables a priority probe before each proxied request. Nil skips it.
	Prober  Prober
	Alerter *Alerter
	// OnTransition is called when a failed probe takes a backend down.
	OnTransition healthcheck.TransitionFunc
}

type LoadBalancerHandler struct {
	logger           *slog.Logger
	balancer         *loadbalancer.LoadBalancer
	backends         []*backend.Backend
	metricsCollector *metrics.Collector
	prober           Prober
	alerter          *Alerter
	onTransition     healthcheck.TransitionFunc
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (lb *LoadBalancerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)
	requestID := ensureRequestID(w, r)

	lb.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("request_id", requestID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host),
		slog.String("user_agent", r.UserAgent()))

	var tried []*backend.Backend
	for {
		nextServer, err := lb.balancer.GetAndReserveServer(lb.backends, tried...)
		if err != nil {
			lb.unavailable(w, r, clientIP, requestID)
			return
		}

		if lb.prober == nil || lb.probe(r.Context(), nextServer, requestID) {
			lb.forward(w, r, nextServer, clientIP, requestID)
			return
		}

		nextServer.DecrementConn()
		if r.Context().Err() != nil {
			lb.logger.Debug("Client went away during probe",
				slog.String("request_id", requestID),
				slog.String("backend", nextServer.URL().String()))
			return
		}

		lb.emitEvent(metrics.MetricEvent{
			Type:    metrics.EventFailover,
			Backend: nextServer.URL().String(),
		})
		lb.logger.Warn("Failing over to next backend",
			slog.String("request_id", requestID),
			slog.String("backend", nextServer.URL().String()))

		tried = append(tried, nextServer)
	}
}

// probe reports whether b answered the priority check. A failure is charged to
// the backend's circuit breaker and takes the backend out of rotation.
func (lb *LoadBalancerHandler) probe(ctx context.Context, b *backend.Backend, requestID string) bool {
	result := lb.prober.PriorityCheck(ctx, b.URL().String(), requestID)
	cb := lb.balancer.Breaker(b)

	// Nothing was learned about b; move on without charging it.
	if result.Skipped || (!result.Healthy && ctx.Err() != nil) {
		if cb != nil {
			cb.Abandon()
		}
		return false
	}

	event := metrics.MetricEvent{
		Type:    metrics.EventProbeCompleted,
		Backend: b.URL().String(),
		Label:   string(result.Priority),
		Healthy: result.Healthy,
	}
	if result.ResponseTime != nil {
		event.Duration = time.Duration(*result.ResponseTime) * time.Millisecond
	}
	lb.emitEvent(event)

	version := result.Version
	if version == healthcheck.UnknownVersion {
		version = ""
	}
	b.RecordProbe(version, result.ResponseTimeScore)

	if result.Healthy {
		return true
	}

	if cb != nil {
		cb.RecordFailure()
	}

	if b.SetHealthy(false) {
		lb.logger.Warn("Server failed priority probe",
			slog.String("server", b.URL().String()),
			slog.String("request_id", requestID),
			slog.Int("status", result.Status),
			slog.String("error", result.Error))

		if lb.onTransition != nil {
			lb.onTransition(ctx, b, result)
		}
	}

	return false
}

func (lb *LoadBalancerHandler) forward(w http.ResponseWriter, r *http.Request, nextServer *backend.Backend, clientIP, requestID string) {
	backendURL := nextServer.URL().String()

	lb.emitEvent(metrics.MetricEvent{
		Type:    metrics.EventRequestReceived,
		Backend: backendURL,
	})

	lb.emitEvent(metrics.MetricEvent{
		Type:    metrics.EventBackendSelected,
		Backend: backendURL,
	})

	defer nextServer.DecrementConn()
	start := time.Now()

	lb.logger.Info("Forwarding to backend",
		slog.String("client", clientIP),
		slog.String("request_id", requestID),
		slog.String("backend", backendURL))

	w.Header().Set(BackendServerHeader, backendURL)

	var proxyErr error
	proxied := r.WithContext(backend.WithProxyError(r.Context(), &proxyErr))

	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	nextServer.ReverseProxy().ServeHTTP(wrapped, proxied)

	duration := time.Since(start)
	lb.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Backend:    backendURL,
		Duration:   duration,
		StatusCode: wrapped.statusCode,
	})

	cb := lb.balancer.Breaker(nextServer)

	if proxyErr == nil {
		if cb != nil {
			cb.RecordSuccess()
		}
		nextServer.RecordResponse(duration)
		return
	}

	if errors.Is(proxyErr, context.Canceled) && r.Context().Err() != nil {
		if cb != nil {
			cb.Abandon()
		}
		return
	}

	if cb != nil {
		cb.RecordFailure()
	}

	lb.logger.Error("Proxy request failed",
		slog.String("request_id", requestID),
		slog.String("backend", backendURL),
		slog.Duration("duration", duration),
		slog.String("error", proxyErr.Error()))

	lb.alerter.Alert(r.Context(), notifier.Payload{
		Type:         notifier.TypeError,
		ClientIP:     clientIP,
		Method:       r.Method,
		Path:         r.URL.Path,
		BackendURL:   backendURL,
		StatusCode:   wrapped.statusCode,
		ResponseTime: duration,
		Message:      "Proxy request failed",
		Error:        proxyErr.Error(),
	}, requestID)
}

func (lb *LoadBalancerHandler) unavailable(w http.ResponseWriter, r *http.Request, clientIP, requestID string) {
	lb.emitEvent(metrics.MetricEvent{Type: metrics.EventNoBackend})

	lb.logger.Warn("No healthy backends available",
		slog.String("client", clientIP),
		slog.String("request_id", requestID))
	http.Error(w, "No healthy server available", http.StatusServiceUnavailable)

	lb.alerter.Alert(r.Context(), notifier.Payload{
		Type:       notifier.TypeRequest,
		ClientIP:   clientIP,
		Method:     r.Method,
		Path:       r.URL.Path,
		StatusCode: http.StatusServiceUnavailable,
		Message:    fmt.Sprintf("No healthy backend available out of %d", len(lb.backends)),
	}, requestID)
}

// ensureRequestID reuses the caller's request ID or mints one, and echoes it on
// both the upstream request and the response.
func ensureRequestID(w http.ResponseWriter, r *http.Request) string {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(RequestIDHeader, requestID)
	}
	w.Header().Set(RequestIDHeader, requestID)
	return requestID
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (lb *LoadBalancerHandler) emitEvent(event metrics.MetricEvent) {
	if lb.metricsCollector == nil {
		return
	}
	lb.metricsCollector.Record(event)
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func NewLoadBalancerHandler(logger *slog.Logger, lb *loadbalancer.LoadBalancer, backends []*backend.Backend, opts Options) *LoadBalancerHandler {
	return &LoadBalancerHandler{
		logger:           logger,
		balancer:         lb,
		backends:         backends,
		metricsCollector: opts.Collector,
		prober:           opts.Prober,
		alerter:          opts.Alerter,
		onTransition:     opts.OnTransition,
	}
}
