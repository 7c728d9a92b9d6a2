package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/angeloszaimis/failover-gateway/internal/backend"
	"github.com/angeloszaimis/failover-gateway/internal/healthcheck"
	"github.com/angeloszaimis/failover-gateway/internal/loadbalancer"
)

// FullChecker runs the strict probe used by /status.
type FullChecker interface {
	FullCheck(ctx context.Context, backendURL, requestID string) healthcheck.Result
}

type BackendStatus struct {
	URL               string             `json:"url"`
	Weight            int                `json:"weight"`
	EffectiveWeight   int                `json:"effective_weight"`
	Healthy           bool               `json:"healthy"`
	Version           string             `json:"version,omitempty"`
	Reliability       float64            `json:"reliability"`
	ActiveConnections int                `json:"active_connections"`
	Breaker           string             `json:"breaker,omitempty"`
	Check             healthcheck.Result `json:"check"`
}

type StatusReport struct {
	RequestID string          `json:"request_id"`
	Healthy   int             `json:"healthy"`
	Backends  []BackendStatus `json:"backends"`
}

// NewStatusHandler serves an on-demand full check of every backend. The checks
// do not change backend state.
func NewStatusHandler(checker FullChecker, lb *loadbalancer.LoadBalancer, backends []*backend.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		report := StatusReport{
			RequestID: requestID,
			Backends:  make([]BackendStatus, len(backends)),
		}

		var wg sync.WaitGroup
		for i, b := range backends {
			wg.Add(1)
			go func() {
				defer wg.Done()
				report.Backends[i] = BackendStatus{
					URL:               b.URL().String(),
					Weight:            b.Weight(),
					EffectiveWeight:   b.EffectiveWeight(),
					Healthy:           b.IsHealthy(),
					Version:           b.Version(),
					Reliability:       b.Reliability(),
					ActiveConnections: b.ActiveConnections(),
					Check:             checker.FullCheck(r.Context(), b.URL().String(), requestID),
				}
				if cb := lb.Breaker(b); cb != nil {
					report.Backends[i].Breaker = cb.State().String()
				}
			}()
		}
		wg.Wait()

		for _, s := range report.Backends {
			if s.Check.Healthy {
				report.Healthy++
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(RequestIDHeader, requestID)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Error("Failed to encode status report",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
		}
	}
}
