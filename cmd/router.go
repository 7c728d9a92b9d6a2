package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/failover-gateway/internal/handler"
)

type healthzResponse struct {
	Status          string `json:"status"`
	HealthyBackends int    `json:"healthy_backends"`
	TotalBackends   int    `json:"total_backends"`
}

// setupRouter mounts the gateway's own endpoints; every other path is proxied.
func setupRouter(gw *gateway) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", gw.proxy)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gw.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /stats", gw.collector.Handler(gw.cfg.Strategy.Type, gw.checker.Stats, gw.balancer.BreakerStates))
	mux.HandleFunc("GET /status", handler.NewStatusHandler(gw.checker, gw.balancer, gw.backends, gw.log))
	mux.HandleFunc("GET /healthz", gw.healthz)

	return mux
}

func (gw *gateway) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthzResponse{Status: "ok", TotalBackends: len(gw.backends)}
	for _, b := range gw.backends {
		if b.IsHealthy() {
			resp.HealthyBackends++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.HealthyBackends == 0 {
		resp.Status = "unavailable"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		gw.log.Error("Failed to encode health response", slog.String("error", err.Error()))
	}
}
