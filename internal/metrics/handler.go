package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/failover-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/failover-gateway/internal/scheduler"
)

// Stats is the /stats response body.
type Stats struct {
	Metrics   Snapshot            `json:"metrics"`
	Scheduler *scheduler.Snapshot             `json:"scheduler,omitempty"`
	Breakers  map[string]circuitbreaker.State `json:"breakers,omitempty"`
}

// Handler serves the metrics snapshot as JSON, along with the scheduler
// snapshot and per-backend breaker states when their sources are not nil.
func (c *Collector) Handler(
	strategy string,
	schedulerStats func() scheduler.Snapshot,
	breakerStates func() map[string]circuitbreaker.State,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := Stats{Metrics: c.metrics.Snapshot(strategy)}
		if schedulerStats != nil {
			snap := schedulerStats()
			body.Scheduler = &snap
		}
		if breakerStates != nil {
			body.Breakers = breakerStates()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
