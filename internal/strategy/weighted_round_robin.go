package strategy

import (
	"sync"

	"github.com/angeloszaimis/failover-gateway/internal/backend"
)

// weightedRoundRobinStrategy implements smooth weighted round-robin over effective
// weights. Uses the Nginx algorithm: each backend accumulates its weight per
// selection cycle, the highest current value is chosen, then reduced by the sum
// of all weights.
type weightedRoundRobinStrategy struct {
	mutex   sync.Mutex
	current map[*backend.Backend]int // Tracks accumulated weight per backend
}

// NewWeightedRoundRobinStrategy creates a weighted round-robin strategy instance.
func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{
		current: make(map[*backend.Backend]int),
	}
}

// SelectBackend picks the backend with the highest accumulated weight.
// A backend whose probes degrade loses share until its reliability recovers.
func (w *weightedRoundRobinStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	// Remove stale backends from tracking map
	w.cleanup(backends)

	totalWeight := 0
	var chosen *backend.Backend

	for _, b := range backends {
		weight := b.EffectiveWeight()

		w.current[b] += weight
		totalWeight += weight

		if chosen == nil || w.current[b] > w.current[chosen] {
			chosen = b
		}
	}

	w.current[chosen] -= totalWeight
	return chosen
}

// cleanup forgets backends that are no longer candidates, such as ones already
// tried for the current request or marked down.
func (w *weightedRoundRobinStrategy) cleanup(backends []*backend.Backend) {
	alive := make(map[*backend.Backend]struct{}, len(backends))

	for _, b := range backends {
		alive[b] = struct{}{}
	}

	for b := range w.current {
		if _, ok := alive[b]; !ok {
			delete(w.current, b)
		}
	}
}
