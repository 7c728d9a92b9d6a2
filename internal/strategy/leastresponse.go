package strategy

import (
	"github.com/angeloszaimis/failover-gateway/internal/backend"
)

// minReliability keeps a backend with a zero score selectable when it is the
// only candidate left.
const minReliability = 0.1

type leastResponseStrategy struct{}

// SelectBackend prefers backends without response history, then the lowest
// ewma * (connections+1) / reliability.
func (l *leastResponseStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	var (
		chosen *backend.Backend
		best   float64
	)

	for _, b := range backends {
		ewma := b.EWMATime()
		if ewma == 0 {
			return b
		}

		reliability := max(b.Reliability(), minReliability)
		score := float64(ewma) * float64(b.ActiveConnections()+1) / reliability

		if chosen == nil || score < best {
			chosen = b
			best = score
		}
	}

	return chosen
}

func NewLeastResponseStrategy() Strategy {
	return &leastResponseStrategy{}
}
