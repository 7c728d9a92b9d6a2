package strategy

import (
	"github.com/angeloszaimis/failover-gateway/internal/backend"
)

type leastConnStrategy struct{}

func (l *leastConnStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	var (
		chosen     *backend.Backend
		bestConns  int
		bestWeight int
	)

	for _, b := range backends {
		conns := b.ActiveConnections()
		weight := b.EffectiveWeight()

		if chosen == nil || conns < bestConns || (conns == bestConns && weight > bestWeight) {
			chosen = b
			bestConns = conns
			bestWeight = weight
		}
	}

	return chosen
}

func NewLeastConnStrategy() Strategy {
	return &leastConnStrategy{}
}
