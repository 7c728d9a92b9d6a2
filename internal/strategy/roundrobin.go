package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/failover-gateway/internal/backend"
)

type roundRobinStrategy struct {
	current atomic.Uint64
}

func (rb *roundRobinStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	n := rb.current.Add(1)

	return backends[(n-1)%uint64(len(backends))]
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}
