package strategy

import (
	"fmt"

	"github.com/angeloszaimis/failover-gateway/internal/backend"
)

const (
	RoundRobin         = "round-robin"
	WeightedRoundRobin = "weighted-round-robin"
	LeastResponse      = "least-response"
	LeastConnections   = "least-connections"
)

// Names lists every strategy New accepts.
var Names = []string{RoundRobin, WeightedRoundRobin, LeastResponse, LeastConnections}

type Strategy interface {
	SelectBackend(backends []*backend.Backend) *backend.Backend
}

// New returns the strategy registered under name.
func New(name string) (Strategy, error) {
	switch name {
	case RoundRobin:
		return NewRoundRobinStrategy(), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobinStrategy(), nil
	case LeastResponse:
		return NewLeastResponseStrategy(), nil
	case LeastConnections:
		return NewLeastConnStrategy(), nil
	default:
		return nil, fmt.Errorf("strategy.New: unknown strategy %q", name)
	}
}
