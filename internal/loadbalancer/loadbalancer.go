package loadbalancer

import (
	"errors"
	"slices"
	"sync"

	"github.com/angeloszaimis/failover-gateway/internal/backend"
	"github.com/angeloszaimis/failover-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/failover-gateway/internal/strategy"
)

var ErrNoHealthyBackends = errors.New("no healthy backends")

type LoadBalancer struct {
	strategy strategy.Strategy
	breakers *circuitbreaker.Registry
	mutex    sync.Mutex
}

// NewLoadBalancer builds a load balancer. A nil registry disables circuit
// breaking.
func NewLoadBalancer(strategy strategy.Strategy, breakers *circuitbreaker.Registry) *LoadBalancer {
	return &LoadBalancer{
		strategy: strategy,
		breakers: breakers,
	}
}

// GetAndReserveServer picks a healthy backend that is not in exclude and whose
// circuit breaker admits a request, then reserves a connection on it. The
// caller owns the reservation and must call DecrementConn.
func (lb *LoadBalancer) GetAndReserveServer(backends []*backend.Backend, exclude ...*backend.Backend) (*backend.Backend, error) {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()

	skipped := slices.Clone(exclude)
	for {
		candidates := lb.candidates(backends, skipped)
		if len(candidates) == 0 {
			return nil, ErrNoHealthyBackends
		}

		chosen := lb.strategy.SelectBackend(candidates)
		if chosen == nil {
			return nil, ErrNoHealthyBackends
		}

		// Lost the half-open trial to another request
		if lb.breakers != nil && !lb.breakers.GetBreaker(chosen.URL().String()).Allow() {
			skipped = append(skipped, chosen)
			continue
		}

		chosen.IncrementConn()
		return chosen, nil
	}
}

func (lb *LoadBalancer) candidates(backends, exclude []*backend.Backend) []*backend.Backend {
	healthy := make([]*backend.Backend, 0, len(backends))

	for _, b := range backends {
		if !b.IsHealthy() || slices.Contains(exclude, b) {
			continue
		}
		if lb.breakers != nil && !lb.breakers.GetBreaker(b.URL().String()).Ready() {
			continue
		}
		healthy = append(healthy, b)
	}

	return healthy
}

// Breaker returns the circuit breaker guarding b, or nil when circuit
// breaking is disabled.
func (lb *LoadBalancer) Breaker(b *backend.Backend) *circuitbreaker.CircuitBreaker {
	if lb.breakers == nil {
		return nil
	}
	return lb.breakers.GetBreaker(b.URL().String())
}

// BreakerStates reports the breaker state of every backend that has been
// considered for traffic. It is nil when circuit breaking is disabled.
func (lb *LoadBalancer) BreakerStates() map[string]circuitbreaker.State {
	if lb.breakers == nil {
		return nil
	}
	return lb.breakers.States()
}
