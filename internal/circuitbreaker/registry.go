package circuitbreaker

import (
	"sync"
	"time"
)

// Registry owns one breaker per backend URL. Breakers are created on first
// lookup with the registry's threshold and reset timeout and live as long as
// the registry.
type Registry struct {
	mutex        sync.RWMutex
	breakers     map[string]*CircuitBreaker
	threshold    int
	resetTimeout time.Duration
}

func NewRegistry(threshold int, resetTimeout time.Duration) *Registry {
	return &Registry{
		breakers:     make(map[string]*CircuitBreaker),
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// GetBreaker returns the breaker guarding backendURL.
func (r *Registry) GetBreaker(backendURL string) *CircuitBreaker {
	r.mutex.RLock()
	cb := r.breakers[backendURL]
	r.mutex.RUnlock()

	if cb != nil {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb = r.breakers[backendURL]; cb == nil {
		cb = NewCircuitBreaker(r.threshold, r.resetTimeout)
		r.breakers[backendURL] = cb
	}

	return cb
}

// States reports the current state of every breaker looked up so far, keyed
// by backend URL.
func (r *Registry) States() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	states := make(map[string]State, len(r.breakers))
	for backendURL, cb := range r.breakers {
		states[backendURL] = cb.State()
	}

	return states
}
