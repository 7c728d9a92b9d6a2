// Package circuitbreaker stops the gateway from sending traffic to a backend
// that keeps failing between two periodic health checks.
//
// Each backend has a breaker with three states:
//
//   - CLOSED: requests pass through
//   - OPEN: the backend failed too often, requests are routed elsewhere
//   - HALF-OPEN: after the reset timeout, one trial request decides whether
//     the breaker closes again or reopens
//
// The request path records a failure for a failed priority probe or a proxy
// transport error and a success for every proxied response.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("http://localhost:25500")
//	if cb.Allow() {
//	    // Make request...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
