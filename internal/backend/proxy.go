package backend

import (
	"context"
	"math"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"
)

// Backend represents a pool member with health status, connection tracking,
// response time monitoring and a reliability score fed by probes.
type Backend struct {
	url               *url.URL
	proxy             *httputil.ReverseProxy
	weight            int
	mutex             sync.Mutex
	isHealthy         bool
	activeConnections int
	ewmaResponseTime  time.Duration
	hasEWMA           bool
	version           string
	reliability       float64
	lastProbe         time.Time
}

const (
	ewmaAlpha        = 0.2
	reliabilityAlpha = 0.3
)

type proxyErrorKey struct{}

// WithProxyError returns a context under which a failed proxy attempt stores
// its transport error in *dst instead of only logging it.
func WithProxyError(ctx context.Context, dst *error) context.Context {
	return context.WithValue(ctx, proxyErrorKey{}, dst)
}

// ReverseProxy returns the HTTP reverse proxy for this backend.
func (b *Backend) ReverseProxy() *httputil.ReverseProxy {
	return b.proxy
}

// IncrementConn increments the active connection count.
func (b *Backend) IncrementConn() {
	b.mutex.Lock()
	b.activeConnections++
	b.mutex.Unlock()
}

// DecrementConn decrements the active connection count.
func (b *Backend) DecrementConn() {
	b.mutex.Lock()
	if b.activeConnections > 0 {
		b.activeConnections--
	}
	b.mutex.Unlock()
}

// ActiveConnections returns the current number of active connections.
func (b *Backend) ActiveConnections() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeConnections
}

// URL returns the backend server URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Weight returns the configured weight.
func (b *Backend) Weight() int {
	return b.weight
}

// EffectiveWeight is the configured weight times round(reliability*10), at least
// the configured weight.
func (b *Backend) EffectiveWeight() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	steps := int(math.Round(b.reliability * 10))
	if steps < 1 {
		steps = 1
	}

	return b.weight * steps
}

// IsHealthy returns true if the backend is currently healthy.
func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the backend's health status.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// response time using the latest request duration.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the exponentially weighted moving average response time.
// Returns 0 if no responses have been recorded yet.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}

// RecordProbe folds a probe's score into the reliability score and remembers
// the reported version. An empty version keeps the previous one.
func (b *Backend) RecordProbe(version string, score float64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if version != "" {
		b.version = version
	}
	b.reliability = (1-reliabilityAlpha)*b.reliability + reliabilityAlpha*score
	b.lastProbe = time.Now()
}

// Reliability returns the smoothed probe score in [0, 1].
func (b *Backend) Reliability() float64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.reliability
}

// Version returns the last version reported by a probe.
func (b *Backend) Version() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.version
}

// LastProbe returns when the last probe result was recorded.
func (b *Backend) LastProbe() time.Time {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.lastProbe
}

// New creates a new Backend with the given URL and weight.
// The backend starts healthy with a full reliability score.
func New(url *url.URL, weight int) *Backend {
	if weight < 1 {
		weight = 1
	}

	b := &Backend{
		url:         url,
		proxy:       httputil.NewSingleHostReverseProxy(url),
		weight:      weight,
		isHealthy:   true,
		reliability: 1,
	}

	b.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if dst, ok := r.Context().Value(proxyErrorKey{}).(*error); ok && dst != nil {
			*dst = err
		}
		w.WriteHeader(http.StatusBadGateway)
	}

	return b
}
