// Package healthcheck probes backends for liveness and version.
//
// Two probe modes share one endpoint. PriorityCheck is the fast probe used on
// the request path: a short timeout, and any 200 counts as healthy even when the
// body cannot be read. FullCheck is the authoritative probe used by the periodic
// monitor: a longer timeout, and an unreadable body marks the backend unhealthy.
// Probes are admitted through a scheduler.Controller so the number of probes in
// flight stays bounded.
//
// Watch runs FullCheck on an interval and applies results to a backend.Backend,
// reporting health transitions to a callback.
package healthcheck
