// Package handler implements the gateway's request path.
//
// Each request gets an X-Request-ID (reused from the client when present).
// The load balancer picks a backend, an optional priority probe confirms it is
// alive, and the request is proxied. A backend that fails the probe is taken
// out of rotation and the next candidate is tried. When no backend is left the
// client gets a 503 and a "request" notification is sent; a proxy transport
// error yields a 502 and an "error" notification. Notifications are delivered
// in the background by an Alerter.
//
// The package also serves /status, an on-demand full check of every backend.
package handler
