// Package backend models a member of the backend pool. It provides the reverse
// proxy for live traffic, connection and response time tracking, and the health,
// version and reliability score maintained by probes.
package backend
