// Package diag exposes a local HTTP surface for observing the realtime
// core: Prometheus metrics, connection registry statistics, and a health
// probe. It is opt-in and binds to loopback by default.
package diag
