// Package metrics defines Prometheus metrics for authentication attempts,
// callbacks, token refreshes and session persistence.
package metrics
