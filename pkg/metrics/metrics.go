package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AuthAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oidc_session_auth_attempts_total",
		Help: "Total number of authentication attempts started",
	})
	// Failures before the callback listener starts serving.
	AuthAttemptFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_session_auth_attempt_failures_total",
		Help: "Total number of authentication attempts that failed to start",
	}, []string{"reason"})
	Callbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_session_callbacks_total",
		Help: "Total number of redirect callbacks handled, by result",
	}, []string{"result"})
	Refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_session_refresh_total",
		Help: "Total number of token refreshes, by result",
	}, []string{"result"})
	ListenerThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oidc_session_listener_throttled_total",
		Help: "Total number of stray requests rejected by the callback listener rate limiter",
	})
	Persistence = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_session_persistence_total",
		Help: "Total number of session file operations, by operation and result",
	}, []string{"op", "result"})
)

func init() {
	prometheus.MustRegister(AuthAttempts)
	prometheus.MustRegister(AuthAttemptFailures)
	prometheus.MustRegister(Callbacks)
	prometheus.MustRegister(Refreshes)
	prometheus.MustRegister(ListenerThrottled)
	prometheus.MustRegister(Persistence)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
