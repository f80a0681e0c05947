package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersExistAndIncrement(t *testing.T) {
	before := testutil.ToFloat64(AuthAttempts)
	AuthAttempts.Inc()
	if v := testutil.ToFloat64(AuthAttempts); v != before+1 {
		t.Fatalf("expected AuthAttempts %v, got %v", before+1, v)
	}

	Callbacks.WithLabelValues("test-result").Add(2)
	if v := testutil.ToFloat64(Callbacks.WithLabelValues("test-result")); v < 2 {
		t.Fatalf("expected Callbacks >= 2, got %v", v)
	}

	Persistence.WithLabelValues("save", "test").Inc()
	if v := testutil.ToFloat64(Persistence.WithLabelValues("save", "test")); v < 1 {
		t.Fatalf("expected Persistence >= 1, got %v", v)
	}
}

func TestRefreshesLabelCardinality(t *testing.T) {
	Refreshes.Reset()
	defer Refreshes.Reset()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Refreshes panicked: %v", r)
		}
	}()

	Refreshes.WithLabelValues("success").Inc()
	if v := testutil.ToFloat64(Refreshes.WithLabelValues("success")); v != 1 {
		t.Fatalf("expected metric value 1 after increment, got %v", v)
	}
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	AuthAttemptFailures.WithLabelValues("port_in_use").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "oidc_session_auth_attempt_failures_total") {
		t.Fatalf("expected failure counter in exposition output")
	}
}
