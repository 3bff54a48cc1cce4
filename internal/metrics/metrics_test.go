package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInstrument_LabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/api/auth/verify-email/{token}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	for _, tok := range []string{"aaa", "bbb"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email/"+tok, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	out := scrape(t, m)
	assert.Contains(t, out, `http_requests_total{method="GET",route="/api/auth/verify-email/{token}",status="400"} 2`)
	assert.NotContains(t, out, "aaa", "path parameters never become labels")
}

func TestAuthCounters(t *testing.T) {
	m := New()
	m.AuthOutcome("refresh", "replay")
	m.AuthOutcome("refresh", "replay")
	m.ReplayDetected()
	m.ResetAttempts(3)

	out := scrape(t, m)
	assert.Contains(t, out, `auth_operations_total{operation="refresh",outcome="replay"} 2`)
	assert.Contains(t, out, "auth_refresh_replays_total 1")
	assert.Contains(t, out, "auth_password_reset_attempts_count 1")
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AuthOutcome("login", "success")
		m.ReplayDetected()
		m.ResetAttempts(1)
	})
}
