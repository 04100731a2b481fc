package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()

	m.ConnectionAccepted(22)
	m.ConnectionAccepted(22)
	m.ConnectionAccepted(80)
	m.AttemptPersisted(22)
	m.StoreError()
	done := m.SessionStarted()
	m.SessionStarted()
	done()
	m.SetListenerUp(22, true)
	m.SetListenerUp(80, false)

	body := scrape(t, m.Handler())

	assert.Contains(t, body, `honeypot_connections_total{port="22"} 2`)
	assert.Contains(t, body, `honeypot_connections_total{port="80"} 1`)
	assert.Contains(t, body, `honeypot_attempts_persisted_total{port="22"} 1`)
	assert.Contains(t, body, "honeypot_store_errors_total 1")
	assert.Contains(t, body, "honeypot_active_sessions 1")
	assert.Contains(t, body, `honeypot_listener_up{port="22"} 1`)
	assert.Contains(t, body, `honeypot_listener_up{port="80"} 0`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ConnectionAccepted(22)
		m.AttemptPersisted(22)
		m.StoreError()
		m.SessionStarted()()
		m.SetListenerUp(22, true)
		scrape(t, m.Handler())
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.ConnectionAccepted(21)

	assert.NotContains(t, scrape(t, b.Handler()), `honeypot_connections_total{port="21"}`)
}

func TestServer_Probes(t *testing.T) {
	s := NewServer("127.0.0.1:0", New(), zerolog.Nop())
	h := s.Handler()

	get := func(path string) (int, string) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code, rec.Body.String()
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", body)

	s.SetReady(true)
	code, body = get("/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "honeypot_active_sessions")
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", New(), zerolog.Nop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(context.Background()))
}

func TestServer_StartBindFailure(t *testing.T) {
	s := NewServer("256.0.0.1:0", New(), zerolog.Nop())
	assert.Error(t, s.Start())
}
