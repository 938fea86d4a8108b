package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
	"github.com/parsascontentcorner/discordliteclient/internal/metrics"
)

type staticState struct {
	state gateway.State
}

func (s staticState) State() gateway.State {
	return s.state
}

func newTestServer(state gateway.State, withMetrics bool) *Server {
	var metricsHandler http.Handler
	if withMetrics {
		metricsHandler = metrics.New(nil).Handler()
	}
	handlers := NewHandlers(staticState{state: state}, metricsHandler, zap.NewNop())
	return NewServer(handlers, "0", zap.NewNop())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		status gateway.Status
		ready  bool
	}{
		{"disconnected", gateway.StatusDisconnected, false},
		{"handshaking", gateway.StatusUnauthenticated, false},
		{"authenticated", gateway.StatusAuthenticated, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(gateway.State{Status: tt.status}, false)

			rec := get(t, s, "/health")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body healthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "ok", body.Status)
			assert.Equal(t, tt.status, body.Gateway)
			assert.Equal(t, tt.ready, body.Ready)
		})
	}
}

type fakePinger struct {
	err error
}

func (p fakePinger) Health(context.Context) error {
	return p.err
}

func TestHealthHandler_Database(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		status   string
		database string
	}{
		{"healthy", nil, http.StatusOK, "ok", "ok"},
		{"down", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded", "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHandlers(staticState{}, nil, zap.NewNop())
			handlers.SetDatabase(fakePinger{err: tt.err})
			s := NewServer(handlers, "0", zap.NewNop())

			rec := get(t, s, "/health")

			require.Equal(t, tt.code, rec.Code)
			var body healthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.database, body.Database)
		})
	}
}

func TestDebugHandler_OmitsToken(t *testing.T) {
	seq := int64(7)
	s := newTestServer(gateway.State{
		ID:       "session-1",
		Token:    "secret-token",
		Status:   gateway.StatusAuthenticated,
		Sequence: &seq,
		Events:   []string{"Connecting to ws://gateway.test/ws"},
	}, false)

	rec := get(t, s, "/debug/gateway")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "secret-token")

	var state map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	assert.Equal(t, "session-1", state["id"])
	assert.Equal(t, float64(7), state["sequence"])
	assert.Len(t, state["events"], 1)
}

func TestMetricsHandler(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		rec := get(t, newTestServer(gateway.State{}, true), "/metrics")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "gateway_status"))
	})

	t.Run("disabled", func(t *testing.T) {
		rec := get(t, newTestServer(gateway.State{}, false), "/metrics")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	s := newTestServer(gateway.State{}, false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
