package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunahq/realtime/internal/infrastructure/config"
	"github.com/lunahq/realtime/internal/infrastructure/monitoring"
	"github.com/lunahq/realtime/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T, reg *registry.Registry) *Server {
	t.Helper()
	return New(config.DiagConfig{Host: "127.0.0.1", Port: "0"}, nil, monitoring.NewMetrics(), reg)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := get(t, testServer(t, nil), "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := monitoring.NewMetrics()
	m.ConnectsTotal.Inc()
	s := New(config.DiagConfig{Host: "127.0.0.1", Port: "0"}, nil, m, nil)

	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "realtime_connects_total")
}

func TestConnectionsEmptyRegistry(t *testing.T) {
	reg := registry.New(nil, nil)
	w := get(t, testServer(t, reg), "/connections")
	require.Equal(t, http.StatusOK, w.Code)

	var stats registry.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalConnections)
}

func TestConnectionsNilRegistry(t *testing.T) {
	w := get(t, testServer(t, nil), "/connections")
	require.Equal(t, http.StatusOK, w.Code)

	var stats registry.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalConnections)
	assert.Empty(t, stats.PerConnection)
}

func TestCORSHeaders(t *testing.T) {
	s := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
