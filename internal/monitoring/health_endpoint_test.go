package monitoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHealthy(t *testing.T) {
	he := NewHealthEndpoint(0, nil, nil, nil)
	he.RegisterHealthCheck("database", HealthCheckFunc(func() error { return nil }))

	rec := get(t, he.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.NotEqual(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Components["database"].Status)
	assert.Positive(t, status.Metrics.Goroutines)
}

func TestHealthUnhealthyComponent(t *testing.T) {
	he := NewHealthEndpoint(0, nil, nil, nil)
	he.RegisterHealthCheck("database", HealthCheckFunc(func() error { return errors.New("disk full") }))

	rec := get(t, he.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")

	rec = get(t, he.Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)
}

func TestLivenessAndReadiness(t *testing.T) {
	he := NewHealthEndpoint(0, nil, nil, nil)
	he.RegisterHealthCheck("store", HealthCheckFunc(func() error { return nil }))
	assert.Equal(t, []string{"store"}, he.CheckNames())

	rec := get(t, he.Handler(), "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")

	rec = get(t, he.Handler(), "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"ready"`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	monitor := NewResourceMonitor(nil, time.Hour, reg)
	monitor.Sample()

	he := NewHealthEndpoint(0, monitor, reg, nil)
	rec := get(t, he.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "termcore_goroutines"))
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	he := NewHealthEndpoint(0, nil, nil, nil)
	rec := get(t, he.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
