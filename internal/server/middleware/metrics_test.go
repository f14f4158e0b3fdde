package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgrelay/tgrelay/internal/observability"
)

func useCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	previous := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = previous })
	return collector
}

func serve(h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestMetricsEmitsRequestSeries(t *testing.T) {
	collector := useCollector(t)
	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	rec := serve(h, http.MethodPost, "/admin/limit", `{"limit":5}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	for _, name := range []string{
		"http_requests_total",
		"http_request_duration_ms",
		"http_request_size_bytes",
		"http_response_size_bytes",
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}
	assert.Zero(t, collector.CountMetricsByName("http_errors_total"))
}

func TestRequestMetricsCountsErrors(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusServiceUnavailable} {
		collector := useCollector(t)
		h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		rec := serve(h, http.MethodGet, "/admin/usage", "")

		assert.Equal(t, status, rec.Code)
		assert.Greater(t, collector.CountMetricsByName("http_errors_total"), 0, "status %d", status)
	}
}

func TestRequestMetricsPassesThroughWithoutTelemetry(t *testing.T) {
	previous := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = previous })

	called := false
	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(h, http.MethodGet, "/", "")
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetEndpointPattern(t *testing.T) {
	cases := map[string]string{
		"/health":               "/health/*",
		"/health/ready":         "/health/*",
		"/version":              "/version",
		"/metrics":              "/metrics",
		"/":                     "/",
		"/admin/usage":          "/admin/*",
		"/admin/users/42/reset": "/admin/*",
		"/webhook":              "/unknown",
	}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, want, getEndpointPattern(req), path)
	}
}
