package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/isp-scheduler/internal/logging"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHTTP_Healthz(t *testing.T) {
	h := NewHTTP(fixedStatus{}, nil, logging.Discard())

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestHTTP_Status(t *testing.T) {
	h := NewHTTP(fixedStatus{sampleStatus()}, nil, logging.Discard())

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["busy"])
	assert.Equal(t, float64(4), body["started"])
	assert.Len(t, body["groups"], 2)
}

func TestHTTP_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "pispbe_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := NewHTTP(fixedStatus{}, reg, logging.Discard())
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pispbe_test_total 1"))
}

func TestHTTP_NoMetricsWithoutGatherer(t *testing.T) {
	h := NewHTTP(fixedStatus{}, nil, logging.Discard())
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}

func TestHTTP_UnknownRoute(t *testing.T) {
	h := NewHTTP(fixedStatus{}, nil, logging.Discard())
	assert.Equal(t, http.StatusNotFound, get(t, h, "/nope").Code)
}
