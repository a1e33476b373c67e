package http

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/metrics"
)

func TestServer_Routes(t *testing.T) {
	s := NewServer(DefaultServerConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), "")
	s.MountMetrics("")
	metrics.DecisionsTotal.WithLabelValues("progressive", "true", "true").Inc()

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "encodr_decisions_total")

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "encodr API")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, "0.0.0.0:8096", s.Addr())
}
