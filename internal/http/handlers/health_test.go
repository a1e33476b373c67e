package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/http/handlers"
	"github.com/jmylchreest/encodr/internal/transcode/transcodetest"
)

type stubDB struct {
	pingErr error
}

func (s stubDB) Ping(context.Context) error     { return s.pingErr }
func (s stubDB) Stats() (map[string]any, error) { return map[string]any{"open_connections": 1}, nil }
func (s stubDB) Driver() string                 { return "sqlite" }

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		dir := t.TempDir()
		orch := transcodetest.NewOrchestrator(dir, &transcodetest.Spawner{})
		_, err := orch.Start(context.Background(), transcodetest.VideoJob(dir, "dev-1"), "")
		require.NoError(t, err)
		t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

		router, api := newTestRouter()
		handlers.NewHealthHandler("1.2.3").
			WithDB(stubDB{}).
			WithRegistry(orch.Registry()).
			Register(api)

		rec := doJSON(t, router, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.HealthResponse
		decode(t, rec, &resp)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "1.2.3", resp.Version)
		assert.GreaterOrEqual(t, resp.UptimeSeconds, 0.0)
		assert.Positive(t, resp.System.CPU.Cores)
		require.NotNil(t, resp.Database)
		assert.Equal(t, "ok", resp.Database.Status)
		assert.Equal(t, "sqlite", resp.Database.Driver)
		assert.Equal(t, 1, resp.Transcodes.Active)
		assert.Zero(t, resp.Transcodes.Throttled)
	})

	t.Run("degraded when the database is down", func(t *testing.T) {
		router, api := newTestRouter()
		handlers.NewHealthHandler("1.2.3").WithDB(stubDB{pingErr: errors.New("database is locked")}).Register(api)

		rec := doJSON(t, router, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp handlers.HealthResponse
		decode(t, rec, &resp)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "database is locked", resp.Database.Error)
		assert.Zero(t, resp.Transcodes.Active)
	})
}

var _ handlers.DatabaseChecker = stubDB{}
