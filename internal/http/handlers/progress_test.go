package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/http/handlers"
	"github.com/jmylchreest/encodr/internal/service/progress"
)

func setupProgressRouter() (*chi.Mux, *progress.Service) {
	svc := progress.NewService(quietLogger())
	handler := handlers.NewProgressHandler(svc)
	handler.SetHeartbeatInterval(50 * time.Millisecond)

	router, api := newTestRouter()
	handler.Register(api)
	handler.RegisterSSE(router)
	return router, svc
}

func TestProgressHandler_ListOperations(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		router, _ := setupProgressRouter()
		rec := doJSON(t, router, http.MethodGet, "/api/v1/progress/operations", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var out handlers.ListOperationsOutput
		decode(t, rec, &out.Body)
		assert.NotNil(t, out.Body.Operations)
		assert.Empty(t, out.Body.Operations)
	})

	t.Run("filters", func(t *testing.T) {
		router, svc := setupProgressRouter()
		job, err := svc.StartOperation(progress.OpTranscode, "job-1", "starting encoder")
		require.NoError(t, err)
		job.SetProgress(42, "encoding")
		sweep, err := svc.StartOperation(progress.OpMaintenance, "cleanup", "running cleanup")
		require.NoError(t, err)
		sweep.Complete("removed 3 files")

		var out handlers.ListOperationsOutput
		rec := doJSON(t, router, http.MethodGet, "/api/v1/progress/operations?type=transcode", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &out.Body)
		require.Len(t, out.Body.Operations, 1)
		assert.Equal(t, "job-1", out.Body.Operations[0].OwnerID)
		assert.InDelta(t, 42, out.Body.Operations[0].Percent, 0.001)

		rec = doJSON(t, router, http.MethodGet, "/api/v1/progress/operations?active_only=true", nil)
		decode(t, rec, &out.Body)
		require.Len(t, out.Body.Operations, 1)
		assert.Equal(t, progress.OpTranscode, out.Body.Operations[0].Type)

		rec = doJSON(t, router, http.MethodGet, "/api/v1/progress/operations?state=completed", nil)
		decode(t, rec, &out.Body)
		require.Len(t, out.Body.Operations, 1)
		assert.Equal(t, "cleanup", out.Body.Operations[0].OwnerID)

		rec = doJSON(t, router, http.MethodGet, "/api/v1/progress/operations?type=bogus", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestProgressHandler_GetOperation(t *testing.T) {
	router, svc := setupProgressRouter()
	mgr, err := svc.StartOperation(progress.OpTranscode, "job-1", "starting encoder")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/progress/operations/"+mgr.OperationID(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var op progress.Operation
	decode(t, rec, &op)
	assert.Equal(t, mgr.OperationID(), op.ID)
	assert.Equal(t, progress.StatePending, op.State)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/progress/operations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandler_Events(t *testing.T) {
	router, svc := setupProgressRouter()
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/progress/events?owner_id=job-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	next := func(prefix string) string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed before %q", prefix)
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	next(":connected")

	_, err = svc.StartOperation(progress.OpTranscode, "other-job", "ignored")
	require.NoError(t, err)
	mgr, err := svc.StartOperation(progress.OpTranscode, "job-1", "starting encoder")
	require.NoError(t, err)

	assert.Equal(t, "event: progress", next("event: "))
	var op progress.Operation
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(next("data: "), "data: ")), &op))
	assert.Equal(t, "job-1", op.OwnerID)

	mgr.Complete("done")
	assert.Equal(t, "event: completed", next("event: "))

	next(":heartbeat")
}
