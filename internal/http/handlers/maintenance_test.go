package handlers_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/http/handlers"
	"github.com/jmylchreest/encodr/internal/scheduler"
)

func TestMaintenanceHandler(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "old.ts")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	s := scheduler.NewScheduler().WithLogger(quietLogger())
	require.NoError(t, s.Add("0 0 * * * *", scheduler.NewTempCleanup(dir, 24*time.Hour).WithLogger(quietLogger())))
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	router, api := newTestRouter()
	handlers.NewMaintenanceHandler(s).Register(api)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/maintenance/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.ListMaintenanceTasksOutput
	decode(t, rec, &list.Body)
	require.Len(t, list.Body.Tasks, 1)
	assert.Equal(t, scheduler.TaskCleanup, list.Body.Tasks[0].Name)
	assert.NotNil(t, list.Body.Tasks[0].NextRun)
	assert.Nil(t, list.Body.Tasks[0].LastRun)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/maintenance/tasks/cleanup/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res scheduler.Result
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Removed)
	assert.NoFileExists(t, stale)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/maintenance/tasks/vacuum/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
