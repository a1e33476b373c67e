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
	"github.com/jmylchreest/encodr/internal/logarchive"
	"github.com/jmylchreest/encodr/internal/models"
	"github.com/jmylchreest/encodr/internal/repository"
	"github.com/jmylchreest/encodr/internal/transcode"
	"github.com/jmylchreest/encodr/internal/transcode/transcodetest"
)

type transcodeFixture struct {
	router       http.Handler
	orchestrator *transcode.Orchestrator
	spawner      *transcodetest.Spawner
	sessions     repository.TranscodeSessionRepository
	dir          string
}

func setupTranscodeRouter(t *testing.T) *transcodeFixture {
	t.Helper()
	dir := t.TempDir()
	spawner := &transcodetest.Spawner{}
	orch := transcodetest.NewOrchestrator(dir, spawner).WithLogger(quietLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	sessions := repository.NewTranscodeSessionRepository(setupTestDB(t))
	logs := logarchive.New(filepath.Join(dir, "logs"), filepath.Join(dir, "archive"))

	router, api := newTestRouter()
	handlers.NewTranscodeHandler(newTestBuilder(t), orch).
		WithSessions(sessions).
		WithLogs(logs).
		WithLogger(quietLogger()).
		Register(api)

	return &transcodeFixture{router: router, orchestrator: orch, spawner: spawner, sessions: sessions, dir: dir}
}

func (f *transcodeFixture) start(t *testing.T, deviceID string) handlers.TranscodeResponse {
	t.Helper()
	rec := doJSON(t, f.router, http.MethodPost, "/api/v1/transcodes", videoRequest(deviceID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp handlers.TranscodeResponse
	decode(t, rec, &resp)
	return resp
}

func TestTranscodeHandler_StartAndInspect(t *testing.T) {
	f := setupTranscodeRouter(t)

	started := f.start(t, "dev-1")
	assert.NotEmpty(t, started.ID)
	assert.Equal(t, transcode.StateRunning, started.State)
	assert.Equal(t, "dev-1", started.Key.DeviceID)
	assert.Equal(t, "ps-1", started.Key.PlaySessionID)
	assert.True(t, started.VideoCopy)
	assert.FileExists(t, started.Path)

	again := f.start(t, "dev-1")
	assert.Equal(t, started.ID, again.ID, "a job writing the same output is reused")

	rec := doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes/"+started.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got handlers.TranscodeResponse
	decode(t, rec, &got)
	assert.Equal(t, started.Path, got.Path)

	rec = doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes?deviceId=dev-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.ListTranscodesOutput
	decode(t, rec, &list.Body)
	require.Len(t, list.Body.Transcodes, 1)

	rec = doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes?deviceId=other", nil)
	decode(t, rec, &list.Body)
	assert.Empty(t, list.Body.Transcodes)

	rec = doJSON(t, f.router, http.MethodPost, "/api/v1/transcodes/"+started.ID+"/ping", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, f.router, http.MethodPost, "/api/v1/transcodes/"+started.ID+"/consumption",
		map[string]any{"bytesDownloaded": 4096})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	tj, ok := f.orchestrator.Registry().GetByID(started.ID)
	require.True(t, ok)
	require.NotNil(t, tj.Info().BytesDownloaded)
	assert.Equal(t, int64(4096), *tj.Info().BytesDownloaded)

	rec = doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes/"+started.ID+"/log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), tj.CommandLine)
}

func TestTranscodeHandler_UnknownJob(t *testing.T) {
	f := setupTranscodeRouter(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/transcodes/nope"},
		{http.MethodDelete, "/api/v1/transcodes/nope"},
		{http.MethodPost, "/api/v1/transcodes/nope/ping"},
		{http.MethodGet, "/api/v1/transcodes/nope/output"},
	} {
		rec := doJSON(t, f.router, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
	}

	rec := doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes/0b6f3a52-2f8f-4d8e-9a53-2b7d3c4e5f60/log", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranscodeHandler_StartUnknownItem(t *testing.T) {
	f := setupTranscodeRouter(t)

	body := videoRequest("dev-1")
	body["itemId"] = "missing.mkv"
	rec := doJSON(t, f.router, http.MethodPost, "/api/v1/transcodes", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, proc := f.spawner.Last()
	assert.Nil(t, proc)
}

func TestTranscodeHandler_Kill(t *testing.T) {
	f := setupTranscodeRouter(t)
	started := f.start(t, "dev-1")
	tj, ok := f.orchestrator.Registry().GetByID(started.ID)
	require.True(t, ok)

	rec := doJSON(t, f.router, http.MethodDelete, "/api/v1/transcodes/"+started.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	select {
	case <-tj.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job was not killed")
	}
	assert.True(t, tj.Cancelled())
	assert.Eventually(t, func() bool { return f.orchestrator.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestTranscodeHandler_KillByDevice(t *testing.T) {
	f := setupTranscodeRouter(t)
	first := f.start(t, "dev-1")
	second := f.start(t, "dev-2")

	rec := doJSON(t, f.router, http.MethodDelete, "/api/v1/transcodes?deviceId=dev-1&keepFiles=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out handlers.KillByDeviceOutput
	decode(t, rec, &out.Body)
	assert.Equal(t, []string{first.ID}, out.Body.Killed)

	assert.Eventually(t, func() bool {
		_, ok := f.orchestrator.Registry().GetByID(first.ID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := f.orchestrator.Registry().GetByID(second.ID)
	assert.True(t, ok)
	assert.FileExists(t, first.Path)

	rec = doJSON(t, f.router, http.MethodDelete, "/api/v1/transcodes", nil)
	assert.GreaterOrEqual(t, rec.Code, 400)
	assert.Less(t, rec.Code, 500)
}

func TestTranscodeHandler_History(t *testing.T) {
	f := setupTranscodeRouter(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i, s := range []*models.TranscodeSession{
		{JobID: "a", DeviceID: "dev-1", Type: "progressive", Status: models.SessionStatusCompleted, StartedAt: now.Add(-3 * time.Hour), EndedAt: now.Add(-2 * time.Hour)},
		{JobID: "b", DeviceID: "dev-1", Type: "hls", Status: models.SessionStatusFailed, Error: "exit status 1", StartedAt: now.Add(-time.Hour), EndedAt: now},
		{JobID: "c", DeviceID: "dev-2", Type: "progressive", Status: models.SessionStatusCancelled, StartedAt: now.Add(-30 * time.Minute), EndedAt: now},
	} {
		s.OutputPath = filepath.Join(f.dir, s.JobID+".ts")
		require.NoError(t, f.sessions.Create(ctx, s), i)
	}

	rec := doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes/history?deviceId=dev-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out handlers.HistoryOutput
	decode(t, rec, &out.Body)
	assert.Equal(t, int64(2), out.Body.Total)
	require.Len(t, out.Body.Sessions, 2)
	assert.Equal(t, "b", out.Body.Sessions[0].JobID, "newest first")
	assert.Equal(t, "exit status 1", out.Body.Sessions[0].Error)

	rec = doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes/history?status=cancelled", nil)
	decode(t, rec, &out.Body)
	require.Len(t, out.Body.Sessions, 1)
	assert.Equal(t, "c", out.Body.Sessions[0].JobID)

	since := now.Add(-90 * time.Minute).Format(time.RFC3339)
	rec = doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes/history?since="+since, nil)
	decode(t, rec, &out.Body)
	assert.Equal(t, int64(2), out.Body.Total)

	rec = doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes/history?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscodeHandler_LogFromArchive(t *testing.T) {
	f := setupTranscodeRouter(t)
	id := "0b6f3a52-2f8f-4d8e-9a53-2b7d3c4e5f60"
	logDir := filepath.Join(f.dir, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	path := filepath.Join(logDir, logarchive.LogName(id))
	require.NoError(t, os.WriteFile(path, []byte("ffmpeg -i in out\nframe=1\n"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	res, err := logarchive.New(logDir, filepath.Join(f.dir, "archive")).
		WithFormat(logarchive.FormatXZ).
		WithLogger(quietLogger()).
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Archived)
	require.NoFileExists(t, path)

	rec := doJSON(t, f.router, http.MethodGet, "/api/v1/transcodes/"+id+"/log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ffmpeg -i in out\nframe=1\n", rec.Body.String())
}
