package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/logarchive"
	"github.com/jmylchreest/encodr/internal/metrics"
	"github.com/jmylchreest/encodr/internal/service/progress"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type funcTask struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context) (Result, error)
}

func (f *funcTask) Name() string { return f.name }

func (f *funcTask) Execute(ctx context.Context) (Result, error) {
	f.calls.Add(1)
	return f.fn(ctx)
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, when, when))
}

func TestScheduler_AddRejectsBadCron(t *testing.T) {
	s := NewScheduler().WithLogger(discardLogger())
	task := &funcTask{name: "t", fn: func(context.Context) (Result, error) { return Result{}, nil }}

	assert.Error(t, s.Add("not a cron", task))
	assert.Error(t, s.ValidateCron("*/5 * * * *"), "five field expressions lack seconds")
	require.NoError(t, s.Add("0 */5 * * * *", task))
	assert.Error(t, s.Add("", task), "duplicate names are rejected")
}

func TestScheduler_RunNowTracksProgressAndMetrics(t *testing.T) {
	svc := progress.NewService(discardLogger())
	s := NewScheduler().WithLogger(discardLogger()).WithProgress(svc)

	task := &funcTask{name: "sweep", fn: func(context.Context) (Result, error) {
		return Result{Removed: 3, Message: "removed 3 files"}, nil
	}}
	require.NoError(t, s.Add("", task))

	before := testutil.ToFloat64(metrics.MaintenanceRunsTotal.WithLabelValues("sweep", "success"))
	res, err := s.RunNow(context.Background(), "sweep")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Removed)
	assert.InDelta(t, before+1, testutil.ToFloat64(metrics.MaintenanceRunsTotal.WithLabelValues("sweep", "success")), 0.001)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.MaintenanceRemovedTotal.WithLabelValues("sweep")), 0.001)

	op, err := svc.GetOperationByOwner(progress.OpMaintenance, "sweep")
	require.NoError(t, err)
	assert.Equal(t, progress.StateCompleted, op.State)
	assert.Equal(t, 3, op.Metadata["removed"])

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "sweep", tasks[0].Name)
	require.NotNil(t, tasks[0].LastRun)
	assert.Nil(t, tasks[0].NextRun)
	assert.Empty(t, tasks[0].LastError)
}

func TestScheduler_RunNowFailure(t *testing.T) {
	svc := progress.NewService(discardLogger())
	s := NewScheduler().WithLogger(discardLogger()).WithProgress(svc)
	boom := errors.New("disk full")
	require.NoError(t, s.Add("", &funcTask{name: "broken", fn: func(context.Context) (Result, error) {
		return Result{}, boom
	}}))

	_, err := s.RunNow(context.Background(), "broken")
	assert.ErrorIs(t, err, boom)

	op, err := svc.GetOperationByOwner(progress.OpMaintenance, "broken")
	require.NoError(t, err)
	assert.Equal(t, progress.StateFailed, op.State)
	assert.Equal(t, "disk full", s.Tasks()[0].LastError)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestScheduler_RejectsOverlappingRuns(t *testing.T) {
	s := NewScheduler().WithLogger(discardLogger())
	release := make(chan struct{})
	started := make(chan struct{})
	task := &funcTask{name: "slow", fn: func(context.Context) (Result, error) {
		close(started)
		<-release
		return Result{}, nil
	}}
	require.NoError(t, s.Add("", task))

	errc := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "slow")
		errc <- err
	}()
	<-started

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrTaskRunning)
	assert.True(t, s.Tasks()[0].Running)

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, int32(1), task.calls.Load())
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	s := NewScheduler().WithLogger(discardLogger())
	task := &funcTask{name: "tick", fn: func(context.Context) (Result, error) { return Result{}, nil }}
	require.NoError(t, s.Add("@every 1s", task))

	s.Start()
	s.Start()
	require.NotNil(t, s.Tasks()[0].NextRun)
	assert.Eventually(t, func() bool { return task.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestTempCleanup_SkipsActiveAndRecentFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "old.ts")
	recent := filepath.Join(dir, "new.ts")
	playlist := filepath.Join(dir, "live", "abc.m3u8")
	segment := filepath.Join(dir, "live", "abc12.ts")
	nested := filepath.Join(dir, "gone", "seg0.ts")

	writeAged(t, stale, 48*time.Hour)
	writeAged(t, recent, time.Minute)
	writeAged(t, playlist, 48*time.Hour)
	writeAged(t, segment, 48*time.Hour)
	writeAged(t, nested, 48*time.Hour)

	c := NewTempCleanup(dir, 24*time.Hour).
		WithLogger(discardLogger()).
		WithActivePaths(func() []string { return []string{playlist} })

	res, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)

	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, nested)
	assert.NoDirExists(t, filepath.Join(dir, "gone"))
	assert.FileExists(t, recent)
	assert.FileExists(t, playlist)
	assert.FileExists(t, segment)
	assert.DirExists(t, dir)
}

func TestRunStartupCleanup_MissingDir(t *testing.T) {
	res, err := RunStartupCleanup(context.Background(), filepath.Join(t.TempDir(), "absent"), time.Hour, discardLogger())
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
}

func TestLogArchive_RunsArchiver(t *testing.T) {
	logs := t.TempDir()
	archive := t.TempDir()
	id := "0b6f3a52-2f8f-4d8e-9a53-2b7d3c4e5f60"
	writeAged(t, filepath.Join(logs, logarchive.LogName(id)), time.Hour)

	task := NewLogArchive(logarchive.New(logs, archive).WithLogger(discardLogger()))
	assert.Equal(t, TaskArchive, task.Name())

	res, err := task.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.FileExists(t, filepath.Join(archive, logarchive.LogName(id)+logarchive.FormatBrotli.Extension()))
}
