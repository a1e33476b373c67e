package transcode

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/media"
)

func waitDone(t *testing.T, tj *TranscodingJob) {
	t.Helper()
	select {
	case <-tj.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not exit")
	}
}

func TestOrchestrator_StartRunsUntilExit(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, spawner)
	obs := &recordingObserver{}
	o.AddObserver(obs)

	job := videoFileJob(t.TempDir())
	closer := &countingCloser{}
	job.AddCloser(closer)

	tj, err := o.Start(context.Background(), job, "/videos/item-1/stream.ts?deviceId=dev-1")
	require.NoError(t, err)

	assert.Equal(t, StateRunning, tj.State())
	assert.Equal(t, Key{DeviceID: "dev-1", PlaySessionID: "ps-1", MediaSourceID: "src-1"}, tj.Key)
	assert.Equal(t, job.OutputFilePath, tj.Path)
	assert.False(t, tj.HasExited())

	got, ok := o.Registry().GetByID(tj.ID)
	require.True(t, ok)
	assert.Same(t, tj, got)

	log, err := os.ReadFile(tj.LogPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(log), "/videos/item-1/stream.ts?deviceId=dev-1\n"))
	assert.Contains(t, string(log), `"id":"src-1"`)
	assert.Contains(t, string(log), tj.CommandLine)
	assert.Contains(t, tj.LogPath, "transcode-"+tj.ID+".txt")

	cmd, proc := spawner.last()
	cmd.OnStderrLine("frame= 100 fps= 25.0 q=28.0 size=    2048kB time=00:36:00.00 bitrate=4194.3kbits/s")
	info := tj.Info()
	require.NotNil(t, info.Percent)
	assert.InDelta(t, 30.0, *info.Percent, 0.01)
	require.NotNil(t, info.Framerate)
	assert.InDelta(t, 25.0, *info.Framerate, 0.01)

	proc.exit(0)
	waitDone(t, tj)

	assert.Equal(t, StateExited, tj.State())
	assert.Equal(t, 0, tj.ExitCode())
	assert.NoError(t, tj.Err())
	assert.False(t, tj.Cancelled())
	assert.Equal(t, 0, o.Registry().Len())
	assert.Equal(t, int32(1), closer.n.Load())

	started, exited, progress := obs.snapshot()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, exited)
	assert.Len(t, progress, 1)
}

func TestOrchestrator_StartFailureIsNotRegistered(t *testing.T) {
	spawner := &fakeSpawner{err: errors.New("exec: \"ffmpeg\": executable file not found")}
	o := newTestOrchestrator(t, spawner)

	job := videoFileJob(t.TempDir())
	closer := &countingCloser{}
	job.AddCloser(closer)

	tj, err := o.Start(context.Background(), job, "")
	require.Error(t, err)
	assert.Nil(t, tj)
	assert.ErrorIs(t, err, encoding.ErrProcessStart)
	assert.Equal(t, 0, o.Registry().Len())
	assert.Equal(t, int32(1), closer.n.Load())
}

func TestOrchestrator_ExitBeforeOutputIsRuntimeFailure(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: func(_ *ffmpeg.Command, p *fakeProcess) { p.exit(1) }}
	o := newTestOrchestrator(t, spawner)

	tj, err := o.Start(context.Background(), videoFileJob(t.TempDir()), "")
	require.NoError(t, err)
	waitDone(t, tj)

	assert.Equal(t, 1, tj.ExitCode())
	assert.ErrorIs(t, tj.Err(), encoding.ErrRuntimeProcessFailure)
	assert.Equal(t, StateExited, tj.State())
}

func TestOrchestrator_CancelWhileAwaitingOutput(t *testing.T) {
	spawner := &fakeSpawner{}
	o := newTestOrchestrator(t, spawner)

	job := videoFileJob(t.TempDir())
	closer := &countingCloser{}
	job.AddCloser(closer)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	tj, err := o.Start(ctx, job, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, tj)

	_, proc := spawner.last()
	require.NotNil(t, proc)
	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("encoder was not killed")
	}
	assert.Eventually(t, func() bool {
		return o.Registry().Len() == 0 && closer.n.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestrator_DisposesOnceUnderConcurrentExitAndKill(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, spawner)

	job := videoFileJob(t.TempDir())
	closer := &countingCloser{}
	job.AddCloser(closer)

	tj, err := o.Start(context.Background(), job, "")
	require.NoError(t, err)
	_, proc := spawner.last()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = tj.Kill()
		}()
		go func() {
			defer wg.Done()
			proc.exit(0)
		}()
	}
	wg.Wait()
	waitDone(t, tj)

	assert.Equal(t, int32(1), closer.n.Load())
	assert.Equal(t, 0, o.Registry().Len())
}

func TestOrchestrator_ReusesJobWritingSamePath(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, spawner)
	dir := t.TempDir()

	first, err := o.Start(context.Background(), videoFileJob(dir), "")
	require.NoError(t, err)
	second, err := o.Start(context.Background(), videoFileJob(dir), "")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, spawner.count())

	require.NoError(t, o.Shutdown(context.Background()))
	waitDone(t, first)
}

func TestOrchestrator_ConcurrentStartsShareOneEncoder(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, spawner)
	dir := t.TempDir()

	const starts = 4
	jobs := make([]*TranscodingJob, starts)
	errs := make([]error, starts)
	var wg sync.WaitGroup
	for i := range starts {
		job := videoFileJob(dir)
		job.Source.BufferMs = media.Ptr(50)
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs[i], errs[i] = o.Start(context.Background(), job, "")
		}()
	}
	wg.Wait()

	for i := range starts {
		require.NoError(t, errs[i])
		assert.Same(t, jobs[0], jobs[i])
	}
	assert.Equal(t, 1, spawner.count())
	assert.Equal(t, 1, o.Registry().Len())

	require.NoError(t, o.Shutdown(context.Background()))
	waitDone(t, jobs[0])
}

func TestOrchestrator_ThrottlesAheadEncoder(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, spawner).WithThrottle(ThrottleSettings{
		Enabled:   true,
		Threshold: time.Minute,
		Interval:  5 * time.Millisecond,
	})
	obs := &recordingObserver{}
	o.AddObserver(obs)

	job := videoFileJob(t.TempDir())
	job.Type = encoding.JobHLS
	tj, err := o.Start(context.Background(), job, "")
	require.NoError(t, err)
	_, proc := spawner.last()

	pos := 10 * time.Minute
	_, err = o.Registry().ReportProgress(tj.ID, ffmpeg.Progress{Position: &pos})
	require.NoError(t, err)
	require.NoError(t, o.Registry().ReportConsumption(tj.ID, nil, media.Ptr(media.DurationToTicks(time.Minute))))

	assert.Eventually(t, func() bool {
		return tj.State() == StateThrottling && tj.Info().Throttled
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, o.Registry().ReportConsumption(tj.ID, nil, media.Ptr(media.DurationToTicks(9*time.Minute+30*time.Second))))
	assert.Eventually(t, func() bool {
		return tj.State() == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	suspends, resumes := proc.counts()
	assert.GreaterOrEqual(t, suspends, 1)
	assert.GreaterOrEqual(t, resumes, 1)
	changes := obs.throttleChanges()
	require.GreaterOrEqual(t, len(changes), 2)
	assert.Equal(t, []bool{true, false}, changes[:2])

	_ = tj.Kill()
	waitDone(t, tj)
}

func TestOrchestrator_CopyJobsAreNotThrottled(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, spawner).WithThrottle(ThrottleSettings{Enabled: true})

	job := videoFileJob(t.TempDir())
	job.OutputVideoCodec = "copy"
	tj, err := o.Start(context.Background(), job, "")
	require.NoError(t, err)

	tj.mu.RLock()
	th := tj.throttler
	tj.mu.RUnlock()
	assert.Nil(t, th)

	_ = tj.Kill()
	waitDone(t, tj)
}

func TestOrchestrator_ShutdownKillsJobs(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, spawner)

	a := videoFileJob(t.TempDir())
	b := videoFileJob(t.TempDir())
	b.Request.DeviceID = "dev-2"

	ja, err := o.Start(context.Background(), a, "")
	require.NoError(t, err)
	jb, err := o.Start(context.Background(), b, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	assert.True(t, ja.HasExited())
	assert.True(t, jb.HasExited())
	assert.NoError(t, ja.Err())
	assert.True(t, ja.Cancelled())
	assert.Equal(t, 0, o.Registry().Len())
}

func TestOrchestrator_SamplesResourceUsage(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, meteredSpawner{spawner}).WithStatsInterval(5 * time.Millisecond)

	tj, err := o.Start(context.Background(), videoFileJob(t.TempDir()), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tj.Info().Resources != nil }, time.Second, 5*time.Millisecond)
	res := tj.Info().Resources
	assert.Equal(t, tj.PID(), res.PID)
	assert.Equal(t, uint64(64<<20), res.MemoryRSSBytes)

	_, proc := spawner.last()
	proc.exit(0)
	waitDone(t, tj)
	assert.NotNil(t, tj.Info().Resources)
}

func TestOrchestrator_NoResourcesWithoutStats(t *testing.T) {
	spawner := &fakeSpawner{onSpawn: writeOutput}
	o := newTestOrchestrator(t, spawner).WithStatsInterval(5 * time.Millisecond)

	tj, err := o.Start(context.Background(), videoFileJob(t.TempDir()), "")
	require.NoError(t, err)
	assert.Nil(t, tj.Info().Resources)
	require.NoError(t, tj.Kill())
	waitDone(t, tj)
}
