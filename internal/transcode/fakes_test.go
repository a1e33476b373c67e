package transcode

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/media"
)

type fakeProcess struct {
	pid  int
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	code     int
	suspends int
	resumes  int
}

var nextFakePID atomic.Int32

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		pid:  int(nextFakePID.Add(1)) + 1000,
		done: make(chan struct{}),
		code: -1,
	}
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProcess) Kill() error {
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Suspend(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspends++
	return nil
}

func (p *fakeProcess) Resume(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	return nil
}

func (p *fakeProcess) counts() (suspends, resumes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspends, p.resumes
}

// fakeSpawner hands out fake processes. onSpawn runs synchronously after the
// process is created.
type fakeSpawner struct {
	err     error
	onSpawn func(cmd *ffmpeg.Command, p *fakeProcess)

	mu    sync.Mutex
	procs []*fakeProcess
	cmds  []*ffmpeg.Command
}

func (s *fakeSpawner) Spawn(ctx context.Context, cmd *ffmpeg.Command) (Process, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess()
	go func() {
		select {
		case <-ctx.Done():
			p.exit(-1)
		case <-p.done:
		}
	}()

	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()

	if s.onSpawn != nil {
		s.onSpawn(cmd, p)
	}
	return p, nil
}

func (s *fakeSpawner) last() (*ffmpeg.Command, *fakeProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil, nil
	}
	return s.cmds[len(s.cmds)-1], s.procs[len(s.procs)-1]
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

type fakePlanner struct{}

func (fakePlanner) Command(job *encoding.Job, out string) (*ffmpeg.Command, error) {
	return &ffmpeg.Command{Binary: "ffmpeg", Args: []string{"-i", job.InputPath(), out}}, nil
}

// writeOutput creates the job's output file once it has been spawned.
func writeOutput(cmd *ffmpeg.Command, _ *fakeProcess) {
	out := cmd.Args[len(cmd.Args)-1]
	_ = os.WriteFile(out, []byte("data"), 0o644)
}

type countingCloser struct {
	n atomic.Int32
}

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return nil
}

type recordingObserver struct {
	mu        sync.Mutex
	started   []string
	progress  []ffmpeg.Progress
	exited    []string
	throttled []bool
}

func (r *recordingObserver) JobThrottled(_ *TranscodingJob, paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttled = append(r.throttled, paused)
}

func (r *recordingObserver) throttleChanges() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.throttled...)
}

func (r *recordingObserver) JobStarted(tj *TranscodingJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, tj.ID)
}

func (r *recordingObserver) JobProgress(_ *TranscodingJob, p ffmpeg.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recordingObserver) JobExited(tj *TranscodingJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited = append(r.exited, tj.ID)
}

func (r *recordingObserver) snapshot() (started, exited int, progress []ffmpeg.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), len(r.exited), append([]ffmpeg.Progress(nil), r.progress...)
}

// videoFileJob is a two hour local video being transcoded to h264.
func videoFileJob(dir string) *encoding.Job {
	src := &media.Source{
		ID:           "src-1",
		Path:         "/media/movie.mkv",
		Protocol:     media.ProtocolFile,
		VideoType:    media.VideoFile,
		RunTimeTicks: media.Ptr(media.DurationToTicks(2 * time.Hour)),
	}
	return &encoding.Job{
		Request: &encoding.Request{
			ItemID:        "item-1",
			DeviceID:      "dev-1",
			PlaySessionID: "ps-1",
		},
		Type:             encoding.JobProgressive,
		Source:           src,
		MediaPath:        src.Path,
		InputProtocol:    media.ProtocolFile,
		VideoType:        media.VideoFile,
		RunTimeTicks:     src.RunTimeTicks,
		IsInputVideo:     true,
		OutputVideoCodec: "h264",
		OutputAudioCodec: "aac",
		OutputContainer:  "ts",
		OutputFilePath:   filepath.Join(dir, "out", "stream.ts"),
	}
}

// registeredJob builds a job around a fake process whose Done channel
// closes when the process exits, without an orchestrator.
func registeredJob(id string, key Key, path string) (*TranscodingJob, *fakeProcess) {
	job := videoFileJob(os.TempDir())
	job.Request.DeviceID = key.DeviceID
	job.Request.PlaySessionID = key.PlaySessionID
	job.Request.MediaSourceID = key.MediaSourceID
	job.OutputFilePath = path

	tj := newTranscodingJob(id, job)
	tj.Key = key
	p := newFakeProcess()
	tj.proc = p
	go func() {
		<-p.done
		tj.markExited(p.ExitCode(), nil, false)
		close(tj.done)
	}()
	return tj, p
}

func newTestOrchestrator(t interface{ TempDir() string }, spawner Spawner) *Orchestrator {
	return NewOrchestrator(nil, fakePlanner{}, NewRegistry()).
		WithSpawner(spawner).
		WithLogDir(filepath.Join(t.TempDir(), "logs")).
		WithPollInterval(5*time.Millisecond).
		WithSettleDelays(0, 0)
}

func progressAt(pos time.Duration) ffmpeg.Progress {
	return ffmpeg.Progress{Position: &pos}
}

// meteredProcess is a fake process that reports resource usage.
type meteredProcess struct {
	*fakeProcess
	rss uint64
}

func (p *meteredProcess) Stats(context.Context) (*ffmpeg.ProcessStats, error) {
	now := time.Now()
	return &ffmpeg.ProcessStats{PID: p.pid, MemoryRSSBytes: p.rss, LastUpdated: now}, nil
}

type meteredSpawner struct {
	*fakeSpawner
}

func (s meteredSpawner) Spawn(ctx context.Context, cmd *ffmpeg.Command) (Process, error) {
	p, err := s.fakeSpawner.Spawn(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &meteredProcess{fakeProcess: p.(*fakeProcess), rss: 64 << 20}, nil
}
