// Package transcodetest provides in-memory encoder processes for tests that
// drive a transcode.Orchestrator without running ffmpeg.
package transcodetest

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
	"github.com/jmylchreest/encodr/internal/transcode"
)

var nextPID atomic.Int32

// Process is a fake encoder that runs until Exit or Kill.
type Process struct {
	pid  int
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	code int
}

// NewProcess returns a running fake process.
func NewProcess() *Process {
	return &Process{
		pid:  int(nextPID.Add(1)) + 5000,
		done: make(chan struct{}),
		code: -1,
	}
}

// Exit ends the process with code. Later calls are ignored.
func (p *Process) Exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *Process) PID() int              { return p.pid }
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *Process) Kill() error {
	p.Exit(-1)
	return nil
}

func (p *Process) Suspend(context.Context) error { return nil }
func (p *Process) Resume(context.Context) error  { return nil }

// Spawner starts fake processes and writes the job output so readiness
// checks pass immediately.
type Spawner struct {
	mu    sync.Mutex
	procs []*Process
	cmds  []*ffmpeg.Command
}

var _ transcode.Spawner = (*Spawner)(nil)

func (s *Spawner) Spawn(ctx context.Context, cmd *ffmpeg.Command) (transcode.Process, error) {
	out := cmd.Args[len(cmd.Args)-1]
	if err := os.WriteFile(out, []byte("data"), 0o644); err != nil {
		return nil, err
	}
	p := NewProcess()
	go func() {
		select {
		case <-ctx.Done():
			p.Exit(-1)
		case <-p.done:
		}
	}()

	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()
	return p, nil
}

// Last returns the most recently spawned command and process.
func (s *Spawner) Last() (*ffmpeg.Command, *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil, nil
	}
	return s.cmds[len(s.cmds)-1], s.procs[len(s.procs)-1]
}

// Planner renders `ffmpeg -i <input> <output>`.
type Planner struct{}

func (Planner) Command(job *encoding.Job, out string) (*ffmpeg.Command, error) {
	return &ffmpeg.Command{Binary: "ffmpeg", Args: []string{"-i", job.InputPath(), out}}, nil
}

// NewOrchestrator returns an orchestrator wired to spawner that polls fast
// and never settles.
func NewOrchestrator(dir string, spawner *Spawner) *transcode.Orchestrator {
	return transcode.NewOrchestrator(nil, Planner{}, transcode.NewRegistry()).
		WithSpawner(spawner).
		WithLogDir(filepath.Join(dir, "logs")).
		WithPollInterval(5*time.Millisecond).
		WithSettleDelays(0, 0)
}

// VideoJob is a one hour local h264/aac transcode writing below dir.
func VideoJob(dir, deviceID string) *encoding.Job {
	src := &media.Source{
		ID:           "src-1",
		Path:         "/media/movie.mkv",
		Protocol:     media.ProtocolFile,
		VideoType:    media.VideoFile,
		RunTimeTicks: media.Ptr(media.DurationToTicks(time.Hour)),
	}
	return &encoding.Job{
		Request:          &encoding.Request{ItemID: "item-1", DeviceID: deviceID, PlaySessionID: "ps-1"},
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
		OutputFilePath:   filepath.Join(dir, deviceID, "stream.ts"),
	}
}
