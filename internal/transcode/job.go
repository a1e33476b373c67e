// Package transcode supervises encoder processes: acquiring their inputs,
// spawning them, waiting for first output, pacing them against client
// consumption and tracking every active job.
package transcode

import (
	"context"
	"sync"
	"time"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/media"
)

// State is a phase of a job's lifecycle.
type State string

// Job states in the order a job passes through them.
const (
	StateCreated             State = "created"
	StateResourcesAcquiring  State = "resources_acquiring"
	StateStarting            State = "starting"
	StateAwaitingFirstOutput State = "awaiting_first_output"
	StateRunning             State = "running"
	StateThrottling          State = "throttling"
	StateExited              State = "exited"
)

// Process is the running encoder as seen by the orchestrator.
type Process interface {
	PID() int
	Done() <-chan struct{}
	ExitCode() int
	Kill() error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Key identifies the playback session a job serves.
type Key struct {
	DeviceID      string `json:"deviceId"`
	PlaySessionID string `json:"playSessionId"`
	MediaSourceID string `json:"mediaSourceId"`
}

// KeyFor derives the registry key of an encoding job.
func KeyFor(job *encoding.Job) Key {
	k := Key{
		DeviceID:      job.Request.DeviceID,
		PlaySessionID: job.Request.PlaySessionID,
		MediaSourceID: job.Request.MediaSourceID,
	}
	if k.MediaSourceID == "" && job.Source != nil {
		k.MediaSourceID = job.Source.ID
	}
	return k
}

// TranscodingJob is one supervised encoder process.
type TranscodingJob struct {
	ID          string
	Key         Key
	Type        encoding.JobType
	Path        string
	LogPath     string
	CommandLine string
	Job         *encoding.Job
	StartedAt   time.Time

	proc   Process
	cancel context.CancelFunc
	done   chan struct{}

	mu                    sync.RWMutex
	state                 State
	exitCode              int
	exitErr               error
	cancelled             bool
	framerate             *float64
	percent               *float64
	positionTicks         *int64
	bytesTranscoded       *int64
	bytesDownloaded       *int64
	downloadPositionTicks *int64
	lastActivity          time.Time
	throttler             *Throttler
	monitor               *ffmpeg.ProcessMonitor
}

func newTranscodingJob(id string, job *encoding.Job) *TranscodingJob {
	now := time.Now()
	return &TranscodingJob{
		ID:           id,
		Key:          KeyFor(job),
		Type:         job.Type,
		Path:         job.OutputFilePath,
		Job:          job,
		StartedAt:    now,
		done:         make(chan struct{}),
		state:        StateCreated,
		exitCode:     -1,
		lastActivity: now,
	}
}

// State returns the current lifecycle phase.
func (t *TranscodingJob) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *TranscodingJob) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateExited {
		t.state = s
	}
}

// HasExited reports whether the encoder process has exited.
func (t *TranscodingJob) HasExited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the job has exited and its resources are released.
func (t *TranscodingJob) Done() <-chan struct{} {
	return t.done
}

// ExitCode returns the encoder exit code, -1 while running.
func (t *TranscodingJob) ExitCode() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exitCode
}

// Err returns the runtime failure recorded at exit, if any.
func (t *TranscodingJob) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exitErr
}

// Cancelled reports whether the job was killed rather than exiting on its own.
func (t *TranscodingJob) Cancelled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cancelled
}

// PID returns the encoder process id, 0 before the process is spawned.
func (t *TranscodingJob) PID() int {
	if t.proc == nil {
		return 0
	}
	return t.proc.PID()
}

// Kill cancels the job, terminating the encoder. Safe to call from any
// goroutine and more than once.
func (t *TranscodingJob) Kill() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.proc == nil {
		return nil
	}
	return t.proc.Kill()
}

// Ping records client activity.
func (t *TranscodingJob) Ping() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity = time.Now()
}

// LastActivity returns the time of the most recent client activity.
func (t *TranscodingJob) LastActivity() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastActivity
}

// applyProgress stores a progress report. Percent and position never move
// backwards; the stored values are returned.
func (t *TranscodingJob) applyProgress(p ffmpeg.Progress, startTicks int64) ffmpeg.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.Framerate != nil {
		t.framerate = p.Framerate
	}
	if p.BytesTranscoded != nil {
		t.bytesTranscoded = p.BytesTranscoded
	}
	if pos := p.PositionTicks(startTicks); pos != nil {
		if t.positionTicks == nil || *pos >= *t.positionTicks {
			t.positionTicks = pos
		}
	}
	if p.Percent != nil {
		pct := min(*p.Percent, 100)
		if t.percent == nil || pct >= *t.percent {
			t.percent = &pct
		}
	}

	out := ffmpeg.Progress{
		Framerate:       t.framerate,
		Percent:         t.percent,
		BytesTranscoded: t.bytesTranscoded,
	}
	if t.positionTicks != nil {
		d := media.TicksToDuration(*t.positionTicks - startTicks)
		out.Position = &d
	}
	return out
}

func (t *TranscodingJob) applyConsumption(bytesDownloaded, downloadPositionTicks *int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bytesDownloaded != nil {
		t.bytesDownloaded = bytesDownloaded
	}
	if downloadPositionTicks != nil {
		t.downloadPositionTicks = downloadPositionTicks
	}
	t.lastActivity = time.Now()
}

// consumption is what the throttler compares.
type consumption struct {
	positionTicks         *int64
	bytesTranscoded       *int64
	bytesDownloaded       *int64
	downloadPositionTicks *int64
}

func (t *TranscodingJob) consumption() consumption {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return consumption{
		positionTicks:         t.positionTicks,
		bytesTranscoded:       t.bytesTranscoded,
		bytesDownloaded:       t.bytesDownloaded,
		downloadPositionTicks: t.downloadPositionTicks,
	}
}

func (t *TranscodingJob) markExited(code int, err error, cancelled bool) {
	t.mu.Lock()
	t.state = StateExited
	t.exitCode = code
	t.exitErr = err
	t.cancelled = cancelled
	t.mu.Unlock()
}

// Info is a point-in-time view of a job.
type Info struct {
	ID                    string               `json:"id"`
	Key                   Key                  `json:"key"`
	Type                  encoding.JobType     `json:"type"`
	State                 State                `json:"state"`
	Path                  string               `json:"path"`
	LogPath               string               `json:"logPath,omitempty"`
	CommandLine           string               `json:"commandLine,omitempty"`
	PID                   int                  `json:"pid,omitempty"`
	StartedAt             time.Time            `json:"startedAt"`
	LastActivity          time.Time            `json:"lastActivity"`
	HasExited             bool                 `json:"hasExited"`
	ExitCode              int                  `json:"exitCode"`
	Cancelled             bool                 `json:"cancelled"`
	Error                 string               `json:"error,omitempty"`
	Framerate             *float64             `json:"framerate,omitempty"`
	Percent               *float64             `json:"percent,omitempty"`
	PositionTicks         *int64               `json:"positionTicks,omitempty"`
	BytesTranscoded       *int64               `json:"bytesTranscoded,omitempty"`
	BytesDownloaded       *int64               `json:"bytesDownloaded,omitempty"`
	DownloadPositionTicks *int64               `json:"downloadPositionTicks,omitempty"`
	Throttled             bool                 `json:"throttled"`
	Resources             *ffmpeg.ProcessStats `json:"resources,omitempty"`
	VideoCopy             bool                 `json:"videoCopy"`
	AudioCopy             bool                 `json:"audioCopy"`
}

// Info returns a snapshot of the job.
func (t *TranscodingJob) Info() Info {
	t.mu.RLock()
	info := Info{
		ID:                    t.ID,
		Key:                   t.Key,
		Type:                  t.Type,
		State:                 t.state,
		Path:                  t.Path,
		LogPath:               t.LogPath,
		CommandLine:           t.CommandLine,
		StartedAt:             t.StartedAt,
		LastActivity:          t.lastActivity,
		ExitCode:              t.exitCode,
		Cancelled:             t.cancelled,
		Framerate:             t.framerate,
		Percent:               t.percent,
		PositionTicks:         t.positionTicks,
		BytesTranscoded:       t.bytesTranscoded,
		BytesDownloaded:       t.bytesDownloaded,
		DownloadPositionTicks: t.downloadPositionTicks,
	}
	if t.exitErr != nil {
		info.Error = t.exitErr.Error()
	}
	throttler := t.throttler
	monitor := t.monitor
	t.mu.RUnlock()

	if monitor != nil {
		info.Resources = monitor.Stats()
	}
	info.PID = t.PID()
	info.HasExited = t.HasExited()
	info.Throttled = throttler != nil && throttler.Paused()
	if t.Job != nil {
		info.VideoCopy = t.Job.HasVideoRequest() && t.Job.IsVideoCopy()
		info.AudioCopy = t.Job.IsAudioCopy()
	}
	return info
}
