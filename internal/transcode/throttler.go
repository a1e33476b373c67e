package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/media"
)

// Throttler defaults.
const (
	DefaultThrottleThreshold = 180 * time.Second
	DefaultThrottleInterval  = 5 * time.Second
	DefaultThrottleMinimum   = 5 * time.Minute
)

// Throttler pauses an encoder that has run too far ahead of its client and
// resumes it once the client catches up.
type Throttler struct {
	job       *TranscodingJob
	proc      Process
	threshold time.Duration
	interval  time.Duration
	logger    *slog.Logger
	onChange  func(paused bool)

	mu      sync.Mutex
	paused  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewThrottler creates a throttler for a job's process.
func NewThrottler(job *TranscodingJob, proc Process) *Throttler {
	return &Throttler{
		job:       job,
		proc:      proc,
		threshold: DefaultThrottleThreshold,
		interval:  DefaultThrottleInterval,
		logger:    slog.Default(),
	}
}

// WithThreshold sets how far ahead, in playback time, the encoder may run.
func (t *Throttler) WithThreshold(d time.Duration) *Throttler {
	if d > 0 {
		t.threshold = d
	}
	return t
}

// WithInterval sets how often consumption is compared.
func (t *Throttler) WithInterval(d time.Duration) *Throttler {
	if d > 0 {
		t.interval = d
	}
	return t
}

// WithLogger sets the logger.
func (t *Throttler) WithLogger(l *slog.Logger) *Throttler {
	if l != nil {
		t.logger = l
	}
	return t
}

// WithOnChange registers a callback for pause and resume transitions.
func (t *Throttler) WithOnChange(fn func(paused bool)) *Throttler {
	t.onChange = fn
	return t
}

// Paused reports whether the encoder is currently suspended.
func (t *Throttler) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Start begins the control loop. Starting twice is a no-op.
func (t *Throttler) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.loop(ctx)
}

// Stop ends the control loop and resumes a paused encoder that is still
// running. Stopping twice, or before Start, is a no-op.
func (t *Throttler) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()

	if t.Paused() {
		t.resume(context.Background())
	}
}

func (t *Throttler) loop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.proc.Done():
			return
		case <-ticker.C:
			t.check(ctx)
		}
	}
}

// check compares consumption once and pauses or resumes the encoder.
func (t *Throttler) check(ctx context.Context) {
	if t.exited() {
		return
	}
	if shouldPause(t.job.consumption(), t.job.Job.StartTicks(), t.threshold) {
		t.pause(ctx)
	} else {
		t.resume(ctx)
	}
}

func (t *Throttler) exited() bool {
	select {
	case <-t.proc.Done():
		return true
	default:
		return false
	}
}

func (t *Throttler) pause(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused || t.exited() {
		return
	}
	if err := t.proc.Suspend(ctx); err != nil {
		t.logger.WarnContext(ctx, "pausing encoder",
			slog.String("job_id", t.job.ID),
			slog.Any("error", fmt.Errorf("%w: %w", encoding.ErrThrottleControl, err)))
		return
	}
	t.paused = true
	t.job.setState(StateThrottling)
	t.logger.DebugContext(ctx, "encoder paused", slog.String("job_id", t.job.ID))
	if t.onChange != nil {
		t.onChange(true)
	}
}

func (t *Throttler) resume(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused || t.exited() {
		return
	}
	if err := t.proc.Resume(ctx); err != nil {
		t.logger.WarnContext(ctx, "resuming encoder",
			slog.String("job_id", t.job.ID),
			slog.Any("error", fmt.Errorf("%w: %w", encoding.ErrThrottleControl, err)))
		return
	}
	t.paused = false
	t.job.setState(StateRunning)
	t.logger.DebugContext(ctx, "encoder resumed", slog.String("job_id", t.job.ID))
	if t.onChange != nil {
		t.onChange(false)
	}
}

// shouldPause decides whether the encoder is too far ahead. Segmented
// clients report a download position, compared in playback time. Progressive
// clients report bytes, compared against the bytes the encoder produces in
// threshold worth of playback. Unknown consumption never pauses.
func shouldPause(c consumption, startTicks int64, threshold time.Duration) bool {
	if c.positionTicks == nil {
		return false
	}

	if c.downloadPositionTicks != nil {
		gap := *c.positionTicks - *c.downloadPositionTicks
		return gap >= media.DurationToTicks(threshold)
	}

	if c.bytesDownloaded != nil && c.bytesTranscoded != nil {
		encoded := media.TicksToDuration(*c.positionTicks - startTicks).Seconds()
		if encoded <= 0 {
			return false
		}
		ahead := float64(*c.bytesTranscoded - *c.bytesDownloaded)
		allowed := float64(*c.bytesTranscoded) * threshold.Seconds() / encoded
		return ahead >= allowed
	}
	return false
}

// shouldThrottle reports whether a job qualifies for throttling: a local
// plain video file of known, long enough duration whose video is encoded
// rather than copied.
func shouldThrottle(job *encoding.Job, minRuntime time.Duration) bool {
	if job.InputProtocol != media.ProtocolFile || job.RunTimeTicks == nil {
		return false
	}
	if job.VideoType != media.VideoFile || job.IsVideoCopy() {
		return false
	}
	return *job.RunTimeTicks >= media.DurationToTicks(minRuntime) && job.IsInputVideo
}
