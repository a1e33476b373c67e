package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/observability"
)

// Orchestrator defaults.
const (
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultSettleDelay        = 1000 * time.Millisecond
	DefaultNativeSettleDelay  = 1500 * time.Millisecond
	DefaultStatsInterval      = 5 * time.Second
	defaultShutdownKillWindow = 5 * time.Second
)

// CommandPlanner renders the encoder command for a job.
type CommandPlanner interface {
	Command(job *encoding.Job, outputPath string) (*ffmpeg.Command, error)
}

// Spawner starts encoder processes.
type Spawner interface {
	Spawn(ctx context.Context, cmd *ffmpeg.Command) (Process, error)
}

// ProcessSpawner runs commands as real child processes.
type ProcessSpawner struct{}

// Spawn starts cmd. The process is killed when ctx is cancelled.
func (ProcessSpawner) Spawn(ctx context.Context, cmd *ffmpeg.Command) (Process, error) {
	return cmd.Start(ctx)
}

// Observer is told about job lifecycle events. Calls are made from the
// goroutine that produced the event and must not block.
type Observer interface {
	JobStarted(tj *TranscodingJob)
	JobProgress(tj *TranscodingJob, p ffmpeg.Progress)
	JobExited(tj *TranscodingJob)
}

// ThrottleObserver is an optional Observer extension told when a job's
// encoder is paused or resumed.
type ThrottleObserver interface {
	JobThrottled(tj *TranscodingJob, paused bool)
}

// ThrottleSettings controls when and how jobs are throttled.
type ThrottleSettings struct {
	Enabled    bool
	Threshold  time.Duration
	Interval   time.Duration
	MinRuntime time.Duration
}

// Orchestrator starts encoder processes for decided jobs and supervises
// them until they exit.
type Orchestrator struct {
	builder  *encoding.Builder
	planner  CommandPlanner
	registry *Registry
	spawner  Spawner
	iso      encoding.IsoManager
	locks    *KeyedMutex
	logger   *slog.Logger

	logDir            string
	pollInterval      time.Duration
	probeOutput       bool
	settleDelay       time.Duration
	nativeSettleDelay time.Duration
	throttle          ThrottleSettings
	statsInterval     time.Duration

	obsMu     sync.RWMutex
	observers []Observer

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. The builder re-decides jobs whose
// live stream is opened during startup.
func NewOrchestrator(builder *encoding.Builder, planner CommandPlanner, registry *Registry) *Orchestrator {
	return &Orchestrator{
		builder:           builder,
		planner:           planner,
		registry:          registry,
		spawner:           ProcessSpawner{},
		iso:               encoding.NopIsoManager{},
		locks:             NewKeyedMutex(),
		logger:            slog.Default(),
		pollInterval:      DefaultPollInterval,
		settleDelay:       DefaultSettleDelay,
		nativeSettleDelay: DefaultNativeSettleDelay,
		statsInterval:     DefaultStatsInterval,
		throttle: ThrottleSettings{
			Threshold:  DefaultThrottleThreshold,
			Interval:   DefaultThrottleInterval,
			MinRuntime: DefaultThrottleMinimum,
		},
	}
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	if l != nil {
		o.logger = l
	}
	return o
}

// WithSpawner replaces how processes are started.
func (o *Orchestrator) WithSpawner(s Spawner) *Orchestrator {
	o.spawner = s
	return o
}

// WithIsoManager sets the disc image mounter.
func (o *Orchestrator) WithIsoManager(m encoding.IsoManager) *Orchestrator {
	if m != nil {
		o.iso = m
	}
	return o
}

// WithLogDir sets where per-job encoder logs are written. Empty disables
// job logs.
func (o *Orchestrator) WithLogDir(dir string) *Orchestrator {
	o.logDir = dir
	return o
}

// WithPollInterval sets how often first output is polled for.
func (o *Orchestrator) WithPollInterval(d time.Duration) *Orchestrator {
	if d > 0 {
		o.pollInterval = d
	}
	return o
}

// WithStatsInterval sets how often encoder resource usage is sampled. Zero
// disables sampling.
func (o *Orchestrator) WithStatsInterval(d time.Duration) *Orchestrator {
	o.statsInterval = d
	return o
}

// WithOutputProbe makes readiness require parseable output rather than an
// existing file.
func (o *Orchestrator) WithOutputProbe(enabled bool) *Orchestrator {
	o.probeOutput = enabled
	return o
}

// WithSettleDelays sets the extra waits applied to progressive video jobs,
// the second only when reading at native framerate.
func (o *Orchestrator) WithSettleDelays(settle, native time.Duration) *Orchestrator {
	o.settleDelay = settle
	o.nativeSettleDelay = native
	return o
}

// WithThrottle sets throttling behaviour. Zero durations keep defaults.
func (o *Orchestrator) WithThrottle(s ThrottleSettings) *Orchestrator {
	o.throttle.Enabled = s.Enabled
	if s.Threshold > 0 {
		o.throttle.Threshold = s.Threshold
	}
	if s.Interval > 0 {
		o.throttle.Interval = s.Interval
	}
	if s.MinRuntime > 0 {
		o.throttle.MinRuntime = s.MinRuntime
	}
	return o
}

// AddObserver registers a lifecycle observer.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, obs)
}

func (o *Orchestrator) notify(fn func(Observer)) {
	o.obsMu.RLock()
	observers := o.observers
	o.obsMu.RUnlock()
	for _, obs := range observers {
		fn(obs)
	}
}

// Registry returns the job registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Start acquires the job's resources, spawns the encoder and returns once
// first output is available. A job already writing the same output is
// returned instead of starting a duplicate. Cancelling ctx while Start
// waits kills the encoder. Once Start returns, the job runs until the
// encoder exits or the job is killed.
func (o *Orchestrator) Start(ctx context.Context, job *encoding.Job, requestURL string) (*TranscodingJob, error) {
	if job == nil || job.Request == nil || job.OutputFilePath == "" {
		return nil, errors.New("starting transcode: job has no output path")
	}

	// The output path stays locked until the job is registered, so
	// concurrent starts for the same output share one encoder.
	release, err := o.lockOutput(ctx, job.OutputFilePath)
	if err != nil {
		_ = job.Dispose()
		return nil, err
	}
	defer func() { release() }()

	if existing := o.reuse(ctx, job); existing != nil {
		return existing, nil
	}

	tj := newTranscodingJob(uuid.NewString(), job)
	logger := observability.WithJob(o.logger, tj.ID)

	tj.setState(StateResourcesAcquiring)
	requestedPath := job.OutputFilePath
	if err := o.acquireResources(ctx, job); err != nil {
		_ = job.Dispose()
		return nil, fmt.Errorf("%w: %w", encoding.ErrResourceAcquisition, err)
	}
	if job.OutputFilePath != requestedPath {
		// A reattached live stream changes the output path.
		unlock, err := o.lockOutput(ctx, job.OutputFilePath)
		if err != nil {
			_ = job.Dispose()
			return nil, err
		}
		prev := release
		release = func() { unlock(); prev() }
		if existing := o.reuse(ctx, job); existing != nil {
			return existing, nil
		}
	}
	tj.Path = job.OutputFilePath
	tj.Key = KeyFor(job)

	tj.setState(StateStarting)
	cmd, err := o.prepare(tj, requestURL)
	if err != nil {
		_ = job.Dispose()
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tj.cancel = cancel

	proc, err := o.spawner.Spawn(jobCtx, cmd)
	if err != nil {
		cancel()
		_ = job.Dispose()
		observability.WithError(logger, err).ErrorContext(ctx, "encoder failed to start")
		return nil, fmt.Errorf("%w: %w", encoding.ErrProcessStart, err)
	}
	tj.proc = proc

	if err := o.registry.Register(tj); err != nil {
		_ = proc.Kill()
		cancel()
		_ = job.Dispose()
		return nil, err
	}
	release()
	logger.InfoContext(ctx, "encoder started",
		slog.Int("pid", proc.PID()),
		slog.String("path", tj.Path),
		slog.String("command", tj.CommandLine))
	o.notify(func(obs Observer) { obs.JobStarted(tj) })

	o.wg.Add(1)
	go o.supervise(jobCtx, tj, logger)

	tj.setState(StateAwaitingFirstOutput)
	if err := o.awaitFirstOutput(ctx, tj); err != nil {
		_ = tj.Kill()
		return nil, err
	}

	tj.setState(StateRunning)
	o.armThrottler(jobCtx, tj, logger)
	o.startMonitor(jobCtx, tj)
	return tj, nil
}

func (o *Orchestrator) lockOutput(ctx context.Context, path string) (func(), error) {
	unlock, err := o.locks.Lock(ctx, "out:"+path)
	if err != nil {
		return nil, fmt.Errorf("waiting for output %s: %w", path, err)
	}
	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

// reuse returns the running job already writing job's output, disposing
// job, or nil when there is none.
func (o *Orchestrator) reuse(ctx context.Context, job *encoding.Job) *TranscodingJob {
	existing, ok := o.registry.GetByPath(job.OutputFilePath)
	if !ok {
		return nil
	}
	existing.Ping()
	_ = job.Dispose()
	o.logger.DebugContext(ctx, "reusing running transcode",
		slog.String("job_id", existing.ID),
		slog.String("path", existing.Path))
	return existing
}

// prepare creates the output directory, renders the command and opens the
// job log, wiring encoder output into progress parsing.
func (o *Orchestrator) prepare(tj *TranscodingJob, requestURL string) (*ffmpeg.Command, error) {
	job := tj.Job
	if err := os.MkdirAll(filepath.Dir(tj.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	cmd, err := o.planner.Command(job, tj.Path)
	if err != nil {
		return nil, fmt.Errorf("building encoder command: %w", err)
	}
	if job.Type.IsSegmented() {
		cmd.Dir = filepath.Dir(tj.Path)
	}
	tj.CommandLine = cmd.String()

	if o.logDir != "" {
		logFile, logPath, err := openJobLog(o.logDir, tj.ID, requestURL, job, tj.CommandLine)
		if err != nil {
			return nil, err
		}
		job.AddCloser(logFile)
		tj.LogPath = logPath
		cmd.Stderr = logFile
	}

	var runtime int64
	if job.RunTimeTicks != nil {
		runtime = *job.RunTimeTicks
	}
	start := job.StartTicks()
	cmd.OnStderrLine = func(line string) {
		p, ok := ffmpeg.ParseProgressLine(line, runtime, start)
		if !ok {
			return
		}
		stored := tj.applyProgress(p, start)
		o.notify(func(obs Observer) { obs.JobProgress(tj, stored) })
	}
	return cmd, nil
}

// openJobLog creates the per-job log and writes its header: the request,
// the media source and the command line.
func openJobLog(dir, id, requestURL string, job *encoding.Job, commandLine string) (io.WriteCloser, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(dir, "transcode-"+id+".txt")
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("creating job log: %w", err)
	}

	source, _ := json.Marshal(job.Source)
	header := requestURL + "\n\n" + string(source) + "\n\n" + commandLine + "\n\n"
	if _, err := io.WriteString(f, header); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("writing job log header: %w", err)
	}
	return f, path, nil
}

// awaitFirstOutput polls until the output exists or the encoder exited,
// then lets progressive video settle.
func (o *Orchestrator) awaitFirstOutput(ctx context.Context, tj *TranscodingJob) error {
	job := tj.Job
	waitPath := job.WaitForPath
	if waitPath == "" {
		waitPath = tj.Path
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for !o.outputReady(ctx, waitPath) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tj.proc.Done():
			return nil
		case <-ticker.C:
		}
	}

	if job.IsInputVideo && job.Type == encoding.JobProgressive {
		if err := sleepContext(ctx, o.settleDelay); err != nil {
			return err
		}
		if job.ReadInputAtNativeFramerate {
			if err := sleepContext(ctx, o.nativeSettleDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) outputReady(ctx context.Context, path string) bool {
	if !o.probeOutput {
		_, err := os.Stat(path)
		return err == nil
	}
	ok, err := ffmpeg.OutputReady(ctx, path)
	if err != nil {
		o.logger.DebugContext(ctx, "probing output", slog.String("path", path), slog.Any("error", err))
	}
	return ok
}

func (o *Orchestrator) armThrottler(ctx context.Context, tj *TranscodingJob, logger *slog.Logger) {
	if !o.throttle.Enabled || !shouldThrottle(tj.Job, o.throttle.MinRuntime) {
		return
	}
	th := NewThrottler(tj, tj.proc).
		WithThreshold(o.throttle.Threshold).
		WithInterval(o.throttle.Interval).
		WithLogger(logger).
		WithOnChange(func(paused bool) {
			o.notify(func(obs Observer) {
				if t, ok := obs.(ThrottleObserver); ok {
					t.JobThrottled(tj, paused)
				}
			})
		})

	tj.mu.Lock()
	tj.throttler = th
	tj.mu.Unlock()

	th.Start(ctx)
	logger.DebugContext(ctx, "throttling armed", slog.Duration("threshold", o.throttle.Threshold))
}

// startMonitor samples the encoder's resource usage for processes that can
// report it.
func (o *Orchestrator) startMonitor(ctx context.Context, tj *TranscodingJob) {
	src, ok := tj.proc.(ffmpeg.StatsSource)
	if !ok || o.statsInterval <= 0 {
		return
	}
	mon := ffmpeg.NewProcessMonitor(src).WithInterval(o.statsInterval)

	tj.mu.Lock()
	if tj.state == StateExited {
		tj.mu.Unlock()
		return
	}
	tj.monitor = mon
	tj.mu.Unlock()

	mon.Start(ctx)
}

// supervise waits for the encoder to exit and tears the job down.
func (o *Orchestrator) supervise(ctx context.Context, tj *TranscodingJob, logger *slog.Logger) {
	defer o.wg.Done()

	<-tj.proc.Done()
	code := tj.proc.ExitCode()

	cancelled := ctx.Err() != nil
	var runErr error
	if code != 0 && !cancelled {
		runErr = fmt.Errorf("%w: exit code %d", encoding.ErrRuntimeProcessFailure, code)
	}

	tj.mu.RLock()
	th := tj.throttler
	mon := tj.monitor
	tj.mu.RUnlock()
	if th != nil {
		th.Stop()
	}
	if mon != nil {
		mon.Stop()
	}

	tj.markExited(code, runErr, cancelled)
	if err := tj.Job.Dispose(); err != nil {
		logger.Warn("releasing job resources", slog.Any("error", err))
	}
	o.registry.Deregister(tj)
	tj.cancel()
	close(tj.done)

	if runErr != nil {
		observability.WithError(logger, runErr).Error("encoder failed", slog.Int("exit_code", code))
	} else {
		logger.Info("encoder exited", slog.Int("exit_code", code))
	}
	o.notify(func(obs Observer) { obs.JobExited(tj) })
}

// Shutdown kills every running job and waits for their supervisors.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, tj := range o.registry.List() {
		_ = tj.Kill()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownKillWindow)
		defer cancel()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for encoders to exit: %w", ctx.Err())
	}
}
