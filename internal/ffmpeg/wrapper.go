package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// stderrHistory is the number of recent stderr lines kept in memory.
const stderrHistory = 100

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	inputs     []string
	filterArgs []string
	mapArgs    []string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary: ffmpegPath,
	}
}

// LogLevel sets the FFmpeg log level. An empty level leaves FFmpeg's default,
// which still prints the progress lines the monitor parses.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// InputArgs adds arguments placed before the first input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input adds an input. Inputs are numbered in the order they are added.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.inputs = append(b.inputs, input)
	return b
}

// MapArgs adds stream selection arguments.
func (b *CommandBuilder) MapArgs(args ...string) *CommandBuilder {
	b.mapArgs = append(b.mapArgs, args...)
	return b
}

// VideoFilter adds a filter to the -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// OutputArgs adds output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Args renders the argument list without the binary.
func (b *CommandBuilder) Args() []string {
	var args []string

	if b.logLevel != "" {
		args = append(args, "-loglevel", b.logLevel)
	}
	args = append(args, b.globalArgs...)

	args = append(args, b.inputArgs...)
	for _, in := range b.inputs {
		args = append(args, "-i", in)
	}

	args = append(args, b.mapArgs...)

	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}

	args = append(args, b.outputArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.output)
	return args
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	return &Command{
		Binary: b.binary,
		Args:   b.Args(),
	}
}

// Command represents an FFmpeg command to execute.
type Command struct {
	Binary string
	Args   []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Stdout receives the process standard output. Nil discards it.
	Stdout io.Writer
	// Stderr receives every stderr line, newline terminated.
	Stderr io.Writer
	// OnStderrLine is called for every stderr line, including the carriage
	// return separated progress lines.
	OnStderrLine func(line string)
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start spawns the process. Stdout and stderr are drained by independent
// goroutines so a full pipe on one never blocks the other. The process is
// killed when ctx is cancelled.
func (c *Command) Start(ctx context.Context) (*Process, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Dir = c.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.Binary, err)
	}

	p := &Process{
		cmd:         cmd,
		started:     time.Now(),
		done:        make(chan struct{}),
		exitCode:    -1,
		stderrLines: make([]string, 0, stderrHistory),
	}

	var drains sync.WaitGroup
	drains.Add(2)
	go func() {
		defer drains.Done()
		out := c.Stdout
		if out == nil {
			out = io.Discard
		}
		_, _ = io.Copy(out, stdout)
	}()
	go func() {
		defer drains.Done()
		p.captureStderr(stderr, c.Stderr, c.OnStderrLine)
	}()

	go func() {
		drains.Wait()
		err := cmd.Wait()

		p.mu.Lock()
		p.waitErr = err
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

// Process is a running FFmpeg process.
type Process struct {
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}

	mu       sync.RWMutex
	exitCode int
	waitErr  error
	handle   *process.Process

	stderrMu    sync.RWMutex
	stderrLines []string
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.waitErr
}

// ExitCode returns the exit code, or -1 while running or when killed by a
// signal.
func (p *Process) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode
}

// IsRunning reports whether the process has not exited yet.
func (p *Process) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Duration returns how long the process has been running.
func (p *Process) Duration() time.Duration {
	return time.Since(p.started)
}

// StartedAt returns when the process was spawned.
func (p *Process) StartedAt() time.Time {
	return p.started
}

// Kill terminates the FFmpeg process. Killing an exited process is a no-op.
func (p *Process) Kill() error {
	if !p.IsRunning() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing process %d: %w", p.PID(), err)
	}
	return nil
}

// Suspend stops the process (SIGSTOP) without terminating it.
func (p *Process) Suspend(ctx context.Context) error {
	h, err := p.processHandle(ctx)
	if err != nil {
		return err
	}
	if err := h.SuspendWithContext(ctx); err != nil {
		return fmt.Errorf("suspending process %d: %w", p.PID(), err)
	}
	return nil
}

// Resume continues a suspended process (SIGCONT).
func (p *Process) Resume(ctx context.Context) error {
	h, err := p.processHandle(ctx)
	if err != nil {
		return err
	}
	if err := h.ResumeWithContext(ctx); err != nil {
		return fmt.Errorf("resuming process %d: %w", p.PID(), err)
	}
	return nil
}

func (p *Process) processHandle(ctx context.Context) (*process.Process, error) {
	if !p.IsRunning() {
		return nil, fmt.Errorf("process %d: %w", p.PID(), os.ErrProcessDone)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle != nil {
		return p.handle, nil
	}
	h, err := process.NewProcessWithContext(ctx, int32(p.cmd.Process.Pid))
	if err != nil {
		return nil, fmt.Errorf("looking up process %d: %w", p.cmd.Process.Pid, err)
	}
	p.handle = h
	return h, nil
}

// Stats samples resource usage of the running process.
func (p *Process) Stats(ctx context.Context) (*ProcessStats, error) {
	h, err := p.processHandle(ctx)
	if err != nil {
		return nil, err
	}
	return sampleProcess(ctx, h, p.started)
}

// captureStderr reads FFmpeg stderr, keeps recent lines for diagnostics and
// forwards each line to the sink and callback.
func (p *Process) captureStderr(stderr io.Reader, sink io.Writer, onLine func(string)) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		p.stderrMu.Lock()
		if len(p.stderrLines) >= stderrHistory {
			p.stderrLines = p.stderrLines[1:]
		}
		p.stderrLines = append(p.stderrLines, line)
		p.stderrMu.Unlock()

		if sink != nil {
			_, _ = io.WriteString(sink, line+"\n")
		}
		if onLine != nil {
			onLine(line)
		}
	}
}

// GetStderrLines returns the recent stderr lines captured from FFmpeg.
func (p *Process) GetStderrLines() []string {
	p.stderrMu.RLock()
	defer p.stderrMu.RUnlock()

	lines := make([]string, len(p.stderrLines))
	copy(lines, p.stderrLines)
	return lines
}

// scanLinesOrCR splits on \n or \r. FFmpeg rewrites its progress line in
// place using carriage returns.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
