package ffmpeg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for an FFmpeg process.
type ProcessStats struct {
	PID int `json:"pid"`

	CPUPercent float64       `json:"cpu_percent"` // 0-100 per core since the previous sample
	CPUUser    time.Duration `json:"cpu_user"`
	CPUSystem  time.Duration `json:"cpu_system"`
	CPUTotal   time.Duration `json:"cpu_total"`

	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
	MemoryVMSBytes uint64  `json:"memory_vms_bytes"`
	MemoryPercent  float64 `json:"memory_percent"`
	NumThreads     int32   `json:"num_threads"`

	// Disk I/O as accounted by the kernel. Zero where the platform does not
	// expose per-process counters.
	IOReadBytes  uint64 `json:"io_read_bytes"`
	IOWriteBytes uint64 `json:"io_write_bytes"`

	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated"`
}

// sampleProcess reads one snapshot of process counters. Fields the platform
// cannot report are left zero.
func sampleProcess(ctx context.Context, h *process.Process, started time.Time) (*ProcessStats, error) {
	now := time.Now()
	stats := &ProcessStats{
		PID:         int(h.Pid),
		StartedAt:   started,
		Duration:    now.Sub(started),
		LastUpdated: now,
	}

	times, err := h.TimesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cpu times for %d: %w", h.Pid, err)
	}
	stats.CPUUser = secondsToDuration(times.User)
	stats.CPUSystem = secondsToDuration(times.System)
	stats.CPUTotal = stats.CPUUser + stats.CPUSystem

	if mi, err := h.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		stats.MemoryRSSBytes = mi.RSS
		stats.MemoryVMSBytes = mi.VMS
	}
	if pct, err := h.MemoryPercentWithContext(ctx); err == nil {
		stats.MemoryPercent = float64(pct)
	}
	if n, err := h.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = n
	}
	if io, err := h.IOCountersWithContext(ctx); err == nil && io != nil {
		stats.IOReadBytes = io.ReadBytes
		stats.IOWriteBytes = io.WriteBytes
	}
	return stats, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// StatsSource is a running process that can report its resource usage.
// *Process satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (*ProcessStats, error)
	Done() <-chan struct{}
}

var _ StatsSource = (*Process)(nil)

// ProcessMonitor periodically samples resource usage of an FFmpeg process.
type ProcessMonitor struct {
	proc     StatsSource
	interval time.Duration

	mu      sync.RWMutex
	stats   ProcessStats
	sampled bool
	running bool

	lastCPUTime   time.Duration
	lastCheckTime time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a new process monitor.
func NewProcessMonitor(p StatsSource) *ProcessMonitor {
	return &ProcessMonitor{
		proc:     p,
		interval: 5 * time.Second,
	}
}

// WithInterval sets the sampling interval.
func (pm *ProcessMonitor) WithInterval(d time.Duration) *ProcessMonitor {
	if d > 0 {
		pm.interval = d
	}
	return pm
}

// Start begins monitoring the process. Sampling stops on Stop, when ctx is
// cancelled or when the process exits.
func (pm *ProcessMonitor) Start(ctx context.Context) {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	ctx, pm.cancel = context.WithCancel(ctx)
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.monitorLoop(ctx)
}

// Stop stops monitoring the process.
func (pm *ProcessMonitor) Stop() {
	pm.mu.Lock()
	cancel := pm.cancel
	pm.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	pm.wg.Wait()

	pm.mu.Lock()
	pm.running = false
	pm.mu.Unlock()
}

// Stats returns the latest sample, or nil before the first one.
func (pm *ProcessMonitor) Stats() *ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if !pm.sampled {
		return nil
	}
	stats := pm.stats
	return &stats
}

func (pm *ProcessMonitor) monitorLoop(ctx context.Context) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pm.proc.Done():
			return
		case <-ticker.C:
			pm.sample(ctx)
		}
	}
}

func (pm *ProcessMonitor) sample(ctx context.Context) {
	stats, err := pm.proc.Stats(ctx)
	if err != nil {
		return // process may have exited
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	elapsed := stats.LastUpdated.Sub(pm.lastCheckTime)
	if !pm.lastCheckTime.IsZero() && elapsed > 0 {
		stats.CPUPercent = float64(stats.CPUTotal-pm.lastCPUTime) / float64(elapsed) * 100.0
	}
	pm.lastCPUTime = stats.CPUTotal
	pm.lastCheckTime = stats.LastUpdated
	pm.stats = *stats
	pm.sampled = true
}
