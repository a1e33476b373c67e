// Package health reports service health: host and process statistics for
// the HTTP health endpoint and a gRPC health service for probes.
package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const bytesPerMB = 1024 * 1024

// CPUInfo is host load relative to the core count.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo is host memory plus the memory held by this process and its
// encoder children.
type MemoryInfo struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	ProcessMB   float64 `json:"process_mb"`
	EncodersMB  float64 `json:"encoders_mb"`
	Encoders    int     `json:"encoders"`
}

// SystemStats is a point-in-time view of the host.
type SystemStats struct {
	CPU    CPUInfo    `json:"cpu"`
	Memory MemoryInfo `json:"memory"`
}

// CollectSystemStats gathers host statistics. Values the platform cannot
// report are left zero.
func CollectSystemStats(ctx context.Context) SystemStats {
	return SystemStats{
		CPU:    cpuInfo(ctx),
		Memory: memoryInfo(ctx),
	}
}

func cpuInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	avg, err := load.AvgWithContext(ctx)
	if err != nil || avg == nil {
		return info
	}
	info.Load1Min = avg.Load1
	info.Load5Min = avg.Load5
	info.Load15Min = avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
	}
	return info
}

func memoryInfo(ctx context.Context) MemoryInfo {
	var info MemoryInfo
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		info.TotalMB = float64(vm.Total) / bytesPerMB
		info.UsedMB = float64(vm.Used) / bytesPerMB
		info.AvailableMB = float64(vm.Available) / bytesPerMB
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}
	if m, err := proc.MemoryInfoWithContext(ctx); err == nil && m != nil {
		info.ProcessMB = float64(m.RSS) / bytesPerMB
	}
	// Encoders are spawned as direct children.
	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		return info
	}
	info.Encoders = len(children)
	for _, child := range children {
		if m, err := child.MemoryInfoWithContext(ctx); err == nil && m != nil {
			info.EncodersMB += float64(m.RSS) / bytesPerMB
		}
	}
	return info
}

// Uptime formats how long ago start was, rounded to the second.
func Uptime(start time.Time) time.Duration {
	return time.Since(start).Round(time.Second)
}
