package ffmpeg

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a point-in-time resource sample of a running process.
type ProcessStats struct {
	PID            int       `json:"pid"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryRSSBytes uint64    `json:"memory_rss_bytes"`
	MemoryVMSBytes uint64    `json:"memory_vms_bytes"`
	SampledAt      time.Time `json:"sampled_at"`
}

// SampleProcess reads CPU and memory usage for pid.
func SampleProcess(ctx context.Context, pid int) (*ProcessStats, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("opening process %d: %w", pid, err)
	}

	stats := &ProcessStats{PID: pid, SampledAt: time.Now()}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory of process %d: %w", pid, err)
	}
	stats.MemoryRSSBytes = mem.RSS
	stats.MemoryVMSBytes = mem.VMS
	return stats, nil
}

// Stats samples the command's process. It returns nil when the command is
// not running or the sample fails.
func (c *Command) Stats(ctx context.Context) *ProcessStats {
	pid := c.PID()
	if pid == 0 {
		return nil
	}
	stats, err := SampleProcess(ctx, pid)
	if err != nil {
		return nil
	}
	return stats
}
