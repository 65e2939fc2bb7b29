// Package infra implements infrastructure concerns (permission stores, keys,
// logging, process inspection).
package infra

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/weblate/distributor/internal/domain"
)

// ProcessInspector implements domain.ProcessInspector using gopsutil.
type ProcessInspector struct {
	proc *process.Process
	now  func() time.Time
}

// NewProcessInspector inspects the current process.
func NewProcessInspector() (*ProcessInspector, error) {
	return NewProcessInspectorFor(os.Getpid())
}

// NewProcessInspectorFor inspects the process with the given PID.
func NewProcessInspectorFor(pid int) (*ProcessInspector, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	return &ProcessInspector{proc: p, now: time.Now}, nil
}

// Stats samples memory, CPU, threads and uptime. Goroutines are only
// meaningful for the current process.
func (pi *ProcessInspector) Stats() (domain.ProcessStats, error) {
	stats := domain.ProcessStats{PID: int(pi.proc.Pid)}

	mem, err := pi.proc.MemoryInfo()
	if err != nil {
		return stats, fmt.Errorf("failed to read memory info: %w", err)
	}
	stats.RSSBytes = mem.RSS

	cpu, err := pi.proc.CPUPercent()
	if err != nil {
		return stats, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	stats.CPUPercent = cpu

	// Thread counts are not available everywhere
	if n, err := pi.proc.NumThreads(); err == nil {
		stats.NumThreads = n
	}

	created, err := pi.proc.CreateTime()
	if err != nil {
		return stats, fmt.Errorf("failed to read start time: %w", err)
	}
	stats.UptimeMilli = pi.now().UnixMilli() - created

	if stats.PID == os.Getpid() {
		stats.Goroutines = runtime.NumGoroutine()
	}
	return stats, nil
}

// Ensure ProcessInspector implements domain.ProcessInspector.
var _ domain.ProcessInspector = (*ProcessInspector)(nil)
