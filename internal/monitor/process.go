package monitor

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo is a point-in-time view of the server process.
type ProcessInfo struct {
	PID        int       `json:"pid"`
	StartTime  time.Time `json:"startTime"`
	RSSBytes   uint64    `json:"rssBytes"`
	CPUPercent float64   `json:"cpuPercent"`
	MemPercent float32   `json:"memPercent"`
	NumThreads int32     `json:"numThreads"`
	Goroutines int       `json:"goroutines"`
}

// ProcessSampler reads resource usage for one process.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler samples the current process.
func NewProcessSampler() (*ProcessSampler, error) {
	return NewProcessSamplerFor(os.Getpid())
}

func NewProcessSamplerFor(pid int) (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}
	return &ProcessSampler{proc: p}, nil
}

// Sample collects the current figures. CPU is averaged over the process
// lifetime. Fields that cannot be read on this platform are left zero; an
// error is returned only when memory usage is unavailable.
func (s *ProcessSampler) Sample() (ProcessInfo, error) {
	info := ProcessInfo{
		PID:        int(s.proc.Pid),
		Goroutines: runtime.NumGoroutine(),
	}

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return info, fmt.Errorf("memory info: %w", err)
	}
	info.RSSBytes = mem.RSS

	if created, err := s.proc.CreateTime(); err == nil {
		info.StartTime = time.UnixMilli(created)
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	if memP, err := s.proc.MemoryPercent(); err == nil {
		info.MemPercent = memP
	}
	if threads, err := s.proc.NumThreads(); err == nil {
		info.NumThreads = threads
	}
	return info, nil
}
