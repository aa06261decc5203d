package process

import (
	"time"

	gp "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource snapshot of a running process.
type Usage struct {
	PID        int           `json:"pid"`
	CPUPercent float64       `json:"cpu_percent"`
	MemoryRSS  uint64        `json:"memory_rss"`
	MemoryMB   float64       `json:"memory_mb"`
	NumThreads int32         `json:"num_threads"`
	Uptime     time.Duration `json:"uptime"`
}

// Usage samples CPU and memory of the process. It fails once the process is gone.
func (h *Handle) Usage() (Usage, error) {
	pid := h.PID()
	// #nosec G115 -- pids fit in int32 on every supported platform
	p, err := gp.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	u := Usage{PID: pid, Uptime: time.Since(h.started)}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		u.MemoryRSS = mem.RSS
		u.MemoryMB = float64(mem.RSS) / 1024 / 1024
	}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, nil
}
