// Package health reports process-level statistics for the server's health
// endpoint.
package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Report struct {
	Status     string  `json:"status"`
	PID        int     `json:"pid"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`
}

type Reporter struct {
	started time.Time
	proc    *process.Process
	now     func() time.Time
}

// NewReporter inspects the current process. started is normally the time
// the server began listening.
func NewReporter(ctx context.Context, started time.Time) (*Reporter, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("inspect process: %w", err)
	}
	return &Reporter{started: started, proc: proc, now: time.Now}, nil
}

// Report gathers the current statistics. Counters the platform cannot
// provide are left at zero; the report is still "ok".
func (r *Reporter) Report(ctx context.Context) Report {
	rep := Report{
		Status:     "ok",
		PID:        int(r.proc.Pid),
		Uptime:     r.now().Sub(r.started).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}
	if mem, err := r.proc.MemoryInfoWithContext(ctx); err == nil {
		rep.RSSBytes = mem.RSS
	}
	if cpu, err := r.proc.CPUPercentWithContext(ctx); err == nil {
		rep.CPUPercent = cpu
	}
	if n, err := r.proc.NumThreadsWithContext(ctx); err == nil {
		rep.Threads = n
	}
	return rep
}
