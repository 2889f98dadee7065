package manager

import (
	"fmt"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/mkrell/warden/internal/state"
)

// Info extends a record with best-effort process stats. Each stat is a
// pointer so "the OS would not say" stays distinguishable from zero.
type Info struct {
	state.Record
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryMB      *float64 `json:"memory_mb,omitempty"`
	NumThreads    *int32   `json:"num_threads,omitempty"`
	UptimeSeconds *int64   `json:"uptime_seconds,omitempty"`
	StdoutLog     string   `json:"stdout_log"`
	StderrLog     string   `json:"stderr_log"`
}

// Info returns the reconciled record plus resource usage for a live PID.
// Unknown services are an error, unlike Status.
func (m *Manager) Info(name string) (Info, error) {
	rec := m.Status(name)
	if rec.Status == state.StatusUnknown {
		return Info{}, fmt.Errorf("service %s: %w", name, state.ErrNotFound)
	}
	info := Info{
		Record:    rec,
		StdoutLog: m.store.StdoutPath(name),
		StderrLog: m.store.StderrPath(name),
	}
	if rec.Status == state.StatusRunning && rec.PID > 0 {
		fillProcStats(&info, rec)
	}
	return info, nil
}

// fillProcStats adds whatever gopsutil will reveal. Denied or failed stats
// are left nil rather than defaulted.
func fillProcStats(info *Info, rec state.Record) {
	p, err := gopsproc.NewProcess(int32(rec.PID))
	if err != nil {
		return
	}
	if cpu, err := p.CPUPercent(); err == nil {
		info.CPUPercent = &cpu
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		mb := float64(mi.RSS) / (1024 * 1024)
		info.MemoryMB = &mb
	}
	if n, err := p.NumThreads(); err == nil {
		info.NumThreads = &n
	}
	if rec.StartedAt != nil {
		up := int64(time.Since(*rec.StartedAt).Seconds())
		if up >= 0 {
			info.UptimeSeconds = &up
		}
	}
}
