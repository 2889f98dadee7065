package metrics

import (
	"context"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ResourceCollector periodically samples CPU and memory for running
// services. Serve mode runs one; short-lived CLI invocations never do.
type ResourceCollector struct {
	interval time.Duration
	seen     map[string]struct{}
}

func NewResourceCollector(interval time.Duration) *ResourceCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceCollector{interval: interval, seen: make(map[string]struct{})}
}

// Run samples until ctx is done. pids returns the services to sample,
// keyed by name; services that disappear have their gauge series dropped.
func (c *ResourceCollector) Run(ctx context.Context, pids func() map[string]int) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample(pids())
		}
	}
}

func (c *ResourceCollector) sample(current map[string]int) {
	for name := range c.seen {
		if _, ok := current[name]; !ok {
			dropResources(name)
			delete(c.seen, name)
		}
	}
	for name, pid := range current {
		p, err := gopsproc.NewProcess(int32(pid))
		if err != nil {
			dropResources(name)
			delete(c.seen, name)
			continue
		}
		cpu, err := p.CPUPercent()
		if err != nil {
			continue
		}
		mi, err := p.MemoryInfo()
		if err != nil || mi == nil {
			continue
		}
		setResources(name, cpu, float64(mi.RSS)/(1024*1024))
		c.seen[name] = struct{}{}
	}
}
