package health

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/mkrell/warden/internal/config"
)

// ProbeFunc builds a probe for a concrete service definition.
type ProbeFunc func(svc config.Service) Probe

// Registry maps health_check names to probe constructors. A service whose
// health_check is not an HTTP path is looked up here by name; names that
// resolve to nothing are reported unhealthy, never as errors.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]ProbeFunc
}

// NewRegistry returns a registry with the built-in "tcp" probe, which
// dials the service's host:port.
func NewRegistry() *Registry {
	r := &Registry{probes: make(map[string]ProbeFunc)}
	r.Register("tcp", func(svc config.Service) Probe {
		host := svc.Host
		if host == "" {
			host = config.DefaultHost
		}
		port := svc.Port
		if port == 0 {
			port = config.DefaultPort
		}
		return TCPProbe{Addr: net.JoinHostPort(host, strconv.Itoa(port))}
	})
	return r
}

// Register adds or replaces a named probe.
func (r *Registry) Register(name string, f ProbeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = f
}

// Lookup resolves a probe for the service.
func (r *Registry) Lookup(name string, svc config.Service) (Probe, bool) {
	r.mu.RLock()
	f, ok := r.probes[name]
	r.mu.RUnlock()
	if !ok || f == nil {
		return nil, false
	}
	return f(svc), true
}

// CheckNamed runs the named probe; an unresolvable name is unhealthy.
func (r *Registry) CheckNamed(ctx context.Context, name string, svc config.Service) bool {
	p, ok := r.Lookup(name, svc)
	if !ok {
		return false
	}
	healthy, err := p.Check(ctx)
	return err == nil && healthy
}
