package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ServiceType classifies how a started service is expected to behave.
type ServiceType string

const (
	TypeHTTP   ServiceType = "http"
	TypeWorker ServiceType = "worker"
	TypeDaemon ServiceType = "daemon"
)

// RestartPolicy controls what a supervisor does when a service dies.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// Address defaults applied only when a health check needs them.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8000
)

// Service describes one managed service. The JSON shape is what gets
// embedded into state records so a later invocation can restart the
// service without the original definition.
type Service struct {
	Name    string        `json:"name" toml:"name" mapstructure:"name"`
	Command string        `json:"command" toml:"command" mapstructure:"command"`
	Type    ServiceType   `json:"service_type" toml:"type" mapstructure:"type"`
	Restart RestartPolicy `json:"restart_policy" toml:"restart" mapstructure:"restart"`
	Port    int           `json:"port,omitempty" toml:"port" mapstructure:"port"`
	Host    string        `json:"host,omitempty" toml:"host" mapstructure:"host"`
	// HealthCheck is either an HTTP path (leading '/') probed against
	// Host:Port, or the name of a probe registered with the health registry.
	// Empty means PID liveness only.
	HealthCheck string            `json:"health_check,omitempty" toml:"health_check" mapstructure:"health_check"`
	Env         map[string]string `json:"environment,omitempty" toml:"env" mapstructure:"env"`
	WorkDir     string            `json:"working_dir,omitempty" toml:"workdir" mapstructure:"workdir"`
	// AutoStart is a serve-mode concern and is not part of the stored snapshot.
	AutoStart bool `json:"-" toml:"autostart" mapstructure:"autostart"`
}

// Validate checks field values without mutating. Unknown type or restart
// strings are errors, not coerced.
func (s *Service) Validate() error {
	if !IsSafeName(s.Name) {
		return fmt.Errorf("invalid service name %q: allowed [A-Za-z0-9._-], no leading dot, no '..'", s.Name)
	}
	switch s.Type {
	case "", TypeHTTP, TypeWorker, TypeDaemon:
	default:
		return fmt.Errorf("service %s: unknown service type %q", s.Name, s.Type)
	}
	switch s.Restart {
	case "", RestartNever, RestartOnFailure, RestartAlways:
	default:
		return fmt.Errorf("service %s: unknown restart policy %q", s.Name, s.Restart)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("service %s: port %d out of range", s.Name, s.Port)
	}
	for k := range s.Env {
		if k == "" || strings.ContainsRune(k, '=') {
			return fmt.Errorf("service %s: invalid environment key %q", s.Name, k)
		}
	}
	return nil
}

// Normalized returns a copy with defaults filled for empty Type and Restart.
func (s Service) Normalized() Service {
	if s.Type == "" {
		s.Type = TypeDaemon
	}
	if s.Restart == "" {
		s.Restart = RestartNever
	}
	return s
}

// Environ composes the child environment: the parent environment with Env
// overlaid in sorted key order, then a single ${VAR} expansion pass against
// the merged set. No recursion.
func (s Service) Environ() []string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 && kv[:i] != "" {
			m[kv[:i]] = kv[i+1:]
		}
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m[k] = s.Env[k]
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// HealthURL returns the HTTP probe target for a path-style health check,
// or "" when the check is not an HTTP path.
func (s Service) HealthURL() string {
	if !strings.HasPrefix(s.HealthCheck, "/") {
		return ""
	}
	host := s.Host
	if host == "" {
		host = DefaultHost
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return "http://" + host + ":" + strconv.Itoa(port) + s.HealthCheck
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

// IsSafeName validates service names so they are safe to use as filenames.
// First character must be alphanumeric; '..' is never allowed.
func IsSafeName(s string) bool {
	if s == "" {
		return false
	}
	if c := s[0]; !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
