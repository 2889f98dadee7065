package client

import "time"

// Service mirrors the server's service definition JSON. The zero values for
// Type and Restart mean the daemon applies its defaults.
type Service struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Type        string            `json:"service_type,omitempty"`
	Restart     string            `json:"restart_policy,omitempty"`
	Port        int               `json:"port,omitempty"`
	Host        string            `json:"host,omitempty"`
	HealthCheck string            `json:"health_check,omitempty"`
	Env         map[string]string `json:"environment,omitempty"`
	WorkDir     string            `json:"working_dir,omitempty"`
}

// Record status values as reported by the daemon.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
	StatusUnknown = "unknown"
)

// Record is the daemon's persisted view of one service.
type Record struct {
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	PID             int        `json:"pid,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	RestartCount    int        `json:"restart_count"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	Health          string     `json:"health_status,omitempty"`
	Config          *Service   `json:"config,omitempty"`
}

// Info extends a record with best-effort process stats. Stats the daemon
// could not collect are nil.
type Info struct {
	Record
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryMB      *float64 `json:"memory_mb,omitempty"`
	NumThreads    *int32   `json:"num_threads,omitempty"`
	UptimeSeconds *int64   `json:"uptime_seconds,omitempty"`
	StdoutLog     string   `json:"stdout_log"`
	StderrLog     string   `json:"stderr_log"`
}

// LogBundle carries the tails of both captured streams plus the file paths
// on the daemon host.
type LogBundle struct {
	Stdout     []string `json:"stdout"`
	Stderr     []string `json:"stderr"`
	StdoutPath string   `json:"stdout_path"`
	StderrPath string   `json:"stderr_path"`
}

// ErrorResponse is the API's error body. PID is set on already-running
// conflicts.
type ErrorResponse struct {
	Error string `json:"error"`
	PID   int    `json:"pid,omitempty"`
}
