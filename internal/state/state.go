package state

import (
	"time"

	"github.com/mkrell/warden/internal/config"
)

// Status is the lifecycle state persisted for a service. StatusUnknown is
// synthesized for services without a record and is never written to disk.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

// HealthStatus is the outcome of the most recent health check.
type HealthStatus string

const (
	Healthy       HealthStatus = "healthy"
	Unhealthy     HealthStatus = "unhealthy"
	HealthUnknown HealthStatus = "unknown"
)

// Record is the persisted view of one service, stored as a single JSON
// document per name. PID is non-zero only while Status is running; the
// embedded config snapshot lets restart work without the original
// definition.
type Record struct {
	Name            string          `json:"name"`
	Status          Status          `json:"status"`
	PID             int             `json:"pid,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	StoppedAt       *time.Time      `json:"stopped_at,omitempty"`
	RestartCount    int             `json:"restart_count"`
	LastHealthCheck *time.Time      `json:"last_health_check,omitempty"`
	Health          HealthStatus    `json:"health_status,omitempty"`
	Config          *config.Service `json:"config,omitempty"`
}

// Unknown returns the synthetic record reported for a service that has no
// state on disk.
func Unknown(name string) Record {
	return Record{Name: name, Status: StatusUnknown, Health: HealthUnknown}
}
