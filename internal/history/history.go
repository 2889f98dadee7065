// Package history defines the audit trail of service lifecycle transitions.
// Sinks are optional: the manager treats a failing sink as a warning, never
// as a failed operation.
package history

import (
	"context"
	"time"
)

// Action is the kind of lifecycle transition being recorded.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionFailed  Action = "failed"
	ActionGiveUp  Action = "giveup"
	ActionHealth  Action = "health"
	ActionCleanup Action = "cleanup"
)

// Event is one lifecycle transition of one service.
type Event struct {
	Service string    `json:"service"`
	Action  Action    `json:"action"`
	PID     int       `json:"pid,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Sink is a destination for lifecycle events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
