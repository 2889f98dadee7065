// Package warden manages long-running background services: starting,
// stopping, restarting, supervising, and health-checking OS processes, with
// every piece of state on the local filesystem. This package is the
// embedding facade; the warden command wraps the same internals for the CLI.
package warden

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/history"
	"github.com/mkrell/warden/internal/history/factory"
	"github.com/mkrell/warden/internal/logger"
	"github.com/mkrell/warden/internal/manager"
	"github.com/mkrell/warden/internal/metrics"
	"github.com/mkrell/warden/internal/server"
	"github.com/mkrell/warden/internal/state"
	"github.com/mkrell/warden/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases, so
// conversions are zero-cost.

type (
	Service       = config.Service
	ServiceType   = config.ServiceType
	RestartPolicy = config.RestartPolicy
	Defaults      = config.Defaults
	File          = config.File

	Record       = state.Record
	Status       = state.Status
	HealthStatus = state.HealthStatus

	Info      = manager.Info
	LogBundle = manager.LogBundle

	HistorySink  = history.Sink
	HistoryEvent = history.Event
)

const (
	TypeHTTP   = config.TypeHTTP
	TypeWorker = config.TypeWorker
	TypeDaemon = config.TypeDaemon

	RestartNever     = config.RestartNever
	RestartOnFailure = config.RestartOnFailure
	RestartAlways    = config.RestartAlways

	StatusRunning = state.StatusRunning
	StatusStopped = state.StatusStopped
	StatusFailed  = state.StatusFailed
	StatusUnknown = state.StatusUnknown
)

// Sentinel errors, comparable with errors.Is.
var (
	ErrNotFound          = state.ErrNotFound
	ErrAlreadyRunning    = manager.ErrAlreadyRunning
	ErrNoHealthCheck     = manager.ErrNoHealthCheck
	ErrStillRunning      = manager.ErrStillRunning
	ErrAlreadySupervised = supervisor.ErrAlreadySupervised
)

// Options configures an embedded Manager. Zero values pick the documented
// defaults.
type Options struct {
	// BaseDir roots the state directory; empty resolves $WARDEN_HOME, then
	// ~/.warden.
	BaseDir string
	// GracefulTimeout bounds the SIGTERM-to-SIGKILL escalation in Stop.
	GracefulTimeout time.Duration
	// HealthTimeout bounds a single health probe.
	HealthTimeout time.Duration
	// Sink receives lifecycle events; nil disables history.
	Sink   HistorySink
	Logger *slog.Logger
}

// Manager is a thin facade over the internal manager. It provides a stable
// public API for embedding.
type Manager struct{ inner *manager.Manager }

func New(opts Options) (*Manager, error) {
	inner, err := manager.New(manager.Options{
		BaseDir:         opts.BaseDir,
		GracefulTimeout: opts.GracefulTimeout,
		HealthTimeout:   opts.HealthTimeout,
		Sink:            opts.Sink,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Manager{inner: inner}, nil
}

func (m *Manager) Start(svc Service) (int, error) { return m.inner.Start(svc) }
func (m *Manager) Stop(name string, timeout time.Duration) error {
	return m.inner.Stop(name, timeout)
}
func (m *Manager) Restart(name string, timeout time.Duration) (int, error) {
	return m.inner.Restart(name, timeout)
}
func (m *Manager) Status(name string) Record      { return m.inner.Status(name) }
func (m *Manager) List() ([]Record, error)        { return m.inner.List() }
func (m *Manager) Info(name string) (Info, error) { return m.inner.Info(name) }
func (m *Manager) Remove(name string) error       { return m.inner.Remove(name) }
func (m *Manager) CleanupStale() (int, error)     { return m.inner.CleanupStale() }
func (m *Manager) RunningPIDs() map[string]int    { return m.inner.RunningPIDs() }
func (m *Manager) RunForeground(svc Service) (int, error) {
	return m.inner.RunForeground(svc)
}
func (m *Manager) Logs(name string, lines int) (LogBundle, error) {
	return m.inner.Logs(name, lines)
}
func (m *Manager) CheckHealth(ctx context.Context, name string) (bool, error) {
	return m.inner.CheckHealth(ctx, name)
}

// Supervisor facade

// SupervisorOptions tune every monitor started by one Supervisor. Zero
// values pick the package defaults.
type SupervisorOptions struct {
	PollInterval   time.Duration
	HealthInterval time.Duration
	RestartDelay   time.Duration
	MaxRestarts    int
	RestartWindow  time.Duration
	Logger         *slog.Logger
}

type Supervisor struct{ inner *supervisor.Supervisor }

func NewSupervisor(m *Manager, opts SupervisorOptions) *Supervisor {
	return &Supervisor{inner: supervisor.New(m.inner, supervisor.Options{
		PollInterval:   opts.PollInterval,
		HealthInterval: opts.HealthInterval,
		RestartDelay:   opts.RestartDelay,
		MaxRestarts:    opts.MaxRestarts,
		RestartWindow:  opts.RestartWindow,
		Logger:         opts.Logger,
	})}
}

func (s *Supervisor) Supervise(svc Service) error   { return s.inner.Supervise(svc) }
func (s *Supervisor) Unsupervise(name string) error { return s.inner.Unsupervise(name) }
func (s *Supervisor) Supervised() []string          { return s.inner.Supervised() }
func (s *Supervisor) Close()                        { s.inner.Close() }

// LoadConfig parses and validates a services file.
func LoadConfig(path string) (*File, error) { return config.Load(path) }

// DefaultDir resolves the state directory the same way the CLI does:
// $WARDEN_HOME if set, otherwise ~/.warden.
func DefaultDir() (string, error) { return state.DefaultDir() }

// NewRouter returns the management API as an http.Handler that can be
// mounted in any server or mux.
func NewRouter(m *Manager, basePath string) http.Handler {
	return server.NewRouter(m.inner, basePath).Handler()
}

// NewHTTPServer starts a standalone HTTP server exposing the management API
// and returns it for shutdown.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return server.NewServer(addr, basePath, m.inner)
}

// NewHistorySink builds a lifecycle event sink from a DSN: sqlite, postgres,
// clickhouse, or opensearch.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Logger helpers

type LoggerOptions = logger.Options

type LogRotation = logger.Rotation

// NewLogger builds the application logger the CLI uses: color, text, or
// JSON output at the requested level.
func NewLogger(opts LoggerOptions) (*slog.Logger, error) { return logger.New(opts) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry; mount it wherever /metrics
// should live.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics from the
// default registry. It blocks in the caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
