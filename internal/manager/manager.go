// Package manager is the only component that spawns, signals, or waits on
// OS processes. Every other layer goes through it so per-name locking has a
// single enforcement point.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/health"
	"github.com/mkrell/warden/internal/history"
	"github.com/mkrell/warden/internal/metrics"
	"github.com/mkrell/warden/internal/state"
)

var (
	// ErrNoCommand means a start was attempted without a command to run.
	ErrNoCommand = errors.New("no command configured")
	// ErrAlreadyRunning is returned with the live PID when a second start
	// would violate the one-running-instance rule.
	ErrAlreadyRunning = errors.New("service already running")
	// ErrNoConfig means a restart was requested for a record without a
	// config snapshot to start from.
	ErrNoConfig = errors.New("no command in stored state")
	// ErrNoHealthCheck means the service has no health check configured.
	ErrNoHealthCheck = errors.New("no health check configured")
	// ErrStillRunning guards Remove against pruning a live service.
	ErrStillRunning = errors.New("service is running")
)

// DefaultGracefulTimeout is how long Stop waits between SIGTERM and SIGKILL
// when the caller does not say.
const DefaultGracefulTimeout = 10 * time.Second

// Options configures a Manager. Zero values pick the documented defaults.
type Options struct {
	// BaseDir roots the state store; empty means state.DefaultDir().
	BaseDir string
	// GracefulTimeout bounds the SIGTERM-to-SIGKILL escalation in Stop.
	GracefulTimeout time.Duration
	// HealthTimeout bounds a single probe.
	HealthTimeout time.Duration
	// Probes resolves named health checks; nil means a fresh registry with
	// only the builtins.
	Probes *health.Registry
	// Sink receives lifecycle events; nil disables history.
	Sink   history.Sink
	Logger *slog.Logger
}

// Manager owns the state store and serializes all operations per service
// name. Different names proceed concurrently.
type Manager struct {
	store    *state.Store
	probes   *health.Registry
	sink     history.Sink
	logger   *slog.Logger
	graceful time.Duration
	htimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(opts Options) (*Manager, error) {
	st, err := state.NewStore(opts.BaseDir)
	if err != nil {
		return nil, err
	}
	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = DefaultGracefulTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = health.DefaultTimeout
	}
	if opts.Probes == nil {
		opts.Probes = health.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:    st,
		probes:   opts.Probes,
		sink:     opts.Sink,
		logger:   opts.Logger,
		graceful: opts.GracefulTimeout,
		htimeout: opts.HealthTimeout,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Store exposes the underlying state store for read-side consumers
// (log paths, raw records).
func (m *Manager) Store() *state.Store { return m.store }

func (m *Manager) nameLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Start launches cfg as a detached background process and records it as
// running. If the same name is already running, the live PID is returned
// together with ErrAlreadyRunning and nothing is spawned.
func (m *Manager) Start(cfg config.Service) (int, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return 0, fmt.Errorf("service %s: %w", cfg.Name, ErrNoCommand)
	}

	l := m.nameLock(cfg.Name)
	l.Lock()
	defer l.Unlock()

	if rec, err := m.store.Load(cfg.Name); err == nil && rec.Status == state.StatusRunning {
		if m.recordAlive(rec) {
			return rec.PID, fmt.Errorf("service %s (pid %d): %w", cfg.Name, rec.PID, ErrAlreadyRunning)
		}
		// The record says running but the process is gone. Normalize,
		// then start fresh.
		m.markStopped(&rec)
	}
	return m.startLocked(cfg, 0, history.ActionStart)
}

// Restart stops the service if it is running and starts it again from the
// stored config snapshot. The restart count carries over.
func (m *Manager) Restart(name string, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = m.graceful
	}
	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Load(name)
	if err != nil {
		return 0, fmt.Errorf("restart %s: %w", name, err)
	}
	if rec.Config == nil || strings.TrimSpace(rec.Config.Command) == "" {
		return 0, fmt.Errorf("restart %s: %w", name, ErrNoConfig)
	}
	if rec.Status == state.StatusRunning && m.recordAlive(rec) {
		if err := m.terminateLocked(rec.PID, timeout); err != nil {
			return 0, fmt.Errorf("restart %s: %w", name, err)
		}
	}
	return m.startLocked(rec.Config.Normalized(), rec.RestartCount, history.ActionRestart)
}

// AutoRestart is the supervisor's path for a service whose process died:
// start the stored snapshot again with the restart count bumped. A race
// with a manual start is tolerated by returning the live PID untouched.
func (m *Manager) AutoRestart(name string) (int, error) {
	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Load(name)
	if err != nil {
		return 0, fmt.Errorf("auto-restart %s: %w", name, err)
	}
	if rec.Config == nil || strings.TrimSpace(rec.Config.Command) == "" {
		return 0, fmt.Errorf("auto-restart %s: %w", name, ErrNoConfig)
	}
	if rec.Status == state.StatusRunning && m.recordAlive(rec) {
		return rec.PID, nil
	}
	return m.startLocked(rec.Config.Normalized(), rec.RestartCount+1, history.ActionRestart)
}

// Stop terminates the service's process group and normalizes its record.
// Unknown names and already-stopped services succeed as no-ops; no record
// is ever created by a stop.
func (m *Manager) Stop(name string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.graceful
	}
	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Load(name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			// Only a PID file could be left behind.
			_ = os.Remove(m.store.PIDPath(name))
			return nil
		}
		return err
	}
	if rec.Status != state.StatusRunning {
		_ = os.Remove(m.store.PIDPath(name))
		return nil
	}
	if !m.recordAlive(rec) {
		// Died on its own since the record was written.
		m.markStopped(&rec)
		return nil
	}
	pid := rec.PID
	if err := m.terminateLocked(pid, timeout); err != nil {
		return fmt.Errorf("stop %s (pid %d): %w", name, pid, err)
	}
	m.markStopped(&rec)
	metrics.IncStop(name)
	m.emit(history.Event{Service: name, Action: history.ActionStop, PID: pid})
	m.logger.Info("service stopped", "service", name, "pid", pid)
	return nil
}

// MarkFailed records a terminal supervision failure: the restart budget for
// name is exhausted and automatic restarts stop until a manual start. The
// restart count survives as evidence of what happened.
func (m *Manager) MarkFailed(name, detail string) error {
	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Load(name)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.Status = state.StatusFailed
	rec.PID = 0
	rec.StoppedAt = &now
	rec.Health = state.HealthUnknown
	if err := m.store.Save(rec); err != nil {
		return err
	}
	_ = os.Remove(m.store.PIDPath(name))
	metrics.IncFailure(name)
	metrics.SetUp(name, false)
	m.emit(history.Event{Service: name, Action: history.ActionGiveUp, Detail: detail})
	m.logger.Error("service marked failed", "service", name, "detail", detail)
	return nil
}

// Status reports the reconciled record for name. It never returns an error:
// a missing or unreadable record reads as status unknown.
func (m *Manager) Status(name string) state.Record {
	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()
	return m.statusLocked(name)
}

// List returns the reconciled record of every known service, sorted by name.
func (m *Manager) List() ([]state.Record, error) {
	recs, err := m.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]state.Record, 0, len(recs))
	for _, rec := range recs {
		l := m.nameLock(rec.Name)
		l.Lock()
		out = append(out, m.statusLocked(rec.Name))
		l.Unlock()
	}
	return out, nil
}

// CleanupStale corrects records whose process is gone and sweeps orphaned
// PID files. The returned count is record corrections only; a second
// immediate call returns zero. Record files are never deleted.
func (m *Manager) CleanupStale() (int, error) {
	recs, err := m.store.List()
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, r := range recs {
		l := m.nameLock(r.Name)
		l.Lock()
		rec, err := m.store.Load(r.Name)
		if err == nil {
			switch {
			case rec.Status == state.StatusRunning && !m.recordAlive(rec):
				m.markStopped(&rec)
				fixed++
			case rec.Status != state.StatusRunning:
				_ = os.Remove(m.store.PIDPath(rec.Name))
			}
		}
		l.Unlock()
	}
	if err := m.sweepPIDFiles(); err != nil {
		return fixed, err
	}
	if fixed > 0 {
		metrics.AddCleanup(fixed)
		m.emit(history.Event{Action: history.ActionCleanup, Detail: strconv.Itoa(fixed) + " corrected"})
		m.logger.Info("cleanup corrected stale records", "count", fixed)
	}
	return fixed, nil
}

// sweepPIDFiles removes PID files that no live, matching process backs.
func (m *Manager) sweepPIDFiles() error {
	entries, err := os.ReadDir(m.store.PIDDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read pid dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pid") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".pid")
		l := m.nameLock(name)
		l.Lock()
		path := m.store.PIDPath(name)
		pid, meta, err := readPIDFile(path)
		live := err == nil && pid > 0 && health.PIDAlive(pid) && startMatches(pid, meta.StartUnix)
		if !live {
			_ = os.Remove(path)
		}
		l.Unlock()
	}
	return nil
}

// Remove hard-prunes a service: record and PID file go away, captured logs
// stay. A running service is refused.
func (m *Manager) Remove(name string) error {
	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Load(name)
	if err == nil {
		m.reconcileLocked(&rec)
		if rec.Status == state.StatusRunning {
			return fmt.Errorf("remove %s (pid %d): %w", name, rec.PID, ErrStillRunning)
		}
	}
	if err := m.store.Remove(name); err != nil {
		return err
	}
	_ = os.Remove(m.store.PIDPath(name))
	return nil
}

// CheckHealth runs the configured probe for name and persists the outcome.
// Services without a configured health check report ErrNoHealthCheck and
// are left untouched.
func (m *Manager) CheckHealth(ctx context.Context, name string) (bool, error) {
	l := m.nameLock(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Load(name)
	if err != nil {
		return false, err
	}
	if rec.Config == nil || rec.Config.HealthCheck == "" {
		return false, fmt.Errorf("service %s: %w", name, ErrNoHealthCheck)
	}
	m.reconcileLocked(&rec)

	healthy := m.probe(ctx, rec)
	now := time.Now().UTC()
	rec.LastHealthCheck = &now
	prev := rec.Health
	if healthy {
		rec.Health = state.Healthy
	} else {
		rec.Health = state.Unhealthy
	}
	if err := m.store.Save(rec); err != nil {
		m.logger.Warn("state save failed", "service", name, "error", err)
	}
	if !healthy && prev != state.Unhealthy {
		m.emit(history.Event{Service: name, Action: history.ActionHealth, PID: rec.PID, Detail: "unhealthy"})
	}
	return healthy, nil
}

// probe dispatches: an HTTP path for http services, then a named registry
// probe, then PID liveness on whatever PID the record still holds.
func (m *Manager) probe(ctx context.Context, rec state.Record) bool {
	cfg := rec.Config.Normalized()
	ctx, cancel := context.WithTimeout(ctx, m.htimeout)
	defer cancel()
	if cfg.Type == config.TypeHTTP && strings.HasPrefix(cfg.HealthCheck, "/") {
		return health.CheckHTTP(ctx, cfg.HealthURL(), m.htimeout)
	}
	if p, ok := m.probes.Lookup(cfg.HealthCheck, cfg); ok {
		healthy, err := p.Check(ctx)
		return err == nil && healthy
	}
	if rec.PID == 0 {
		return false
	}
	return health.PIDAlive(rec.PID)
}

// RunningPIDs reports name to PID for every reconciled running service.
func (m *Manager) RunningPIDs() map[string]int {
	recs, err := m.List()
	if err != nil {
		return nil
	}
	pids := make(map[string]int)
	for _, rec := range recs {
		if rec.Status == state.StatusRunning && rec.PID > 0 {
			pids[rec.Name] = rec.PID
		}
	}
	return pids
}

// statusLocked loads and reconciles under an already-held name lock.
func (m *Manager) statusLocked(name string) state.Record {
	rec, err := m.store.Load(name)
	if err != nil {
		return state.Unknown(name)
	}
	m.reconcileLocked(&rec)
	return rec
}

// reconcileLocked folds OS reality into rec: a running record whose process
// is gone becomes stopped on disk before any caller sees it. Reports
// whether a correction happened.
func (m *Manager) reconcileLocked(rec *state.Record) bool {
	if rec.Status != state.StatusRunning {
		return false
	}
	if m.recordAlive(*rec) {
		return false
	}
	m.logger.Info("process gone, correcting record", "service", rec.Name, "pid", rec.PID)
	m.markStopped(rec)
	return true
}

// recordAlive reports whether rec's PID is live and still the process the
// record was written for. The PID file's start-time metadata guards against
// PID reuse; records without a matching PID file fall back to liveness.
func (m *Manager) recordAlive(rec state.Record) bool {
	if rec.PID <= 0 {
		return false
	}
	if !health.PIDAlive(rec.PID) {
		return false
	}
	pid, meta, err := readPIDFile(m.store.PIDPath(rec.Name))
	if err != nil || pid != rec.PID {
		return true
	}
	return startMatches(pid, meta.StartUnix)
}

// markStopped rewrites rec as a clean stopped record and drops its PID
// file. Save failures are logged, not returned: reconciliation must never
// turn a read into a failure.
func (m *Manager) markStopped(rec *state.Record) {
	now := time.Now().UTC()
	rec.Status = state.StatusStopped
	rec.PID = 0
	rec.StoppedAt = &now
	rec.Health = state.HealthUnknown
	if err := m.store.Save(*rec); err != nil {
		m.logger.Warn("state save failed", "service", rec.Name, "error", err)
	}
	_ = os.Remove(m.store.PIDPath(rec.Name))
	metrics.SetUp(rec.Name, false)
}

// emit sends a lifecycle event to the history sink with a short deadline.
func (m *Manager) emit(evt history.Event) {
	if m.sink == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.sink.Send(ctx, evt); err != nil {
		m.logger.Warn("history sink send failed", "action", string(evt.Action), "service", evt.Service, "error", err)
	}
}
