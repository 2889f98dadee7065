// Package supervisor enforces restart policies. One monitor goroutine per
// supervised service polls the persisted record against OS reality and
// re-starts dead processes through the manager, rate-limited by a sliding
// restart window that trips to failed when the budget is exhausted.
//
// Supervision lives only as long as the process that called Supervise.
// Durable enforcement therefore belongs to the serve daemon; a one-shot CLI
// invocation cannot keep a policy alive after it exits.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/health"
	"github.com/mkrell/warden/internal/manager"
	"github.com/mkrell/warden/internal/metrics"
	"github.com/mkrell/warden/internal/state"
)

// ErrAlreadySupervised is returned when a monitor is already active for the
// name; the existing monitor keeps running untouched.
var ErrAlreadySupervised = errors.New("service already supervised")

// Defaults, matching the manager's documented tunables.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultHealthInterval = 30 * time.Second
	DefaultRestartDelay   = 2 * time.Second
	DefaultMaxRestarts    = 5
	DefaultRestartWindow  = 5 * time.Minute
)

// Options tunes every monitor started by one Supervisor. Zero values pick
// the defaults above.
type Options struct {
	// PollInterval is the liveness check cadence per service.
	PollInterval time.Duration
	// HealthInterval is how often a configured health check runs while the
	// service is alive. Zero or negative disables periodic checks.
	HealthInterval time.Duration
	// RestartDelay is the pause between detecting a death and restarting.
	RestartDelay time.Duration
	// MaxRestarts within RestartWindow trips the circuit breaker: the
	// record is marked failed and supervision of that service ends.
	MaxRestarts   int
	RestartWindow time.Duration
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.HealthInterval == 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = DefaultRestartDelay
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = DefaultMaxRestarts
	}
	if o.RestartWindow <= 0 {
		o.RestartWindow = DefaultRestartWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// watch is one monitor. The restart window bookkeeping lives inside the
// goroutine, so stopping a watch clears it for free.
type watch struct {
	cfg    config.Service
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the monitors. All starts and stops of monitored services
// go through the manager, which serializes them per name against everything
// else touching the same service.
type Supervisor struct {
	mgr    *manager.Manager
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	watches map[string]*watch
}

func New(mgr *manager.Manager, opts Options) *Supervisor {
	opts = opts.withDefaults()
	return &Supervisor{
		mgr:     mgr,
		opts:    opts,
		logger:  opts.Logger,
		watches: make(map[string]*watch),
	}
}

// Supervise launches a monitor for cfg. A second call for the same name
// reports ErrAlreadySupervised and leaves the first monitor alone.
func (s *Supervisor) Supervise(cfg config.Service) error {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[cfg.Name]; ok {
		return fmt.Errorf("service %s: %w", cfg.Name, ErrAlreadySupervised)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{cfg: cfg, cancel: cancel, done: make(chan struct{})}
	s.watches[cfg.Name] = w
	metrics.SetSupervised(len(s.watches))
	s.logger.Info("supervising service", "service", cfg.Name, "policy", string(cfg.Restart))
	go s.run(ctx, w)
	return nil
}

// Unsupervise cancels the monitor for name and joins it with a bounded
// wait. Names without a monitor succeed as no-ops.
func (s *Supervisor) Unsupervise(name string) error {
	s.mu.Lock()
	w, ok := s.watches[name]
	if ok {
		delete(s.watches, name)
		metrics.SetSupervised(len(s.watches))
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	w.cancel()
	join := 2 * s.opts.PollInterval
	if join > 5*time.Second {
		join = 5 * time.Second
	}
	select {
	case <-w.done:
		return nil
	case <-time.After(join):
		return fmt.Errorf("monitor for %s did not exit within %s", name, join)
	}
}

// Close stops every monitor. Used on orderly shutdown of the supervising
// process.
func (s *Supervisor) Close() {
	s.mu.Lock()
	names := make([]string, 0, len(s.watches))
	for name := range s.watches {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		if err := s.Unsupervise(name); err != nil {
			s.logger.Warn("monitor shutdown", "service", name, "error", err)
		}
	}
}

// Supervised reports the names currently under supervision.
func (s *Supervisor) Supervised() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.watches))
	for name := range s.watches {
		names = append(names, name)
	}
	return names
}

// removeSelf drops w from the map when its loop ends on its own. The watch
// pointer is compared so a replacement monitor started in the meantime is
// not evicted by the old goroutine.
func (s *Supervisor) removeSelf(w *watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.watches[w.cfg.Name]; ok && cur == w {
		delete(s.watches, w.cfg.Name)
		metrics.SetSupervised(len(s.watches))
	}
}

// run is the monitor loop: one tick per PollInterval until the context is
// canceled or the tick decides supervision is over. Errors inside a tick
// never terminate the loop; each tick stands alone.
func (s *Supervisor) run(ctx context.Context, w *watch) {
	defer close(w.done)
	defer s.removeSelf(w)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var restarts []time.Time
	var lastHealth time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if stop := s.tick(ctx, w, &restarts, &lastHealth); stop {
			return
		}
	}
}

// tick inspects the service once and reports whether supervision is done.
// The record is read raw from the store, not through Status: a reconciling
// read would rewrite a dead running record to stopped before this loop
// could tell an unexpected death from an operator stop.
func (s *Supervisor) tick(ctx context.Context, w *watch, restarts *[]time.Time, lastHealth *time.Time) bool {
	name := w.cfg.Name
	rec, err := s.mgr.Store().Load(name)
	if err != nil {
		// No record: the service may be started later. Keep watching.
		return false
	}
	switch rec.Status {
	case state.StatusFailed:
		// Circuit broken, either by us or by a failed start.
		s.logger.Info("service is failed, supervision ends", "service", name)
		return true
	case state.StatusRunning:
	default:
		// Stopped through the manager: an operator decision, respected by
		// every policy. Keep watching in case it is started again.
		return false
	}

	if health.PIDAlive(rec.PID) {
		s.maybeCheckHealth(ctx, name, lastHealth)
		return false
	}

	// The record says running but the process is gone: an unexpected death.
	cfg := w.cfg
	if rec.Config != nil {
		cfg = rec.Config.Normalized()
	}
	if cfg.Restart == config.RestartNever {
		// Defensive: supervision is normally only started for restart
		// policies, but a snapshot may have changed under us.
		_ = s.mgr.Status(name)
		s.logger.Info("service died, policy never", "service", name)
		return true
	}
	return s.restart(ctx, name, restarts)
}

// maybeCheckHealth runs the configured probe when HealthInterval has
// elapsed. Services without a check are silently skipped.
func (s *Supervisor) maybeCheckHealth(ctx context.Context, name string, lastHealth *time.Time) {
	if s.opts.HealthInterval <= 0 || time.Since(*lastHealth) < s.opts.HealthInterval {
		return
	}
	*lastHealth = time.Now()
	healthy, err := s.mgr.CheckHealth(ctx, name)
	switch {
	case errors.Is(err, manager.ErrNoHealthCheck):
	case err != nil:
		s.logger.Warn("health check failed", "service", name, "error", err)
	case !healthy:
		s.logger.Warn("service unhealthy", "service", name)
	}
}

// restart applies the sliding-window circuit breaker and, within budget,
// restarts the service after RestartDelay. Reports whether supervision
// should end.
func (s *Supervisor) restart(ctx context.Context, name string, restarts *[]time.Time) bool {
	now := time.Now()
	cutoff := now.Add(-s.opts.RestartWindow)
	kept := (*restarts)[:0]
	for _, ts := range *restarts {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	*restarts = kept

	if len(*restarts) >= s.opts.MaxRestarts {
		detail := fmt.Sprintf("%d restarts within %s", len(*restarts), s.opts.RestartWindow)
		s.logger.Error("restart budget exhausted, giving up", "service", name, "detail", detail)
		if err := s.mgr.MarkFailed(name, detail); err != nil {
			s.logger.Warn("mark failed", "service", name, "error", err)
		}
		return true
	}

	timer := time.NewTimer(s.opts.RestartDelay)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return true
	case <-timer.C:
	}

	pid, err := s.mgr.AutoRestart(name)
	if err != nil {
		// The manager already recorded the failure; nothing left to enforce.
		s.logger.Error("restart failed, supervision ends", "service", name, "error", err)
		return true
	}
	*restarts = append(*restarts, time.Now())
	s.logger.Info("service restarted", "service", name, "pid", pid, "recent_restarts", len(*restarts))
	return false
}
