package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/health"
	"github.com/mkrell/warden/internal/manager"
	"github.com/mkrell/warden/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRig(t *testing.T, opts Options) (*manager.Manager, *Supervisor) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := manager.New(manager.Options{
		BaseDir:         t.TempDir(),
		GracefulTimeout: 2 * time.Second,
		Logger:          logger,
	})
	require.NoError(t, err)
	opts.Logger = logger
	s := New(m, opts)
	t.Cleanup(s.Close)
	return m, s
}

func fastOptions() Options {
	return Options{
		PollInterval:   20 * time.Millisecond,
		HealthInterval: -1, // disabled unless a test opts in
		RestartDelay:   5 * time.Millisecond,
		MaxRestarts:    5,
		RestartWindow:  time.Minute,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// rawRecord reads the record without reconciling. Tests that wait for the
// supervisor to react to a death must not call Status while waiting: a
// reconciling read would rewrite running-with-dead-PID to stopped and the
// monitor would see an operator stop instead of a crash.
func rawRecord(t *testing.T, m *manager.Manager, name string) state.Record {
	t.Helper()
	rec, err := m.Store().Load(name)
	if err != nil {
		return state.Unknown(name)
	}
	return rec
}

func TestSuperviseRestartsKilledService(t *testing.T) {
	m, s := newTestRig(t, fastOptions())
	cfg := config.Service{Name: "watchdog", Command: "sleep 30", Restart: config.RestartAlways}
	pid, err := m.Start(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop("watchdog", 2*time.Second) })
	require.NoError(t, s.Supervise(cfg))

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	waitFor(t, "process death", func() bool { return !health.PIDAlive(pid) })

	waitFor(t, "automatic restart", func() bool {
		rec := rawRecord(t, m, "watchdog")
		return rec.Status == state.StatusRunning && rec.PID != pid && rec.PID > 0
	})
	rec := m.Status("watchdog")
	assert.Equal(t, 1, rec.RestartCount, "one kill should cost one restart")
	require.NoError(t, s.Unsupervise("watchdog"))
}

func TestCircuitBreakerTripsToFailed(t *testing.T) {
	opts := fastOptions()
	opts.MaxRestarts = 2
	m, s := newTestRig(t, opts)

	cfg := config.Service{Name: "crashloop", Command: "true", Restart: config.RestartAlways}
	_, err := m.Start(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Supervise(cfg))

	waitFor(t, "circuit breaker to trip", func() bool {
		return rawRecord(t, m, "crashloop").Status == state.StatusFailed
	})
	rec := m.Status("crashloop")
	assert.Equal(t, opts.MaxRestarts, rec.RestartCount, "restart count survives the giveup as evidence")
	assert.Zero(t, rec.PID, "failed record must not keep a PID")
	require.NotNil(t, rec.StoppedAt, "stopped_at set on giveup")

	// Supervision must be over: no monitor, no further restarts.
	waitFor(t, "monitor removal", func() bool { return len(s.Supervised()) == 0 })
	count := rec.RestartCount
	time.Sleep(100 * time.Millisecond)
	got := m.Status("crashloop")
	assert.Equal(t, state.StatusFailed, got.Status, "failed is terminal until a manual start")
	assert.Equal(t, count, got.RestartCount, "no restarts after giveup")
}

func TestOperatorStopIsRespected(t *testing.T) {
	m, s := newTestRig(t, fastOptions())
	cfg := config.Service{Name: "deliberate", Command: "sleep 30", Restart: config.RestartAlways}
	_, err := m.Start(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Supervise(cfg))

	require.NoError(t, m.Stop("deliberate", 2*time.Second))
	// Several poll ticks must pass without the supervisor undoing the stop.
	time.Sleep(150 * time.Millisecond)
	rec := m.Status("deliberate")
	assert.Equal(t, state.StatusStopped, rec.Status, "operator stop must not be overridden")
	assert.Zero(t, rec.PID)
	// The monitor keeps watching a stopped service.
	assert.Equal(t, []string{"deliberate"}, s.Supervised(), "monitor survives an operator stop")
}

func TestNeverPolicyEndsSupervision(t *testing.T) {
	m, s := newTestRig(t, fastOptions())
	cfg := config.Service{Name: "oneshot", Command: "sleep 30", Restart: config.RestartNever}
	pid, err := m.Start(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Supervise(cfg))

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	waitFor(t, "monitor to end", func() bool { return len(s.Supervised()) == 0 })
	rec := m.Status("oneshot")
	assert.Equal(t, state.StatusStopped, rec.Status, "death normalized to stopped")
	assert.Zero(t, rec.RestartCount, "never policy must not restart")
}

func TestSuperviseTwiceIsRefused(t *testing.T) {
	_, s := newTestRig(t, fastOptions())
	cfg := config.Service{Name: "dup", Command: "sleep 30", Restart: config.RestartAlways}
	require.NoError(t, s.Supervise(cfg))
	err := s.Supervise(cfg)
	require.ErrorIs(t, err, ErrAlreadySupervised)
	assert.Len(t, s.Supervised(), 1, "first monitor left alone")
}

func TestUnsuperviseUnknownIsNoOp(t *testing.T) {
	_, s := newTestRig(t, fastOptions())
	require.NoError(t, s.Unsupervise("ghost"))
}

func TestCloseStopsAllMonitors(t *testing.T) {
	_, s := newTestRig(t, fastOptions())
	for i := 0; i < 4; i++ {
		cfg := config.Service{Name: "svc-" + strconv.Itoa(i), Command: "sleep 30", Restart: config.RestartAlways}
		require.NoError(t, s.Supervise(cfg))
	}
	s.Close()
	assert.Empty(t, s.Supervised(), "monitors left after Close")
}

func TestPeriodicHealthCheckPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	opts := fastOptions()
	opts.HealthInterval = 30 * time.Millisecond
	m, s := newTestRig(t, opts)

	cfg := config.Service{
		Name:        "probed",
		Command:     "sleep 30",
		Type:        config.TypeHTTP,
		Restart:     config.RestartAlways,
		Host:        host,
		Port:        port,
		HealthCheck: "/health",
	}
	_, err = m.Start(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop("probed", 2*time.Second) })
	require.NoError(t, s.Supervise(cfg))

	waitFor(t, "health check to persist", func() bool {
		rec := m.Status("probed")
		return rec.LastHealthCheck != nil && rec.Health == state.Healthy
	})
}

func TestRestartWindowPrunesOldEntries(t *testing.T) {
	// With a window shorter than the time between deaths, the breaker
	// must never trip: each restart falls out of the window before the
	// next death is handled.
	opts := fastOptions()
	opts.MaxRestarts = 1
	opts.RestartWindow = 30 * time.Millisecond
	opts.PollInterval = 50 * time.Millisecond
	m, s := newTestRig(t, opts)

	cfg := config.Service{Name: "slowcrash", Command: "sleep 30", Restart: config.RestartOnFailure}
	pid, err := m.Start(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop("slowcrash", 2*time.Second) })
	require.NoError(t, s.Supervise(cfg))

	for i := 0; i < 3; i++ {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		waitFor(t, fmt.Sprintf("restart %d", i+1), func() bool {
			rec := rawRecord(t, m, "slowcrash")
			return rec.Status == state.StatusRunning && rec.PID != pid
		})
		pid = rawRecord(t, m, "slowcrash").PID
		// Let the previous restart age out of the window.
		time.Sleep(60 * time.Millisecond)
	}
	rec := rawRecord(t, m, "slowcrash")
	assert.NotEqual(t, state.StatusFailed, rec.Status, "breaker tripped despite pruned window")
}
