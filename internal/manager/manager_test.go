package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/health"
	"github.com/mkrell/warden/internal/history"
	"github.com/mkrell/warden/internal/state"
)

// memSink collects history events in memory.
type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (s *memSink) Send(_ context.Context, evt history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) count(a history.Action) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Action == a {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) (*Manager, *memSink) {
	t.Helper()
	sink := &memSink{}
	m, err := New(Options{
		BaseDir:         t.TempDir(),
		GracefulTimeout: 2 * time.Second,
		HealthTimeout:   time.Second,
		Sink:            sink,
		Logger:          discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return m, sink
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustStart(t *testing.T, m *Manager, cfg config.Service) int {
	t.Helper()
	pid, err := m.Start(cfg)
	if err != nil {
		t.Fatalf("start %s: %v", cfg.Name, err)
	}
	t.Cleanup(func() { _ = m.Stop(cfg.Name, 2*time.Second) })
	return pid
}

func TestStartAndStatus(t *testing.T) {
	m, sink := newTestManager(t)
	cfg := config.Service{Name: "sleeper", Command: "sleep 30"}
	pid := mustStart(t, m, cfg)
	if pid <= 0 {
		t.Fatalf("bad pid %d", pid)
	}

	rec := m.Status("sleeper")
	if rec.Status != state.StatusRunning || rec.PID != pid {
		t.Fatalf("unexpected status: %+v", rec)
	}
	if rec.StartedAt == nil {
		t.Fatal("started_at not set")
	}
	if rec.Config == nil || rec.Config.Command != "sleep 30" {
		t.Fatalf("config snapshot missing: %+v", rec.Config)
	}
	if _, err := os.Stat(m.Store().PIDPath("sleeper")); err != nil {
		t.Fatalf("pid file: %v", err)
	}
	if got := sink.count(history.ActionStart); got != 1 {
		t.Fatalf("start events: %d", got)
	}
}

func TestStartTwiceReturnsLivePID(t *testing.T) {
	m, _ := newTestManager(t)
	cfg := config.Service{Name: "solo", Command: "sleep 30"}
	pid := mustStart(t, m, cfg)

	again, err := m.Start(cfg)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if again != pid {
		t.Fatalf("expected live pid %d, got %d", pid, again)
	}
	if rec := m.Status("solo"); rec.PID != pid {
		t.Fatalf("status pid changed: %d", rec.PID)
	}
}

func TestStartEmptyCommand(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Start(config.Service{Name: "empty"})
	if !errors.Is(err, ErrNoCommand) {
		t.Fatalf("expected ErrNoCommand, got %v", err)
	}
	// no record must be created by the failed precondition
	if rec := m.Status("empty"); rec.Status != state.StatusUnknown {
		t.Fatalf("validation failure created a record: %+v", rec)
	}
}

func TestSpawnFailureRecordsFailed(t *testing.T) {
	m, sink := newTestManager(t)
	_, err := m.Start(config.Service{Name: "broken", Command: "/does/not/exist/anywhere"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	rec := m.Status("broken")
	if rec.Status != state.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if rec.PID != 0 {
		t.Fatalf("failed record kept pid %d", rec.PID)
	}
	if rec.StoppedAt == nil {
		t.Fatal("stopped_at not set on failure")
	}
	if got := sink.count(history.ActionFailed); got != 1 {
		t.Fatalf("failed events: %d", got)
	}
}

func TestNaturalExitReconciledByStatus(t *testing.T) {
	m, _ := newTestManager(t)
	mustStart(t, m, config.Service{Name: "quick", Command: "true"})

	waitFor(t, "record to reconcile to stopped", func() bool {
		return m.Status("quick").Status == state.StatusStopped
	})
	rec := m.Status("quick")
	if rec.PID != 0 {
		t.Fatalf("stopped record kept pid %d", rec.PID)
	}
	if rec.StoppedAt == nil {
		t.Fatal("stopped_at not set by reconciliation")
	}
	if _, err := os.Stat(m.Store().PIDPath("quick")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pid file should be gone: %v", err)
	}
}

func TestStopGraceful(t *testing.T) {
	m, sink := newTestManager(t)
	pid := mustStart(t, m, config.Service{Name: "stopme", Command: "sleep 30"})

	if err := m.Stop("stopme", 2*time.Second); err != nil {
		t.Fatal(err)
	}
	rec := m.Status("stopme")
	if rec.Status != state.StatusStopped || rec.PID != 0 {
		t.Fatalf("stop did not normalize: %+v", rec)
	}
	waitFor(t, "process to vanish", func() bool { return !health.PIDAlive(pid) })
	// idempotent
	if err := m.Stop("stopme", time.Second); err != nil {
		t.Fatal(err)
	}
	if got := sink.count(history.ActionStop); got != 1 {
		t.Fatalf("stop events: %d", got)
	}
}

func TestStopUnknownIsNoOp(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Stop("nonexistent", 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(m.Store().StatePath("nonexistent")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stop of unknown service must not create a record")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	m, _ := newTestManager(t)
	// The shell ignores SIGTERM and keeps respawning its sleep.
	pid := mustStart(t, m, config.Service{
		Name:    "stubborn",
		Command: "trap '' TERM; while :; do sleep 1; done",
	})

	start := time.Now()
	if err := m.Stop("stubborn", 300*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("escalation took too long: %v", elapsed)
	}
	waitFor(t, "group to die", func() bool { return !health.PIDAlive(pid) })
	if rec := m.Status("stubborn"); rec.Status != state.StatusStopped {
		t.Fatalf("expected stopped, got %s", rec.Status)
	}
}

func TestStaleRunningRecordAllowsRestart(t *testing.T) {
	m, _ := newTestManager(t)
	cfg := config.Service{Name: "phoenix", Command: "sleep 30"}
	pid := mustStart(t, m, cfg)

	// kill behind the manager's back
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	waitFor(t, "process death", func() bool { return !health.PIDAlive(pid) })

	again, err := m.Start(cfg)
	if err != nil {
		t.Fatalf("start over stale record: %v", err)
	}
	if again == pid {
		t.Fatalf("expected a fresh pid, got %d again", pid)
	}
	if rec := m.Status("phoenix"); rec.PID != again {
		t.Fatalf("status pid %d, want %d", rec.PID, again)
	}
}

func TestListReconcilesEveryRecord(t *testing.T) {
	m, _ := newTestManager(t)
	mustStart(t, m, config.Service{Name: "a-live", Command: "sleep 30"})
	pid := mustStart(t, m, config.Service{Name: "b-dead", Command: "sleep 30"})

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	waitFor(t, "b-dead to die", func() bool { return !health.PIDAlive(pid) })

	recs, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Name != "a-live" || recs[0].Status != state.StatusRunning {
		t.Fatalf("a-live: %+v", recs[0])
	}
	if recs[1].Name != "b-dead" || recs[1].Status != state.StatusStopped {
		t.Fatalf("b-dead: %+v", recs[1])
	}
}

func TestConcurrentStartsOneWinner(t *testing.T) {
	m, _ := newTestManager(t)
	cfg := config.Service{Name: "race", Command: "sleep 30"}
	t.Cleanup(func() { _ = m.Stop("race", 2*time.Second) })

	const n = 8
	pids := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pids[i], errs[i] = m.Start(cfg)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			winners++
		} else if !errors.Is(errs[i], ErrAlreadyRunning) {
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful start, got %d", winners)
	}
	rec := m.Status("race")
	for i := 0; i < n; i++ {
		if pids[i] != rec.PID {
			t.Fatalf("start %d reported pid %d, record has %d", i, pids[i], rec.PID)
		}
	}
}
