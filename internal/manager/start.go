package manager

import (
	"fmt"
	"os"
	"time"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/history"
	"github.com/mkrell/warden/internal/metrics"
	"github.com/mkrell/warden/internal/state"
)

// startLocked spawns cfg detached, writes the PID file and the running
// record, and emits action. The caller holds the name lock and has already
// validated cfg.
func (m *Manager) startLocked(cfg config.Service, restarts int, action history.Action) (int, error) {
	cmd := buildCommand(cfg.Command)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	cmd.Env = cfg.Environ()
	detachProcess(cmd)

	// The children own the log descriptors so capture survives this
	// process exiting. Append mode keeps one file across restarts.
	stdout, err := openLog(m.store.StdoutPath(cfg.Name))
	if err != nil {
		return 0, m.failStart(cfg, restarts, err)
	}
	stderr, err := openLog(m.store.StderrPath(cfg.Name))
	if err != nil {
		_ = stdout.Close()
		return 0, m.failStart(cfg, restarts, err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err = cmd.Start()
	_ = stdout.Close()
	_ = stderr.Close()
	if err != nil {
		return 0, m.failStart(cfg, restarts, err)
	}
	pid := cmd.Process.Pid

	// Reap the child if this process outlives it (serve mode). In a
	// one-shot CLI the goroutine dies with the process, unexercised.
	go func() { _ = cmd.Wait() }()

	startUnix := procStartUnix(pid)
	if startUnix == 0 {
		startUnix = time.Now().Unix()
	}
	if err := writePIDFile(m.store.PIDPath(cfg.Name), pid, startUnix); err != nil {
		m.logger.Warn("pid file write failed", "service", cfg.Name, "error", err)
	}

	now := time.Now().UTC()
	rec := state.Record{
		Name:         cfg.Name,
		Status:       state.StatusRunning,
		PID:          pid,
		StartedAt:    &now,
		RestartCount: restarts,
		Health:       state.HealthUnknown,
		Config:       &cfg,
	}
	if err := m.store.Save(rec); err != nil {
		// A process nobody can find again must not be left behind.
		_ = m.terminateLocked(pid, 2*time.Second)
		_ = os.Remove(m.store.PIDPath(cfg.Name))
		return 0, fmt.Errorf("save state for %s: %w", cfg.Name, err)
	}

	if action == history.ActionRestart {
		metrics.IncRestart(cfg.Name)
	} else {
		metrics.IncStart(cfg.Name)
	}
	metrics.SetUp(cfg.Name, true)
	m.emit(history.Event{Service: cfg.Name, Action: action, PID: pid})
	m.logger.Info("service started", "service", cfg.Name, "pid", pid, "restarts", restarts)
	return pid, nil
}

// failStart records a spawn failure as a failed record and wraps the cause.
func (m *Manager) failStart(cfg config.Service, restarts int, cause error) error {
	now := time.Now().UTC()
	rec := state.Record{
		Name:         cfg.Name,
		Status:       state.StatusFailed,
		StoppedAt:    &now,
		RestartCount: restarts,
		Health:       state.HealthUnknown,
		Config:       &cfg,
	}
	if err := m.store.Save(rec); err != nil {
		m.logger.Warn("state save failed", "service", cfg.Name, "error", err)
	}
	metrics.IncFailure(cfg.Name)
	metrics.SetUp(cfg.Name, false)
	m.emit(history.Event{Service: cfg.Name, Action: history.ActionFailed, Detail: cause.Error()})
	m.logger.Error("service start failed", "service", cfg.Name, "error", cause)
	return fmt.Errorf("start %s: %w", cfg.Name, cause)
}

func openLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
}
