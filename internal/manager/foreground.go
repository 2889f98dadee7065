//go:build !windows

package manager

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mkrell/warden/internal/config"
)

// RunForeground runs cfg attached to the caller's stdio and blocks until
// the child exits. No state record and no PID file are written. The child's
// exit code passes through; an interrupt terminates the child's process
// group (gracefully, then forcefully) and returns the conventional 130.
func (m *Manager) RunForeground(cfg config.Service) (int, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return 0, fmt.Errorf("service %s: %w", cfg.Name, ErrNoCommand)
	}

	cmd := buildCommand(cfg.Command)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	cmd.Env = cfg.Environ()
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	groupProcess(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("run %s: %w", cfg.Name, err)
	}
	pid := cmd.Process.Pid

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return exitStatus(err)
	case sig := <-sigc:
		m.logger.Info("interrupted, stopping foreground service", "service", cfg.Name, "signal", sig.String())
		_ = signalGroup(pid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(m.graceful):
			_ = signalGroup(pid, syscall.SIGKILL)
			<-done
		}
		return 130, nil
	}
}

// exitStatus converts a Wait error into a shell-style exit code: signal
// deaths map to 128+signal, ordinary non-zero exits pass through as codes,
// not errors.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return ee.ExitCode(), nil
	}
	return 0, err
}
