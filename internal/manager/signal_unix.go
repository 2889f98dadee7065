//go:build !windows

package manager

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/mkrell/warden/internal/health"
)

// killEscalateGrace bounds the post-SIGKILL wait for the process to vanish.
const killEscalateGrace = 2 * time.Second

// signalGroup signals the whole process group, falling back to the single
// PID when the group signal fails. ESRCH from both means the target is
// gone, which every caller treats as success.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// terminateLocked performs the graceful-then-forceful stop sequence:
// SIGTERM to the group, poll liveness until timeout, escalate to SIGKILL,
// poll briefly again. The process being gone at any point is success; an
// error means it is confirmed still alive at the end.
func (m *Manager) terminateLocked(pid int, timeout time.Duration) error {
	if err := signalGroup(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("sigterm failed", "pid", pid, "error", err)
	}
	if waitGone(pid, timeout) {
		return nil
	}
	m.logger.Warn("graceful stop timed out, escalating", "pid", pid, "timeout", timeout)
	if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("sigkill failed", "pid", pid, "error", err)
	}
	if waitGone(pid, killEscalateGrace) {
		return nil
	}
	return fmt.Errorf("pid %d still alive after SIGKILL", pid)
}

// waitGone polls PID liveness until the process disappears or d elapses.
func waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !health.PIDAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
