//go:build !windows

package manager

import (
	"os/exec"
	"syscall"
)

// detachProcess starts the child in a new session (setsid) so it survives
// this process exiting and owns a process group equal to its PID, which is
// what group signalling in stop relies on.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// groupProcess puts a foreground child in its own process group so signals
// can be forwarded to the whole group without touching ourselves.
func groupProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
