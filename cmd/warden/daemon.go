package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// daemonize re-executes the current invocation detached from the terminal
// and exits the parent. The child sees the same command line minus --detach
// and --pid-file; the parent records the child's PID before leaving. Running
// under an init system (parent PID 1) counts as already detached.
func daemonize(pidPath, logFile string) error {
	if os.Getppid() == 1 {
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	// #nosec 204
	cmd := exec.Command(executable, stripDetachArgs(os.Args[1:])...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil
	if logFile != "" {
		// The child rebuilds its logger onto this file too; the descriptor
		// catches whatever is written before that happens.
		// #nosec 304
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open daemon log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}
	if err := writePidFile(pidPath, cmd.Process.Pid); err != nil {
		return fmt.Errorf("write daemon pid file: %w", err)
	}
	fmt.Printf("daemon started, pid %d (pid file %s)\n", cmd.Process.Pid, pidPath)
	os.Exit(0)
	return nil
}

// stripDetachArgs removes --detach and --pid-file, with or without '=', so
// the re-executed child runs the same serve invocation in the foreground.
func stripDetachArgs(args []string) []string {
	out := make([]string, 0, len(args))
	skip := false
	for _, arg := range args {
		if skip {
			skip = false
			continue
		}
		switch {
		case arg == "--detach":
		case arg == "--pid-file":
			skip = true
		case strings.HasPrefix(arg, "--detach="), strings.HasPrefix(arg, "--pid-file="):
		default:
			out = append(out, arg)
		}
	}
	return out
}

func writePidFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func removePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}
