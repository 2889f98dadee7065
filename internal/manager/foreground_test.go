//go:build !windows

package manager

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/state"
)

func TestRunForegroundExitCodes(t *testing.T) {
	m, _ := newTestManager(t)

	code, err := m.RunForeground(config.Service{Name: "ok", Command: "true"})
	if err != nil || code != 0 {
		t.Fatalf("true: code=%d err=%v", code, err)
	}

	// explicit shell invocations pass through without double-wrapping
	code, err = m.RunForeground(config.Service{Name: "three", Command: "sh -c 'exit 3'"})
	if err != nil {
		t.Fatal(err)
	}
	if code != 3 {
		t.Fatalf("exit 3 reported %d", code)
	}

	// a child killed by a signal maps to 128+sig
	code, err = m.RunForeground(config.Service{Name: "selfterm", Command: "kill -TERM $$"})
	if err != nil {
		t.Fatal(err)
	}
	if code != 128+int(syscall.SIGTERM) {
		t.Fatalf("signal death reported %d", code)
	}
}

func TestRunForegroundNoRecord(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.RunForeground(config.Service{Name: "fg", Command: "true"}); err != nil {
		t.Fatal(err)
	}
	if rec := m.Status("fg"); rec.Status != state.StatusUnknown {
		t.Fatalf("foreground run wrote a record: %+v", rec)
	}
	if _, err := os.Stat(m.Store().PIDPath("fg")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("foreground run wrote a pid file")
	}
}

func TestRunForegroundEmptyCommand(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.RunForeground(config.Service{Name: "fg"}); !errors.Is(err, ErrNoCommand) {
		t.Fatalf("expected ErrNoCommand, got %v", err)
	}
}

func TestRunForegroundInterrupt(t *testing.T) {
	m, _ := newTestManager(t)

	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	start := time.Now()
	code, err := m.RunForeground(config.Service{Name: "longrun", Command: "sleep 30"})
	if err != nil {
		t.Fatal(err)
	}
	if code != 130 {
		t.Fatalf("interrupted run reported %d, want 130", code)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("interrupt handling took %v", elapsed)
	}
}
