package main

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkrell/warden/internal/manager"
	"github.com/mkrell/warden/internal/server"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLocalCommand returns a command acting on a private state directory.
func newLocalCommand(t *testing.T) *command {
	t.Helper()
	return &command{
		global: &GlobalFlags{BaseDir: t.TempDir()},
		logger: discardLogger(),
	}
}

// newRemoteCommand returns a command routed through an in-process daemon.
func newRemoteCommand(t *testing.T) *command {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr, err := manager.New(manager.Options{
		BaseDir:         t.TempDir(),
		GracefulTimeout: 2 * time.Second,
		Logger:          discardLogger(),
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	srv := httptest.NewServer(server.NewRouter(mgr, "/api").Handler())
	t.Cleanup(srv.Close)
	return &command{
		global: &GlobalFlags{APIUrl: srv.URL + "/api", APITimeout: 5 * time.Second},
		logger: discardLogger(),
	}
}

func TestCmdStartStatusStopLocal(t *testing.T) {
	c := newLocalCommand(t)
	if err := c.Start("c1", StartFlags{Cmd: "sleep 5"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Status("c1"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := c.List(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := c.Info("c1"); err != nil {
		t.Fatalf("info: %v", err)
	}
	if err := c.Stop("c1", StopFlags{Timeout: time.Second}); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCmdStartFromConfigFile(t *testing.T) {
	c := newLocalCommand(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "services.toml")
	cfg := `
[[service]]
name = "web"
command = "sleep 5"
`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	if err := c.Start("web", StartFlags{ConfigPath: path}); err != nil {
		t.Fatalf("start from config: %v", err)
	}
	defer func() { _ = c.Stop("web", StopFlags{Timeout: time.Second}) }()

	if err := c.Start("ghost", StartFlags{ConfigPath: path}); err == nil {
		t.Fatal("starting a service the file does not define should fail")
	}
}

func TestCmdStartRejectsBadEnv(t *testing.T) {
	c := newLocalCommand(t)
	if err := c.Start("e1", StartFlags{Cmd: "sleep 1", Env: []string{"NOVALUE"}}); err == nil {
		t.Fatal("malformed env entry should be rejected before starting")
	}
}

func TestCmdRunExitCode(t *testing.T) {
	c := newLocalCommand(t)
	code, err := c.Run("rc", RunFlags{Cmd: "sh -c 'exit 3'"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}

	code, err = c.Run("ok", RunFlags{Cmd: "true"})
	if err != nil || code != 0 {
		t.Fatalf("run true: code=%d err=%v", code, err)
	}
}

func TestCmdRunRejectsRemote(t *testing.T) {
	c := newRemoteCommand(t)
	if _, err := c.Run("x", RunFlags{Cmd: "true"}); err == nil {
		t.Fatal("run should refuse --api-url")
	}
}

func TestCmdFollowRejectsRemote(t *testing.T) {
	c := newRemoteCommand(t)
	if err := c.Logs("x", LogsFlags{Follow: true}); err == nil {
		t.Fatal("--follow should refuse --api-url")
	}
}

func TestCmdHealthWithoutCheck(t *testing.T) {
	c := newLocalCommand(t)
	if err := c.Start("h1", StartFlags{Cmd: "sleep 5"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = c.Stop("h1", StopFlags{Timeout: time.Second}) }()

	// No configured check prints healthy:null and succeeds.
	if err := c.Health("h1"); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestCmdCleanupLocal(t *testing.T) {
	c := newLocalCommand(t)
	if err := c.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

func TestCmdInfoUnknownIsError(t *testing.T) {
	c := newLocalCommand(t)
	if err := c.Info("ghost"); err == nil {
		t.Fatal("info for an unknown service should fail")
	}
}

func TestCmdRemoteLifecycle(t *testing.T) {
	c := newRemoteCommand(t)
	if err := c.Start("r1", StartFlags{Cmd: "sleep 5"}); err != nil {
		t.Fatalf("remote start: %v", err)
	}
	if err := c.Status("r1"); err != nil {
		t.Fatalf("remote status: %v", err)
	}
	if err := c.List(); err != nil {
		t.Fatalf("remote list: %v", err)
	}
	if err := c.Logs("r1", LogsFlags{Lines: 10}); err != nil {
		t.Fatalf("remote logs: %v", err)
	}
	if err := c.Cleanup(); err != nil {
		t.Fatalf("remote cleanup: %v", err)
	}
	if err := c.Stop("r1", StopFlags{Timeout: time.Second}); err != nil {
		t.Fatalf("remote stop: %v", err)
	}
}

func TestCmdRemoteStatusUnknownPrintsRecord(t *testing.T) {
	c := newRemoteCommand(t)
	// The daemon answers 404; the CLI renders it as a synthetic unknown
	// record, matching local behavior.
	if err := c.Status("ghost"); err != nil {
		t.Fatalf("remote status of unknown service should not fail: %v", err)
	}
}
