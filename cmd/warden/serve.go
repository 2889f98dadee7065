package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/history"
	"github.com/mkrell/warden/internal/history/factory"
	"github.com/mkrell/warden/internal/logger"
	"github.com/mkrell/warden/internal/manager"
	"github.com/mkrell/warden/internal/metrics"
	"github.com/mkrell/warden/internal/server"
	"github.com/mkrell/warden/internal/state"
	"github.com/mkrell/warden/internal/supervisor"
)

// defaultListen is the serve daemon's API address.
const defaultListen = ":8420"

// runServe is the long-lived mode: it owns supervision and exposes the
// manager over HTTP. Everything else in this binary is a short-lived
// invocation against the same state directory.
func runServe(c *command, f ServeFlags) error {
	gin.SetMode(gin.ReleaseMode)

	var file *config.File
	if f.ConfigPath != "" {
		var err error
		if file, err = config.Load(f.ConfigPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	// Flags win over the services file for shared settings.
	baseDir := c.global.BaseDir
	if baseDir == "" && file != nil {
		baseDir = file.BaseDir
	}
	dsn := f.HistoryDSN
	if dsn == "" && file != nil {
		dsn = file.HistoryDSN
	}

	if f.Detach {
		pidPath, err := daemonPidPath(baseDir, f.PidFile)
		if err != nil {
			return err
		}
		// Exits the parent; only the detached child continues past here.
		if err := daemonize(pidPath, f.LogFile); err != nil {
			return err
		}
	}

	if f.LogFile != "" {
		lg, err := logger.New(logger.Options{
			Level:  c.global.LogLevel,
			Format: "text",
			Output: logger.Rotation{Path: f.LogFile}.Writer(),
		})
		if err != nil {
			return err
		}
		c.logger = lg
		slog.SetDefault(lg)
	}

	var sink history.Sink
	if dsn != "" {
		var err error
		if sink, err = factory.NewSinkFromDSN(dsn); err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
	}

	var defaults config.Defaults
	if file != nil {
		defaults = file.Defaults
	}

	mgr, err := manager.New(manager.Options{
		BaseDir:         baseDir,
		GracefulTimeout: defaults.GracefulTimeout,
		HealthTimeout:   defaults.HealthTimeout,
		Sink:            sink,
		Logger:          c.logger,
	})
	if err != nil {
		return err
	}

	// Fold OS reality into the records once before supervision starts, so
	// deaths that happened while no daemon was running read as stopped
	// rather than being counted as fresh crashes.
	if n, err := mgr.CleanupStale(); err != nil {
		c.logger.Warn("startup cleanup failed", "error", err)
	} else if n > 0 {
		c.logger.Info("startup cleanup corrected stale records", "count", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go metrics.NewResourceCollector(0).Run(ctx, mgr.RunningPIDs)
	}

	sup := supervisor.New(mgr, supervisor.Options{
		PollInterval:   defaults.PollInterval,
		HealthInterval: defaults.HealthInterval,
		RestartDelay:   defaults.RestartDelay,
		MaxRestarts:    defaults.MaxRestarts,
		RestartWindow:  defaults.RestartWindow,
		Logger:         c.logger,
	})

	if file != nil {
		autostart(mgr, file.Services, c.logger)
	}

	poll := defaults.PollInterval
	if poll <= 0 {
		poll = supervisor.DefaultPollInterval
	}
	go watchRunning(ctx, sup, mgr, poll, c.logger)

	if !f.Detach && f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.NewRouter(mgr, f.APIBase).Handler())
	if f.Metrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	srv := &http.Server{
		Addr:              f.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	c.logger.Info("serving API", "listen", f.Listen, "base_path", f.APIBase, "metrics", f.Metrics)

	select {
	case <-ctx.Done():
		c.logger.Info("signal received, shutting down")
	case err := <-serveErr:
		sup.Close()
		return fmt.Errorf("http server: %w", err)
	}

	// Monitors first: no restarts may race the shutdown. Running services
	// are left running; stopping them is an operator decision.
	sup.Close()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// daemonPidPath resolves where the detached daemon's PID is recorded.
func daemonPidPath(baseDir, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if baseDir == "" {
		var err error
		if baseDir, err = state.DefaultDir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(baseDir, "serve.pid"), nil
}

// autostart brings up the services the file marks autostart. Already running
// instances are fine; any other failure is logged and the rest proceed.
func autostart(mgr *manager.Manager, services []config.Service, lg *slog.Logger) {
	for _, svc := range services {
		if !svc.AutoStart {
			continue
		}
		pid, err := mgr.Start(svc)
		switch {
		case errors.Is(err, manager.ErrAlreadyRunning):
			lg.Info("autostart: already running", "service", svc.Name, "pid", pid)
		case err != nil:
			lg.Error("autostart failed", "service", svc.Name, "error", err)
		default:
			lg.Info("autostart", "service", svc.Name, "pid", pid)
		}
	}
}

// watchRunning keeps supervision in step with the store: any running record
// whose snapshot carries a restart policy gets a monitor, whether it was
// started through the API, by autostart, or by a CLI invocation before the
// daemon came up. Manually restarted failed services get picked up again on
// the next sweep.
func watchRunning(ctx context.Context, sup *supervisor.Supervisor, mgr *manager.Manager, interval time.Duration, lg *slog.Logger) {
	superviseRunning(sup, mgr, lg)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			superviseRunning(sup, mgr, lg)
		}
	}
}

func superviseRunning(sup *supervisor.Supervisor, mgr *manager.Manager, lg *slog.Logger) {
	recs, err := mgr.List()
	if err != nil {
		lg.Warn("supervision sweep failed", "error", err)
		return
	}
	watched := make(map[string]struct{})
	for _, name := range sup.Supervised() {
		watched[name] = struct{}{}
	}
	for _, rec := range recs {
		if rec.Status != state.StatusRunning || rec.Config == nil {
			continue
		}
		cfg := rec.Config.Normalized()
		if cfg.Restart == config.RestartNever {
			continue
		}
		if _, ok := watched[rec.Name]; ok {
			continue
		}
		if err := sup.Supervise(cfg); err != nil && !errors.Is(err, supervisor.ErrAlreadySupervised) {
			lg.Warn("supervise failed", "service", rec.Name, "error", err)
		}
	}
}
