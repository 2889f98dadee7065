package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/logtail"
	"github.com/mkrell/warden/internal/manager"
	"github.com/mkrell/warden/pkg/client"
)

// command binds the verb implementations to the global flags. Each verb acts
// on the local state directory unless --api-url routes it through a running
// serve daemon.
type command struct {
	global *GlobalFlags
	logger *slog.Logger // built by the root's PersistentPreRunE
}

type startResult struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
}

type stopResult struct {
	Name    string `json:"name"`
	Stopped bool   `json:"stopped"`
}

type healthResult struct {
	Name    string `json:"name"`
	Healthy *bool  `json:"healthy"`
}

type cleanupResult struct {
	Corrected int `json:"corrected"`
}

func (c *command) remote() bool { return c.global.APIUrl != "" }

func (c *command) newManager() (*manager.Manager, error) {
	return manager.New(manager.Options{BaseDir: c.global.BaseDir, Logger: c.logger})
}

func (c *command) apiClient() *client.Client {
	return client.New(client.Config{
		BaseURL: c.global.APIUrl,
		Timeout: c.global.APITimeout,
		Logger:  c.logger,
	})
}

func (c *command) apiCtx() (context.Context, context.CancelFunc) {
	timeout := c.global.APITimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// resolveService builds the definition for start: from the services file
// when --config is given, from the flags otherwise.
func resolveService(name string, f StartFlags) (config.Service, error) {
	if f.ConfigPath != "" {
		file, err := config.Load(f.ConfigPath)
		if err != nil {
			return config.Service{}, err
		}
		svc, ok := file.Lookup(name)
		if !ok {
			return config.Service{}, fmt.Errorf("service %q not defined in %s", name, f.ConfigPath)
		}
		return svc, nil
	}
	env, err := parseEnv(f.Env)
	if err != nil {
		return config.Service{}, err
	}
	return config.Service{
		Name:        name,
		Command:     f.Cmd,
		Type:        config.ServiceType(f.Type),
		Restart:     config.RestartPolicy(f.Restart),
		Port:        f.Port,
		Host:        f.Host,
		HealthCheck: f.HealthCheck,
		Env:         env,
		WorkDir:     f.WorkDir,
	}, nil
}

func toClientService(svc config.Service) client.Service {
	return client.Service{
		Name:        svc.Name,
		Command:     svc.Command,
		Type:        string(svc.Type),
		Restart:     string(svc.Restart),
		Port:        svc.Port,
		Host:        svc.Host,
		HealthCheck: svc.HealthCheck,
		Env:         svc.Env,
		WorkDir:     svc.WorkDir,
	}
}

func (c *command) Start(name string, f StartFlags) error {
	svc, err := resolveService(name, f)
	if err != nil {
		return err
	}
	var pid int
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		pid, err = c.apiClient().Start(ctx, toClientService(svc))
	} else {
		var mgr *manager.Manager
		if mgr, err = c.newManager(); err == nil {
			pid, err = mgr.Start(svc)
		}
	}
	if err != nil {
		return err
	}
	printJSON(startResult{Name: name, PID: pid})
	return nil
}

func (c *command) Stop(name string, f StopFlags) error {
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		if err := c.apiClient().Stop(ctx, name, f.Timeout); err != nil {
			return err
		}
	} else {
		mgr, err := c.newManager()
		if err != nil {
			return err
		}
		if err := mgr.Stop(name, f.Timeout); err != nil {
			return err
		}
	}
	printJSON(stopResult{Name: name, Stopped: true})
	return nil
}

func (c *command) Restart(name string, f RestartFlags) error {
	var pid int
	var err error
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		pid, err = c.apiClient().Restart(ctx, name, f.Timeout)
	} else {
		var mgr *manager.Manager
		if mgr, err = c.newManager(); err == nil {
			pid, err = mgr.Restart(name, f.Timeout)
		}
	}
	if err != nil {
		return err
	}
	printJSON(startResult{Name: name, PID: pid})
	return nil
}

// Status prints the reconciled record. Names the daemon does not know print
// as a synthetic unknown record, matching local behavior.
func (c *command) Status(name string) error {
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		rec, err := c.apiClient().Status(ctx, name)
		if client.IsNotFound(err) {
			printJSON(client.Record{Name: name, Status: client.StatusUnknown, Health: "unknown"})
			return nil
		}
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil
	}
	mgr, err := c.newManager()
	if err != nil {
		return err
	}
	printJSON(mgr.Status(name))
	return nil
}

func (c *command) List() error {
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		recs, err := c.apiClient().List(ctx)
		if err != nil {
			return err
		}
		printJSON(recs)
		return nil
	}
	mgr, err := c.newManager()
	if err != nil {
		return err
	}
	recs, err := mgr.List()
	if err != nil {
		return err
	}
	printJSON(recs)
	return nil
}

func (c *command) Info(name string) error {
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		info, err := c.apiClient().Info(ctx, name)
		if err != nil {
			return err
		}
		printJSON(info)
		return nil
	}
	mgr, err := c.newManager()
	if err != nil {
		return err
	}
	info, err := mgr.Info(name)
	if err != nil {
		return err
	}
	printJSON(info)
	return nil
}

// Logs prints the captured tails: stdout lines to stdout, stderr lines to
// stderr, so shell redirection separates the streams.
func (c *command) Logs(name string, f LogsFlags) error {
	if f.Follow {
		if c.remote() {
			return errors.New("--follow reads log files directly and cannot be used with --api-url")
		}
		return c.followLogs(name, f.Lines)
	}
	var stdout, stderr []string
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		bundle, err := c.apiClient().Logs(ctx, name, f.Lines)
		if err != nil {
			return err
		}
		stdout, stderr = bundle.Stdout, bundle.Stderr
	} else {
		mgr, err := c.newManager()
		if err != nil {
			return err
		}
		bundle, err := mgr.Logs(name, f.Lines)
		if err != nil {
			return err
		}
		stdout, stderr = bundle.Stdout, bundle.Stderr
	}
	for _, l := range stdout {
		fmt.Println(l)
	}
	for _, l := range stderr {
		_, _ = fmt.Fprintln(os.Stderr, l)
	}
	return nil
}

// followLogs streams both captured files until interrupted.
func (c *command) followLogs(name string, lines int) error {
	mgr, err := c.newManager()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := mgr.Store()
	errc := make(chan error, 2)
	go func() { errc <- logtail.Follow(ctx, store.StdoutPath(name), lines, os.Stdout) }()
	go func() { errc <- logtail.Follow(ctx, store.StderrPath(name), lines, os.Stderr) }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

// Run executes the command in the foreground and reports the child's exit
// code. No record is written; this is the debug path, not service management.
func (c *command) Run(name string, f RunFlags) (int, error) {
	if c.remote() {
		return 0, errors.New("run executes in the foreground and cannot be used with --api-url")
	}
	env, err := parseEnv(f.Env)
	if err != nil {
		return 0, err
	}
	mgr, err := c.newManager()
	if err != nil {
		return 0, err
	}
	return mgr.RunForeground(config.Service{
		Name:    name,
		Command: f.Cmd,
		Env:     env,
		WorkDir: f.WorkDir,
	})
}

// Health runs the configured check once. Services without one print null
// rather than failing, so scripts can treat "no check" and "healthy"
// separately.
func (c *command) Health(name string) error {
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		healthy, err := c.apiClient().Health(ctx, name)
		if err != nil {
			return err
		}
		printJSON(healthResult{Name: name, Healthy: healthy})
		return nil
	}
	mgr, err := c.newManager()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	healthy, err := mgr.CheckHealth(ctx, name)
	if err != nil {
		if errors.Is(err, manager.ErrNoHealthCheck) {
			printJSON(healthResult{Name: name, Healthy: nil})
			return nil
		}
		return err
	}
	printJSON(healthResult{Name: name, Healthy: &healthy})
	return nil
}

func (c *command) Cleanup() error {
	var corrected int
	if c.remote() {
		ctx, cancel := c.apiCtx()
		defer cancel()
		n, err := c.apiClient().Cleanup(ctx)
		if err != nil {
			return err
		}
		corrected = n
	} else {
		mgr, err := c.newManager()
		if err != nil {
			return err
		}
		n, err := mgr.CleanupStale()
		if err != nil {
			return err
		}
		corrected = n
	}
	printJSON(cleanupResult{Corrected: corrected})
	return nil
}
