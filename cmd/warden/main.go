// Command warden manages long-running background services from short-lived
// CLI invocations. Definitions, state records, and captured output live on
// the filesystem; 'warden serve' adds supervision and an HTTP API on top of
// the same state directory.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkrell/warden/internal/logger"
	"github.com/mkrell/warden/internal/logtail"
	"github.com/mkrell/warden/internal/server"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	c := &command{global: &GlobalFlags{}}

	root := createRootCommand(c)
	root.AddCommand(
		createStartCommand(c),
		createStopCommand(c),
		createRestartCommand(c),
		createStatusCommand(c),
		createListCommand(c),
		createInfoCommand(c),
		createLogsCommand(c),
		createRunCommand(c),
		createHealthCommand(c),
		createCleanupCommand(c),
		createServeCommand(c),
	)
	return root
}

func createRootCommand(c *command) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Service lifecycle manager",
		Long: `Warden starts, stops, and supervises long-running background services.
State lives on the local filesystem, so short-lived invocations can manage
services without a daemon; 'warden serve' adds restart policies, periodic
health checks, and an HTTP API.

Examples:
  warden start web --cmd="python -m http.server 8000" --type=http --port=8000
  warden status web
  warden logs web --follow
  warden serve --config=services.toml
  warden list --api-url=http://127.0.0.1:8420/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lg, err := logger.New(logger.Options{Level: c.global.LogLevel})
			if err != nil {
				return err
			}
			c.logger = lg
			slog.SetDefault(lg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.global.BaseDir, "base-dir", "", "state directory (default $WARDEN_HOME, then ~/.warden)")
	root.PersistentFlags().StringVar(&c.global.APIUrl, "api-url", "", "daemon URL, e.g. http://127.0.0.1:8420/api (default: act locally)")
	root.PersistentFlags().DurationVar(&c.global.APITimeout, "api-timeout", 10*time.Second, "request timeout for --api-url")
	root.PersistentFlags().StringVar(&c.global.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	return root
}

func createStartCommand(c *command) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start NAME",
		Short: "Start a service in the background",
		Long: `Start a service as a detached background process and record it as
running. The definition comes from the flags, or from a services file with
--config. Starting an already running service fails and reports the live PID.

Examples:
  warden start web --cmd="python -m http.server 8000" --type=http --port=8000
  warden start worker --cmd="./worker" --restart=on-failure --env=QUEUE=jobs
  warden start web --config=services.toml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(args[0], *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Cmd, "cmd", "", "command line to run")
	cmd.Flags().StringVar(&flags.Type, "type", "", "service type: http, worker, daemon (default daemon)")
	cmd.Flags().StringVar(&flags.Restart, "restart", "", "restart policy: never, on-failure, always (default never)")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port for HTTP health checks")
	cmd.Flags().StringVar(&flags.Host, "host", "", "host for HTTP health checks (default 127.0.0.1)")
	cmd.Flags().StringVar(&flags.HealthCheck, "health-check", "", "HTTP path (leading /) or registered probe name")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "environment entry KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&flags.WorkDir, "workdir", "", "working directory for the service")
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "services file to take the definition from")
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	flags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop a running service",
		Long: `Stop a service's process group: SIGTERM first, SIGKILL after the grace
period. Stopping an unknown or already stopped service succeeds as a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(args[0], *flags)
		},
	}
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "grace period before SIGKILL (default 10s)")
	return cmd
}

func createRestartCommand(c *command) *cobra.Command {
	flags := &RestartFlags{}
	cmd := &cobra.Command{
		Use:   "restart NAME",
		Short: "Restart a service from its stored definition",
		Long: `Stop the service if it is running, then start it again from the
definition recorded at its last start. The restart count carries over.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(args[0], *flags)
		},
	}
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "grace period before SIGKILL (default 10s)")
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Show one service's record",
		Long: `Show the service's record, reconciled against OS reality: a record
that says running whose process is gone reads (and is corrected to) stopped.
Unknown services report status "unknown".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(args[0])
		},
	}
}

func createListCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known service",
		Long:  `List the reconciled record of every known service, sorted by name.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List()
		},
	}
}

func createInfoCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Show a service's record plus process stats",
		Long: `Show the reconciled record together with best-effort process stats
(CPU, memory, threads, uptime) and the captured log paths. Unlike status,
an unknown service is an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Info(args[0])
		},
	}
}

func createLogsCommand(c *command) *cobra.Command {
	flags := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs NAME",
		Short: "Show captured service output",
		Long: `Print the tail of the service's captured output: stdout lines to
stdout, stderr lines to stderr. --follow keeps streaming until interrupted
and works only against the local state directory.

Examples:
  warden logs web
  warden logs web --lines=200
  warden logs web --follow 2>/dev/null`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(args[0], *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Lines, "lines", logtail.DefaultLines, "tail length per stream; negative means everything")
	cmd.Flags().BoolVar(&flags.Follow, "follow", false, "keep streaming appended output until interrupted")
	return cmd
}

func createRunCommand(c *command) *cobra.Command {
	flags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Run a service in the foreground",
		Long: `Run the command attached to the terminal and exit with its exit code.
Nothing is recorded; this is the debugging path, not service management.
An interrupt stops the process group and exits 130.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := c.Run(args[0], *flags)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Cmd, "cmd", "", "command line to run")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "environment entry KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&flags.WorkDir, "workdir", "", "working directory for the command")
	return cmd
}

func createHealthCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "health NAME",
		Short: "Run a service's health check once",
		Long: `Run the configured health check once and print the result. The
outcome is persisted on the record. Services without a configured check
print "healthy": null.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Health(args[0])
		},
	}
}

func createCleanupCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Correct stale records and sweep orphaned PID files",
		Long: `Correct records whose process is gone and remove PID files no live
process backs. Idempotent: a second immediate run corrects nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Cleanup()
		},
	}
}

func createServeCommand(c *command) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervision daemon with an HTTP API",
		Long: `Run the long-lived daemon: it enforces restart policies, runs periodic
health checks, and exposes the management API for --api-url clients. Any
running service whose definition carries a restart policy is picked up,
however it was started.

Examples:
  warden serve --config=services.toml
  warden serve --listen=:9000 --metrics
  warden serve --detach --log-file=/var/log/warden.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(c, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "services file with definitions and defaults")
	cmd.Flags().StringVar(&flags.Listen, "listen", defaultListen, "API listen address")
	cmd.Flags().StringVar(&flags.APIBase, "api-base", server.DefaultBasePath, "API base path")
	cmd.Flags().BoolVar(&flags.Metrics, "metrics", false, "expose Prometheus metrics at /metrics")
	cmd.Flags().StringVar(&flags.HistoryDSN, "history-dsn", "", "lifecycle event sink DSN (sqlite, postgres, clickhouse, opensearch)")
	cmd.Flags().StringVar(&flags.LogFile, "log-file", "", "write daemon logs to a rotating file instead of stderr")
	cmd.Flags().StringVar(&flags.PidFile, "pid-file", "", "write the daemon PID here (default <base-dir>/serve.pid with --detach)")
	cmd.Flags().BoolVar(&flags.Detach, "detach", false, "run in the background, detached from the terminal")
	return cmd
}
