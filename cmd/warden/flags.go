package main

import "time"

// Flag structs decouple cobra wiring from command logic for testing.

// GlobalFlags are persistent across all subcommands.
type GlobalFlags struct {
	BaseDir    string // state directory; empty resolves $WARDEN_HOME, then ~/.warden
	APIUrl     string // non-empty routes verbs through a running serve daemon
	APITimeout time.Duration
	LogLevel   string
}

// StartFlags describe the service definition for start. With ConfigPath set,
// the definition comes from the services file instead of the other flags.
type StartFlags struct {
	Cmd         string
	Type        string
	Restart     string
	Port        int
	Host        string
	HealthCheck string
	Env         []string
	WorkDir     string
	ConfigPath  string
}

type StopFlags struct {
	Timeout time.Duration
}

type RestartFlags struct {
	Timeout time.Duration
}

type LogsFlags struct {
	Lines  int
	Follow bool
}

type RunFlags struct {
	Cmd     string
	Env     []string
	WorkDir string
}

type ServeFlags struct {
	ConfigPath string
	Listen     string
	APIBase    string
	Metrics    bool
	HistoryDSN string
	LogFile    string
	PidFile    string
	Detach     bool
}
