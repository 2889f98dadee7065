package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults carries tunables shared by the manager and supervisor. Zero
// values mean "use the built-in default".
type Defaults struct {
	GracefulTimeout time.Duration `toml:"graceful_timeout" mapstructure:"graceful_timeout"`
	HealthTimeout   time.Duration `toml:"health_timeout" mapstructure:"health_timeout"`
	HealthInterval  time.Duration `toml:"health_interval" mapstructure:"health_interval"`
	PollInterval    time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	RestartDelay    time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	MaxRestarts     int           `toml:"max_restarts" mapstructure:"max_restarts"`
	RestartWindow   time.Duration `toml:"restart_window" mapstructure:"restart_window"`
	LogTailLines    int           `toml:"log_tail_lines" mapstructure:"log_tail_lines"`
}

// File is the top-level TOML structure:
//
//	base_dir = "/var/lib/warden"
//
//	[defaults]
//	graceful_timeout = "10s"
//
//	[[service]]
//	name = "web"
//	command = "python -m http.server 8000"
//	type = "http"
//	restart = "on-failure"
//	port = 8000
//	health_check = "/health"
//	autostart = true
//
//	[service.env]
//	PORT = "8000"
type File struct {
	BaseDir    string    `toml:"base_dir" mapstructure:"base_dir"`
	HistoryDSN string    `toml:"history_dsn" mapstructure:"history_dsn"`
	Defaults   Defaults  `toml:"defaults" mapstructure:"defaults"`
	Services   []Service `toml:"service" mapstructure:"service"`
}

// Load parses and validates a services file. Every definition is returned
// normalized; duplicate names are an error.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(f.Services))
	for i := range f.Services {
		svc := f.Services[i].Normalized()
		if err := svc.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[svc.Name]; dup {
			return nil, fmt.Errorf("duplicate service %q in %s", svc.Name, path)
		}
		seen[svc.Name] = struct{}{}
		f.Services[i] = svc
	}
	return &f, nil
}

// Lookup returns the named service definition.
func (f *File) Lookup(name string) (Service, bool) {
	for _, s := range f.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}
