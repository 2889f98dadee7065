package manager

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/mkrell/warden/internal/logtail"
)

// LogBundle carries the tails of both captured streams plus the file paths
// so a caller can follow them directly.
type LogBundle struct {
	Stdout     []string `json:"stdout"`
	Stderr     []string `json:"stderr"`
	StdoutPath string   `json:"stdout_path"`
	StderrPath string   `json:"stderr_path"`
}

// Logs returns the last lines of each captured stream. lines <= 0 means
// everything. A stream whose file does not exist reads as empty, so a
// never-started service yields an empty bundle, not an error.
func (m *Manager) Logs(name string, lines int) (LogBundle, error) {
	bundle := LogBundle{
		StdoutPath: m.store.StdoutPath(name),
		StderrPath: m.store.StderrPath(name),
	}
	var err error
	if bundle.Stdout, err = tailOrEmpty(bundle.StdoutPath, lines); err != nil {
		return bundle, fmt.Errorf("read stdout log for %s: %w", name, err)
	}
	if bundle.Stderr, err = tailOrEmpty(bundle.StderrPath, lines); err != nil {
		return bundle, fmt.Errorf("read stderr log for %s: %w", name, err)
	}
	return bundle, nil
}

func tailOrEmpty(path string, lines int) ([]string, error) {
	out, err := logtail.Tail(path, lines)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	return out, err
}
