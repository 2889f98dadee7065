package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrNotFound is returned for services with no usable record on disk.
// Corrupt records are deliberately folded into this: a record we cannot
// parse is treated as if it never existed.
var ErrNotFound = errors.New("service state not found")

// Store persists one JSON record per service under <dir>/state, with PID
// files under <dir>/pids and captured output under <dir>/logs.
type Store struct {
	dir string
}

// DefaultDir resolves the base directory: $WARDEN_HOME if set, otherwise
// ~/.warden.
func DefaultDir() (string, error) {
	if d := os.Getenv("WARDEN_HOME"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".warden"), nil
}

// NewStore creates the directory layout if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	for _, sub := range []string{"state", "pids", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) StatePath(name string) string {
	return filepath.Join(s.dir, "state", name+".json")
}

func (s *Store) PIDPath(name string) string {
	return filepath.Join(s.dir, "pids", name+".pid")
}

func (s *Store) PIDDir() string { return filepath.Join(s.dir, "pids") }

func (s *Store) StdoutPath(name string) string {
	return filepath.Join(s.dir, "logs", name+".stdout.log")
}

func (s *Store) StderrPath(name string) string {
	return filepath.Join(s.dir, "logs", name+".stderr.log")
}

// Save writes the record atomically. The pid-only-while-running invariant
// is enforced here so no writer can leak a PID into a terminal state.
func (s *Store) Save(rec Record) error {
	if rec.Name == "" {
		return errors.New("record has no name")
	}
	if rec.Status != StatusRunning {
		rec.PID = 0
	}
	if rec.Status == StatusUnknown {
		return fmt.Errorf("refusing to persist synthetic status for %s", rec.Name)
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", rec.Name, err)
	}
	if err := renameio.WriteFile(s.StatePath(rec.Name), append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("write state for %s: %w", rec.Name, err)
	}
	return nil
}

// Load reads one record. Missing and unreadable and corrupt files all
// report ErrNotFound; corruption is logged but never fatal.
func (s *Store) Load(name string) (Record, error) {
	b, err := os.ReadFile(s.StatePath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		slog.Warn("unreadable service state", "service", name, "error", err)
		return Record{}, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		slog.Warn("corrupt service state treated as missing", "service", name, "error", err)
		return Record{}, ErrNotFound
	}
	if rec.Name == "" {
		rec.Name = name
	}
	return rec, nil
}

// Remove hard-prunes the record file for name. No lifecycle transition
// calls this; stop and cleanup keep records around as history.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.StatePath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state for %s: %w", name, err)
	}
	return nil
}

// List returns every parseable record sorted by name. Corrupt entries are
// skipped with a warning.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "state"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	recs := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		rec, err := s.Load(name)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs, nil
}
