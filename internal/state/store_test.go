package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkrell/warden/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	rec := Record{
		Name:      "web",
		Status:    StatusRunning,
		PID:       4242,
		StartedAt: &now,
		Health:    HealthUnknown,
		Config: &config.Service{
			Name:    "web",
			Command: "python -m http.server",
			Type:    config.TypeHTTP,
			Restart: config.RestartOnFailure,
			Port:    8000,
		},
	}
	if err := s.Save(rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load("web")
	if err != nil {
		t.Fatal(err)
	}
	if got.PID != 4242 || got.Status != StatusRunning {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(now) {
		t.Fatalf("started_at mismatch: %v", got.StartedAt)
	}
	if got.Config == nil || got.Config.Command != "python -m http.server" {
		t.Fatalf("config snapshot mismatch: %+v", got.Config)
	}
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCorruptRecordTreatedAsMissing(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.StatePath("bad"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := s.Load("bad")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt record must read as missing, got %v", err)
	}
	// and List must skip it without error
	if err := s.Save(Record{Name: "ok", Status: StatusStopped}); err != nil {
		t.Fatal(err)
	}
	recs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Name != "ok" {
		t.Fatalf("list should contain only the parseable record: %+v", recs)
	}
}

func TestSaveClearsPIDForTerminalStates(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(Record{Name: "w", Status: StatusStopped, PID: 999}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load("w")
	if err != nil {
		t.Fatal(err)
	}
	if got.PID != 0 {
		t.Fatalf("stopped record kept pid %d", got.PID)
	}
	if err := s.Save(Record{Name: "w", Status: StatusUnknown}); err == nil {
		t.Fatalf("unknown status must not be persisted")
	}
}

func TestListSorted(t *testing.T) {
	s := newTestStore(t)
	for _, n := range []string{"zeta", "alpha", "mid"} {
		if err := s.Save(Record{Name: n, Status: StatusStopped}); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 || recs[0].Name != "alpha" || recs[2].Name != "zeta" {
		t.Fatalf("unexpected order: %+v", recs)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(Record{Name: "gone", Status: StatusStopped}); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record should be pruned, got %v", err)
	}
	// removing again is fine
	if err := s.Remove("gone"); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultDirHonorsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WARDEN_HOME", dir)
	got, err := DefaultDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Fatalf("WARDEN_HOME not honored: %s", got)
	}
	s, err := NewStore("")
	if err != nil {
		t.Fatal(err)
	}
	if s.Dir() != dir {
		t.Fatalf("store dir %s", s.Dir())
	}
	if _, err := os.Stat(filepath.Join(dir, "state")); err != nil {
		t.Fatalf("state subdir missing: %v", err)
	}
}
