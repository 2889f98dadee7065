package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkrell/warden/internal/history"
	"github.com/mkrell/warden/internal/history/sqlite"
)

func TestSQLiteDispatch(t *testing.T) {
	for _, dsn := range []string{
		"sqlite://:memory:",
		":memory:",
		filepath.Join(t.TempDir(), "h.db"),
	} {
		s, err := NewSinkFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q: %v", dsn, err)
		}
		if _, ok := s.(*sqlite.Sink); !ok {
			t.Fatalf("dsn %q produced %T", dsn, s)
		}
		if err := s.Send(context.Background(), history.Event{
			Service: "x", Action: history.ActionStart, At: time.Now(),
		}); err != nil {
			t.Fatalf("send via %q: %v", dsn, err)
		}
		_ = s.Close()
	}
}

func TestRejectsUnknown(t *testing.T) {
	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatalf("empty DSN must error")
	}
	if _, err := NewSinkFromDSN("kafka://broker:9092/topic"); err == nil {
		t.Fatalf("unknown scheme must error")
	}
}
