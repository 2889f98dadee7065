package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mkrell/warden/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("warden"),
		postgres.WithUsername("warden"),
		postgres.WithPassword("warden"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("cannot start postgres container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("terminate container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	events := []history.Event{
		{Service: "web", Action: history.ActionStart, PID: 4242, At: time.Now().UTC()},
		{Service: "web", Action: history.ActionHealth, PID: 4242, Detail: "unhealthy", At: time.Now().UTC()},
		{Service: "web", Action: history.ActionStop, At: time.Now().UTC()},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Action, err)
		}
	}

	var n int
	if err := sink.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM service_history WHERE service = 'web'`).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if n != len(events) {
		t.Fatalf("want %d rows, got %d", len(events), n)
	}
}
