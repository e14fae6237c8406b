package store

import (
	"context"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/session"
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("hoplite_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("docker unavailable, skipping: %v", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("pg connection string: %v", err)
	}
	return dsn, func() { container.Terminate(ctx) }
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("docker unavailable, skipping: %v", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint, func() { container.Terminate(ctx) }
}

// exerciseStore runs the shared round-trip checks against any store.
func exerciseStore(ctx context.Context, t *testing.T, s session.ConversationStore) {
	t.Helper()

	turns, err := s.Load(ctx, "missing")
	if err != nil {
		t.Fatalf("Load missing conversation: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty history, got %d turns", len(turns))
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	seed := []session.Turn{
		{Role: "user", Content: "hello", Timestamp: base},
		{Role: "assistant", Content: "hi there", Timestamp: base.Add(time.Second)},
		{Role: "user", Content: "tell me more", Timestamp: base.Add(2 * time.Second)},
	}
	for _, turn := range seed {
		if err := s.Save(ctx, "c1", turn); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	turns, err = s.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	for i, turn := range turns {
		if turn.Role != seed[i].Role || turn.Content != seed[i].Content {
			t.Errorf("turn %d = %+v, want %+v", i, turn, seed[i])
		}
	}

	// Other conversations are unaffected by a delete.
	if err := s.Save(ctx, "c2", seed[0]); err != nil {
		t.Fatalf("Save c2: %v", err)
	}
	if err := s.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	turns, err = s.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected empty history after delete, got %d turns", len(turns))
	}
	turns, err = s.Load(ctx, "c2")
	if err != nil {
		t.Fatalf("Load c2: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("delete leaked into another conversation, got %d turns", len(turns))
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	dsn, cleanup := startPostgres(ctx, t)
	defer cleanup()

	pg, err := NewPostgres(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	exerciseStore(ctx, t, pg)
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	url, cleanup := startRedis(ctx, t)
	defer cleanup()

	r, err := NewRedis(ctx, url, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	exerciseStore(ctx, t, r)
}
