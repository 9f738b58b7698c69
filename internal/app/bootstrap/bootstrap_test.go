package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"agora/internal/platform/config"
)

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{
		"":      ":8080",
		"9090":  ":9090",
		":7000": ":7000",
		" 81 ":  ":81",
	}
	for input, want := range cases {
		if got := normalizeAddr(input); got != want {
			t.Fatalf("normalizeAddr(%q): expected %q, got %q", input, want, got)
		}
	}
}

func TestBuildAPIRequiresSessionAdmin(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "memory")
	t.Setenv("SESSION_ADMIN", "")
	if _, err := BuildAPI(context.Background()); err == nil {
		t.Fatalf("expected missing SESSION_ADMIN to fail")
	}
}

func TestBuildAPIInMemoryEmbedsWorker(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "memory")
	t.Setenv("SESSION_ADMIN", "admin")
	t.Setenv("ENABLE_EMBEDDED_WORKER", "false")

	app, err := BuildAPI(context.Background())
	if err != nil {
		t.Fatalf("build api: %v", err)
	}
	defer func() { _ = app.Close() }()
	if app.worker == nil {
		t.Fatalf("memory backend must run the worker inside the api process")
	}
	if app.worker.notification == nil {
		t.Fatalf("notification consumer should be enabled by default")
	}
}

func TestBuildAPIRejectsInvalidRateLimit(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "memory")
	t.Setenv("SESSION_ADMIN", "admin")
	t.Setenv("RATE_LIMIT", "lots")
	if _, err := BuildAPI(context.Background()); err == nil {
		t.Fatalf("expected invalid RATE_LIMIT to fail")
	}
}

func TestBuildWorkerRejectsMemoryBackend(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "memory")
	if _, err := BuildWorker(); err == nil {
		t.Fatalf("expected memory backend to be rejected for the worker process")
	}
}

func TestOpenStorageSQLiteMigrates(t *testing.T) {
	cfg := config.Config{
		DatabaseType: config.DatabaseSQLite,
		SQLiteDSN:    filepath.Join(t.TempDir(), "agora.db"),
	}
	store, err := openStorage(cfg, nil)
	if err != nil {
		t.Fatalf("open sqlite storage: %v", err)
	}
	defer func() { _ = store.postgres.Close() }()

	if store.postgres == nil || store.sessions == nil || store.outbox == nil {
		t.Fatalf("sqlite storage should wire every port: %+v", store)
	}
	pending, err := store.outbox.ListPendingOutbox(context.Background(), 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d rows err=%v", len(pending), err)
	}
}

func TestOpenStoragePostgresRequiresDSN(t *testing.T) {
	if _, err := openStorage(config.Config{DatabaseType: config.DatabasePostgres}, nil); err == nil {
		t.Fatalf("expected missing POSTGRES_DSN to fail")
	}
}
