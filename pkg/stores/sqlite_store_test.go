package stores

import (
	"context"
	"testing"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"deployment_jobs", "job_events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	if _, err := store.db.ExecContext(ctx, "SELECT remote_attempt, remote_operation FROM deployment_jobs"); err != nil {
		t.Errorf("remote attempt columns missing: %v", err)
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestNewStoreDriver(t *testing.T) {
	if _, err := New(Config{Driver: "mysql"}); !deployment.IsCode(err, deployment.ErrCodeValidation) {
		t.Errorf("expected validation error for unknown driver, got %v", err)
	}
	if _, err := New(Config{Driver: DriverPostgres}); err == nil {
		t.Error("expected postgres driver without dsn to fail")
	}
	store, err := New(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("expected sqlite store by default, got %T", store)
	}
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) JobStore { return setupTestStore(t) })
}

func TestSQLiteHealthCheck(t *testing.T) {
	ctx := context.Background()

	uninitialized, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	closed := setupTestStore(t)
	if err := closed.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	tests := []struct {
		name  string
		store *SQLiteStore
	}{
		{name: "not initialized", store: uninitialized},
		{name: "closed", store: closed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.store.HealthCheck(ctx)
			if !deployment.IsCode(err, deployment.ErrCodePersistence) {
				t.Errorf("expected PERSISTENCE_ERROR, got %v", err)
			}
		})
	}

	if err := setupTestStore(t).HealthCheck(ctx); err != nil {
		t.Errorf("expected healthy store, got %v", err)
	}
}
