package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStore wraps a Store with test cleanup functionality.
type TestStore struct {
	*Store
	pool      *pgxpool.Pool
	container testcontainers.Container
}

// NewTestStore creates a Store backed by a migrated test database.
// It connects to TEST_DATABASE_URL when set; otherwise it starts a disposable
// Postgres container. The test is skipped if SKIP_DB_TESTS is set or no
// database can be reached.
func NewTestStore(t *testing.T) *TestStore {
	t.Helper()

	if os.Getenv("SKIP_DB_TESTS") != "" {
		t.Skip("Skipping database test (SKIP_DB_TESTS is set)")
	}

	ctx := context.Background()
	ts := &TestStore{}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		container, err := postgres.Run(ctx, "postgres:15-alpine",
			postgres.WithDatabase("nftactivity_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Skipf("Skipping database test: cannot start postgres container: %v", err)
		}
		ts.container = container

		dbURL, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			ts.terminate(t)
			t.Fatalf("failed to get connection string: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		ts.terminate(t)
		t.Skipf("Skipping database test: cannot connect to test database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		ts.terminate(t)
		t.Skipf("Skipping database test: cannot ping test database: %v", err)
	}

	ts.pool = pool
	ts.Store = NewStore(pool)
	if err := ts.Migrate(ctx); err != nil {
		ts.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return ts
}

// Close closes the pool and stops the container, if one was started.
func (ts *TestStore) Close() {
	if ts.pool != nil {
		ts.pool.Close()
	}
	if ts.container != nil {
		_ = ts.container.Terminate(context.Background())
	}
}

func (ts *TestStore) terminate(t *testing.T) {
	t.Helper()
	if ts.container == nil {
		return
	}
	if err := ts.container.Terminate(context.Background()); err != nil {
		t.Logf("failed to terminate container: %v", err)
	}
}

// Cleanup removes all data from test tables.
// Call this in tests to ensure clean state between test cases.
func (ts *TestStore) Cleanup(t *testing.T) {
	t.Helper()

	_, err := ts.pool.Exec(context.Background(), "TRUNCATE TABLE transaction_records, watched_mints")
	if err != nil {
		t.Fatalf("failed to cleanup test database: %v", err)
	}
}

// MustExec executes a SQL statement and fails the test if it errors.
// Useful for setting up test fixtures.
func (ts *TestStore) MustExec(t *testing.T, query string, args ...interface{}) {
	t.Helper()

	_, err := ts.pool.Exec(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("failed to execute query: %v\nQuery: %s", err, query)
	}
}
