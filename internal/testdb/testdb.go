// Package testdb provides a migrated Postgres database for tests.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"vowmarket/internal/migrations"
)

// New returns a database with the full schema applied. TEST_DATABASE_URL
// points it at an existing server; otherwise a throwaway container is
// started. The test is skipped under -short or when Docker is unavailable.
func New(t testing.TB) *sql.DB {
	t.Helper()
	dsn := DSN(t)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Ping(); err != nil {
		t.Skipf("skipping postgres test: could not connect: %v", err)
	}
	require.NoError(t, migrations.Run(db))
	Truncate(t, db)
	return db
}

// DSN returns a connection string for a test server without opening it.
func DSN(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	return startContainer(t)
}

// Truncate empties every table and frees all positions.
func Truncate(t testing.TB, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE TABLE events, premium_subscriptions, credentials, accounts CASCADE`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE premium_positions SET occupant_id = NULL, expires_at = NULL`)
	require.NoError(t, err)
}

func startContainer(t testing.TB) string {
	t.Helper()
	if tt, ok := t.(*testing.T); ok {
		testcontainers.SkipIfProviderIsNotHealthy(tt)
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("vowmarket"),
		postgres.WithUsername("vowmarket"),
		postgres.WithPassword("vowmarket"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		// Benchmarks get here without the provider health check.
		_ = testcontainers.TerminateContainer(ctr)
		t.Skipf("skipping postgres test: could not start container: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(ctr)
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}
