// Package pgtest hands integration tests a migrated, empty Postgres database.
//
// DATABASE_URL wins when set; tests then serialize on dblock because every
// package shares that database. Otherwise a postgres container is started
// once per test binary. Tests are skipped when neither is available.
package pgtest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/fraudflow/internal/db"
	"github.com/ayo6706/fraudflow/internal/testutil/dblock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// New returns a pool on a freshly truncated schema. The pool is closed when
// the test ends.
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn != "" {
		dblock.Acquire(t)
	} else {
		dsn = startContainer(t)
	}

	require.NoError(t, db.Migrate(dsn, nil))

	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn, db.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE transaction_facts, outbox_events, fraud_decisions, transfers, audit_log RESTART IDENTITY`)
	require.NoError(t, err)
	return pool
}

func startContainer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("fraudflow_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("postgres container unavailable: %v", containerErr)
	}
	return containerDSN
}
