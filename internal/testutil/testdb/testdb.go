// Package testdb opens migrated record stores for tests.
package testdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/capitalize-ai/crisp-sync/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresDSNEnv names the variable that enables Postgres-backed tests.
const PostgresDSNEnv = "CRISP_SYNC_TEST_POSTGRES_DSN"

// SQLite returns a store backed by a private in-memory SQLite database with foreign keys enforced.
func SQLite(tb testing.TB) *store.Store {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	// A single connection keeps every query on the same in-memory database.
	return open(tb, store.Config{Driver: store.DriverSQLite, DSN: dsn, MaxOpenConns: 1})
}

// Postgres returns a store on the database named by CRISP_SYNC_TEST_POSTGRES_DSN, skipping the test when unset.
// Both tables are emptied before and after the test.
func Postgres(tb testing.TB) *store.Store {
	tb.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		tb.Skipf("%s not set", PostgresDSNEnv)
	}
	if err := waitForReady(context.Background(), dsn); err != nil {
		tb.Fatalf("postgres is not ready for connections: %v", err)
	}

	s := open(tb, store.Config{Driver: store.DriverPostgres, DSN: dsn, MaxOpenConns: 10})
	purge := func() {
		if _, err := s.DeleteAllConversations(context.Background()); err != nil {
			tb.Errorf("purge conversations: %v", err)
		}
	}
	purge()
	tb.Cleanup(purge)
	return s
}

func open(tb testing.TB, cfg store.Config) *store.Store {
	tb.Helper()

	ctx := context.Background()
	s, err := store.Open(ctx, cfg)
	if err != nil {
		tb.Fatalf("open %s store: %v", cfg.Driver, err)
	}
	tb.Cleanup(func() {
		if err := s.Close(); err != nil {
			tb.Errorf("close store: %v", err)
		}
	})
	if err := s.Migrate(ctx); err != nil {
		tb.Fatalf("migrate %s store: %v", cfg.Driver, err)
	}
	return s
}

func waitForReady(ctx context.Context, dsn string) error {
	deadline := time.Now().Add(20 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := pgx.Connect(attemptCtx, dsn)
		if err == nil {
			lastErr = conn.Ping(attemptCtx)
			_ = conn.Close(attemptCtx)
			cancel()
			if lastErr == nil {
				return nil
			}
		} else {
			lastErr = err
			cancel()
		}
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = context.DeadlineExceeded
	}
	return lastErr
}
