//go:build integration

package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/db"
	"github.com/mwexplorer/chainstate/internal/store"
)

// setupTestStore mirrors the store package's own integration harness: a
// disposable PostgreSQL container with migrations applied, so reorg repair
// can be exercised against real transactional semantics instead of a fake.
func setupTestStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("chainstate_test"),
		postgres.WithUsername("chainstate_test"),
		postgres.WithPassword("chainstate_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbConfig := &db.Config{
		Host:         host,
		Port:         port.Int(),
		Name:         "chainstate_test",
		User:         "chainstate_test",
		Password:     "chainstate_test",
		MaxConns:     5,
		ConnTimeout:  5 * time.Second,
		IdleTimeout:  5 * time.Minute,
		ConnLifetime: 30 * time.Minute,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	require.NoError(t, db.RunMigrations(dbConfig, migrationsDir(t), logger))

	pool, err := db.NewPool(ctx, dbConfig, logger)
	require.NoError(t, err)

	s := store.NewStore(pool)
	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return s, cleanup
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("migrations directory not found")
		}
		dir = parent
	}
}

func createTestBlockchain(t *testing.T, s *store.Store, slug string) *chain.Blockchain {
	t.Helper()
	bc := &chain.Blockchain{
		Slug:                      slug,
		Archive:                   false,
		NodeURL:                   "http://localhost:3413",
		NodeUser:                  "grin",
		NodePassword:              "secret",
		SignificantReorgThreshold: 2,
	}
	created, err := s.CreateBlockchain(context.Background(), bc)
	require.NoError(t, err)
	return created
}
