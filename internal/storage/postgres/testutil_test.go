package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"agent-rep/internal/solana"
)

// One container serves the whole package; every test gets its own database.
var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
	databaseSeq   atomic.Int64
)

func sharedContainer(t *testing.T) string {
	t.Helper()
	containerOnce.Do(func() {
		ctx := context.Background()
		c, err := postgres.Run(ctx, "postgres:15-alpine",
			postgres.WithDatabase("agentrep"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = c.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr, "failed to start postgres container")
	return containerDSN
}

// setupTestDB returns a pool on a freshly migrated database.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()
	base := sharedContainer(t)

	admin, err := NewPool(ctx, base)
	require.NoError(t, err, "failed to connect admin pool")
	name := fmt.Sprintf("ledger_test_%d", databaseSeq.Add(1))
	_, err = admin.Exec(ctx, "CREATE DATABASE "+name)
	admin.Close()
	require.NoError(t, err, "failed to create database %s", name)

	u, err := url.Parse(base)
	require.NoError(t, err)
	u.Path = "/" + name
	pool, err := NewPool(ctx, u.String())
	require.NoError(t, err, "failed to create pool")

	applySchema(t, pool)
	return pool, pool.Close
}

// applySchema runs the migration files in name order. The test binary runs
// in the package directory so the files are read relative to it.
func applySchema(t *testing.T, pool *Pool) {
	t.Helper()
	dir := os.DirFS("../migrations/postgres")
	files, err := fs.Glob(dir, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "no postgres migrations found")
	sort.Strings(files)

	for _, file := range files {
		sql, err := fs.ReadFile(dir, file)
		require.NoError(t, err, "failed to read migration %s", file)
		_, err = pool.Exec(context.Background(), string(sql))
		require.NoError(t, err, "failed to apply migration %s", file)
	}
}

// key returns a deterministic test key distinct per seed.
func key(seed byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = seed
	}
	return k
}

func ptr[T any](v T) *T { return &v }
