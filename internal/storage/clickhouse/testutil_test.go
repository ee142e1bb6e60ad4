package clickhouse

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	serverOnce  sync.Once
	serverAddr  string
	serverErr   error
	databaseSeq atomic.Int64
)

// sharedServer starts one ClickHouse container per test binary.
func sharedServer(t *testing.T) string {
	t.Helper()
	serverOnce.Do(func() {
		ctx := context.Background()
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "clickhouse/clickhouse-server:24.1-alpine",
				ExposedPorts: []string{"9000/tcp"},
				WaitingFor: wait.ForAll(
					wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
					wait.ForListeningPort("9000/tcp"),
				),
			},
			Started: true,
		})
		if err != nil {
			serverErr = err
			return
		}
		host, err := c.Host(ctx)
		if err != nil {
			serverErr = err
			return
		}
		port, err := c.MappedPort(ctx, "9000")
		if err != nil {
			serverErr = err
			return
		}
		serverAddr = fmt.Sprintf("clickhouse://%s:%s", host, port.Port())
	})
	require.NoError(t, serverErr, "failed to start clickhouse container")
	return serverAddr
}

// setupTestDB returns a connection to a new database holding the archive schema.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping clickhouse container test in short mode")
	}
	ctx := context.Background()
	addr := sharedServer(t)

	name := fmt.Sprintf("archive_test_%d", databaseSeq.Add(1))
	admin, err := NewConnWithDatabase(ctx, addr+"/default", "")
	require.NoError(t, err)
	err = admin.Exec(ctx, "CREATE DATABASE "+name)
	admin.Close()
	require.NoError(t, err, "failed to create database %s", name)

	conn, err := NewConn(ctx, addr+"/"+name)
	require.NoError(t, err)
	applySchema(t, conn)
	return conn, func() { conn.Close() }
}

// applySchema executes the migration files one statement at a time. The
// files keep semicolons out of literals so a plain split is enough here.
func applySchema(t *testing.T, conn *Conn) {
	t.Helper()
	dir := os.DirFS("../migrations/clickhouse")
	files, err := fs.Glob(dir, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "no clickhouse migrations found")
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(dir, file)
		require.NoError(t, err, "failed to read migration %s", file)
		var body []string
		for _, line := range strings.Split(string(data), "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), "--") {
				body = append(body, line)
			}
		}
		for _, stmt := range strings.Split(strings.Join(body, "\n"), ";") {
			if stmt = strings.TrimSpace(stmt); stmt != "" {
				require.NoError(t, conn.Exec(context.Background(), stmt), "failed to apply %s", file)
			}
		}
	}
}
