// Package testutil holds helpers shared by tests that need a real postgres.
package testutil

import (
	"fmt"
	"net"
	"os/exec"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nkiryanov/authhub/internal/db"
)

const postgresImage = "postgres:17-alpine"

// RandomPort asks the kernel for a free tcp port on loopback
func RandomPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close() // nolint:errcheck

	return ln.Addr().(*net.TCPAddr).Port, nil
}

type PostgresContainer struct {
	Pool      *pgxpool.Pool
	DSN       string
	Terminate func()
}

// StartPostgresContainer runs migrated authhub schema in a throwaway container.
// The test fails right away if docker is not available.
func StartPostgresContainer(t *testing.T) PostgresContainer {
	t.Helper()

	if out, err := exec.Command("docker", "info", "--format", "{{.ServerVersion}}").CombinedOutput(); err != nil {
		t.Fatalf("docker is required for postgres tests: %s", out)
	}

	hostPort, err := RandomPort()
	require.NoError(t, err, "no free port for postgres")

	bindPort := testcontainers.CustomizeRequestOption(func(req *testcontainers.GenericContainerRequest) error {
		req.ExposedPorts = []string{fmt.Sprintf("%d:5432", hostPort)}
		return nil
	})

	container, err := postgres.Run(t.Context(), postgresImage,
		postgres.WithDatabase("authhub-test"),
		postgres.WithUsername("authhub"),
		postgres.WithPassword("pwd"),
		postgres.BasicWaitStrategies(),
		bindPort,
	)
	require.NoError(t, err, "postgres container not started")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err)
	t.Logf("postgres is up: %s", dsn)

	pool, err := db.ConnectAndMigrate(t.Context(), dsn)
	require.NoError(t, err, "schema not migrated")

	return PostgresContainer{
		Pool: pool,
		DSN:  dsn,
		Terminate: func() {
			pool.Close()
			testcontainers.CleanupContainer(t, container)
		},
	}
}
