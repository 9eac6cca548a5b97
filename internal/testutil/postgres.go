package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ppiankov/pgokache/internal/model"
)

// SeedSQL creates the extension, a small schema and enough statement
// traffic for pg_stat_statements to report.
const SeedSQL = `
CREATE EXTENSION IF NOT EXISTS pg_stat_statements;

CREATE TABLE IF NOT EXISTS customers (
	id SERIAL PRIMARY KEY,
	email TEXT NOT NULL,
	region TEXT NOT NULL DEFAULT 'eu'
);

CREATE TABLE IF NOT EXISTS orders (
	id SERIAL PRIMARY KEY,
	customer_id INTEGER NOT NULL,
	amount NUMERIC(10,2) NOT NULL,
	created_at TIMESTAMPTZ DEFAULT NOW()
);

INSERT INTO customers (email, region)
SELECT 'user' || g || '@example.com', CASE WHEN g % 2 = 0 THEN 'eu' ELSE 'us' END
FROM generate_series(1, 500) AS g;

INSERT INTO orders (customer_id, amount)
SELECT (g % 500) + 1, (g % 97) + 0.99
FROM generate_series(1, 20000) AS g;

ANALYZE;
`

const testDBEnv = "PGOKACHE_TEST_DB_URL"

// runPostgresContainer starts a PG container, recovering from panics if Docker is unavailable.
func runPostgresContainer(ctx context.Context) (container *postgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithCmd("postgres", "-c", "fsync=off", "-c", "shared_preload_libraries=pg_stat_statements"),
		postgres.BasicWaitStrategies(),
	)
}

func seedDatabase(ctx context.Context, connStr string) error {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return fmt.Errorf("seed connect: %w", err)
	}
	if _, err := conn.Exec(ctx, SeedSQL); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("seed: %w", err)
	}
	return conn.Close(ctx)
}

// Workload runs statements that should surface in pg_stat_statements.
func Workload(ctx context.Context, connStr string, rounds int) error {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return fmt.Errorf("workload connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	for i := 0; i < rounds; i++ {
		var n int
		if err := conn.QueryRow(ctx, `SELECT count(*) FROM orders WHERE customer_id = $1`, i%500+1).Scan(&n); err != nil {
			return fmt.Errorf("workload: %w", err)
		}
	}
	return nil
}

// Setup starts a PostgreSQL container with pg_stat_statements preloaded,
// seeds it, and returns the connection string and a cleanup function.
// If PGOKACHE_TEST_DB_URL is set, it seeds that database instead of Docker.
// Returns an error if Docker is not available.
func Setup() (string, func(), error) {
	ctx := context.Background()

	if connStr := os.Getenv(testDBEnv); connStr != "" {
		if err := seedDatabase(ctx, connStr); err != nil {
			return "", nil, fmt.Errorf("seed %s: %w", testDBEnv, err)
		}
		return connStr, func() {}, nil
	}

	container, err := runPostgresContainer(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("docker not available: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, fmt.Errorf("connection string: %w", err)
	}

	if err := seedDatabase(ctx, connStr); err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}

	cleanup := func() {
		_ = container.Terminate(ctx)
	}
	return connStr, cleanup, nil
}

// SetupPostgres is a test helper that starts a PostgreSQL container and seeds it.
// Skips the test if Docker is not available.
func SetupPostgres(t *testing.T) (string, func()) {
	t.Helper()
	connStr, cleanup, err := Setup()
	if err != nil {
		t.Skipf("skipping: %v", err)
	}
	return connStr, cleanup
}

// Descriptor turns a connection string into a descriptor for instanceID.
func Descriptor(connStr, instanceID string) (model.ConnDescriptor, error) {
	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return model.ConnDescriptor{}, err
	}
	return model.ConnDescriptor{
		InstanceID: instanceID,
		Host:       cfg.Host,
		Port:       int(cfg.Port),
		DBName:     cfg.Database,
		User:       cfg.User,
		Password:   cfg.Password,
		SSLMode:    "disable",
	}, nil
}
