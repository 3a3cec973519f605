//go:build integration

// Cross-layer integration tests: real PostgreSQL (via testcontainers), a
// miniredis-backed vector cache, and the application services wired the way
// the API server wires them.  Docker is required; the suite is gated behind
// the "integration" build tag:
//
//	go test -tags integration ./test/integration/...
package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/dataset"
	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/job"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
)

const migrationsPath = "../../migrations"

// env bundles the stack one integration test works against.
type env struct {
	Records  sequence.Repository
	Jobs     job.Repository
	Encoder  embedding.Service
	Datasets dataset.Service
	Cache    *redis.VectorCache
}

// startPostgres launches a PostgreSQL 16 container and applies the real
// schema migrations.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "bioseq_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/bioseq_test?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log := logging.NewNopLogger()
	conn := postgres.NewConnectionWithPool(pool, log)
	require.NoError(t, postgres.NewMigrator(conn, migrationsPath, log).Up())
	return pool
}

// newEnv wires the services against a fresh database and an in-process
// Redis.  No vector store or broker: both are optional backends and the
// services degrade the same way the API server does without them.
func newEnv(t *testing.T) *env {
	t.Helper()
	log := logging.NewNopLogger()

	pool := startPostgres(t)
	records := repositories.NewSequenceRepository(pool, log)
	jobs := repositories.NewJobRepository(pool, log)

	mr := miniredis.RunT(t)
	redisClient, err := redis.NewClient(context.Background(),
		config.RedisConfig{Addr: mr.Addr()}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })
	cache := redis.NewVectorCache(redisClient, log, nil)

	encoder, err := embedding.NewService(config.EncodingConfig{}, embedding.Deps{
		Records: records,
		Cache:   cache,
		Logger:  log,
	})
	require.NoError(t, err)

	datasets, err := dataset.NewService(config.IngestConfig{}, dataset.Deps{
		Records: records,
		Logger:  log,
	})
	require.NoError(t, err)

	return &env{
		Records:  records,
		Jobs:     jobs,
		Encoder:  encoder,
		Datasets: datasets,
		Cache:    cache,
	}
}
