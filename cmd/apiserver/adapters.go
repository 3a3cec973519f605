package main

import (
	"context"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/milvus"
)

// Adapters for HealthHandler
type postgresHealthAdapter struct {
	conn *postgres.Connection
}

func (a *postgresHealthAdapter) Name() string {
	return "postgres"
}

func (a *postgresHealthAdapter) Check(ctx context.Context) error {
	return a.conn.HealthCheck(ctx)
}

type redisHealthAdapter struct {
	client *redis.Client
}

func (a *redisHealthAdapter) Name() string {
	return "redis"
}

func (a *redisHealthAdapter) Check(ctx context.Context) error {
	return a.client.Ping(ctx)
}

type milvusHealthAdapter struct {
	client *milvus.Client
}

func (a *milvusHealthAdapter) Name() string {
	return "milvus"
}

func (a *milvusHealthAdapter) Check(ctx context.Context) error {
	return a.client.CheckHealth(ctx)
}
