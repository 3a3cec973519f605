// The apiserver command runs the BioSeq-Intelligence REST API: dataset
// ingestion, sequence embedding, similarity search, and metadata queries
// over the configured backends.  PostgreSQL is the only hard dependency;
// Redis, Milvus, OpenSearch, Neo4j, MinIO, and Kafka are wired when
// configured and their routes degrade gracefully when absent.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/dataset"
	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/application/similarity"
	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/neo4j"
	graphrepos "github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/postgres"
	pgrepos "github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/milvus"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/storage/minio"
	httpserver "github.com/turtacn/BioSeq-Intelligence/internal/interfaces/http"
	"github.com/turtacn/BioSeq-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/BioSeq-Intelligence/internal/interfaces/http/middleware"
)

// Build-time variable injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	migrateUp := flag.Bool("migrate", true, "run pending database migrations on start")
	flag.Parse()

	if err := run(*configPath, *migrateUp); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, migrateUp bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return err
	}
	logger.Info("starting api server", logging.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            "bioseq",
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return err
	}
	metrics := prometheus.NewAppMetrics(collector)

	// PostgreSQL is the system of record and the only hard dependency.
	conn, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if migrateUp {
		migrationPath := cfg.Database.MigrationPath
		if migrationPath == "" {
			migrationPath = "migrations"
		}
		if err := postgres.NewMigrator(conn, migrationPath, logger).Up(); err != nil {
			return err
		}
	}

	records := pgrepos.NewSequenceRepository(conn.Pool(), logger)
	jobs := pgrepos.NewJobRepository(conn.Pool(), logger)

	checkers := []handlers.HealthChecker{&postgresHealthAdapter{conn: conn}}

	// Optional backends, wired only when configured.  Typed pointers are
	// assigned into the services' interface slots only when non-nil, so a
	// missing backend stays a nil interface rather than a typed nil.
	var vectorCache *redis.VectorCache
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		vectorCache = redis.NewVectorCache(redisClient, logger, metrics)
		checkers = append(checkers, &redisHealthAdapter{client: redisClient})
	}

	var vectorStore *milvus.VectorStore
	if cfg.Milvus.Addr != "" {
		milvusClient, err := milvus.NewClient(ctx, cfg.Milvus, logger)
		if err != nil {
			return err
		}
		defer milvusClient.Close()
		vectorStore = milvus.NewVectorStore(milvusClient, cfg.Milvus, logger)
		checkers = append(checkers, &milvusHealthAdapter{client: milvusClient})
	}

	var (
		indexer  *opensearch.Indexer
		searcher *opensearch.Searcher
	)
	if len(cfg.OpenSearch.Addresses) > 0 {
		osClient, err := opensearch.NewClient(ctx, cfg.OpenSearch, logger)
		if err != nil {
			return err
		}
		defer osClient.Close()
		indexer = opensearch.NewIndexer(osClient, cfg.OpenSearch, logger)
		searcher = opensearch.NewSearcher(osClient, cfg.OpenSearch, logger)
		if err := indexer.EnsureIndex(ctx); err != nil {
			return err
		}
	}

	var graph graphrepos.SimilarityGraphRepository
	if cfg.Neo4j.URI != "" {
		driver, err := neo4j.NewDriver(ctx, cfg.Neo4j, logger)
		if err != nil {
			return err
		}
		defer driver.Close()
		graph = graphrepos.NewSimilarityGraphRepo(driver, logger)
	}

	var objects minio.Repository
	if cfg.MinIO.Endpoint != "" {
		minioClient, err := minio.NewClient(ctx, cfg.MinIO, logger)
		if err != nil {
			return err
		}
		objects = minio.NewRepository(minioClient, logger)
	}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafka.NewProducer(kafka.ProducerConfigFromApp(cfg.Kafka), logger)
		if err != nil {
			return err
		}
		defer producer.Close()
	}

	embedDeps := embedding.Deps{
		Records: records,
		Metrics: metrics,
		Logger:  logger,
	}
	if vectorCache != nil {
		embedDeps.Cache = vectorCache
	}
	if vectorStore != nil {
		embedDeps.Vectors = vectorStore
	}
	if producer != nil {
		embedDeps.Publisher = producer
	}
	encoder, err := embedding.NewService(cfg.Encoding, embedDeps)
	if err != nil {
		return err
	}

	datasetDeps := dataset.Deps{
		Records: records,
		Objects: objects,
		Graph:   graph,
		Metrics: metrics,
		Logger:  logger,
	}
	if indexer != nil {
		datasetDeps.Index = indexer
	}
	if vectorStore != nil {
		datasetDeps.Vectors = vectorStore
	}
	if producer != nil {
		datasetDeps.Publisher = producer
	}
	datasets, err := dataset.NewService(cfg.Ingest, datasetDeps)
	if err != nil {
		return err
	}

	// Similarity needs a vector store to exist at all; without one every
	// neighbor route answers 503 through the nil-handler paths.
	var similar similarity.Service
	if vectorStore != nil {
		simDeps := similarity.Deps{
			Records: records,
			Encoder: encoder,
			Vectors: vectorStore,
			Graph:   graph,
			Metrics: metrics,
			Logger:  logger,
		}
		if searcher != nil {
			simDeps.Metadata = searcher
		}
		if similar, err = similarity.NewService(simDeps); err != nil {
			return err
		}
	}

	router := buildRouter(cfg, logger, collector, metrics, routerDeps{
		encoder:   encoder,
		datasets:  datasets,
		similar:   similar,
		records:   records,
		jobs:      jobs,
		publisher: producer,
		checkers:  checkers,
	})

	server := httpserver.NewServer(cfg.Server, router, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return server.Stop(context.Background())
}

// loadConfig reads the YAML file at path, falling back to BIOSEQ_* environment
// variables when the file does not exist so containerised deployments need no
// config file at all.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

// routerDeps carries the assembled services into router construction.
type routerDeps struct {
	encoder   embedding.Service
	datasets  dataset.Service
	similar   similarity.Service
	records   *pgrepos.SequenceRepository
	jobs      *pgrepos.JobRepository
	publisher *kafka.Producer
	checkers  []handlers.HealthChecker
}

func buildRouter(
	cfg *config.Config,
	logger logging.Logger,
	collector prometheus.MetricsCollector,
	metrics *prometheus.AppMetrics,
	deps routerDeps,
) http.Handler {
	maxBody := cfg.Server.MaxBodySize

	var datasetPublisher dataset.EventPublisher
	if deps.publisher != nil {
		datasetPublisher = deps.publisher
	}

	var searchHandler *handlers.SearchHandler
	if deps.similar != nil {
		searchHandler = handlers.NewSearchHandler(deps.similar, maxBody)
	}

	cors := middleware.DefaultCORSConfig()
	rateLimit := middleware.DefaultRateLimitConfig()

	return httpserver.NewRouter(httpserver.RouterConfig{
		EmbeddingHandler: handlers.NewEmbeddingHandler(deps.encoder, maxBody),
		DatasetHandler: handlers.NewDatasetHandler(deps.datasets, deps.encoder,
			deps.records, deps.jobs, datasetPublisher, logger, maxBody),
		SequenceHandler: handlers.NewSequenceHandler(deps.records, deps.similar, maxBody),
		SearchHandler:   searchHandler,
		HealthHandler:   handlers.NewHealthHandler(version, deps.checkers...),
		Auth: middleware.APIKeyAuthConfig{
			Enabled: cfg.Auth.Enabled,
			Header:  cfg.Auth.Header,
			Keys:    cfg.Auth.APIKeys,
		},
		CORS:             &cors,
		RateLimit:        &rateLimit,
		Logger:           logger,
		Metrics:          metrics,
		MetricsCollector: collector,
	})
}
