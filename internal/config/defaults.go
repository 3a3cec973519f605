// Package config provides configuration loading, defaults, and validation for
// the BioSeq-Intelligence platform.
package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort = 8080
	DefaultServerMode = "debug"

	DefaultDBHost        = "localhost"
	DefaultDBPort        = 5432
	DefaultDBName        = "bioseq"
	DefaultDBMaxConns    = 25
	DefaultMigrationPath = "migrations"

	DefaultRedisAddr = "localhost:6379"
	DefaultRedisDB   = 0

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "bioseq-workers"

	DefaultNeo4jURI      = "bolt://localhost:7687"
	DefaultNeo4jUser     = "neo4j"
	DefaultNeo4jDatabase = "neo4j"

	DefaultOpenSearchAddr = "http://localhost:9200"
	DefaultIndexPrefix    = "bioseq"

	DefaultMilvusAddr       = "localhost:19530"
	DefaultEmbeddingDim     = 250
	DefaultCollectionPrefix = "bioseq_"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "bioseq-datasets"

	DefaultAPIKeyHeader = "X-API-Key"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultWorkerConcurrency = 10

	DefaultAlphabet                = "protein"
	DefaultEnergyValues            = 2
	DefaultMutualInformationEnergy = 2
	DefaultMaxSequenceLength       = 10000000
	DefaultBatchConcurrency        = 4

	DefaultIngestMaxFileSizeMB = 512
	DefaultIngestBatchSize     = 500
	DefaultIngestDataset       = "default"
)

// ─────────────────────────────────────────────────────────────────────────────
// ApplyDefaults fills zero-value fields in cfg with well-known defaults.
// It must be called after unmarshalling raw config data and before Validate()
// so that optional-but-defaulted fields are never seen as missing.
// ─────────────────────────────────────────────────────────────────────────────

// ApplyDefaults fills every zero-value field in cfg with the platform default.
// Fields that have already been set by the caller (non-zero values) are left
// unchanged so that explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = DefaultMigrationPath
	}

	// ── Neo4j ─────────────────────────────────────────────────────────────────
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = DefaultNeo4jURI
	}
	if cfg.Neo4j.User == "" {
		cfg.Neo4j.User = DefaultNeo4jUser
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = DefaultNeo4jDatabase
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "bioseq:"
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = 24 * time.Hour
	}
	// DB is an int; 0 is a valid explicit value so we cannot distinguish "not
	// set" from "set to 0".  We leave it as-is (0 is also the default).

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}

	// ── OpenSearch ────────────────────────────────────────────────────────────
	if len(cfg.OpenSearch.Addresses) == 0 {
		cfg.OpenSearch.Addresses = []string{DefaultOpenSearchAddr}
	}
	if cfg.OpenSearch.IndexPrefix == "" {
		cfg.OpenSearch.IndexPrefix = DefaultIndexPrefix
	}
	if cfg.OpenSearch.BulkBatchSize == 0 {
		cfg.OpenSearch.BulkBatchSize = 500
	}

	// ── Milvus ────────────────────────────────────────────────────────────────
	if cfg.Milvus.Addr == "" {
		cfg.Milvus.Addr = DefaultMilvusAddr
	}
	if cfg.Milvus.EmbeddingDim == 0 {
		cfg.Milvus.EmbeddingDim = DefaultEmbeddingDim
	}
	if cfg.Milvus.IndexType == "" {
		cfg.Milvus.IndexType = "HNSW"
	}
	if cfg.Milvus.HNSWM == 0 {
		cfg.Milvus.HNSWM = 16
	}
	if cfg.Milvus.HNSWEfConstruction == 0 {
		cfg.Milvus.HNSWEfConstruction = 200
	}
	if cfg.Milvus.DefaultTopK == 0 {
		cfg.Milvus.DefaultTopK = 10
	}
	if cfg.Milvus.CollectionPrefix == "" {
		cfg.Milvus.CollectionPrefix = DefaultCollectionPrefix
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = 15 * time.Minute
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = DefaultAPIKeyHeader
	}

	// ── Encoding ──────────────────────────────────────────────────────────────
	if cfg.Encoding.Alphabet == "" {
		cfg.Encoding.Alphabet = DefaultAlphabet
	}
	if cfg.Encoding.EnergyValues == 0 {
		cfg.Encoding.EnergyValues = DefaultEnergyValues
	}
	if cfg.Encoding.MutualInformationEnergy == 0 {
		cfg.Encoding.MutualInformationEnergy = DefaultMutualInformationEnergy
	}
	if cfg.Encoding.MaxSequenceLength == 0 {
		cfg.Encoding.MaxSequenceLength = DefaultMaxSequenceLength
	}
	if cfg.Encoding.BatchConcurrency == 0 {
		cfg.Encoding.BatchConcurrency = DefaultBatchConcurrency
	}

	// ── Ingest ────────────────────────────────────────────────────────────────
	if cfg.Ingest.MaxFileSizeMB == 0 {
		cfg.Ingest.MaxFileSizeMB = DefaultIngestMaxFileSizeMB
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = DefaultIngestBatchSize
	}
	if cfg.Ingest.DefaultDataset == "" {
		cfg.Ingest.DefaultDataset = DefaultIngestDataset
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.Mode == "" {
		cfg.Worker.Mode = "local"
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
