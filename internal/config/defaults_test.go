package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultServerMode, cfg.Server.Mode)
	assert.Equal(t, DefaultDBName, cfg.Database.DBName)
	assert.Equal(t, DefaultMigrationPath, cfg.Database.MigrationPath)
	assert.Equal(t, DefaultRedisAddr, cfg.Redis.Addr)
	assert.Equal(t, "bioseq:", cfg.Redis.KeyPrefix)
	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultKafkaGroupID, cfg.Kafka.GroupID)
	assert.Equal(t, DefaultNeo4jURI, cfg.Neo4j.URI)
	assert.Equal(t, []string{DefaultOpenSearchAddr}, cfg.OpenSearch.Addresses)
	assert.Equal(t, DefaultMilvusAddr, cfg.Milvus.Addr)
	assert.Equal(t, DefaultEmbeddingDim, cfg.Milvus.EmbeddingDim)
	assert.Equal(t, "HNSW", cfg.Milvus.IndexType)
	assert.Equal(t, DefaultMinIOBucket, cfg.MinIO.Bucket)
	assert.Equal(t, DefaultAPIKeyHeader, cfg.Auth.Header)
	assert.Equal(t, DefaultWorkerConcurrency, cfg.Worker.Concurrency)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
}

func TestApplyDefaults_EncodingSection(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultAlphabet, cfg.Encoding.Alphabet)
	assert.Equal(t, DefaultEnergyValues, cfg.Encoding.EnergyValues)
	assert.Equal(t, DefaultMutualInformationEnergy, cfg.Encoding.MutualInformationEnergy)
	assert.Equal(t, DefaultMaxSequenceLength, cfg.Encoding.MaxSequenceLength)
	assert.Equal(t, DefaultBatchConcurrency, cfg.Encoding.BatchConcurrency)
	assert.Equal(t, DefaultIngestBatchSize, cfg.Ingest.BatchSize)
	assert.Equal(t, DefaultIngestDataset, cfg.Ingest.DefaultDataset)
}

func TestApplyDefaults_ExplicitValuesWin(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9090
	cfg.Encoding.Alphabet = "dna"
	cfg.Encoding.EnergyValues = 3
	cfg.Milvus.EmbeddingDim = 44
	cfg.Redis.DefaultTTL = time.Minute
	ApplyDefaults(cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "dna", cfg.Encoding.Alphabet)
	assert.Equal(t, 3, cfg.Encoding.EnergyValues)
	assert.Equal(t, 44, cfg.Milvus.EmbeddingDim)
	assert.Equal(t, time.Minute, cfg.Redis.DefaultTTL)
}

func TestApplyDefaults_NilIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

// Default encoding settings must describe vectors that fit the default Milvus
// collection: protein alphabet with 2 energy levels and pair windows yields
// 3*20 + C(20,2) = 250 dimensions for both engines.
func TestDefaultEmbeddingDimMatchesDefaultEncoding(t *testing.T) {
	assert.Equal(t, 250, DefaultEmbeddingDim)
	assert.Equal(t, "protein", DefaultAlphabet)
	assert.Equal(t, 2, DefaultEnergyValues)
	assert.Equal(t, 2, DefaultMutualInformationEnergy)
}
