// The worker command runs the background embedding worker: it consumes
// queued embedding jobs from Kafka, encodes the referenced datasets, stores
// the vectors, and drives each job through its state machine.  Job-level
// completion and failure events go back onto the bus so the API server and
// any downstream indexers can react.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/job"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/postgres"
	pgrepos "github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/milvus"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

const eventSource = "embedding-worker"

// Build-time variable injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for /healthz and /metrics")
	flag.Parse()

	if err := run(*configPath, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "worker requires kafka brokers")
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return err
	}
	logger.Info("starting embedding worker", logging.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            "bioseq",
		Subsystem:            "worker",
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return err
	}
	metrics := prometheus.NewAppMetrics(collector)

	conn, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	records := pgrepos.NewSequenceRepository(conn.Pool(), logger)
	jobs := pgrepos.NewJobRepository(conn.Pool(), logger)

	embedDeps := embedding.Deps{
		Records: records,
		Metrics: metrics,
		Logger:  logger,
	}
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		embedDeps.Cache = redis.NewVectorCache(redisClient, logger, metrics)
	}
	if cfg.Milvus.Addr != "" {
		milvusClient, err := milvus.NewClient(ctx, cfg.Milvus, logger)
		if err != nil {
			return err
		}
		defer milvusClient.Close()
		embedDeps.Vectors = milvus.NewVectorStore(milvusClient, cfg.Milvus, logger)
	}

	encoder, err := embedding.NewService(cfg.Encoding, embedDeps)
	if err != nil {
		return err
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfigFromApp(cfg.Kafka), logger)
	if err != nil {
		return err
	}
	defer producer.Close()

	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 2 * runtime.NumCPU()
	}

	proc := &jobProcessor{
		jobs:        jobs,
		encoder:     encoder,
		producer:    producer,
		logger:      logger,
		concurrency: concurrency,
	}

	consumerCfg := kafka.ConsumerConfigFromApp(cfg.Kafka, []string{kafka.TopicEmbeddingQueued})
	consumerCfg.Retry.MaxRetries = cfg.Worker.MaxRetries
	consumerCfg.Retry.RetryBackoff = cfg.Worker.RetryBackoffMS
	consumerCfg.Retry.DeadLetterTopic = kafka.TopicDeadLetterEmbeds
	consumer, err := kafka.NewConsumer(consumerCfg, logger)
	if err != nil {
		return err
	}
	if err := consumer.Subscribe(kafka.TopicEmbeddingQueued, proc.Handle); err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	probe := probeServer(metricsAddr, collector)
	go func() {
		if err := probe.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("probe server failed", logging.Err(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down, draining in-flight work")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = probe.Shutdown(shutdownCtx)
	return consumer.Close()
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

// probeServer exposes the liveness probe and the Prometheus registry.
func probeServer(addr string, collector prometheus.MetricsCollector) *http.Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", collector.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// eventPublisher emits job lifecycle events.  *kafka.Producer satisfies it.
type eventPublisher interface {
	PublishEvent(ctx context.Context, topic, eventType, source string, payload interface{}) error
}

// jobProcessor consumes queued embedding jobs and runs them to a terminal
// state.  The job state machine, not the message, is the source of truth:
// redelivered messages for finished jobs are acknowledged without work.
type jobProcessor struct {
	jobs        job.Repository
	encoder     embedding.Service
	producer    eventPublisher
	logger      logging.Logger
	concurrency int
}

// Handle processes one embedding.queued message.  A returned error feeds the
// consumer's retry policy; jobs that exhaust their attempts are moved to the
// dead state before the message is given up on.
func (p *jobProcessor) Handle(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		// Malformed messages can never succeed; let retries exhaust so
		// the payload lands in the dead-letter topic for inspection.
		return err
	}
	var queued kafka.EmbeddingQueuedPayload
	if err := env.DecodePayload(&queued); err != nil {
		return err
	}

	j, err := p.jobs.GetByID(ctx, common.ID(queued.JobID))
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeEncodingJobNotFound) {
			p.logger.Warn("queued job no longer exists, skipping",
				logging.String("job_id", queued.JobID))
			return nil
		}
		return err
	}
	if j.IsTerminal() || j.Status == seqtypes.JobCompleted {
		p.logger.Info("job already settled, skipping redelivery",
			logging.String("job_id", string(j.ID)),
			logging.String("status", string(j.Status)))
		return nil
	}

	return p.runJob(ctx, j)
}

func (p *jobProcessor) runJob(ctx context.Context, j *job.Job) error {
	if err := j.Start(0); err != nil {
		return err
	}
	if err := p.jobs.Update(ctx, j); err != nil {
		return err
	}
	p.logger.Info("embedding job started",
		logging.String("job_id", string(j.ID)),
		logging.String("dataset", j.Dataset),
		logging.String("encoder", string(j.Encoder)),
		logging.Int("attempt", j.Attempts))

	res, err := p.encoder.EmbedDataset(ctx, j.Encoder, j.Dataset, p.concurrency)
	if err != nil {
		return p.settleFailure(ctx, j, err)
	}

	j.Total = res.Total
	if err := j.Complete(res.Succeeded, res.Failed); err != nil {
		return err
	}
	if err := p.jobs.Update(ctx, j); err != nil {
		return err
	}

	p.publishDone(ctx, j, res)
	p.logger.Info("embedding job completed",
		logging.String("job_id", string(j.ID)),
		logging.Int("succeeded", res.Succeeded),
		logging.Int("failed", res.Failed),
		logging.Duration("elapsed", res.Elapsed))
	return nil
}

// settleFailure records the failure on the job and decides whether the
// message should be retried.  Returning the cause keeps retryable jobs in
// the consumer's redelivery loop; exhausted jobs are killed and the message
// is acknowledged.
func (p *jobProcessor) settleFailure(ctx context.Context, j *job.Job, cause error) error {
	if ctx.Err() != nil {
		// Shutdown, not a job failure.  Leave the job running; the next
		// delivery restarts it.
		return ctx.Err()
	}

	if err := j.Fail(cause.Error()); err != nil {
		p.logger.Error("job state update failed",
			logging.String("job_id", string(j.ID)), logging.Err(err))
	}
	retryable := j.CanRetry()
	if !retryable {
		if err := j.Kill("retry attempts exhausted"); err != nil {
			p.logger.Error("job state update failed",
				logging.String("job_id", string(j.ID)), logging.Err(err))
		}
	}
	if err := p.jobs.Update(ctx, j); err != nil {
		p.logger.Error("job persist failed",
			logging.String("job_id", string(j.ID)), logging.Err(err))
	}
	p.publishFailed(ctx, j, cause)

	p.logger.Error("embedding job failed",
		logging.String("job_id", string(j.ID)),
		logging.String("dataset", j.Dataset),
		logging.Bool("retryable", retryable),
		logging.Err(cause))

	if retryable {
		return cause
	}
	return nil
}

// Publishing job outcomes is best-effort; a broker hiccup must not undo a
// finished run.

func (p *jobProcessor) publishDone(ctx context.Context, j *job.Job, res *embedding.DatasetResult) {
	if p.producer == nil {
		return
	}
	payload := &kafka.EmbeddingCompletedPayload{
		JobID:       string(j.ID),
		Dataset:     j.Dataset,
		Encoder:     string(j.Encoder),
		Dimension:   res.Dimension,
		Count:       res.Succeeded,
		ElapsedMs:   res.Elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	if err := p.producer.PublishEvent(ctx, kafka.TopicEmbeddingDone,
		kafka.TopicEmbeddingDone, eventSource, payload); err != nil {
		p.logger.Warn("failed to publish job completion",
			logging.String("job_id", string(j.ID)), logging.Err(err))
	}
}

func (p *jobProcessor) publishFailed(ctx context.Context, j *job.Job, cause error) {
	if p.producer == nil {
		return
	}
	payload := &kafka.EmbeddingFailedPayload{
		JobID:    string(j.ID),
		Dataset:  j.Dataset,
		Encoder:  string(j.Encoder),
		Reason:   cause.Error(),
		FailedAt: time.Now().UTC(),
	}
	if err := p.producer.PublishEvent(ctx, kafka.TopicEmbeddingFailed,
		kafka.TopicEmbeddingFailed, eventSource, payload); err != nil {
		p.logger.Warn("failed to publish job failure",
			logging.String("job_id", string(j.ID)), logging.Err(err))
	}
}
