// Package embedding is the application service that turns stored sequence
// records and raw sequences into feature vectors.  It owns the encoder
// registry, the Redis vector cache in front of the encoders, and the hand-off
// of finished vectors to the Milvus index.
package embedding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/encoding"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/milvus"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

const (
	// eventSource identifies this service in published event envelopes.
	eventSource = "embedding-service"

	// defaultParallelism bounds batch fan-out when neither the caller nor
	// the configuration says otherwise.
	defaultParallelism = 4

	// listPageSize is the page size used when walking a whole dataset.
	listPageSize = 500
)

// ─────────────────────────────────────────────────────────────────────────────
// Port interfaces
// ─────────────────────────────────────────────────────────────────────────────

// VectorCache is the slice of the Redis vector cache the service needs:
// per-checksum read-through plus batch warm-up around batch encodes.
// *redis.VectorCache satisfies it.
type VectorCache interface {
	GetOrCompute(ctx context.Context, encoder seqtypes.EncoderKind, checksum string, compute func(ctx context.Context) ([]float64, error)) ([]float64, error)
	GetBatch(ctx context.Context, encoder seqtypes.EncoderKind, checksums []string) (map[string][]float64, error)
	PutBatch(ctx context.Context, encoder seqtypes.EncoderKind, vectors map[string][]float64) error
}

// VectorIndex persists finished embeddings for nearest-neighbour search.
// *milvus.VectorStore satisfies it.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, encoder seqtypes.EncoderKind, dim int) error
	Upsert(ctx context.Context, encoder seqtypes.EncoderKind, records []*milvus.VectorRecord) (int64, error)
	Flush(ctx context.Context, encoder seqtypes.EncoderKind) error
}

// EventPublisher emits platform events.  *kafka.Producer satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, eventType, source string, payload interface{}) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Result types
// ─────────────────────────────────────────────────────────────────────────────

// Embedding is one encoded sequence, ready for an API response.
type Embedding struct {
	Encoder   string    `json:"encoder"`
	Dimension int       `json:"dimension"`
	Length    int       `json:"length"`
	Checksum  string    `json:"checksum"`
	Vector    []float64 `json:"vector"`
}

// Matrix is a dense embedding matrix over a batch of sequences.  Names,
// Labels, and Rows are aligned; every row has exactly Dimension entries.
type Matrix struct {
	EncoderName string      `json:"encoder"`
	Dimension   int         `json:"dimension"`
	Names       []string    `json:"names"`
	Labels      []string    `json:"labels"`
	Rows        [][]float64 `json:"rows"`
}

// RowFailure reports one input sequence a batch could not encode.  Index is
// the position in the input slice.
type RowFailure struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Err   error  `json:"-"`
}

// BatchResult is the outcome of a batch encode.  Succeeded is aligned with
// Matrix rows; failed inputs are reported, never silently dropped.
type BatchResult struct {
	Matrix    *Matrix            `json:"matrix"`
	Succeeded []*sequence.Record `json:"-"`
	Failures  []RowFailure       `json:"failures,omitempty"`
}

// DatasetResult summarizes an end-to-end dataset embedding run.
type DatasetResult struct {
	Dataset   string        `json:"dataset"`
	Encoder   string        `json:"encoder"`
	Dimension int           `json:"dimension"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Stored    int64         `json:"stored"`
	Elapsed   time.Duration `json:"elapsed"`
	Failures  []RowFailure  `json:"failures,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Service
// ─────────────────────────────────────────────────────────────────────────────

// Service encodes sequences through the registered encoders.
type Service interface {
	// Kinds lists the registered encoder kinds in stable order.
	Kinds() []seqtypes.EncoderKind

	// Dimension returns the output vector length of one encoder.
	Dimension(kind seqtypes.EncoderKind) (int, error)

	// EncodeOne encodes a raw sequence without touching stored records.
	EncodeOne(ctx context.Context, kind seqtypes.EncoderKind, rawSequence string) (*Embedding, error)

	// EncodeRecord encodes one stored record, indexes the vector, and marks
	// the record embedded.
	EncodeRecord(ctx context.Context, kind seqtypes.EncoderKind, rec *sequence.Record) ([]float64, error)

	// EncodeBatch encodes many records with bounded fan-out.  Failed rows
	// are collected per row; the batch itself only fails when the context
	// does.
	EncodeBatch(ctx context.Context, kind seqtypes.EncoderKind, records []*sequence.Record, parallelism int) (*BatchResult, error)

	// EmbedDataset encodes every record of a dataset, stores the vectors,
	// and marks the records embedded.
	EmbedDataset(ctx context.Context, kind seqtypes.EncoderKind, dataset string, parallelism int) (*DatasetResult, error)
}

// Deps bundles everything the service orchestrates.  Records is required;
// Cache, Vectors, and Publisher degrade to no-ops when nil so the service
// also runs in cache-less or offline setups.
type Deps struct {
	Records   sequence.Repository
	Cache     VectorCache
	Vectors   VectorIndex
	Publisher EventPublisher
	Metrics   *prometheus.AppMetrics
	Logger    logging.Logger
}

type service struct {
	cfg       config.EncodingConfig
	encoders  map[seqtypes.EncoderKind]encoding.Encoder
	records   sequence.Repository
	cache     VectorCache
	vectors   VectorIndex
	publisher EventPublisher
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
}

// NewService builds both encoders from the configuration and wires the
// orchestration dependencies.
func NewService(cfg config.EncodingConfig, deps Deps) (Service, error) {
	if deps.Records == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "embedding service requires a sequence repository")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewNoopAppMetrics()
	}

	encCfg := encoding.DefaultConfig()
	if cfg.Alphabet != "" {
		encCfg.Alphabet = cfg.Alphabet
	}
	if cfg.EnergyValues > 0 {
		encCfg.EnergyValues = cfg.EnergyValues
	}
	if cfg.MutualInformationEnergy > 0 {
		encCfg.MutualInformationEnergy = cfg.MutualInformationEnergy
	}

	encoders := make(map[seqtypes.EncoderKind]encoding.Encoder, 2)
	for _, kind := range []seqtypes.EncoderKind{seqtypes.EncoderNaturalVector, seqtypes.EncoderEnergyEntropy} {
		enc, err := encoding.ForKind(kind, encCfg)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeConfigInvalid, "cannot build %s encoder", kind)
		}
		encoders[kind] = enc
	}

	return &service{
		cfg:       cfg,
		encoders:  encoders,
		records:   deps.Records,
		cache:     deps.Cache,
		vectors:   deps.Vectors,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}, nil
}

func (s *service) Kinds() []seqtypes.EncoderKind {
	return []seqtypes.EncoderKind{seqtypes.EncoderNaturalVector, seqtypes.EncoderEnergyEntropy}
}

func (s *service) Dimension(kind seqtypes.EncoderKind) (int, error) {
	enc, err := s.encoderFor(kind)
	if err != nil {
		return 0, err
	}
	return enc.Dimension(), nil
}

func (s *service) encoderFor(kind seqtypes.EncoderKind) (encoding.Encoder, error) {
	enc, ok := s.encoders[kind]
	if !ok {
		return nil, apperrors.FromCode(apperrors.ErrCodeEncoderUnsupported).
			WithDetailf("kind=%q", kind)
	}
	return enc, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Single-sequence operations
// ─────────────────────────────────────────────────────────────────────────────

func (s *service) EncodeOne(ctx context.Context, kind seqtypes.EncoderKind, rawSequence string) (*Embedding, error) {
	enc, err := s.encoderFor(kind)
	if err != nil {
		return nil, err
	}

	normalized := sequence.NormalizeResidues(rawSequence)
	if normalized == "" {
		return nil, apperrors.FromCode(apperrors.ErrCodeSequenceEmpty)
	}
	if s.cfg.MaxSequenceLength > 0 && len(normalized) > s.cfg.MaxSequenceLength {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"sequence has %d residues, limit is %d", len(normalized), s.cfg.MaxSequenceLength)
	}

	checksum := sequence.ChecksumOf(normalized)
	start := time.Now()
	vec, err := s.cachedEncode(ctx, enc, kind, checksum, normalized)
	prometheus.RecordEncode(s.metrics, string(kind), len(normalized), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return &Embedding{
		Encoder:   string(kind),
		Dimension: enc.Dimension(),
		Length:    len(normalized),
		Checksum:  checksum,
		Vector:    vec,
	}, nil
}

func (s *service) EncodeRecord(ctx context.Context, kind seqtypes.EncoderKind, rec *sequence.Record) ([]float64, error) {
	enc, err := s.encoderFor(kind)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "record is required")
	}

	start := time.Now()
	vec, err := s.cachedEncode(ctx, enc, kind, rec.Checksum, rec.Residues)
	prometheus.RecordEncode(s.metrics, string(kind), rec.Length, time.Since(start), err)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeEncodingFailed, "encode %s", rec.Name)
	}

	if s.vectors != nil {
		if err := s.storeVectors(ctx, kind, enc.Dimension(), []*milvus.VectorRecord{{
			SequenceID: string(rec.ID),
			Dataset:    rec.Dataset,
			Label:      rec.Label,
			Vector:     vec,
		}}); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if err := s.records.MarkEmbedded(ctx, []common.ID{rec.ID}, now); err != nil {
		return nil, err
	}
	rec.MarkEmbedded(string(kind), enc.Dimension(), now)

	s.publishCompleted(ctx, &kafka.EmbeddingCompletedPayload{
		SequenceID:  string(rec.ID),
		Dataset:     rec.Dataset,
		Encoder:     string(kind),
		Dimension:   enc.Dimension(),
		Count:       1,
		ElapsedMs:   time.Since(start).Milliseconds(),
		CompletedAt: now,
	})
	return vec, nil
}

// cachedEncode runs the encoder behind the read-through cache when one is
// wired; checksum-less inputs always compute.
func (s *service) cachedEncode(ctx context.Context, enc encoding.Encoder, kind seqtypes.EncoderKind, checksum, residues string) ([]float64, error) {
	if s.cache == nil || checksum == "" {
		return enc.Encode(residues)
	}
	return s.cache.GetOrCompute(ctx, kind, checksum, func(ctx context.Context) ([]float64, error) {
		return enc.Encode(residues)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Batch operations
// ─────────────────────────────────────────────────────────────────────────────

func (s *service) EncodeBatch(ctx context.Context, kind seqtypes.EncoderKind, records []*sequence.Record, parallelism int) (*BatchResult, error) {
	enc, err := s.encoderFor(kind)
	if err != nil {
		return nil, err
	}
	if parallelism <= 0 {
		parallelism = s.cfg.BatchConcurrency
	}
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	dim := enc.Dimension()
	result := &BatchResult{Matrix: &Matrix{EncoderName: string(kind), Dimension: dim}}
	if len(records) == 0 {
		return result, nil
	}
	s.metrics.EncodeBatchSize.WithLabelValues(string(kind)).Observe(float64(len(records)))

	// One round-trip warms the whole batch from the cache; a broken cache
	// just means every row computes.
	cached := map[string][]float64{}
	if s.cache != nil {
		checksums := make([]string, 0, len(records))
		seen := make(map[string]struct{}, len(records))
		for _, rec := range records {
			if rec == nil || rec.Checksum == "" {
				continue
			}
			if _, dup := seen[rec.Checksum]; dup {
				continue
			}
			seen[rec.Checksum] = struct{}{}
			checksums = append(checksums, rec.Checksum)
		}
		if got, err := s.cache.GetBatch(ctx, kind, checksums); err != nil {
			s.logger.Warn("vector cache batch lookup failed, computing all rows", logging.Err(err))
		} else {
			cached = got
		}
	}

	vectors := make([][]float64, len(records))
	rowErrs := make([]error, len(records))
	var (
		freshMu sync.Mutex
		fresh   = make(map[string][]float64)
	)

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, rec := range records {
		if rec == nil {
			rowErrs[i] = apperrors.New(apperrors.ErrCodeValidation, "record is required")
			continue
		}
		if vec, ok := cached[rec.Checksum]; ok && len(vec) == dim {
			vectors[i] = vec
			continue
		}

		i, rec := i, rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				rowErrs[i] = err
				return nil
			}
			start := time.Now()
			vec, err := enc.Encode(rec.Residues)
			prometheus.RecordEncode(s.metrics, string(kind), rec.Length, time.Since(start), err)
			if err != nil {
				rowErrs[i] = err
				return nil
			}
			vectors[i] = vec
			if s.cache != nil && rec.Checksum != "" {
				freshMu.Lock()
				fresh[rec.Checksum] = vec
				freshMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // workers report through rowErrs, never through the group
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil && len(fresh) > 0 {
		if err := s.cache.PutBatch(ctx, kind, fresh); err != nil {
			s.logger.Warn("vector cache batch store failed", logging.Err(err))
		}
	}

	m := result.Matrix
	for i, rec := range records {
		if rowErrs[i] != nil {
			name := ""
			if rec != nil {
				name = rec.Name
			}
			result.Failures = append(result.Failures, RowFailure{Index: i, Name: name, Err: rowErrs[i]})
			continue
		}
		m.Names = append(m.Names, rec.Name)
		m.Labels = append(m.Labels, rec.Label)
		m.Rows = append(m.Rows, vectors[i])
		result.Succeeded = append(result.Succeeded, rec)
	}

	if len(result.Failures) > 0 {
		s.logger.Warn("batch encode skipped rows",
			logging.String("encoder", string(kind)),
			logging.Int("total", len(records)),
			logging.Int("failed", len(result.Failures)),
		)
	}
	return result, nil
}

func (s *service) EmbedDataset(ctx context.Context, kind seqtypes.EncoderKind, dataset string, parallelism int) (*DatasetResult, error) {
	if dataset == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "dataset name is required")
	}
	enc, err := s.encoderFor(kind)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	records, err := s.loadDataset(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.FromCode(apperrors.ErrCodeDatasetNotFound).
			WithDetailf("dataset %q has no sequences", dataset)
	}

	batch, err := s.EncodeBatch(ctx, kind, records, parallelism)
	if err != nil {
		return nil, err
	}

	res := &DatasetResult{
		Dataset:   dataset,
		Encoder:   string(kind),
		Dimension: enc.Dimension(),
		Total:     len(records),
		Succeeded: len(batch.Succeeded),
		Failed:    len(batch.Failures),
		Failures:  batch.Failures,
	}

	if s.vectors != nil && len(batch.Succeeded) > 0 {
		vrecs := make([]*milvus.VectorRecord, len(batch.Succeeded))
		for i, rec := range batch.Succeeded {
			vrecs[i] = &milvus.VectorRecord{
				SequenceID: string(rec.ID),
				Dataset:    rec.Dataset,
				Label:      rec.Label,
				Vector:     batch.Matrix.Rows[i],
			}
		}
		if err := s.storeVectors(ctx, kind, enc.Dimension(), vrecs); err != nil {
			return nil, err
		}
		res.Stored = int64(len(vrecs))
	}

	if len(batch.Succeeded) > 0 {
		now := time.Now().UTC()
		ids := make([]common.ID, len(batch.Succeeded))
		for i, rec := range batch.Succeeded {
			ids[i] = rec.ID
		}
		if err := s.records.MarkEmbedded(ctx, ids, now); err != nil {
			return nil, err
		}
	}

	res.Elapsed = time.Since(start)
	s.publishCompleted(ctx, &kafka.EmbeddingCompletedPayload{
		Dataset:     dataset,
		Encoder:     string(kind),
		Dimension:   enc.Dimension(),
		Count:       res.Succeeded,
		ElapsedMs:   res.Elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	})

	s.logger.Info("dataset embedded",
		logging.String("dataset", dataset),
		logging.String("encoder", string(kind)),
		logging.Int("succeeded", res.Succeeded),
		logging.Int("failed", res.Failed),
		logging.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// loadDataset pages through every record of a dataset.
func (s *service) loadDataset(ctx context.Context, dataset string) ([]*sequence.Record, error) {
	var all []*sequence.Record
	for page := 1; ; page++ {
		recs, total, err := s.records.List(ctx, sequence.ListFilter{
			Dataset:    dataset,
			Pagination: common.Pagination{Page: page, PageSize: listPageSize},
		})
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
		if len(recs) == 0 || int64(len(all)) >= total {
			return all, nil
		}
	}
}

// storeVectors ensures the collection exists, upserts, and flushes.
func (s *service) storeVectors(ctx context.Context, kind seqtypes.EncoderKind, dim int, vrecs []*milvus.VectorRecord) error {
	if err := s.vectors.EnsureCollection(ctx, kind, dim); err != nil {
		return err
	}
	if _, err := s.vectors.Upsert(ctx, kind, vrecs); err != nil {
		return err
	}
	return s.vectors.Flush(ctx, kind)
}

// publishCompleted emits the completion event.  Publishing is best-effort;
// a broker outage must not fail an otherwise finished embedding.
func (s *service) publishCompleted(ctx context.Context, payload *kafka.EmbeddingCompletedPayload) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, kafka.TopicEmbeddingDone, kafka.TopicEmbeddingDone, eventSource, payload); err != nil {
		s.logger.Warn("failed to publish embedding completion",
			logging.String("dataset", payload.Dataset),
			logging.String("encoder", payload.Encoder),
			logging.Err(err),
		)
	}
}
