// Package dataset drives the lifecycle of sequence datasets: file ingestion
// into the record store with fan-out to the search index, object archive, and
// similarity graph; matrix export; and full dataset removal across every
// backend that has seen the data.
package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	graphrepo "github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/ingest"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/storage/minio"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

const (
	eventSource = "dataset-service"

	// defaultMaxFileSizeMB caps uploads when the configuration does not.
	defaultMaxFileSizeMB = 512

	// defaultBatchSize bounds one CreateBatch round-trip.
	defaultBatchSize = 500

	// defaultSequenceColumn is the delimited-file column holding residues
	// when the caller names none.
	defaultSequenceColumn = "sequence"
)

// ─────────────────────────────────────────────────────────────────────────────
// Port interfaces
// ─────────────────────────────────────────────────────────────────────────────

// MetadataIndexer is the slice of the OpenSearch indexer the service needs.
// *opensearch.Indexer satisfies it.
type MetadataIndexer interface {
	BulkIndex(ctx context.Context, docs []opensearch.SequenceDocument) (*opensearch.BulkResult, error)
	DeleteByDataset(ctx context.Context, dataset string) (int64, error)
}

// VectorPurger removes a dataset's vectors from one encoder collection.
// *milvus.VectorStore satisfies it.
type VectorPurger interface {
	DeleteByDataset(ctx context.Context, encoder seqtypes.EncoderKind, dataset string) error
}

// GraphWriter mirrors records into the similarity graph and tears datasets
// out of it.  The Neo4j similarity repository satisfies it.
type GraphWriter interface {
	BatchEnsureSequenceNodes(ctx context.Context, nodes []*graphrepo.SequenceNodeData) (int64, error)
	RemoveDataset(ctx context.Context, dataset string) (int64, error)
}

// EventPublisher emits platform events.  *kafka.Producer satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, eventType, source string, payload interface{}) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Inputs and results
// ─────────────────────────────────────────────────────────────────────────────

// IngestInput describes one uploaded sequence file.
type IngestInput struct {
	// Dataset names the target dataset.  Empty falls back to the
	// configured default dataset.
	Dataset string

	// Filename is the upload's original name.  It drives format detection
	// and becomes the records' source-file attribute and archive key.
	Filename string

	// Reader streams the file content.
	Reader io.Reader

	// Format overrides extension-based detection when set.
	Format ingest.Format

	// Type is the sequence type of every record in the file.  Empty means
	// protein.
	Type seqtypes.SequenceType

	// Columns configures delimited parsing.  An unset sequence column
	// defaults to "sequence".
	Columns ingest.DelimitedOptions
}

// RecordFailure reports one parsed row that did not become a stored record.
type RecordFailure struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Dataset   string          `json:"dataset"`
	Format    ingest.Format   `json:"format"`
	Total     int             `json:"total"`
	Created   int             `json:"created"`
	Failed    int             `json:"failed"`
	ObjectKey string          `json:"object_key,omitempty"`
	Indexed   int             `json:"indexed"`
	Elapsed   time.Duration   `json:"elapsed"`
	Failures  []RecordFailure `json:"failures,omitempty"`
}

// PurgeResult reports what DeleteDataset removed from each backend.
// Warnings carry non-fatal cleanup failures; the record store is
// authoritative and its failure aborts the purge instead.
type PurgeResult struct {
	Dataset        string   `json:"dataset"`
	RemovedRecords int64    `json:"removed_records"`
	RemovedDocs    int64    `json:"removed_docs"`
	RemovedNodes   int64    `json:"removed_nodes"`
	RemovedObjects int      `json:"removed_objects"`
	Warnings       []string `json:"warnings,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Service
// ─────────────────────────────────────────────────────────────────────────────

// Service manages datasets end to end.
type Service interface {
	// IngestFile parses an uploaded file and persists its sequences.
	// Rows that fail domain validation are reported, not fatal.
	IngestFile(ctx context.Context, in IngestInput) (*IngestResult, error)

	// ExportMatrix streams an embedding matrix as CSV: name, label,
	// v0..v(D-1).
	ExportMatrix(ctx context.Context, m *embedding.Matrix, w io.Writer) error

	// DeleteDataset removes a dataset from every backend holding it.
	DeleteDataset(ctx context.Context, dataset string) (*PurgeResult, error)

	// Datasets lists per-dataset record statistics.
	Datasets(ctx context.Context) ([]sequence.DatasetSummary, error)
}

// Deps bundles the backends the service coordinates.  Records is required;
// every other backend is optional and skipped when nil.
type Deps struct {
	Records   sequence.Repository
	Objects   minio.Repository
	Index     MetadataIndexer
	Vectors   VectorPurger
	Graph     GraphWriter
	Publisher EventPublisher
	Metrics   *prometheus.AppMetrics
	Logger    logging.Logger
}

type service struct {
	cfg       config.IngestConfig
	records   sequence.Repository
	objects   minio.Repository
	index     MetadataIndexer
	vectors   VectorPurger
	graph     GraphWriter
	publisher EventPublisher
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
}

// NewService wires the ingestion pipeline.
func NewService(cfg config.IngestConfig, deps Deps) (Service, error) {
	if deps.Records == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "dataset service requires a sequence repository")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewNoopAppMetrics()
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = defaultMaxFileSizeMB
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &service{
		cfg:       cfg,
		records:   deps.Records,
		objects:   deps.Objects,
		index:     deps.Index,
		vectors:   deps.Vectors,
		graph:     deps.Graph,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ingestion
// ─────────────────────────────────────────────────────────────────────────────

func (s *service) IngestFile(ctx context.Context, in IngestInput) (*IngestResult, error) {
	start := time.Now()

	dataset := in.Dataset
	if dataset == "" {
		dataset = s.cfg.DefaultDataset
	}
	if dataset == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "dataset name is required")
	}
	if in.Reader == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "file content is required")
	}

	format := in.Format
	if format == "" {
		detected, err := ingest.DetectFormat(in.Filename)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	seqType := in.Type
	if seqType == "" {
		seqType = seqtypes.TypeProtein
	}
	if err := seqType.Validate(); err != nil {
		return nil, err
	}

	data, err := s.readCapped(in.Reader)
	if err != nil {
		return nil, err
	}

	columns := in.Columns
	if columns.SequenceColumn == "" {
		columns.SequenceColumn = defaultSequenceColumn
	}
	raws, err := ingest.Parse(bytes.NewReader(data), format, columns)
	if err != nil {
		prometheus.RecordIngest(s.metrics, string(format), 0, int64(len(data)), time.Since(start), err)
		return nil, err
	}

	res := &IngestResult{Dataset: dataset, Format: format, Total: len(raws)}

	// Domain validation per row; bad rows are reported, the rest proceed.
	records := make([]*sequence.Record, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		rec, err := sequence.NewRecord(raw.Name, raw.Label, raw.Residues, seqType, dataset)
		if err != nil {
			res.Failures = append(res.Failures, RecordFailure{Name: raw.Name, Err: err})
			continue
		}
		if _, dup := seen[rec.Checksum]; dup {
			res.Failures = append(res.Failures, RecordFailure{
				Name: raw.Name,
				Err: apperrors.FromCode(apperrors.ErrCodeSequenceAlreadyExists).
					WithDetail("duplicate residues earlier in the same upload"),
			})
			continue
		}
		seen[rec.Checksum] = struct{}{}
		if in.Filename != "" {
			rec.AssignSource(in.Filename)
		}
		records = append(records, rec)
	}

	created, err := s.persistRecords(ctx, records, res)
	if err != nil {
		prometheus.RecordIngest(s.metrics, string(format), 0, int64(len(data)), time.Since(start), err)
		return nil, err
	}
	res.Created = len(created)
	res.Failed = len(res.Failures)

	if len(created) > 0 {
		s.archiveUpload(ctx, dataset, in.Filename, data, res)
		s.indexRecords(ctx, created, res)
		s.mirrorToGraph(ctx, created)
		s.publishIngested(ctx, res)
	}

	res.Elapsed = time.Since(start)
	prometheus.RecordIngest(s.metrics, string(format), res.Created, int64(len(data)), res.Elapsed, nil)
	s.logger.Info("dataset ingested",
		logging.String("dataset", dataset),
		logging.String("format", string(format)),
		logging.Int("created", res.Created),
		logging.Int("failed", res.Failed),
		logging.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// readCapped loads the upload into memory, refusing files over the
// configured limit.  Both parse and archive need the bytes, so the file is
// read exactly once.
func (s *service) readCapped(r io.Reader) ([]byte, error) {
	limit := int64(s.cfg.MaxFileSizeMB) << 20
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeIngestMalformed, "reading upload")
	}
	if int64(len(data)) > limit {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"file exceeds the %d MB upload limit", s.cfg.MaxFileSizeMB)
	}
	return data, nil
}

// persistRecords stores records in configured-size batches.  A batch that
// trips the duplicate guard is retried row by row so one stale row cannot
// sink its whole chunk.
func (s *service) persistRecords(ctx context.Context, records []*sequence.Record, res *IngestResult) ([]*sequence.Record, error) {
	created := make([]*sequence.Record, 0, len(records))
	for base := 0; base < len(records); base += s.cfg.BatchSize {
		end := base + s.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[base:end]

		err := s.records.CreateBatch(ctx, chunk)
		if err == nil {
			created = append(created, chunk...)
			continue
		}
		if !apperrors.IsCode(err, apperrors.ErrCodeSequenceAlreadyExists) {
			return nil, err
		}

		for _, rec := range chunk {
			if err := s.records.Create(ctx, rec); err != nil {
				if apperrors.IsCode(err, apperrors.ErrCodeSequenceAlreadyExists) {
					res.Failures = append(res.Failures, RecordFailure{Name: rec.Name, Err: err})
					continue
				}
				return nil, err
			}
			created = append(created, rec)
		}
	}
	return created, nil
}

// archiveUpload stores the raw file in the object archive.  Archival is
// best-effort: the records are already durable in the record store.
func (s *service) archiveUpload(ctx context.Context, dataset, filename string, data []byte, res *IngestResult) {
	if !s.cfg.ArchiveUploads || s.objects == nil || filename == "" {
		return
	}
	info, err := s.objects.PutSequenceFile(ctx, dataset, filename, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Warn("failed to archive upload",
			logging.String("dataset", dataset),
			logging.String("filename", filename),
			logging.Err(err),
		)
		return
	}
	res.ObjectKey = info.Key
}

// indexRecords mirrors created records into the metadata search index.  The
// index is rebuildable, so failures degrade to a warning.
func (s *service) indexRecords(ctx context.Context, created []*sequence.Record, res *IngestResult) {
	if s.index == nil {
		return
	}
	docs := make([]opensearch.SequenceDocument, len(created))
	for i, rec := range created {
		docs[i] = opensearch.SequenceDocument{
			SequenceID: string(rec.ID),
			Name:       rec.Name,
			Label:      rec.Label,
			Dataset:    rec.Dataset,
			Type:       string(rec.Type),
			Length:     rec.Length,
			Checksum:   rec.Checksum,
			SourceFile: rec.SourceFile,
			CreatedAt:  rec.CreatedAt,
		}
	}
	bulk, err := s.index.BulkIndex(ctx, docs)
	if err != nil {
		s.logger.Warn("failed to index ingested records", logging.Err(err))
		return
	}
	res.Indexed = bulk.Succeeded
	if bulk.Failed > 0 {
		s.logger.Warn("some ingested records were not indexed",
			logging.Int("failed", bulk.Failed),
		)
	}
}

// mirrorToGraph seeds similarity-graph nodes so neighbor linking never has
// to create endpoints on the fly.
func (s *service) mirrorToGraph(ctx context.Context, created []*sequence.Record) {
	if s.graph == nil {
		return
	}
	nodes := make([]*graphrepo.SequenceNodeData, len(created))
	for i, rec := range created {
		nodes[i] = &graphrepo.SequenceNodeData{
			ID:       string(rec.ID),
			Name:     rec.Name,
			Label:    rec.Label,
			Dataset:  rec.Dataset,
			Length:   rec.Length,
			Checksum: rec.Checksum,
		}
	}
	if _, err := s.graph.BatchEnsureSequenceNodes(ctx, nodes); err != nil {
		s.logger.Warn("failed to mirror records into the similarity graph", logging.Err(err))
	}
}

func (s *service) publishIngested(ctx context.Context, res *IngestResult) {
	if s.publisher == nil {
		return
	}
	payload := &kafka.DatasetIngestedPayload{
		Dataset:       res.Dataset,
		Format:        string(res.Format),
		SequenceCount: res.Created,
		FailedCount:   res.Failed,
		ObjectKey:     res.ObjectKey,
		IngestedAt:    time.Now().UTC(),
	}
	if err := s.publisher.PublishEvent(ctx, kafka.TopicDatasetIngested, kafka.TopicDatasetIngested, eventSource, payload); err != nil {
		s.logger.Warn("failed to publish dataset ingestion",
			logging.String("dataset", res.Dataset),
			logging.Err(err),
		)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Export
// ─────────────────────────────────────────────────────────────────────────────

func (s *service) ExportMatrix(ctx context.Context, m *embedding.Matrix, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return apperrors.New(apperrors.ErrCodeValidation, "matrix is required")
	}
	if len(m.Names) != len(m.Rows) || len(m.Labels) != len(m.Rows) {
		return apperrors.Newf(apperrors.ErrCodeValidation,
			"matrix misaligned: %d names, %d labels, %d rows", len(m.Names), len(m.Labels), len(m.Rows))
	}

	cw := csv.NewWriter(w)
	header := make([]string, 0, m.Dimension+2)
	header = append(header, "name", "label")
	for i := 0; i < m.Dimension; i++ {
		header = append(header, fmt.Sprintf("v%d", i))
	}
	if err := cw.Write(header); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "writing matrix header")
	}

	row := make([]string, m.Dimension+2)
	for i, vec := range m.Rows {
		if len(vec) != m.Dimension {
			return apperrors.FromCode(apperrors.ErrCodeDimensionMismatch).
				WithDetailf("row %d has %d values, matrix dimension is %d", i, len(vec), m.Dimension)
		}
		row[0] = m.Names[i]
		row[1] = m.Labels[i]
		for j, v := range vec {
			row[j+2] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return apperrors.Wrapf(err, apperrors.ErrCodeSerialization, "writing matrix row %d", i)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSerialization, "flushing matrix export")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Removal and listing
// ─────────────────────────────────────────────────────────────────────────────

func (s *service) DeleteDataset(ctx context.Context, dataset string) (*PurgeResult, error) {
	if dataset == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "dataset name is required")
	}

	removed, err := s.records.DeleteByDataset(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, apperrors.FromCode(apperrors.ErrCodeDatasetNotFound).
			WithDetailf("dataset %q has no records", dataset)
	}

	res := &PurgeResult{Dataset: dataset, RemovedRecords: removed}
	warn := func(backend string, err error) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", backend, err))
		s.logger.Warn("dataset purge left residue",
			logging.String("dataset", dataset),
			logging.String("backend", backend),
			logging.Err(err),
		)
	}

	if s.vectors != nil {
		for _, kind := range []seqtypes.EncoderKind{seqtypes.EncoderNaturalVector, seqtypes.EncoderEnergyEntropy} {
			if err := s.vectors.DeleteByDataset(ctx, kind, dataset); err != nil {
				warn("milvus/"+string(kind), err)
			}
		}
	}
	if s.index != nil {
		docs, err := s.index.DeleteByDataset(ctx, dataset)
		if err != nil {
			warn("opensearch", err)
		} else {
			res.RemovedDocs = docs
		}
	}
	if s.graph != nil {
		nodes, err := s.graph.RemoveDataset(ctx, dataset)
		if err != nil {
			warn("neo4j", err)
		} else {
			res.RemovedNodes = nodes
		}
	}
	if s.objects != nil {
		objects, err := s.objects.RemoveDataset(ctx, dataset)
		if err != nil {
			warn("minio", err)
		}
		res.RemovedObjects = objects
	}

	if s.publisher != nil {
		payload := &kafka.DatasetDeletedPayload{
			Dataset:          dataset,
			RemovedSequences: removed,
			DeletedAt:        time.Now().UTC(),
		}
		if err := s.publisher.PublishEvent(ctx, kafka.TopicDatasetDeleted, kafka.TopicDatasetDeleted, eventSource, payload); err != nil {
			s.logger.Warn("failed to publish dataset deletion",
				logging.String("dataset", dataset),
				logging.Err(err),
			)
		}
	}

	s.logger.Info("dataset deleted",
		logging.String("dataset", dataset),
		logging.Int64("records", res.RemovedRecords),
		logging.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

func (s *service) Datasets(ctx context.Context) ([]sequence.DatasetSummary, error) {
	return s.records.ListDatasets(ctx)
}
