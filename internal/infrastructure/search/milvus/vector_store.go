package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// Collection field names.  Each encoder gets its own collection because the
// two encoders produce vectors of different dimensions and a Milvus
// float_vector field is fixed-width.
const (
	fieldID         = "id"
	fieldSequenceID = "seq_id"
	fieldEncoder    = "encoder"
	fieldDataset    = "dataset"
	fieldLabel      = "label"
	fieldVector     = "vector"
)

const (
	defaultShards   = 2
	defaultNList    = 1024
	defaultNProbe   = 16
	defaultSearchEf = 64
	upsertBatchSize = 1000
)

// VectorRecord is one embedding to store.
type VectorRecord struct {
	SequenceID string
	Dataset    string
	Label      string
	Vector     []float64
}

// VectorHit is one approximate-nearest-neighbour match.  Score is the inner
// product between the query and the stored vector; higher is closer.
type VectorHit struct {
	SequenceID string  `json:"sequence_id"`
	Dataset    string  `json:"dataset"`
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// VectorStore persists embedding vectors in per-encoder collections and
// answers approximate nearest-neighbour queries over them.
type VectorStore struct {
	client *Client
	cfg    config.MilvusConfig
	logger logging.Logger
}

// NewVectorStore builds a store over an established client connection.
func NewVectorStore(client *Client, cfg config.MilvusConfig, logger logging.Logger) *VectorStore {
	if cfg.IndexType == "" {
		cfg.IndexType = "HNSW"
	}
	if cfg.HNSWM == 0 {
		cfg.HNSWM = 16
	}
	if cfg.HNSWEfConstruction == 0 {
		cfg.HNSWEfConstruction = 200
	}
	if cfg.DefaultTopK == 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "bioseq_"
	}
	return &VectorStore{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// CollectionName returns the collection holding the encoder's vectors.
func (s *VectorStore) CollectionName(encoder seqtypes.EncoderKind) string {
	return s.cfg.CollectionPrefix + string(encoder)
}

// VectorID is the collection primary key for one sequence embedding.
func VectorID(encoder seqtypes.EncoderKind, sequenceID string) string {
	return string(encoder) + ":" + sequenceID
}

// DatasetFilter builds a search expression restricting hits to one dataset.
// An empty dataset yields an empty filter, matching everything.
func DatasetFilter(dataset string) string {
	if dataset == "" {
		return ""
	}
	return fmt.Sprintf("%s == %s", fieldDataset, strconv.Quote(dataset))
}

// EnsureCollection creates, indexes, and loads the encoder's collection.  An
// existing collection is verified against the expected dimension and loaded.
func (s *VectorStore) EnsureCollection(ctx context.Context, encoder seqtypes.EncoderKind, dim int) error {
	if err := encoder.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "bad encoder")
	}
	if dim <= 0 {
		return errors.Newf(errors.ErrCodeValidation, "vector dimension must be positive, got %d", dim)
	}

	name := s.CollectionName(encoder)
	mc := s.client.Milvus()

	has, err := mc.HasCollection(ctx, name)
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to check collection %s", name)
	}

	if has {
		if err := s.verifyDimension(ctx, name, dim); err != nil {
			return err
		}
	} else {
		if err := mc.CreateCollection(ctx, collectionSchema(name, dim), defaultShards); err != nil {
			return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to create collection %s", name)
		}
		idx, err := s.vectorIndex()
		if err != nil {
			return err
		}
		if err := mc.CreateIndex(ctx, name, fieldVector, idx, false); err != nil {
			return errors.Wrapf(err, errors.ErrCodeIndexingFailed, "failed to index collection %s", name)
		}
		s.logger.Info("Vector collection created",
			logging.String("collection", name),
			logging.Int("dimension", dim),
			logging.String("index", s.cfg.IndexType))
	}

	if err := mc.LoadCollection(ctx, name, false); err != nil {
		return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to load collection %s", name)
	}
	return nil
}

func collectionSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "sequence embedding vectors",
		Fields: []*entity.Field{
			{Name: fieldID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "160"}},
			{Name: fieldSequenceID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: fieldEncoder, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "32"}},
			{Name: fieldDataset, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: fieldLabel, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "256"}},
			{Name: fieldVector, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": strconv.Itoa(dim)}},
		},
	}
}

func (s *VectorStore) vectorIndex() (entity.Index, error) {
	var (
		idx entity.Index
		err error
	)
	switch s.cfg.IndexType {
	case "IVF_FLAT":
		idx, err = entity.NewIndexIvfFlat(entity.IP, defaultNList)
	default:
		idx, err = entity.NewIndexHNSW(entity.IP, s.cfg.HNSWM, s.cfg.HNSWEfConstruction)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeValidation, "bad %s index parameters", s.cfg.IndexType)
	}
	return idx, nil
}

func (s *VectorStore) verifyDimension(ctx context.Context, name string, dim int) error {
	coll, err := s.client.Milvus().DescribeCollection(ctx, name)
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to describe collection %s", name)
	}
	if coll.Schema == nil {
		return nil
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != fieldVector {
			continue
		}
		stored, err := strconv.Atoi(f.TypeParams["dim"])
		if err != nil {
			return nil
		}
		if stored != dim {
			return errors.Newf(errors.ErrCodeConflict,
				"collection %s stores %d-dimensional vectors but the encoder produces %d", name, stored, dim)
		}
		return nil
	}
	return nil
}

// Upsert writes records in batches, replacing any existing vector for the
// same sequence.  All records must share one dimension.
func (s *VectorStore) Upsert(ctx context.Context, encoder seqtypes.EncoderKind, records []*VectorRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	dim := len(records[0].Vector)
	if dim == 0 {
		return 0, errors.New(errors.ErrCodeValidation, "vector required")
	}
	for _, r := range records {
		if len(r.Vector) != dim {
			return 0, errors.Newf(errors.ErrCodeValidation,
				"vector dimension mismatch: sequence %s has %d entries, batch has %d", r.SequenceID, len(r.Vector), dim)
		}
	}

	name := s.CollectionName(encoder)
	var total int64
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if _, err := s.client.Milvus().Upsert(ctx, name, "", buildColumns(encoder, batch, dim)...); err != nil {
			return total, errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to upsert vectors into %s", name)
		}
		total += int64(len(batch))
	}

	s.logger.Info("Vectors upserted",
		logging.String("collection", name),
		logging.Int64("count", total))
	return total, nil
}

func buildColumns(encoder seqtypes.EncoderKind, records []*VectorRecord, dim int) []entity.Column {
	n := len(records)
	ids := make([]string, n)
	seqIDs := make([]string, n)
	encoders := make([]string, n)
	datasets := make([]string, n)
	labels := make([]string, n)
	vectors := make([][]float32, n)
	for i, r := range records {
		ids[i] = VectorID(encoder, r.SequenceID)
		seqIDs[i] = r.SequenceID
		encoders[i] = string(encoder)
		datasets[i] = r.Dataset
		labels[i] = r.Label
		vectors[i] = toFloat32(r.Vector)
	}
	return []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldSequenceID, seqIDs),
		entity.NewColumnVarChar(fieldEncoder, encoders),
		entity.NewColumnVarChar(fieldDataset, datasets),
		entity.NewColumnVarChar(fieldLabel, labels),
		entity.NewColumnFloatVector(fieldVector, dim, vectors),
	}
}

// Flush seals the collection's growing segments so they are persisted and
// indexed.  Call it after a bulk upsert, not per record.
func (s *VectorStore) Flush(ctx context.Context, encoder seqtypes.EncoderKind) error {
	name := s.CollectionName(encoder)
	if err := s.client.Milvus().Flush(ctx, name, false); err != nil {
		return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to flush collection %s", name)
	}
	return nil
}

// Search answers one ANN query per input vector, each returning up to topK
// hits ordered by descending inner product.
func (s *VectorStore) Search(ctx context.Context, encoder seqtypes.EncoderKind, vectors [][]float64, topK int, filter string) ([][]*VectorHit, error) {
	if len(vectors) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "query vector required")
	}
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	sp, err := s.searchParam(topK)
	if err != nil {
		return nil, err
	}

	queries := make([]entity.Vector, len(vectors))
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, errors.Newf(errors.ErrCodeValidation, "query vector %d is empty", i)
		}
		queries[i] = entity.FloatVector(toFloat32(v))
	}

	name := s.CollectionName(encoder)
	results, err := s.client.Milvus().Search(ctx, name, nil, filter,
		[]string{fieldSequenceID, fieldDataset, fieldLabel},
		queries, fieldVector, entity.IP, topK, sp)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeVectorSearchFailed, "vector search in %s failed", name)
	}

	hits := make([][]*VectorHit, len(results))
	for i, res := range results {
		if res.Err != nil {
			return nil, errors.Wrapf(res.Err, errors.ErrCodeVectorSearchFailed, "vector search in %s failed", name)
		}
		seqCol := res.Fields.GetColumn(fieldSequenceID)
		dsCol := res.Fields.GetColumn(fieldDataset)
		labelCol := res.Fields.GetColumn(fieldLabel)

		hits[i] = make([]*VectorHit, 0, res.ResultCount)
		for j := 0; j < res.ResultCount; j++ {
			hit := &VectorHit{Score: float64(res.Scores[j]), Rank: j + 1}
			if seqCol != nil {
				hit.SequenceID, _ = seqCol.GetAsString(j)
			}
			if dsCol != nil {
				hit.Dataset, _ = dsCol.GetAsString(j)
			}
			if labelCol != nil {
				hit.Label, _ = labelCol.GetAsString(j)
			}
			hits[i] = append(hits[i], hit)
		}
	}

	s.logger.Debug("Vector search executed",
		logging.String("collection", name),
		logging.Int("queries", len(vectors)),
		logging.Int("top_k", topK))
	return hits, nil
}

// SearchOne runs Search for a single query vector.
func (s *VectorStore) SearchOne(ctx context.Context, encoder seqtypes.EncoderKind, vector []float64, topK int, filter string) ([]*VectorHit, error) {
	hits, err := s.Search(ctx, encoder, [][]float64{vector}, topK, filter)
	if err != nil {
		return nil, err
	}
	return hits[0], nil
}

func (s *VectorStore) searchParam(topK int) (entity.SearchParam, error) {
	var (
		sp  entity.SearchParam
		err error
	)
	switch s.cfg.IndexType {
	case "IVF_FLAT":
		sp, err = entity.NewIndexIvfFlatSearchParam(defaultNProbe)
	default:
		ef := topK
		if ef < defaultSearchEf {
			ef = defaultSearchEf
		}
		sp, err = entity.NewIndexHNSWSearchParam(ef)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeValidation, "bad %s search parameters", s.cfg.IndexType)
	}
	return sp, nil
}

// FetchVector reads back the stored embedding for one sequence.
func (s *VectorStore) FetchVector(ctx context.Context, encoder seqtypes.EncoderKind, sequenceID string) ([]float64, error) {
	name := s.CollectionName(encoder)
	pk := entity.NewColumnVarChar(fieldID, []string{VectorID(encoder, sequenceID)})

	res, err := s.client.Milvus().QueryByPks(ctx, name, nil, pk, []string{fieldVector})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeVectorSearchFailed, "failed to fetch vector from %s", name)
	}

	col, ok := res.GetColumn(fieldVector).(*entity.ColumnFloatVector)
	if !ok || col.Len() == 0 {
		return nil, errors.Newf(errors.ErrCodeNotFound, "no %s vector stored for sequence %s", encoder, sequenceID)
	}
	return toFloat64(col.Data()[0]), nil
}

// DeleteBySequence removes the stored vectors for the given sequences.
func (s *VectorStore) DeleteBySequence(ctx context.Context, encoder seqtypes.EncoderKind, sequenceIDs []string) error {
	if len(sequenceIDs) == 0 {
		return nil
	}
	quoted := make([]string, len(sequenceIDs))
	for i, id := range sequenceIDs {
		quoted[i] = strconv.Quote(id)
	}
	expr := fmt.Sprintf("%s in [%s]", fieldSequenceID, strings.Join(quoted, ", "))

	name := s.CollectionName(encoder)
	if err := s.client.Milvus().Delete(ctx, name, "", expr); err != nil {
		return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to delete vectors from %s", name)
	}
	s.logger.Info("Vectors deleted",
		logging.String("collection", name),
		logging.Int("count", len(sequenceIDs)))
	return nil
}

// DeleteByDataset removes every vector ingested under one dataset.
func (s *VectorStore) DeleteByDataset(ctx context.Context, encoder seqtypes.EncoderKind, dataset string) error {
	if dataset == "" {
		return errors.New(errors.ErrCodeValidation, "dataset required")
	}

	name := s.CollectionName(encoder)
	if err := s.client.Milvus().Delete(ctx, name, "", DatasetFilter(dataset)); err != nil {
		return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to delete dataset %s from %s", dataset, name)
	}
	s.logger.Info("Dataset vectors deleted",
		logging.String("collection", name),
		logging.String("dataset", dataset))
	return nil
}

// Count returns the stored row count for the encoder's collection.
func (s *VectorStore) Count(ctx context.Context, encoder seqtypes.EncoderKind) (int64, error) {
	name := s.CollectionName(encoder)
	stats, err := s.client.Milvus().GetCollectionStatistics(ctx, name)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to read statistics for %s", name)
	}
	raw, ok := stats["row_count"]
	if !ok {
		return 0, nil
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrCodeSerialization, "bad row_count %q for %s", raw, name)
	}
	return count, nil
}

// Drop removes the encoder's collection entirely.  Missing collections are
// not an error.
func (s *VectorStore) Drop(ctx context.Context, encoder seqtypes.EncoderKind) error {
	name := s.CollectionName(encoder)
	mc := s.client.Milvus()

	has, err := mc.HasCollection(ctx, name)
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to check collection %s", name)
	}
	if !has {
		return nil
	}
	if err := mc.DropCollection(ctx, name); err != nil {
		return errors.Wrapf(err, errors.ErrCodeVectorStoreFailed, "failed to drop collection %s", name)
	}
	s.logger.Warn("Vector collection dropped", logging.String("collection", name))
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
