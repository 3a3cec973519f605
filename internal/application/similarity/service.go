// Package similarity answers nearest-neighbor queries over stored embeddings
// and maintains the similarity graph built from them.  Vector search runs
// against Milvus, graph traversals against Neo4j, and metadata search against
// OpenSearch; the service stitches the three behind one API.
package similarity

import (
	"context"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	graphrepo "github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/milvus"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/opensearch"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

const (
	// defaultTopK is the neighbor count when the query names none.
	defaultTopK = 10

	// maxTopK caps one query's neighbor count.
	maxTopK = 100
)

// ─────────────────────────────────────────────────────────────────────────────
// Port interfaces
// ─────────────────────────────────────────────────────────────────────────────

// VectorSearcher is the slice of the Milvus store the service queries.
// *milvus.VectorStore satisfies it.
type VectorSearcher interface {
	SearchOne(ctx context.Context, encoder seqtypes.EncoderKind, vector []float64, topK int, filter string) ([]*milvus.VectorHit, error)
	FetchVector(ctx context.Context, encoder seqtypes.EncoderKind, sequenceID string) ([]float64, error)
}

// Encoder turns raw residues into vectors for queries whose embedding is not
// stored yet.  The embedding service satisfies it.
type Encoder interface {
	EncodeOne(ctx context.Context, kind seqtypes.EncoderKind, rawSequence string) (*embedding.Embedding, error)
}

// MetadataSearcher answers text queries over the sequence metadata index.
// *opensearch.Searcher satisfies it.
type MetadataSearcher interface {
	SearchMetadata(ctx context.Context, q opensearch.MetadataQuery) (*opensearch.MetadataPage, error)
	SuggestNames(ctx context.Context, prefix string, size int) ([]string, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries and results
// ─────────────────────────────────────────────────────────────────────────────

// NearestQuery asks for the nearest neighbors of one sequence, identified
// either by a stored record ID or by raw residues.  Exactly one of the two
// must be set.
type NearestQuery struct {
	// SequenceID selects a stored record as the query point.  Its own
	// vector never appears among the hits.
	SequenceID common.ID `json:"sequence_id,omitempty"`

	// Sequence is a raw residue string encoded on the fly.
	Sequence string `json:"sequence,omitempty"`

	// Encoder selects which embedding space to search.
	Encoder seqtypes.EncoderKind `json:"encoder"`

	// TopK bounds the neighbor count; zero means the default.
	TopK int `json:"top_k,omitempty"`

	// Dataset restricts hits to one dataset when set.
	Dataset string `json:"dataset,omitempty"`
}

// NearestResult is one answered nearest-neighbor query.
type NearestResult struct {
	Encoder seqtypes.EncoderKind `json:"encoder"`
	TopK    int                  `json:"top_k"`
	Hits    []*milvus.VectorHit  `json:"hits"`
	Elapsed time.Duration        `json:"elapsed"`
}

// LinkResult reports how many neighbor edges one linking pass materialized
// in the graph.
type LinkResult struct {
	SequenceID common.ID            `json:"sequence_id"`
	Encoder    seqtypes.EncoderKind `json:"encoder"`
	Requested  int                  `json:"requested"`
	Linked     int64                `json:"linked"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Service
// ─────────────────────────────────────────────────────────────────────────────

// Service answers similarity queries across the vector, graph, and text
// backends.
type Service interface {
	// Nearest returns the nearest stored neighbors of the query sequence.
	Nearest(ctx context.Context, q NearestQuery) (*NearestResult, error)

	// LinkNeighbors runs a nearest query for a stored record and writes
	// the hits into the similarity graph as SIMILAR_TO edges.
	LinkNeighbors(ctx context.Context, q NearestQuery) (*LinkResult, error)

	// Neighborhood expands the similarity graph around one sequence.
	Neighborhood(ctx context.Context, seqID common.ID, depth int) (*graphrepo.Neighborhood, error)

	// ShortestPath walks the cheapest similarity path between two stored
	// sequences.
	ShortestPath(ctx context.Context, fromID, toID common.ID) (*graphrepo.SimilarityPath, error)

	// TopHubs lists the most connected sequences, optionally within one
	// dataset.
	TopHubs(ctx context.Context, dataset string, limit int) ([]*graphrepo.NodeDegree, error)

	// GraphStats summarizes the similarity graph.
	GraphStats(ctx context.Context) (*graphrepo.GraphStats, error)

	// SearchMetadata answers a text query over sequence metadata.
	SearchMetadata(ctx context.Context, q opensearch.MetadataQuery) (*opensearch.MetadataPage, error)

	// SuggestNames completes a partial sequence name.
	SuggestNames(ctx context.Context, prefix string, size int) ([]string, error)
}

// Deps bundles the backends.  Encoder and Vectors are required; Records
// backs re-encoding of records whose vector is not stored, and the graph and
// metadata backends are optional.
type Deps struct {
	Records  sequence.Repository
	Encoder  Encoder
	Vectors  VectorSearcher
	Graph    graphrepo.SimilarityGraphRepository
	Metadata MetadataSearcher
	Metrics  *prometheus.AppMetrics
	Logger   logging.Logger
}

type service struct {
	records  sequence.Repository
	encoder  Encoder
	vectors  VectorSearcher
	graph    graphrepo.SimilarityGraphRepository
	metadata MetadataSearcher
	metrics  *prometheus.AppMetrics
	logger   logging.Logger
}

// NewService wires the similarity query paths.
func NewService(deps Deps) (Service, error) {
	if deps.Encoder == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "similarity service requires an encoder")
	}
	if deps.Vectors == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "similarity service requires a vector store")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewNoopAppMetrics()
	}
	return &service{
		records:  deps.Records,
		encoder:  deps.Encoder,
		vectors:  deps.Vectors,
		graph:    deps.Graph,
		metadata: deps.Metadata,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Vector search
// ─────────────────────────────────────────────────────────────────────────────

func (s *service) Nearest(ctx context.Context, q NearestQuery) (*NearestResult, error) {
	start := time.Now()
	hits, err := s.nearestHits(ctx, &q)
	prometheus.RecordSimilarityQuery(s.metrics, "milvus", len(hits), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &NearestResult{
		Encoder: q.Encoder,
		TopK:    q.TopK,
		Hits:    hits,
		Elapsed: time.Since(start),
	}, nil
}

// nearestHits resolves the query vector, searches, and strips the query's
// own record from the answer.  It normalizes q.TopK in place so callers see
// the effective value.
func (s *service) nearestHits(ctx context.Context, q *NearestQuery) ([]*milvus.VectorHit, error) {
	if err := q.Encoder.Validate(); err != nil {
		return nil, apperrors.FromCode(apperrors.ErrCodeEncoderUnsupported).WithDetail(err.Error())
	}
	if (q.SequenceID == "") == (q.Sequence == "") {
		return nil, apperrors.New(apperrors.ErrCodeValidation,
			"exactly one of sequence_id and sequence must be set")
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.TopK > maxTopK {
		q.TopK = maxTopK
	}

	vector, err := s.queryVector(ctx, q)
	if err != nil {
		return nil, err
	}

	// Ask for one extra hit when the query point itself is stored, so the
	// answer still holds TopK strangers after self-removal.
	want := q.TopK
	if q.SequenceID != "" {
		want++
	}

	hits, err := s.vectors.SearchOne(ctx, q.Encoder, vector, want, milvus.DatasetFilter(q.Dataset))
	if err != nil {
		return nil, err
	}

	kept := hits[:0]
	for _, hit := range hits {
		if q.SequenceID != "" && hit.SequenceID == string(q.SequenceID) {
			continue
		}
		hit.Rank = len(kept) + 1
		kept = append(kept, hit)
		if len(kept) == q.TopK {
			break
		}
	}
	return kept, nil
}

// queryVector produces the embedding to search with: the stored vector for a
// record query, falling back to re-encoding its residues when the vector was
// never written; a fresh encoding for a raw-sequence query.
func (s *service) queryVector(ctx context.Context, q *NearestQuery) ([]float64, error) {
	if q.Sequence != "" {
		emb, err := s.encoder.EncodeOne(ctx, q.Encoder, q.Sequence)
		if err != nil {
			return nil, err
		}
		return emb.Vector, nil
	}

	vector, err := s.vectors.FetchVector(ctx, q.Encoder, string(q.SequenceID))
	if err == nil {
		return vector, nil
	}
	if !apperrors.IsNotFound(err) || s.records == nil {
		return nil, err
	}

	rec, err := s.records.GetByID(ctx, q.SequenceID)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("re-encoding record for nearest query",
		logging.String("sequence_id", string(q.SequenceID)),
		logging.String("encoder", string(q.Encoder)),
	)
	emb, err := s.encoder.EncodeOne(ctx, q.Encoder, rec.Residues)
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Graph maintenance and traversal
// ─────────────────────────────────────────────────────────────────────────────

func (s *service) LinkNeighbors(ctx context.Context, q NearestQuery) (*LinkResult, error) {
	if s.graph == nil {
		return nil, apperrors.New(apperrors.ErrCodeServiceUnavailable, "similarity graph is not configured")
	}
	if q.SequenceID == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation,
			"neighbor linking needs a stored sequence_id")
	}
	q.Sequence = ""

	hits, err := s.nearestHits(ctx, &q)
	if err != nil {
		return nil, err
	}

	edges := make([]*graphrepo.SimilarityEdge, len(hits))
	for i, hit := range hits {
		edges[i] = &graphrepo.SimilarityEdge{
			FromID:  string(q.SequenceID),
			ToID:    hit.SequenceID,
			Encoder: q.Encoder,
			// Milvus scores are inner products, higher means closer;
			// the graph stores a distance, so invert monotonically
			// onto (0,1].
			Distance: 1 / (1 + hit.Score),
			Rank:     hit.Rank,
		}
	}

	linked, err := s.graph.BatchLinkSimilar(ctx, edges)
	if err != nil {
		return nil, err
	}
	s.logger.Info("neighbors linked",
		logging.String("sequence_id", string(q.SequenceID)),
		logging.String("encoder", string(q.Encoder)),
		logging.Int("requested", len(edges)),
		logging.Int64("linked", linked),
	)
	return &LinkResult{
		SequenceID: q.SequenceID,
		Encoder:    q.Encoder,
		Requested:  len(edges),
		Linked:     linked,
	}, nil
}

func (s *service) Neighborhood(ctx context.Context, seqID common.ID, depth int) (*graphrepo.Neighborhood, error) {
	if s.graph == nil {
		return nil, apperrors.New(apperrors.ErrCodeServiceUnavailable, "similarity graph is not configured")
	}
	start := time.Now()
	nb, err := s.graph.Neighborhood(ctx, string(seqID), depth)
	results := 0
	if nb != nil {
		results = len(nb.Nodes)
	}
	prometheus.RecordSimilarityQuery(s.metrics, "neo4j", results, time.Since(start), err)
	return nb, err
}

func (s *service) ShortestPath(ctx context.Context, fromID, toID common.ID) (*graphrepo.SimilarityPath, error) {
	if s.graph == nil {
		return nil, apperrors.New(apperrors.ErrCodeServiceUnavailable, "similarity graph is not configured")
	}
	start := time.Now()
	path, err := s.graph.ShortestPath(ctx, string(fromID), string(toID))
	results := 0
	if path != nil {
		results = len(path.SequenceIDs)
	}
	prometheus.RecordSimilarityQuery(s.metrics, "neo4j", results, time.Since(start), err)
	return path, err
}

func (s *service) TopHubs(ctx context.Context, dataset string, limit int) ([]*graphrepo.NodeDegree, error) {
	if s.graph == nil {
		return nil, apperrors.New(apperrors.ErrCodeServiceUnavailable, "similarity graph is not configured")
	}
	var filter *string
	if dataset != "" {
		filter = &dataset
	}
	return s.graph.TopHubs(ctx, filter, limit)
}

func (s *service) GraphStats(ctx context.Context) (*graphrepo.GraphStats, error) {
	if s.graph == nil {
		return nil, apperrors.New(apperrors.ErrCodeServiceUnavailable, "similarity graph is not configured")
	}
	return s.graph.GraphStats(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Metadata search
// ─────────────────────────────────────────────────────────────────────────────

func (s *service) SearchMetadata(ctx context.Context, q opensearch.MetadataQuery) (*opensearch.MetadataPage, error) {
	if s.metadata == nil {
		return nil, apperrors.New(apperrors.ErrCodeServiceUnavailable, "metadata search is not configured")
	}
	start := time.Now()
	page, err := s.metadata.SearchMetadata(ctx, q)
	results := 0
	if page != nil {
		results = len(page.Hits)
	}
	prometheus.RecordSimilarityQuery(s.metrics, "opensearch", results, time.Since(start), err)
	return page, err
}

func (s *service) SuggestNames(ctx context.Context, prefix string, size int) ([]string, error) {
	if s.metadata == nil {
		return nil, apperrors.New(apperrors.ErrCodeServiceUnavailable, "metadata search is not configured")
	}
	return s.metadata.SuggestNames(ctx, prefix, size)
}
