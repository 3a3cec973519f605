package handlers

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/dataset"
	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/application/similarity"
	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/job"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	graphrepo "github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/opensearch"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// withURLParam attaches a chi route parameter to a request built outside a
// router, so handlers under test can read it with chi.URLParam.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func protRecord(t *testing.T) *sequence.Record {
	t.Helper()
	rec, err := sequence.NewRecord("hemoglobin-beta", "globin", "MVHLTPEEKSAVTALWGKV", seqtypes.TypeProtein, "demo")
	require.NoError(t, err)
	return rec
}

// stubRecords is a canned sequence.Repository. When rec is nil, reads come
// back empty; listErr and getErr force failures.
type stubRecords struct {
	rec        *sequence.Record
	listErr    error
	getErr     error
	lastFilter sequence.ListFilter
}

func (s *stubRecords) Create(ctx context.Context, r *sequence.Record) error         { return nil }
func (s *stubRecords) CreateBatch(ctx context.Context, rs []*sequence.Record) error { return nil }
func (s *stubRecords) Update(ctx context.Context, r *sequence.Record) error         { return nil }
func (s *stubRecords) Delete(ctx context.Context, id common.ID) error               { return nil }

func (s *stubRecords) GetByID(ctx context.Context, id common.ID) (*sequence.Record, error) {
	return s.rec, s.getErr
}

func (s *stubRecords) GetByChecksum(ctx context.Context, checksum string) (*sequence.Record, error) {
	return s.rec, s.getErr
}

func (s *stubRecords) GetByName(ctx context.Context, ds, name string) (*sequence.Record, error) {
	return s.rec, s.getErr
}

func (s *stubRecords) List(ctx context.Context, filter sequence.ListFilter) ([]*sequence.Record, int64, error) {
	s.lastFilter = filter
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	if s.rec == nil {
		return nil, 0, nil
	}
	return []*sequence.Record{s.rec}, 1, nil
}

func (s *stubRecords) ListDatasets(ctx context.Context) ([]sequence.DatasetSummary, error) {
	return []sequence.DatasetSummary{{Dataset: "demo", RecordCount: 1}}, nil
}

func (s *stubRecords) DeleteByDataset(ctx context.Context, ds string) (int64, error) {
	return 1, nil
}

func (s *stubRecords) MarkEmbedded(ctx context.Context, ids []common.ID, at time.Time) error {
	return nil
}

// newEncoderService builds the real embedding service over a stub repository;
// encoding itself is pure computation and needs no backends.
func newEncoderService(t *testing.T, records sequence.Repository) embedding.Service {
	t.Helper()
	svc, err := embedding.NewService(config.EncodingConfig{}, embedding.Deps{Records: records})
	require.NoError(t, err)
	return svc
}

// mockSimilarity mocks similarity.Service.
type mockSimilarity struct {
	mock.Mock
}

func (m *mockSimilarity) Nearest(ctx context.Context, q similarity.NearestQuery) (*similarity.NearestResult, error) {
	args := m.Called(ctx, q)
	if res, ok := args.Get(0).(*similarity.NearestResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSimilarity) LinkNeighbors(ctx context.Context, q similarity.NearestQuery) (*similarity.LinkResult, error) {
	args := m.Called(ctx, q)
	if res, ok := args.Get(0).(*similarity.LinkResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSimilarity) Neighborhood(ctx context.Context, seqID common.ID, depth int) (*graphrepo.Neighborhood, error) {
	args := m.Called(ctx, seqID, depth)
	if nb, ok := args.Get(0).(*graphrepo.Neighborhood); ok {
		return nb, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSimilarity) ShortestPath(ctx context.Context, fromID, toID common.ID) (*graphrepo.SimilarityPath, error) {
	args := m.Called(ctx, fromID, toID)
	if p, ok := args.Get(0).(*graphrepo.SimilarityPath); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSimilarity) TopHubs(ctx context.Context, dataset string, limit int) ([]*graphrepo.NodeDegree, error) {
	args := m.Called(ctx, dataset, limit)
	if hubs, ok := args.Get(0).([]*graphrepo.NodeDegree); ok {
		return hubs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSimilarity) GraphStats(ctx context.Context) (*graphrepo.GraphStats, error) {
	args := m.Called(ctx)
	if stats, ok := args.Get(0).(*graphrepo.GraphStats); ok {
		return stats, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSimilarity) SearchMetadata(ctx context.Context, q opensearch.MetadataQuery) (*opensearch.MetadataPage, error) {
	args := m.Called(ctx, q)
	if page, ok := args.Get(0).(*opensearch.MetadataPage); ok {
		return page, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSimilarity) SuggestNames(ctx context.Context, prefix string, size int) ([]string, error) {
	args := m.Called(ctx, prefix, size)
	if names, ok := args.Get(0).([]string); ok {
		return names, args.Error(1)
	}
	return nil, args.Error(1)
}

// mockDatasets mocks dataset.Service.
type mockDatasets struct {
	mock.Mock
}

func (m *mockDatasets) IngestFile(ctx context.Context, in dataset.IngestInput) (*dataset.IngestResult, error) {
	args := m.Called(ctx, in)
	if res, ok := args.Get(0).(*dataset.IngestResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatasets) ExportMatrix(ctx context.Context, mat *embedding.Matrix, w io.Writer) error {
	args := m.Called(ctx, mat, w)
	return args.Error(0)
}

func (m *mockDatasets) DeleteDataset(ctx context.Context, ds string) (*dataset.PurgeResult, error) {
	args := m.Called(ctx, ds)
	if res, ok := args.Get(0).(*dataset.PurgeResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatasets) Datasets(ctx context.Context) ([]sequence.DatasetSummary, error) {
	args := m.Called(ctx)
	if sums, ok := args.Get(0).([]sequence.DatasetSummary); ok {
		return sums, args.Error(1)
	}
	return nil, args.Error(1)
}

// mockJobs mocks job.Repository.
type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Create(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *mockJobs) GetByID(ctx context.Context, id common.ID) (*job.Job, error) {
	args := m.Called(ctx, id)
	if j, ok := args.Get(0).(*job.Job); ok {
		return j, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockJobs) Update(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *mockJobs) ListByStatus(ctx context.Context, status seqtypes.JobStatus, limit int) ([]*job.Job, error) {
	args := m.Called(ctx, status, limit)
	if jobs, ok := args.Get(0).([]*job.Job); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockJobs) CountByStatus(ctx context.Context) (map[seqtypes.JobStatus]int64, error) {
	args := m.Called(ctx)
	if counts, ok := args.Get(0).(map[seqtypes.JobStatus]int64); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}

// mockPublisher mocks dataset.EventPublisher.
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishEvent(ctx context.Context, topic, eventType, source string, payload interface{}) error {
	args := m.Called(ctx, topic, eventType, source, payload)
	return args.Error(0)
}
