// End-to-end tests: the complete HTTP stack (router, middleware, handlers,
// application services) is assembled in-process over in-memory stores and
// driven through the pkg/client SDK, exactly the way an external consumer
// talks to a deployed API server.  No external backends are required.
package e2e_test

import (
	"context"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/dataset"
	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/job"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/BioSeq-Intelligence/internal/interfaces/http"
	"github.com/turtacn/BioSeq-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/BioSeq-Intelligence/internal/interfaces/http/middleware"
	"github.com/turtacn/BioSeq-Intelligence/pkg/client"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

const testAPIKey = "e2e-test-key"

// ── in-memory stores ──────────────────────────────────────────────────────────

type memSequenceRepo struct {
	mu   sync.RWMutex
	byID map[common.ID]*sequence.Record
}

func newMemSequenceRepo() *memSequenceRepo {
	return &memSequenceRepo{byID: make(map[common.ID]*sequence.Record)}
}

func (m *memSequenceRepo) Create(_ context.Context, r *sequence.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Checksum == r.Checksum && existing.Dataset == r.Dataset {
			return apperrors.FromCode(apperrors.ErrCodeSequenceAlreadyExists)
		}
	}
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

func (m *memSequenceRepo) CreateBatch(ctx context.Context, records []*sequence.Record) error {
	for _, r := range records {
		if err := m.Create(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memSequenceRepo) GetByID(_ context.Context, id common.ID) (*sequence.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, apperrors.FromCode(apperrors.ErrCodeSequenceNotFound).WithDetailf("id=%s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *memSequenceRepo) GetByChecksum(_ context.Context, checksum string) (*sequence.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.byID {
		if r.Checksum == checksum {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.FromCode(apperrors.ErrCodeSequenceNotFound)
}

func (m *memSequenceRepo) GetByName(_ context.Context, ds, name string) (*sequence.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.byID {
		if r.Dataset == ds && r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.FromCode(apperrors.ErrCodeSequenceNotFound)
}

func (m *memSequenceRepo) Update(_ context.Context, r *sequence.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[r.ID]; !ok {
		return apperrors.FromCode(apperrors.ErrCodeSequenceNotFound)
	}
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

func (m *memSequenceRepo) Delete(_ context.Context, id common.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperrors.FromCode(apperrors.ErrCodeSequenceNotFound)
	}
	delete(m.byID, id)
	return nil
}

func (m *memSequenceRepo) List(_ context.Context, f sequence.ListFilter) ([]*sequence.Record, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*sequence.Record
	for _, r := range m.byID {
		if f.Dataset != "" && r.Dataset != f.Dataset {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if f.Label != "" && r.Label != f.Label {
			continue
		}
		if f.NameContains != "" && !strings.Contains(r.Name, f.NameContains) {
			continue
		}
		if f.EmbeddedOnly && r.EmbeddedAt == nil {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := int64(len(matched))
	page, size := f.Pagination.Page, f.Pagination.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	lo := (page - 1) * size
	if lo >= len(matched) {
		return nil, total, nil
	}
	hi := lo + size
	if hi > len(matched) {
		hi = len(matched)
	}
	return matched[lo:hi], total, nil
}

func (m *memSequenceRepo) ListDatasets(_ context.Context) ([]sequence.DatasetSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byDataset := make(map[string]*sequence.DatasetSummary)
	for _, r := range m.byID {
		s := byDataset[r.Dataset]
		if s == nil {
			s = &sequence.DatasetSummary{Dataset: r.Dataset}
			byDataset[r.Dataset] = s
		}
		s.RecordCount++
		if r.EmbeddedAt != nil {
			s.EmbeddedCount++
		}
		if r.UpdatedAt.After(s.UpdatedAt) {
			s.UpdatedAt = r.UpdatedAt
		}
	}

	out := make([]sequence.DatasetSummary, 0, len(byDataset))
	for _, s := range byDataset {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })
	return out, nil
}

func (m *memSequenceRepo) DeleteByDataset(_ context.Context, ds string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, r := range m.byID {
		if r.Dataset == ds {
			delete(m.byID, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memSequenceRepo) MarkEmbedded(_ context.Context, ids []common.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if r, ok := m.byID[id]; ok {
			stamp := at
			r.EmbeddedAt = &stamp
		}
	}
	return nil
}

type memJobRepo struct {
	mu   sync.RWMutex
	byID map[common.ID]*job.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{byID: make(map[common.ID]*job.Job)}
}

func (m *memJobRepo) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.byID[j.ID] = &cp
	return nil
}

func (m *memJobRepo) GetByID(_ context.Context, id common.ID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, apperrors.FromCode(apperrors.ErrCodeEncodingJobNotFound)
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Update(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.byID[j.ID] = &cp
	return nil
}

func (m *memJobRepo) ListByStatus(_ context.Context, status seqtypes.JobStatus, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*job.Job
	for _, j := range m.byID {
		if status != "" && j.Status != status {
			continue
		}
		cp := *j
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memJobRepo) CountByStatus(_ context.Context) (map[seqtypes.JobStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[seqtypes.JobStatus]int64)
	for _, j := range m.byID {
		out[j.Status]++
	}
	return out, nil
}

// ── server assembly ───────────────────────────────────────────────────────────

// newTestServer assembles the production route tree over in-memory stores
// and returns an SDK client pointed at it, plus the server's base URL for
// tests that need differently configured clients.
func newTestServer(t *testing.T) (*client.Client, string) {
	t.Helper()
	log := logging.NewNopLogger()
	records := newMemSequenceRepo()
	jobs := newMemJobRepo()

	encoder, err := embedding.NewService(config.EncodingConfig{}, embedding.Deps{
		Records: records,
		Logger:  log,
	})
	require.NoError(t, err)

	datasets, err := dataset.NewService(config.IngestConfig{}, dataset.Deps{
		Records: records,
		Logger:  log,
	})
	require.NoError(t, err)

	const maxBody = 8 << 20
	router := httpserver.NewRouter(httpserver.RouterConfig{
		EmbeddingHandler: handlers.NewEmbeddingHandler(encoder, maxBody),
		DatasetHandler:   handlers.NewDatasetHandler(datasets, encoder, records, jobs, nil, log, maxBody),
		SequenceHandler:  handlers.NewSequenceHandler(records, nil, maxBody),
		HealthHandler:    handlers.NewHealthHandler("e2e-test"),
		Auth: middleware.APIKeyAuthConfig{
			Enabled: true,
			Keys:    []string{testAPIKey},
		},
		Logger: log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	c, err := client.NewClient(srv.URL, testAPIKey,
		client.WithTimeout(10*time.Second),
		client.WithRetryMax(0))
	require.NoError(t, err)
	return c, srv.URL
}
