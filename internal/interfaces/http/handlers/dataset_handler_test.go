package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/dataset"
	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/job"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/ingest"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/messaging/kafka"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// multipartUpload builds a multipart body with one file part plus extra form
// fields, returning the body and its content type.
func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestDatasetHandler_List(t *testing.T) {
	datasets := &mockDatasets{}
	datasets.On("Datasets", mock.Anything).Return([]sequence.DatasetSummary{
		{Dataset: "demo", RecordCount: 12, EmbeddedCount: 7},
	}, nil)

	h := NewDatasetHandler(datasets, nil, nil, nil, nil, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	var sums []sequence.DatasetSummary
	require.NoError(t, json.Unmarshal(resp.Data, &sums))
	require.Len(t, sums, 1)
	assert.Equal(t, "demo", sums[0].Dataset)
	assert.Equal(t, int64(12), sums[0].RecordCount)
	datasets.AssertExpectations(t)
}

func TestDatasetHandler_Ingest(t *testing.T) {
	datasets := &mockDatasets{}
	datasets.On("IngestFile", mock.Anything, mock.MatchedBy(func(in dataset.IngestInput) bool {
		return in.Dataset == "uniprot" &&
			in.Filename == "seqs.fasta" &&
			in.Format == ingest.FormatFASTA &&
			in.Reader != nil
	})).Return(&dataset.IngestResult{
		Dataset: "uniprot",
		Format:  ingest.FormatFASTA,
		Total:   3,
		Created: 2,
		Failed:  1,
		Indexed: 2,
		Elapsed: 120 * time.Millisecond,
		Failures: []dataset.RecordFailure{
			{Name: "broken", Err: apperrors.FromCode(apperrors.ErrCodeSequenceEmpty)},
		},
	}, nil)

	h := NewDatasetHandler(datasets, nil, nil, nil, nil, nil, 0)

	body, contentType := multipartUpload(t, "seqs.fasta", ">sp1\nMVHL\n", map[string]string{
		"dataset": "uniprot",
		"format":  "fasta",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeEnvelope(t, rec)
	var out IngestResponse
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, "uniprot", out.Dataset)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Created)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, int64(120), out.ElapsedMs)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "broken", out.Failures[0].Name)
	assert.Equal(t, "SEQ_001", out.Failures[0].Error.Code)
	datasets.AssertExpectations(t)
}

func TestDatasetHandler_Ingest_MissingFile(t *testing.T) {
	datasets := &mockDatasets{}
	h := NewDatasetHandler(datasets, nil, nil, nil, nil, nil, 0)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("dataset", "uniprot"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `file`)
	datasets.AssertNotCalled(t, "IngestFile", mock.Anything, mock.Anything)
}

func TestDatasetHandler_Ingest_NotMultipart(t *testing.T) {
	h := NewDatasetHandler(&mockDatasets{}, nil, nil, nil, nil, nil, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", strings.NewReader(`{"dataset":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed multipart body")
}

func TestDatasetHandler_Delete(t *testing.T) {
	datasets := &mockDatasets{}
	datasets.On("DeleteDataset", mock.Anything, "demo").Return(&dataset.PurgeResult{
		Dataset:        "demo",
		RemovedRecords: 5,
		RemovedDocs:    5,
	}, nil)

	h := NewDatasetHandler(datasets, nil, nil, nil, nil, nil, 0)

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/v1/datasets/demo", nil), "dataset", "demo")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	var res dataset.PurgeResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, int64(5), res.RemovedRecords)
	datasets.AssertExpectations(t)
}

func TestDatasetHandler_ExportMatrix(t *testing.T) {
	repo := &stubRecords{rec: protRecord(t)}
	encoder := newEncoderService(t, repo)
	datasetSvc, err := dataset.NewService(config.IngestConfig{}, dataset.Deps{Records: repo})
	require.NoError(t, err)

	h := NewDatasetHandler(datasetSvc, encoder, repo, nil, nil, nil, 0)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/demo/matrix", nil), "dataset", "demo")
	rec := httptest.NewRecorder()
	h.ExportMatrix(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "demo-natural_vector.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "name,label,v0,v1,"))
	assert.True(t, strings.HasPrefix(lines[1], "hemoglobin-beta,globin,"))
	// Header and row both have name, label, and one column per dimension.
	assert.Len(t, strings.Split(lines[1], ","), 252)
}

func TestDatasetHandler_ExportMatrix_EmptyDataset(t *testing.T) {
	repo := &stubRecords{}
	encoder := newEncoderService(t, repo)
	datasetSvc, err := dataset.NewService(config.IngestConfig{}, dataset.Deps{Records: repo})
	require.NoError(t, err)

	h := NewDatasetHandler(datasetSvc, encoder, repo, nil, nil, nil, 0)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ghost/matrix", nil), "dataset", "ghost")
	rec := httptest.NewRecorder()
	h.ExportMatrix(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SEQ_007")
}

func TestDatasetHandler_EnqueueEmbedding(t *testing.T) {
	jobs := &mockJobs{}
	jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.Dataset == "demo" &&
			j.Encoder == seqtypes.EncoderNaturalVector &&
			j.Status == seqtypes.JobPending
	})).Return(nil)

	publisher := &mockPublisher{}
	publisher.On("PublishEvent", mock.Anything, kafka.TopicEmbeddingQueued, kafka.TopicEmbeddingQueued,
		"api-server", mock.MatchedBy(func(p interface{}) bool {
			payload, ok := p.(*kafka.EmbeddingQueuedPayload)
			return ok && payload.Dataset == "demo" && payload.Encoder == "natural_vector" && payload.JobID != ""
		})).Return(nil)

	h := NewDatasetHandler(&mockDatasets{}, nil, nil, jobs, publisher, nil, 0)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/datasets/demo/embeddings",
		strings.NewReader(`{"encoder":"natural_vector"}`)), "dataset", "demo")
	rec := httptest.NewRecorder()
	h.EnqueueEmbedding(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeEnvelope(t, rec)
	var dto seqtypes.EncodingJobDTO
	require.NoError(t, json.Unmarshal(resp.Data, &dto))
	assert.Equal(t, "demo", dto.Dataset)
	assert.Equal(t, seqtypes.JobPending, dto.Status)
	assert.NotEmpty(t, dto.ID)

	jobs.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestDatasetHandler_EnqueueEmbedding_NotConfigured(t *testing.T) {
	h := NewDatasetHandler(&mockDatasets{}, nil, nil, nil, nil, nil, 0)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/datasets/demo/embeddings",
		strings.NewReader(`{"encoder":"natural_vector"}`)), "dataset", "demo")
	rec := httptest.NewRecorder()
	h.EnqueueEmbedding(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "background embedding is not configured")
}

func TestDatasetHandler_EnqueueEmbedding_BadEncoder(t *testing.T) {
	jobs := &mockJobs{}
	publisher := &mockPublisher{}
	h := NewDatasetHandler(&mockDatasets{}, nil, nil, jobs, publisher, nil, 0)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/datasets/demo/embeddings",
		strings.NewReader(`{"encoder":"word2vec"}`)), "dataset", "demo")
	rec := httptest.NewRecorder()
	h.EnqueueEmbedding(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ENC_002")
	jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDatasetHandler_EnqueueEmbedding_PublishFails(t *testing.T) {
	jobs := &mockJobs{}
	jobs.On("Create", mock.Anything, mock.Anything).Return(nil)

	publisher := &mockPublisher{}
	publisher.On("PublishEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.New(apperrors.ErrCodeMessagePublishFailed, "broker unreachable"))

	h := NewDatasetHandler(&mockDatasets{}, nil, nil, jobs, publisher, nil, 0)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/datasets/demo/embeddings",
		strings.NewReader(`{"encoder":"natural_vector"}`)), "dataset", "demo")
	rec := httptest.NewRecorder()
	h.EnqueueEmbedding(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "MSG_001")
}

func TestDatasetHandler_GetJob(t *testing.T) {
	j, err := job.New("demo", seqtypes.EncoderEnergyEntropy)
	require.NoError(t, err)

	jobs := &mockJobs{}
	jobs.On("GetByID", mock.Anything, j.ID).Return(j, nil)

	h := NewDatasetHandler(&mockDatasets{}, nil, nil, jobs, nil, nil, 0)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+string(j.ID), nil), "jobID", string(j.ID))
	rec := httptest.NewRecorder()
	h.GetJob(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	var dto seqtypes.EncodingJobDTO
	require.NoError(t, json.Unmarshal(resp.Data, &dto))
	assert.Equal(t, j.ID, dto.ID)
	assert.Equal(t, seqtypes.EncoderEnergyEntropy, dto.Encoder)
	jobs.AssertExpectations(t)
}

func TestDatasetHandler_ListJobs(t *testing.T) {
	j, err := job.New("demo", seqtypes.EncoderNaturalVector)
	require.NoError(t, err)

	jobs := &mockJobs{}
	jobs.On("ListByStatus", mock.Anything, seqtypes.JobPending, 50).Return([]*job.Job{j}, nil)

	h := NewDatasetHandler(&mockDatasets{}, nil, nil, jobs, nil, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	h.ListJobs(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	var dtos []*seqtypes.EncodingJobDTO
	require.NoError(t, json.Unmarshal(resp.Data, &dtos))
	require.Len(t, dtos, 1)
	assert.Equal(t, "demo", dtos[0].Dataset)
	jobs.AssertExpectations(t)
}

func TestDatasetHandler_ListJobs_StatusFilter(t *testing.T) {
	jobs := &mockJobs{}
	jobs.On("ListByStatus", mock.Anything, seqtypes.JobRunning, 5).Return([]*job.Job{}, nil)

	h := NewDatasetHandler(&mockDatasets{}, nil, nil, jobs, nil, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=running&limit=5", nil)
	rec := httptest.NewRecorder()
	h.ListJobs(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	jobs.AssertExpectations(t)
}
