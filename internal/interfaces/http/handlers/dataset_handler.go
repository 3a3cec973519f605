package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/dataset"
	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/job"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/ingest"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// matrixPageSize is the page size used when walking a dataset for export.
const matrixPageSize = 500

// DatasetHandler serves dataset lifecycle endpoints: upload, listing,
// matrix export, purge, and background embedding jobs.
type DatasetHandler struct {
	datasets    dataset.Service
	encoder     embedding.Service
	records     sequence.Repository
	jobs        job.Repository
	publisher   dataset.EventPublisher
	logger      logging.Logger
	maxBodySize int64
}

// NewDatasetHandler creates a new DatasetHandler. jobs and publisher may be
// nil when background embedding is not wired; the enqueue endpoint then
// reports 503.
func NewDatasetHandler(
	datasets dataset.Service,
	encoder embedding.Service,
	records sequence.Repository,
	jobs job.Repository,
	publisher dataset.EventPublisher,
	logger logging.Logger,
	maxBodySize int64,
) *DatasetHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DatasetHandler{
		datasets:    datasets,
		encoder:     encoder,
		records:     records,
		jobs:        jobs,
		publisher:   publisher,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// List handles GET /datasets.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.datasets.Datasets(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, summaries)
}

// Ingest handles POST /datasets: multipart upload of a FASTA/CSV/TSV file.
// Form fields: file (required), dataset, format, type, sequence_column,
// name_column, label_column.
func (h *DatasetHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.maxBodySize
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeValidation, "malformed multipart body"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAppError(w, r, apperrors.New(apperrors.ErrCodeValidation, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	in := dataset.IngestInput{
		Dataset:  r.FormValue("dataset"),
		Filename: header.Filename,
		Reader:   file,
		Format:   ingest.Format(r.FormValue("format")),
		Type:     seqtypes.SequenceType(r.FormValue("type")),
		Columns: ingest.DelimitedOptions{
			SequenceColumn: r.FormValue("sequence_column"),
			NameColumn:     r.FormValue("name_column"),
			LabelColumn:    r.FormValue("label_column"),
		},
	}

	res, err := h.datasets.IngestFile(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, ingestResponse(res))
}

// IngestResponse is the wire form of an ingestion result.
type IngestResponse struct {
	Dataset   string              `json:"dataset"`
	Format    string              `json:"format"`
	Total     int                 `json:"total"`
	Created   int                 `json:"created"`
	Failed    int                 `json:"failed"`
	ObjectKey string              `json:"object_key,omitempty"`
	Indexed   int                 `json:"indexed"`
	ElapsedMs int64               `json:"elapsed_ms"`
	Failures  []common.BatchError `json:"failures,omitempty"`
}

func ingestResponse(res *dataset.IngestResult) IngestResponse {
	out := IngestResponse{
		Dataset:   res.Dataset,
		Format:    string(res.Format),
		Total:     res.Total,
		Created:   res.Created,
		Failed:    res.Failed,
		ObjectKey: res.ObjectKey,
		Indexed:   res.Indexed,
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
	for i, f := range res.Failures {
		out.Failures = append(out.Failures, batchError(i, f.Name, f.Err))
	}
	return out
}

// Delete handles DELETE /datasets/{dataset}: purge one dataset from every
// backend that holds a projection of it.
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.datasets.DeleteDataset(r.Context(), urlParam(r, "dataset"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}

// ExportMatrix handles GET /datasets/{dataset}/matrix?encoder=natural_vector.
// The whole dataset is encoded and streamed as CSV.
func (h *DatasetHandler) ExportMatrix(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "dataset")
	kind := seqtypes.EncoderKind(r.URL.Query().Get("encoder"))
	if kind == "" {
		kind = seqtypes.EncoderNaturalVector
	}

	records, err := h.loadDataset(r, name)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	result, err := h.encoder.EncodeBatch(r.Context(), kind, records, 0)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", name+"-"+string(kind)+".csv"))
	if err := h.datasets.ExportMatrix(r.Context(), result.Matrix, w); err != nil {
		// Headers are already on the wire; all that is left is the log.
		h.logger.Error("matrix export aborted mid-stream",
			logging.String("dataset", name),
			logging.Err(err),
		)
	}
}

func (h *DatasetHandler) loadDataset(r *http.Request, name string) ([]*sequence.Record, error) {
	if name == "" {
		return nil, apperrors.InvalidParam("dataset name is required")
	}

	var records []*sequence.Record
	for page := 1; ; page++ {
		batch, _, err := h.records.List(r.Context(), sequence.ListFilter{
			Dataset:    name,
			Pagination: common.Pagination{Page: page, PageSize: matrixPageSize},
		})
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		if len(batch) < matrixPageSize {
			break
		}
	}
	if len(records) == 0 {
		return nil, apperrors.FromCode(apperrors.ErrCodeDatasetNotFound).
			WithDetailf("dataset %q has no records", name)
	}
	return records, nil
}

// EnqueueRequest is the body of POST /datasets/{dataset}/embeddings.
type EnqueueRequest struct {
	Encoder string `json:"encoder"`
}

// EnqueueEmbedding handles POST /datasets/{dataset}/embeddings: create a
// pending job row and hand it to the worker pool through the broker.
// Responds 202 with the job so callers can poll GET /jobs/{jobID}.
func (h *DatasetHandler) EnqueueEmbedding(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil || h.publisher == nil {
		writeAppError(w, r, apperrors.New(apperrors.ErrCodeServiceUnavailable,
			"background embedding is not configured"))
		return
	}

	var req EnqueueRequest
	if err := decodeJSON(w, r, &req, h.maxBodySize); err != nil {
		writeAppError(w, r, err)
		return
	}

	j, err := job.New(urlParam(r, "dataset"), seqtypes.EncoderKind(req.Encoder))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.jobs.Create(r.Context(), j); err != nil {
		writeAppError(w, r, err)
		return
	}

	payload := &kafka.EmbeddingQueuedPayload{
		JobID:    string(j.ID),
		Dataset:  j.Dataset,
		Encoder:  string(j.Encoder),
		QueuedAt: time.Now().UTC(),
	}
	if err := h.publisher.PublishEvent(r.Context(), kafka.TopicEmbeddingQueued,
		kafka.TopicEmbeddingQueued, "api-server", payload); err != nil {
		// The job row exists but no worker will ever see it; surface the
		// failure instead of leaving the caller polling forever.
		h.logger.Error("embedding job enqueue failed after create",
			logging.String("job_id", string(j.ID)),
			logging.Err(err),
		)
		writeAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeMessagePublishFailed,
			"embedding job could not be queued"))
		return
	}

	writeData(w, r, http.StatusAccepted, j.ToDTO())
}

// GetJob handles GET /jobs/{jobID}.
func (h *DatasetHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeAppError(w, r, apperrors.New(apperrors.ErrCodeServiceUnavailable,
			"background embedding is not configured"))
		return
	}

	j, err := h.jobs.GetByID(r.Context(), common.ID(urlParam(r, "jobID")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, j.ToDTO())
}

// ListJobs handles GET /jobs?status=pending&limit=50.
func (h *DatasetHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeAppError(w, r, apperrors.New(apperrors.ErrCodeServiceUnavailable,
			"background embedding is not configured"))
		return
	}

	status := seqtypes.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = seqtypes.JobPending
	}
	limit := queryInt(r, "limit", 50)

	jobs, err := h.jobs.ListByStatus(r.Context(), status, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	dtos := make([]*seqtypes.EncodingJobDTO, 0, len(jobs))
	for _, j := range jobs {
		dtos = append(dtos, j.ToDTO())
	}
	writeData(w, r, http.StatusOK, dtos)
}
