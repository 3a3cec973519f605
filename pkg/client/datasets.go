package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// DatasetsClient calls the dataset lifecycle and embedding-job endpoints.
type DatasetsClient struct {
	client *Client
}

// DatasetSummary is one dataset's record and embedding counts.
type DatasetSummary struct {
	Dataset       string    `json:"dataset"`
	RecordCount   int64     `json:"record_count"`
	EmbeddedCount int64     `json:"embedded_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IngestRequest uploads one FASTA/CSV/TSV file into a dataset.  Format and
// Type are optional; the server detects the format from the filename and
// defaults the type to protein.
type IngestRequest struct {
	Dataset        string
	Filename       string
	File           io.Reader
	Format         string
	Type           string
	SequenceColumn string
	NameColumn     string
	LabelColumn    string
}

// IngestResult summarizes one upload.
type IngestResult struct {
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

// PurgeResult reports what one dataset deletion removed from each backend.
type PurgeResult struct {
	Dataset        string   `json:"dataset"`
	RemovedRecords int64    `json:"removed_records"`
	RemovedDocs    int64    `json:"removed_docs"`
	RemovedNodes   int64    `json:"removed_nodes"`
	RemovedObjects int      `json:"removed_objects"`
	Warnings       []string `json:"warnings,omitempty"`
}

// List returns per-dataset record and embedding counts.
func (dc *DatasetsClient) List(ctx context.Context) ([]DatasetSummary, error) {
	var out []DatasetSummary
	if _, err := dc.client.get(ctx, "/api/v1/datasets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ingest uploads one sequence file.  The file content is buffered in memory
// so the request can be retried.
func (dc *DatasetsClient) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.File == nil {
		return nil, fmt.Errorf("client: ingest file reader is required")
	}
	if req.Filename == "" {
		return nil, fmt.Errorf("client: ingest filename is required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("client: build multipart body: %w", err)
	}
	if _, err := io.Copy(fw, req.File); err != nil {
		return nil, fmt.Errorf("client: read ingest file: %w", err)
	}
	fields := map[string]string{
		"dataset":         req.Dataset,
		"format":          req.Format,
		"type":            req.Type,
		"sequence_column": req.SequenceColumn,
		"name_column":     req.NameColumn,
		"label_column":    req.LabelColumn,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("client: build multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("client: build multipart body: %w", err)
	}

	payload := buf.Bytes()
	resp, err := dc.client.doRaw(ctx, http.MethodPost, "/api/v1/datasets",
		payload, mw.FormDataContentType(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var out IngestResult
	if _, err := decodeEnvelope(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete purges one dataset from every backend that holds a projection of it.
func (dc *DatasetsClient) Delete(ctx context.Context, dataset string) (*PurgeResult, error) {
	var out PurgeResult
	if err := dc.client.delete(ctx, "/api/v1/datasets/"+url.PathEscape(dataset), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportMatrix streams the dataset's embedding matrix as CSV into w and
// returns the number of bytes written.  encoder may be empty for the server
// default.
func (dc *DatasetsClient) ExportMatrix(ctx context.Context, dataset, encoder string, w io.Writer) (int64, error) {
	q := url.Values{}
	setNonEmpty(q, "encoder", encoder)

	path := fmt.Sprintf("/api/v1/datasets/%s/matrix", url.PathEscape(dataset))
	resp, err := dc.client.doRaw(ctx, http.MethodGet, buildPath(path, q), nil, "", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("client: stream matrix: %w", err)
	}
	return n, nil
}

// EnqueueEmbedding queues a background embedding job over one dataset and
// returns the pending job for polling.
func (dc *DatasetsClient) EnqueueEmbedding(ctx context.Context, dataset, encoder string) (*seqtypes.EncodingJobDTO, error) {
	body := struct {
		Encoder string `json:"encoder"`
	}{Encoder: encoder}

	var out seqtypes.EncodingJobDTO
	path := fmt.Sprintf("/api/v1/datasets/%s/embeddings", url.PathEscape(dataset))
	if err := dc.client.post(ctx, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Job fetches one embedding job by ID.
func (dc *DatasetsClient) Job(ctx context.Context, jobID string) (*seqtypes.EncodingJobDTO, error) {
	var out seqtypes.EncodingJobDTO
	if _, err := dc.client.get(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Jobs lists embedding jobs by status.  Empty status means pending; zero
// limit uses the server default.
func (dc *DatasetsClient) Jobs(ctx context.Context, status string, limit int) ([]*seqtypes.EncodingJobDTO, error) {
	q := url.Values{}
	setNonEmpty(q, "status", status)
	setPositive(q, "limit", limit)

	var out []*seqtypes.EncodingJobDTO
	if _, err := dc.client.get(ctx, "/api/v1/jobs", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
