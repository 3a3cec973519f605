package client

import (
	"context"

	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
)

// EmbeddingsClient calls the encoding endpoints.
type EmbeddingsClient struct {
	client *Client
}

// EncodeRequest asks for one raw sequence to be embedded without storing it.
type EncodeRequest struct {
	Encoder  string `json:"encoder"`
	Sequence string `json:"sequence"`
}

// Embedding is one encoded sequence vector.
type Embedding struct {
	Encoder   string    `json:"encoder"`
	Dimension int       `json:"dimension"`
	Length    int       `json:"length"`
	Checksum  string    `json:"checksum"`
	Vector    []float64 `json:"vector"`
}

// EncoderInfo describes one encoder registered on the server.
type EncoderInfo struct {
	Kind      string `json:"kind"`
	Dimension int    `json:"dimension"`
}

// BatchSequence is one named input row of a batch encode request.
type BatchSequence struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Sequence string `json:"sequence"`
	Type     string `json:"type,omitempty"`
}

// EncodeBatchRequest encodes many raw sequences into one aligned matrix.
type EncodeBatchRequest struct {
	Encoder     string          `json:"encoder"`
	Sequences   []BatchSequence `json:"sequences"`
	Parallelism int             `json:"parallelism,omitempty"`
}

// Matrix is a dense embedding matrix; Names, Labels, and Rows are aligned.
type Matrix struct {
	Encoder   string      `json:"encoder"`
	Dimension int         `json:"dimension"`
	Names     []string    `json:"names"`
	Labels    []string    `json:"labels"`
	Rows      [][]float64 `json:"rows"`
}

// EncodeBatchResult carries the matrix plus per-row failures.  A row failure
// never aborts the batch.
type EncodeBatchResult struct {
	Matrix   *Matrix             `json:"matrix"`
	Failures []common.BatchError `json:"failures,omitempty"`
}

// Encode embeds one raw sequence.
func (ec *EmbeddingsClient) Encode(ctx context.Context, req EncodeRequest) (*Embedding, error) {
	var out Embedding
	if err := ec.client.post(ctx, "/api/v1/embeddings", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EncodeBatch embeds many sequences in one call.
func (ec *EmbeddingsClient) EncodeBatch(ctx context.Context, req EncodeBatchRequest) (*EncodeBatchResult, error) {
	var out EncodeBatchResult
	if err := ec.client.post(ctx, "/api/v1/embeddings/batch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Encoders lists the encoders the server exposes with their dimensions.
func (ec *EmbeddingsClient) Encoders(ctx context.Context) ([]EncoderInfo, error) {
	var out []EncoderInfo
	if _, err := ec.client.get(ctx, "/api/v1/encoders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
