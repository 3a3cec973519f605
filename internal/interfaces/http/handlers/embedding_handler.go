package handlers

import (
	"net/http"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/embedding"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// EmbeddingHandler serves the encoding endpoints.
type EmbeddingHandler struct {
	encoder     embedding.Service
	maxBodySize int64
}

// NewEmbeddingHandler creates a new EmbeddingHandler.
func NewEmbeddingHandler(encoder embedding.Service, maxBodySize int64) *EmbeddingHandler {
	return &EmbeddingHandler{encoder: encoder, maxBodySize: maxBodySize}
}

// EncodeRequest is the body of POST /embeddings.
type EncodeRequest struct {
	Encoder  string `json:"encoder"`
	Sequence string `json:"sequence"`
}

// Encode handles POST /embeddings: encode one raw sequence without storing it.
func (h *EmbeddingHandler) Encode(w http.ResponseWriter, r *http.Request) {
	var req EncodeRequest
	if err := decodeJSON(w, r, &req, h.maxBodySize); err != nil {
		writeAppError(w, r, err)
		return
	}

	emb, err := h.encoder.EncodeOne(r.Context(), seqtypes.EncoderKind(req.Encoder), req.Sequence)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, emb)
}

// BatchSequence is one named input row of a batch encode request.
type BatchSequence struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Sequence string `json:"sequence"`
	Type     string `json:"type,omitempty"`
}

// EncodeBatchRequest is the body of POST /embeddings/batch.
type EncodeBatchRequest struct {
	Encoder     string          `json:"encoder"`
	Sequences   []BatchSequence `json:"sequences"`
	Parallelism int             `json:"parallelism,omitempty"`
}

// EncodeBatchResponse carries the matrix plus per-row failures.
type EncodeBatchResponse struct {
	Matrix   *embedding.Matrix   `json:"matrix"`
	Failures []common.BatchError `json:"failures,omitempty"`
}

// EncodeBatch handles POST /embeddings/batch: encode many raw sequences into
// an aligned matrix. Rows that fail validation are reported, not fatal.
func (h *EmbeddingHandler) EncodeBatch(w http.ResponseWriter, r *http.Request) {
	var req EncodeBatchRequest
	if err := decodeJSON(w, r, &req, h.maxBodySize); err != nil {
		writeAppError(w, r, err)
		return
	}
	if len(req.Sequences) == 0 {
		writeAppError(w, r, apperrors.InvalidParam("sequences must not be empty"))
		return
	}

	records := make([]*sequence.Record, 0, len(req.Sequences))
	// requestIndex maps positions in records back to positions in the
	// request so failure indices stay meaningful after invalid rows are
	// filtered out.
	requestIndex := make([]int, 0, len(req.Sequences))
	failures := make([]common.BatchError, 0)
	for i, in := range req.Sequences {
		seqType := seqtypes.TypeProtein
		if in.Type != "" {
			seqType = seqtypes.SequenceType(in.Type)
		}
		rec, err := sequence.NewRecord(in.Name, in.Label, in.Sequence, seqType, "")
		if err != nil {
			failures = append(failures, batchError(i, in.Name, err))
			continue
		}
		records = append(records, rec)
		requestIndex = append(requestIndex, i)
	}

	result, err := h.encoder.EncodeBatch(r.Context(), seqtypes.EncoderKind(req.Encoder), records, req.Parallelism)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	for _, f := range result.Failures {
		idx := f.Index
		if idx >= 0 && idx < len(requestIndex) {
			idx = requestIndex[idx]
		}
		failures = append(failures, batchError(idx, f.Name, f.Err))
	}

	writeData(w, r, http.StatusOK, EncodeBatchResponse{
		Matrix:   result.Matrix,
		Failures: failures,
	})
}

// batchError converts one failed row into its wire representation.
func batchError(index int, name string, err error) common.BatchError {
	detail := common.ErrorDetail{
		Code:    apperrors.GetCode(err).String(),
		Message: err.Error(),
	}
	return common.BatchError{Index: index, Name: name, Error: detail}
}

// EncoderInfo describes one registered encoder.
type EncoderInfo struct {
	Kind      string `json:"kind"`
	Dimension int    `json:"dimension"`
}

// ListEncoders handles GET /encoders.
func (h *EmbeddingHandler) ListEncoders(w http.ResponseWriter, r *http.Request) {
	kinds := h.encoder.Kinds()
	infos := make([]EncoderInfo, 0, len(kinds))
	for _, kind := range kinds {
		dim, err := h.encoder.Dimension(kind)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		infos = append(infos, EncoderInfo{Kind: string(kind), Dimension: dim})
	}
	writeData(w, r, http.StatusOK, infos)
}
