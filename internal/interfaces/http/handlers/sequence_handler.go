package handlers

import (
	"net/http"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/similarity"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/sequence"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// SequenceHandler serves stored-record endpoints: listing, detail, and
// per-record neighborhood queries.
type SequenceHandler struct {
	records     sequence.Repository
	similar     similarity.Service
	maxBodySize int64
}

// NewSequenceHandler creates a new SequenceHandler.
func NewSequenceHandler(records sequence.Repository, similar similarity.Service, maxBodySize int64) *SequenceHandler {
	return &SequenceHandler{records: records, similar: similar, maxBodySize: maxBodySize}
}

// List handles GET /sequences with filtering, sorting, and pagination.
func (h *SequenceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := sequence.ListFilter{
		Dataset:      q.Get("dataset"),
		Type:         seqtypes.SequenceType(q.Get("type")),
		Label:        q.Get("label"),
		NameContains: q.Get("name_contains"),
		EmbeddedOnly: queryBool(r, "embedded_only"),
		Pagination:   parsePagination(r),
		SortBy:       q.Get("sort_by"),
	}
	if q.Get("sort_order") == string(common.SortDesc) {
		filter.SortOrder = common.SortDesc
	}

	records, total, err := h.records.List(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	dtos := make([]*seqtypes.SequenceDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, rec.ToDTO())
	}

	page := filter.Pagination
	page.Total = total
	writePage(w, r, dtos, page)
}

// Get handles GET /sequences/{sequenceID}.
func (h *SequenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.GetByID(r.Context(), common.ID(urlParam(r, "sequenceID")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, rec.ToDTO())
}

// Neighbors handles GET /sequences/{sequenceID}/neighbors: the stored
// record's nearest neighbors in one embedding space. The record itself is
// never among the hits.
func (h *SequenceHandler) Neighbors(w http.ResponseWriter, r *http.Request) {
	if h.similar == nil {
		writeAppError(w, r, errSimilarityUnavailable())
		return
	}

	q := similarity.NearestQuery{
		SequenceID: common.ID(urlParam(r, "sequenceID")),
		Encoder:    encoderOrDefault(r),
		TopK:       queryInt(r, "top_k", 0),
		Dataset:    r.URL.Query().Get("dataset"),
	}

	res, err := h.similar.Nearest(r.Context(), q)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}

// LinkRequest is the body of POST /sequences/{sequenceID}/neighbors.
type LinkRequest struct {
	Encoder string `json:"encoder"`
	TopK    int    `json:"top_k,omitempty"`
	Dataset string `json:"dataset,omitempty"`
}

// LinkNeighbors handles POST /sequences/{sequenceID}/neighbors: materialize
// the record's nearest neighbors as edges in the similarity graph.
func (h *SequenceHandler) LinkNeighbors(w http.ResponseWriter, r *http.Request) {
	if h.similar == nil {
		writeAppError(w, r, errSimilarityUnavailable())
		return
	}

	var req LinkRequest
	if err := decodeJSON(w, r, &req, h.maxBodySize); err != nil {
		writeAppError(w, r, err)
		return
	}

	kind := seqtypes.EncoderKind(req.Encoder)
	if kind == "" {
		kind = seqtypes.EncoderNaturalVector
	}

	res, err := h.similar.LinkNeighbors(r.Context(), similarity.NearestQuery{
		SequenceID: common.ID(urlParam(r, "sequenceID")),
		Encoder:    kind,
		TopK:       req.TopK,
		Dataset:    req.Dataset,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, res)
}

// Neighborhood handles GET /sequences/{sequenceID}/neighborhood?depth=2:
// the subgraph around one record in the similarity graph.
func (h *SequenceHandler) Neighborhood(w http.ResponseWriter, r *http.Request) {
	if h.similar == nil {
		writeAppError(w, r, errSimilarityUnavailable())
		return
	}

	depth := queryInt(r, "depth", 1)
	if depth < 1 || depth > 5 {
		writeAppError(w, r, apperrors.InvalidParam("depth must be between 1 and 5"))
		return
	}

	nb, err := h.similar.Neighborhood(r.Context(), common.ID(urlParam(r, "sequenceID")), depth)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, nb)
}

// errSimilarityUnavailable is the answer of every neighbor endpoint when no
// vector store is configured.
func errSimilarityUnavailable() error {
	return apperrors.New(apperrors.ErrCodeServiceUnavailable,
		"similarity queries require a configured vector store")
}

// encoderOrDefault reads the encoder query parameter, defaulting to the
// natural vector space.
func encoderOrDefault(r *http.Request) seqtypes.EncoderKind {
	kind := seqtypes.EncoderKind(r.URL.Query().Get("encoder"))
	if kind == "" {
		return seqtypes.EncoderNaturalVector
	}
	return kind
}
