package handlers

import (
	"net/http"

	"github.com/turtacn/BioSeq-Intelligence/internal/application/similarity"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/search/opensearch"
	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
)

// SearchHandler serves metadata search, raw-sequence nearest-neighbor
// queries, and similarity-graph analytics.
type SearchHandler struct {
	similar     similarity.Service
	maxBodySize int64
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(similar similarity.Service, maxBodySize int64) *SearchHandler {
	return &SearchHandler{similar: similar, maxBodySize: maxBodySize}
}

// Search handles GET /search: full-text metadata search with facets.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parsePagination(r)

	query := opensearch.MetadataQuery{
		Text:      q.Get("q"),
		Dataset:   q.Get("dataset"),
		Encoder:   q.Get("encoder"),
		MinLength: queryInt(r, "min_length", 0),
		MaxLength: queryInt(r, "max_length", 0),
		Page:      page.Page,
		PerPage:   page.PageSize,
		SortBy:    q.Get("sort_by"),
		SortDesc:  queryBool(r, "sort_desc"),
		Highlight: queryBool(r, "highlight"),
	}
	if t := q.Get("type"); t != "" {
		query.Types = []string{t}
	}

	res, err := h.similar.SearchMetadata(r.Context(), query)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	page.Total = res.Total
	writePage(w, r, res, page)
}

// Suggest handles GET /search/suggest?prefix=hemo&size=10: name completion.
func (h *SearchHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeAppError(w, r, apperrors.InvalidParam("prefix is required"))
		return
	}

	names, err := h.similar.SuggestNames(r.Context(), prefix, queryInt(r, "size", 10))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, names)
}

// Nearest handles POST /search/nearest: nearest neighbors of a raw sequence
// that is encoded on the fly, never stored.
func (h *SearchHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	var q similarity.NearestQuery
	if err := decodeJSON(w, r, &q, h.maxBodySize); err != nil {
		writeAppError(w, r, err)
		return
	}

	res, err := h.similar.Nearest(r.Context(), q)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}

// GraphStats handles GET /graph/stats.
func (h *SearchHandler) GraphStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.similar.GraphStats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, stats)
}

// TopHubs handles GET /graph/hubs?dataset=&limit=20: the most connected
// sequences in the similarity graph.
func (h *SearchHandler) TopHubs(w http.ResponseWriter, r *http.Request) {
	hubs, err := h.similar.TopHubs(r.Context(),
		r.URL.Query().Get("dataset"), queryInt(r, "limit", 20))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, hubs)
}

// ShortestPath handles GET /graph/path?from=&to=: the shortest similarity
// path between two stored sequences.
func (h *SearchHandler) ShortestPath(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeAppError(w, r, apperrors.InvalidParam("from and to are required"))
		return
	}

	path, err := h.similar.ShortestPath(r.Context(), common.ID(from), common.ID(to))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, path)
}
