package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// SequencesClient calls the stored-record endpoints.
type SequencesClient struct {
	client *Client
}

// ListSequencesOptions filters and pages GET /sequences.  Zero values are
// omitted from the query.
type ListSequencesOptions struct {
	Dataset      string
	Type         string
	Label        string
	NameContains string
	EmbeddedOnly bool
	SortBy       string
	SortOrder    string
	Page         int
	PageSize     int
}

func (o ListSequencesOptions) query() url.Values {
	q := url.Values{}
	setNonEmpty(q, "dataset", o.Dataset)
	setNonEmpty(q, "type", o.Type)
	setNonEmpty(q, "label", o.Label)
	setNonEmpty(q, "name_contains", o.NameContains)
	if o.EmbeddedOnly {
		q.Set("embedded_only", "true")
	}
	setNonEmpty(q, "sort_by", o.SortBy)
	setNonEmpty(q, "sort_order", o.SortOrder)
	setPositive(q, "page", o.Page)
	setPositive(q, "page_size", o.PageSize)
	return q
}

// VectorHit is one approximate-nearest-neighbour answer.
type VectorHit struct {
	SequenceID string  `json:"sequence_id"`
	Dataset    string  `json:"dataset"`
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// NearestResult is the ranked answer of one vector similarity query.
type NearestResult struct {
	Encoder string        `json:"encoder"`
	TopK    int           `json:"top_k"`
	Hits    []*VectorHit  `json:"hits"`
	Elapsed time.Duration `json:"elapsed"`
}

// LinkResult reports how many neighbor edges one linking pass materialized.
type LinkResult struct {
	SequenceID string `json:"sequence_id"`
	Encoder    string `json:"encoder"`
	Requested  int    `json:"requested"`
	Linked     int64  `json:"linked"`
}

// SequenceNode is one sequence vertex of the similarity graph.
type SequenceNode struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Label    string `json:"label"`
	Dataset  string `json:"dataset"`
	Length   int    `json:"length"`
	Checksum string `json:"checksum"`
}

// SimilarityEdge is one directed kNN edge of the similarity graph.
type SimilarityEdge struct {
	FromID   string  `json:"from_id"`
	ToID     string  `json:"to_id"`
	Encoder  string  `json:"encoder"`
	Distance float64 `json:"distance"`
	Rank     int     `json:"rank"`
}

// Neighborhood is the subgraph reachable from one sequence.
type Neighborhood struct {
	CenterID string            `json:"center_id"`
	Depth    int               `json:"depth"`
	Nodes    []*SequenceNode   `json:"nodes"`
	Edges    []*SimilarityEdge `json:"edges"`
}

// NeighborsOptions tunes a stored-record neighbor query.
type NeighborsOptions struct {
	Encoder string
	TopK    int
	Dataset string
}

// LinkNeighborsRequest is the body of POST /sequences/{id}/neighbors.
type LinkNeighborsRequest struct {
	Encoder string `json:"encoder,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
	Dataset string `json:"dataset,omitempty"`
}

// List pages stored records.
func (sc *SequencesClient) List(ctx context.Context, opts ListSequencesOptions) ([]*seqtypes.SequenceDTO, *common.Pagination, error) {
	var out []*seqtypes.SequenceDTO
	page, err := sc.client.get(ctx, "/api/v1/sequences", opts.query(), &out)
	if err != nil {
		return nil, nil, err
	}
	return out, page, nil
}

// Get fetches one stored record by ID.
func (sc *SequencesClient) Get(ctx context.Context, id string) (*seqtypes.SequenceDTO, error) {
	var out seqtypes.SequenceDTO
	if _, err := sc.client.get(ctx, "/api/v1/sequences/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Neighbors returns the record's nearest neighbors in one embedding space.
// The record itself is never among the hits.
func (sc *SequencesClient) Neighbors(ctx context.Context, id string, opts NeighborsOptions) (*NearestResult, error) {
	q := url.Values{}
	setNonEmpty(q, "encoder", opts.Encoder)
	setPositive(q, "top_k", opts.TopK)
	setNonEmpty(q, "dataset", opts.Dataset)

	var out NearestResult
	path := fmt.Sprintf("/api/v1/sequences/%s/neighbors", url.PathEscape(id))
	if _, err := sc.client.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LinkNeighbors materializes the record's nearest neighbors as edges in the
// similarity graph.
func (sc *SequencesClient) LinkNeighbors(ctx context.Context, id string, req LinkNeighborsRequest) (*LinkResult, error) {
	var out LinkResult
	path := fmt.Sprintf("/api/v1/sequences/%s/neighbors", url.PathEscape(id))
	if err := sc.client.post(ctx, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Neighborhood returns the similarity subgraph around one record.  depth is
// clamped server-side to [1, 5].
func (sc *SequencesClient) Neighborhood(ctx context.Context, id string, depth int) (*Neighborhood, error) {
	q := url.Values{}
	setPositive(q, "depth", depth)

	var out Neighborhood
	path := fmt.Sprintf("/api/v1/sequences/%s/neighborhood", url.PathEscape(id))
	if _, err := sc.client.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func setNonEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func setPositive(q url.Values, key string, value int) {
	if value > 0 {
		q.Set(key, strconv.Itoa(value))
	}
}
