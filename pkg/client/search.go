package client

import (
	"context"
	"net/url"
	"time"

	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
)

// SearchClient calls the metadata-search and graph-analytics endpoints.
type SearchClient struct {
	client *Client
}

// MetadataSearchOptions shapes GET /search.  Zero values are omitted.
type MetadataSearchOptions struct {
	Query     string
	Dataset   string
	Type      string
	Encoder   string
	MinLength int
	MaxLength int
	SortBy    string
	SortDesc  bool
	Highlight bool
	Page      int
	PageSize  int
}

func (o MetadataSearchOptions) query() url.Values {
	q := url.Values{}
	setNonEmpty(q, "q", o.Query)
	setNonEmpty(q, "dataset", o.Dataset)
	setNonEmpty(q, "type", o.Type)
	setNonEmpty(q, "encoder", o.Encoder)
	setPositive(q, "min_length", o.MinLength)
	setPositive(q, "max_length", o.MaxLength)
	setNonEmpty(q, "sort_by", o.SortBy)
	if o.SortDesc {
		q.Set("sort_desc", "true")
	}
	if o.Highlight {
		q.Set("highlight", "true")
	}
	setPositive(q, "page", o.Page)
	setPositive(q, "page_size", o.PageSize)
	return q
}

// SequenceDocument is the indexed metadata projection of one record.
type SequenceDocument struct {
	SequenceID string    `json:"sequence_id"`
	Name       string    `json:"name"`
	Label      string    `json:"label"`
	Dataset    string    `json:"dataset"`
	Type       string    `json:"type"`
	Length     int       `json:"length"`
	Checksum   string    `json:"checksum"`
	SourceFile string    `json:"source_file"`
	Encoders   []string  `json:"encoders,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Suggest    []string  `json:"suggest,omitempty"`
}

// MetadataHit is one scored full-text match.
type MetadataHit struct {
	Score      float64             `json:"score"`
	Document   SequenceDocument    `json:"document"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// MetadataPage is one page of search results plus facets over the full
// match set.
type MetadataPage struct {
	Total         int64            `json:"total"`
	TookMs        int64            `json:"took_ms"`
	Hits          []*MetadataHit   `json:"hits"`
	DatasetFacets map[string]int64 `json:"dataset_facets,omitempty"`
	TypeFacets    map[string]int64 `json:"type_facets,omitempty"`
}

// NearestQuery asks for the nearest stored embeddings to either a stored
// record (SequenceID) or a raw sequence — exactly one of the two.
type NearestQuery struct {
	SequenceID string `json:"sequence_id,omitempty"`
	Sequence   string `json:"sequence,omitempty"`
	Encoder    string `json:"encoder"`
	TopK       int    `json:"top_k,omitempty"`
	Dataset    string `json:"dataset,omitempty"`
}

// GraphStats summarizes the similarity graph.
type GraphStats struct {
	TotalSequences     int64            `json:"total_sequences"`
	TotalLinks         int64            `json:"total_links"`
	SequencesByDataset map[string]int64 `json:"sequences_by_dataset"`
	LinksByEncoder     map[string]int64 `json:"links_by_encoder"`
}

// NodeDegree reports how connected one sequence is in the graph.
type NodeDegree struct {
	SequenceID string `json:"sequence_id"`
	Name       string `json:"name"`
	Dataset    string `json:"dataset"`
	Degree     int64  `json:"degree"`
}

// SimilarityPath is the shortest chain of similarity hops between two
// sequences.
type SimilarityPath struct {
	SequenceIDs   []string  `json:"sequence_ids"`
	Distances     []float64 `json:"distances"`
	Hops          int       `json:"hops"`
	TotalDistance float64   `json:"total_distance"`
}

// Metadata runs a full-text search over the sequence metadata index.
func (sc *SearchClient) Metadata(ctx context.Context, opts MetadataSearchOptions) (*MetadataPage, *common.Pagination, error) {
	var out MetadataPage
	page, err := sc.client.get(ctx, "/api/v1/search", opts.query(), &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, page, nil
}

// Suggest completes sequence names by prefix.
func (sc *SearchClient) Suggest(ctx context.Context, prefix string, size int) ([]string, error) {
	q := url.Values{}
	q.Set("prefix", prefix)
	setPositive(q, "size", size)

	var out []string
	if _, err := sc.client.get(ctx, "/api/v1/search/suggest", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Nearest runs a vector similarity query from a stored record or a raw
// sequence.
func (sc *SearchClient) Nearest(ctx context.Context, query NearestQuery) (*NearestResult, error) {
	var out NearestResult
	if err := sc.client.post(ctx, "/api/v1/search/nearest", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GraphStats returns node, edge, and per-dataset counts for the similarity
// graph.
func (sc *SearchClient) GraphStats(ctx context.Context) (*GraphStats, error) {
	var out GraphStats
	if _, err := sc.client.get(ctx, "/api/v1/graph/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TopHubs lists the most connected sequences, optionally within one dataset.
func (sc *SearchClient) TopHubs(ctx context.Context, dataset string, limit int) ([]*NodeDegree, error) {
	q := url.Values{}
	setNonEmpty(q, "dataset", dataset)
	setPositive(q, "limit", limit)

	var out []*NodeDegree
	if _, err := sc.client.get(ctx, "/api/v1/graph/hubs", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ShortestPath finds the shortest similarity chain between two stored
// records.
func (sc *SearchClient) ShortestPath(ctx context.Context, fromID, toID string) (*SimilarityPath, error) {
	q := url.Values{}
	q.Set("from", fromID)
	q.Set("to", toID)

	var out SimilarityPath
	if _, err := sc.client.get(ctx, "/api/v1/graph/path", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
