package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 100
	defaultScrollSize = 1000
	scrollKeepAlive   = 5 * time.Minute
	facetSize         = 50
	suggesterName     = "name_suggest"
)

// MetadataQuery describes one search over the sequence metadata index.  Text
// matches name, label, and source file; the remaining fields are exact
// filters.
type MetadataQuery struct {
	Text      string
	Dataset   string
	Types     []string
	Encoder   string
	MinLength int
	MaxLength int
	Page      int
	PerPage   int
	SortBy    string // name, length, created_at; empty ranks by relevance
	SortDesc  bool
	Highlight bool
}

// MetadataHit is one matching document with its relevance score.
type MetadataHit struct {
	Score      float64             `json:"score"`
	Document   SequenceDocument    `json:"document"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// MetadataPage is one page of search results plus the dataset and type
// facets computed over the full match set.
type MetadataPage struct {
	Total         int64            `json:"total"`
	TookMs        int64            `json:"took_ms"`
	Hits          []*MetadataHit   `json:"hits"`
	DatasetFacets map[string]int64 `json:"dataset_facets,omitempty"`
	TypeFacets    map[string]int64 `json:"type_facets,omitempty"`
}

// Searcher answers reads over the metadata index.
type Searcher struct {
	client     *Client
	indexName  string
	scrollSize int
	logger     logging.Logger
}

// NewSearcher builds a searcher over an established connection.
func NewSearcher(client *Client, cfg config.OpenSearchConfig, logger logging.Logger) *Searcher {
	scroll := cfg.ScrollSize
	if scroll <= 0 {
		scroll = defaultScrollSize
	}
	return &Searcher{
		client:     client,
		indexName:  MetadataIndexName(cfg),
		scrollSize: scroll,
		logger:     logger,
	}
}

// SearchMetadata runs one paged query and returns hits with facets.
func (s *Searcher) SearchMetadata(ctx context.Context, q MetadataQuery) (*MetadataPage, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	dsl := buildMetadataDSL(q)
	dsl["from"] = (page - 1) * perPage
	dsl["size"] = perPage
	dsl["aggs"] = map[string]interface{}{
		"datasets": map[string]interface{}{
			"terms": map[string]interface{}{"field": "dataset", "size": facetSize},
		},
		"types": map[string]interface{}{
			"terms": map[string]interface{}{"field": "type", "size": facetSize},
		},
	}

	body, err := json.Marshal(dsl)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal search query")
	}

	req := opensearchapi.SearchRequest{
		Index: []string{s.indexName},
		Body:  bytes.NewReader(body),
	}
	start := time.Now()
	resp, err := req.Do(ctx, s.client.OS())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTextSearchFailed, "search request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, apiError(resp, errors.ErrCodeTextSearchFailed, "metadata search")
	}

	result, err := parseMetadataResponse(resp.Body)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Metadata search executed",
		logging.String("index", s.indexName),
		logging.Int64("hits", result.Total),
		logging.Duration("took", time.Since(start)))
	return result, nil
}

// CountMetadata returns how many documents match without fetching them.
func (s *Searcher) CountMetadata(ctx context.Context, q MetadataQuery) (int64, error) {
	dsl := buildMetadataDSL(q)
	body, err := json.Marshal(map[string]interface{}{"query": dsl["query"]})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal count query")
	}

	req := opensearchapi.CountRequest{
		Index: []string{s.indexName},
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, s.client.OS())
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeTextSearchFailed, "count request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, apiError(resp, errors.ErrCodeTextSearchFailed, "metadata count")
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&countResp); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode count response")
	}
	return countResp.Count, nil
}

// ScrollSequences streams every matching document through fn in scroll
// batches.  fn returning an error stops the scroll and releases the cursor.
func (s *Searcher) ScrollSequences(ctx context.Context, q MetadataQuery, fn func(docs []SequenceDocument) error) error {
	dsl := buildMetadataDSL(q)
	dsl["size"] = s.scrollSize

	body, err := json.Marshal(dsl)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal scroll query")
	}

	req := opensearchapi.SearchRequest{
		Index:  []string{s.indexName},
		Body:   bytes.NewReader(body),
		Scroll: scrollKeepAlive,
	}
	resp, err := req.Do(ctx, s.client.OS())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTextSearchFailed, "scroll request failed")
	}

	scrollID, docs, err := decodeScrollPage(resp)
	if err != nil {
		return err
	}

	for len(docs) > 0 {
		if err := fn(docs); err != nil {
			s.clearScroll(ctx, scrollID)
			return err
		}

		scrollReq := opensearchapi.ScrollRequest{
			ScrollID: scrollID,
			Scroll:   scrollKeepAlive,
		}
		resp, err := scrollReq.Do(ctx, s.client.OS())
		if err != nil {
			s.clearScroll(ctx, scrollID)
			return errors.Wrap(err, errors.ErrCodeTextSearchFailed, "scroll continuation failed")
		}

		var nextID string
		nextID, docs, err = decodeScrollPage(resp)
		if err != nil {
			s.clearScroll(ctx, scrollID)
			return err
		}
		if nextID != "" {
			scrollID = nextID
		}
	}

	s.clearScroll(ctx, scrollID)
	return nil
}

// SuggestNames completes partial sequence names from the completion field.
func (s *Searcher) SuggestNames(ctx context.Context, prefix string, size int) ([]string, error) {
	if prefix == "" {
		return nil, errors.New(errors.ErrCodeValidation, "prefix required")
	}
	if size <= 0 {
		size = 10
	}

	dsl := map[string]interface{}{
		"suggest": map[string]interface{}{
			suggesterName: map[string]interface{}{
				"prefix": prefix,
				"completion": map[string]interface{}{
					"field":           "suggest",
					"size":            size,
					"skip_duplicates": true,
				},
			},
		},
	}
	body, err := json.Marshal(dsl)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal suggest query")
	}

	req := opensearchapi.SearchRequest{
		Index: []string{s.indexName},
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, s.client.OS())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTextSearchFailed, "suggest request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, apiError(resp, errors.ErrCodeTextSearchFailed, "name suggest")
	}

	var suggestResp struct {
		Suggest map[string][]struct {
			Options []struct {
				Text string `json:"text"`
			} `json:"options"`
		} `json:"suggest"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&suggestResp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode suggest response")
	}

	var names []string
	for _, entry := range suggestResp.Suggest[suggesterName] {
		for _, opt := range entry.Options {
			names = append(names, opt.Text)
		}
	}
	return names, nil
}

func buildMetadataDSL(q MetadataQuery) map[string]interface{} {
	var must interface{}
	if q.Text != "" {
		must = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": []string{"name^3", "label^2", "source_file"},
			},
		}
	} else {
		must = map[string]interface{}{"match_all": map[string]interface{}{}}
	}

	var filters []map[string]interface{}
	if q.Dataset != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"dataset": q.Dataset},
		})
	}
	if len(q.Types) > 0 {
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"type": q.Types},
		})
	}
	if q.Encoder != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"encoders": q.Encoder},
		})
	}
	if q.MinLength > 0 || q.MaxLength > 0 {
		bounds := map[string]interface{}{}
		if q.MinLength > 0 {
			bounds["gte"] = q.MinLength
		}
		if q.MaxLength > 0 {
			bounds["lte"] = q.MaxLength
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"length": bounds},
		})
	}

	boolQuery := map[string]interface{}{"must": must}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	dsl := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
	}

	if q.SortBy != "" {
		field := q.SortBy
		if field == "name" {
			// Text fields sort on the keyword subfield.
			field = "name.keyword"
		}
		order := "asc"
		if q.SortDesc {
			order = "desc"
		}
		dsl["sort"] = []map[string]interface{}{
			{field: map[string]interface{}{"order": order}},
		}
	}

	if q.Highlight {
		dsl["highlight"] = map[string]interface{}{
			"fields": map[string]interface{}{
				"name":  map[string]interface{}{},
				"label": map[string]interface{}{},
			},
			"pre_tags":  []string{"<em>"},
			"post_tags": []string{"</em>"},
		}
	}
	return dsl
}

type facetBuckets struct {
	Buckets []struct {
		Key      string `json:"key"`
		DocCount int64  `json:"doc_count"`
	} `json:"buckets"`
}

func (f facetBuckets) toMap() map[string]int64 {
	if len(f.Buckets) == 0 {
		return nil
	}
	out := make(map[string]int64, len(f.Buckets))
	for _, b := range f.Buckets {
		out[b.Key] = b.DocCount
	}
	return out
}

func parseMetadataResponse(body io.Reader) (*MetadataPage, error) {
	var resp struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Score     float64             `json:"_score"`
				Source    SequenceDocument    `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations struct {
			Datasets facetBuckets `json:"datasets"`
			Types    facetBuckets `json:"types"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode search response")
	}

	page := &MetadataPage{
		Total:         resp.Hits.Total.Value,
		TookMs:        resp.Took,
		DatasetFacets: resp.Aggregations.Datasets.toMap(),
		TypeFacets:    resp.Aggregations.Types.toMap(),
	}
	for _, h := range resp.Hits.Hits {
		page.Hits = append(page.Hits, &MetadataHit{
			Score:      h.Score,
			Document:   h.Source,
			Highlights: h.Highlight,
		})
	}
	return page, nil
}

// decodeScrollPage drains and closes the response body.
func decodeScrollPage(resp *opensearchapi.Response) (string, []SequenceDocument, error) {
	defer resp.Body.Close()

	if resp.IsError() {
		return "", nil, apiError(resp, errors.ErrCodeTextSearchFailed, "scroll page")
	}

	var page struct {
		ScrollID string `json:"_scroll_id"`
		Hits     struct {
			Hits []struct {
				Source SequenceDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return "", nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode scroll page")
	}

	docs := make([]SequenceDocument, 0, len(page.Hits.Hits))
	for _, h := range page.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return page.ScrollID, docs, nil
}

func (s *Searcher) clearScroll(ctx context.Context, scrollID string) {
	if scrollID == "" {
		return
	}
	req := opensearchapi.ClearScrollRequest{ScrollID: []string{scrollID}}
	resp, err := req.Do(ctx, s.client.OS())
	if err != nil {
		// Cursors expire with the keep-alive; a failed clear is not worth
		// failing a finished scroll over.
		s.logger.Warn("Failed to clear scroll cursor", logging.Err(err))
		return
	}
	resp.Body.Close()
}
