package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

const (
	defaultBulkBatchSize = 500
	defaultIndexPrefix   = "bioseq"

	// Single-document writes are not refreshed eagerly; searches tolerate
	// the default refresh interval.
	refreshPolicy = "false"
)

// MetadataIndexName returns the index sequence metadata is stored under,
// derived from the configured prefix.
func MetadataIndexName(cfg config.OpenSearchConfig) string {
	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = defaultIndexPrefix
	}
	return prefix + "_sequences"
}

// SequenceDocument is the metadata projection of one stored sequence.
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

// IndexMapping is the settings and mappings body for index creation.
type IndexMapping struct {
	Settings map[string]interface{} `json:"settings,omitempty"`
	Mappings map[string]interface{} `json:"mappings,omitempty"`
}

// BulkItemError describes one document a bulk write could not index.
type BulkItemError struct {
	DocID  string
	Type   string
	Reason string
}

// BulkResult summarizes a bulk write.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// SequenceIndexMapping defines the metadata index: analyzed name and label
// with keyword subfields for exact filters and sorting, keyword facet
// fields, and a completion field feeding name suggestions.
func SequenceIndexMapping() IndexMapping {
	textWithKeyword := func() map[string]interface{} {
		return map[string]interface{}{
			"type": "text",
			"fields": map[string]interface{}{
				"keyword": map[string]interface{}{"type": "keyword"},
			},
		}
	}
	return IndexMapping{
		Settings: map[string]interface{}{
			"number_of_shards":   3,
			"number_of_replicas": 1,
		},
		Mappings: map[string]interface{}{
			"properties": map[string]interface{}{
				"sequence_id": map[string]interface{}{"type": "keyword"},
				"name":        textWithKeyword(),
				"label":       textWithKeyword(),
				"dataset":     map[string]interface{}{"type": "keyword"},
				"type":        map[string]interface{}{"type": "keyword"},
				"length":      map[string]interface{}{"type": "integer"},
				"checksum":    map[string]interface{}{"type": "keyword"},
				"source_file": map[string]interface{}{"type": "keyword"},
				"encoders":    map[string]interface{}{"type": "keyword"},
				"created_at":  map[string]interface{}{"type": "date"},
				"suggest":     map[string]interface{}{"type": "completion"},
			},
		},
	}
}

// Indexer maintains the sequence metadata index.
type Indexer struct {
	client    *Client
	indexName string
	batchSize int
	logger    logging.Logger
}

// NewIndexer builds an indexer over an established connection.
func NewIndexer(client *Client, cfg config.OpenSearchConfig, logger logging.Logger) *Indexer {
	batch := cfg.BulkBatchSize
	if batch <= 0 {
		batch = defaultBulkBatchSize
	}
	return &Indexer{
		client:    client,
		indexName: MetadataIndexName(cfg),
		batchSize: batch,
		logger:    logger,
	}
}

// IndexName returns the index this indexer writes to.
func (i *Indexer) IndexName() string {
	return i.indexName
}

// EnsureIndex creates the metadata index when missing.  Existing indices are
// left untouched, so startup can call this unconditionally.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.IndexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body, err := json.Marshal(SequenceIndexMapping())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}

	req := opensearchapi.IndicesCreateRequest{
		Index: i.indexName,
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, i.client.OS())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexingFailed, "create index request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apiError(resp, errors.ErrCodeIndexingFailed, "create index")
	}

	i.logger.Info("Metadata index created", logging.String("index", i.indexName))
	return nil
}

// IndexExists reports whether the metadata index is present.
func (i *Indexer) IndexExists(ctx context.Context) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{i.indexName}}
	resp, err := req.Do(ctx, i.client.OS())
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeIndexingFailed, "index existence check failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, apiError(resp, errors.ErrCodeIndexingFailed, "index existence check")
}

// DeleteIndex drops the metadata index and everything in it.
func (i *Indexer) DeleteIndex(ctx context.Context) error {
	req := opensearchapi.IndicesDeleteRequest{Index: []string{i.indexName}}
	resp, err := req.Do(ctx, i.client.OS())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexingFailed, "delete index request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Newf(errors.ErrCodeNotFound, "index %s does not exist", i.indexName)
	}
	if resp.IsError() {
		return apiError(resp, errors.ErrCodeIndexingFailed, "delete index")
	}

	i.logger.Warn("Metadata index deleted", logging.String("index", i.indexName))
	return nil
}

// IndexSequence writes one document, replacing any previous version.
func (i *Indexer) IndexSequence(ctx context.Context, doc SequenceDocument) error {
	if doc.SequenceID == "" {
		return errors.New(errors.ErrCodeValidation, "sequence id required")
	}

	body, err := json.Marshal(withSuggest(doc))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal sequence document")
	}

	req := opensearchapi.IndexRequest{
		Index:      i.indexName,
		DocumentID: doc.SequenceID,
		Body:       bytes.NewReader(body),
		Refresh:    refreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.OS())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexingFailed, "index document request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apiError(resp, errors.ErrCodeIndexingFailed, "index document")
	}
	return nil
}

// BulkIndex writes documents in NDJSON batches and reports per-document
// failures without aborting the remainder.
func (i *Indexer) BulkIndex(ctx context.Context, docs []SequenceDocument) (*BulkResult, error) {
	result := &BulkResult{}
	if len(docs) == 0 {
		return result, nil
	}

	for start := 0; start < len(docs); start += i.batchSize {
		end := start + i.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := i.bulkBatch(ctx, docs[start:end], result); err != nil {
			return result, err
		}
	}

	i.logger.Info("Bulk index completed",
		logging.String("index", i.indexName),
		logging.Int("total", len(docs)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	} `json:"index"`
}

func (i *Indexer) bulkBatch(ctx context.Context, docs []SequenceDocument, result *BulkResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	queued := 0
	for _, doc := range docs {
		if doc.SequenceID == "" {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{
				Type:   "validation",
				Reason: "sequence id required",
			})
			continue
		}
		var action bulkAction
		action.Index.Index = i.indexName
		action.Index.ID = doc.SequenceID
		if err := enc.Encode(action); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode bulk action")
		}
		if err := enc.Encode(withSuggest(doc)); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode bulk document")
		}
		queued++
	}
	if queued == 0 {
		return nil
	}

	req := opensearchapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: refreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.OS())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexingFailed, "bulk request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apiError(resp, errors.ErrCodeIndexingFailed, "bulk index")
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}

	for _, item := range bulkResp.Items {
		// Each item holds a single action result keyed by its verb.
		for _, info := range item {
			if info.Status >= 200 && info.Status < 300 {
				result.Succeeded++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{
					DocID:  info.ID,
					Type:   info.Error.Type,
					Reason: info.Error.Reason,
				})
			}
			break
		}
	}
	return nil
}

// DeleteSequence removes one document from the index.
func (i *Indexer) DeleteSequence(ctx context.Context, sequenceID string) error {
	if sequenceID == "" {
		return errors.New(errors.ErrCodeValidation, "sequence id required")
	}

	req := opensearchapi.DeleteRequest{
		Index:      i.indexName,
		DocumentID: sequenceID,
		Refresh:    refreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.OS())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexingFailed, "delete document request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Newf(errors.ErrCodeNotFound, "sequence %s is not indexed", sequenceID)
	}
	if resp.IsError() {
		return apiError(resp, errors.ErrCodeIndexingFailed, "delete document")
	}
	return nil
}

// DeleteByDataset removes every document ingested under one dataset and
// returns how many were removed.
func (i *Indexer) DeleteByDataset(ctx context.Context, dataset string) (int64, error) {
	if dataset == "" {
		return 0, errors.New(errors.ErrCodeValidation, "dataset required")
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"dataset": dataset},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal delete query")
	}

	req := opensearchapi.DeleteByQueryRequest{
		Index: []string{i.indexName},
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, i.client.OS())
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeIndexingFailed, "delete by query request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, apiError(resp, errors.ErrCodeIndexingFailed, "delete by dataset")
	}

	var dbqResp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dbqResp); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode delete response")
	}

	i.logger.Info("Dataset documents deleted",
		logging.String("index", i.indexName),
		logging.String("dataset", dataset),
		logging.Int64("deleted", dbqResp.Deleted))
	return dbqResp.Deleted, nil
}

// withSuggest mirrors the name into the completion field unless the caller
// already provided suggestion inputs.
func withSuggest(doc SequenceDocument) SequenceDocument {
	if len(doc.Suggest) == 0 && doc.Name != "" {
		doc.Suggest = []string{doc.Name}
	}
	return doc
}
