// Package opensearch maintains the full-text index over sequence metadata
// and answers the text queries the search API serves from it.  Embedding
// vectors live in Milvus; this index carries what a reader filters, matches,
// and facets on.
package opensearch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/BioSeq-Intelligence/internal/config"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

const (
	defaultMaxRetries          = 3
	defaultRetryBackoff        = 100 * time.Millisecond
	defaultMaxIdleConnsPerHost = 10
	healthCheckInterval        = 30 * time.Second
)

// Client manages the OpenSearch connection and its health state.
type Client struct {
	cfg     config.OpenSearchConfig
	client  *opensearch.Client
	logger  logging.Logger
	healthy atomic.Bool
	cancel  context.CancelFunc
	once    sync.Once
}

// NewClient connects to the cluster, verifies it answers, and starts a
// background health probe.
func NewClient(ctx context.Context, cfg config.OpenSearchConfig, logger logging.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "at least one opensearch address is required")
	}

	transport := &http.Transport{MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.User,
		Password:      cfg.Password,
		MaxRetries:    defaultMaxRetries,
		RetryBackoff:  func(int) time.Duration { return defaultRetryBackoff },
		RetryOnStatus: []int{429, 502, 503, 504},
		Transport:     transport,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to build opensearch client")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		client: osClient,
		logger: logger,
		cancel: cancel,
	}

	if err := c.Ping(ctx); err != nil {
		cancel()
		return nil, err
	}
	go c.healthLoop(loopCtx)

	logger.Info("OpenSearch connection established",
		logging.Strings("addresses", cfg.Addresses))
	return c, nil
}

// Ping checks that the cluster answers and records the outcome.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		c.healthy.Store(false)
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "opensearch ping failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		c.healthy.Store(false)
		return errors.Newf(errors.ErrCodeServiceUnavailable, "opensearch ping returned status %d", resp.StatusCode)
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the most recent probe.
func (c *Client) IsHealthy() bool {
	return c.healthy.Load()
}

// OS exposes the underlying SDK client to the indexer and searcher.
func (c *Client) OS() *opensearch.Client {
	return c.client
}

// Close stops the health probe.  The SDK client holds no connection state of
// its own beyond the HTTP transport.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.logger.Info("OpenSearch client closed")
	})
	return nil
}

func (c *Client) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.Ping(ctx)
			switch {
			case prev && err != nil:
				c.logger.Warn("OpenSearch cluster became unhealthy", logging.Err(err))
			case !prev && err == nil:
				c.logger.Info("OpenSearch cluster recovered")
			}
		}
	}
}

// apiError extracts the error type and reason OpenSearch returns in failure
// bodies; the status code is all we have when the body is not JSON.
func apiError(resp *opensearchapi.Response, code errors.ErrorCode, op string) error {
	var payload struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Reason != "" {
		return errors.Newf(code, "%s: %s (%s)", op, payload.Error.Reason, payload.Error.Type)
	}
	return errors.Newf(code, "%s: status %d", op, resp.StatusCode)
}
