// Package client is the Go SDK for the BioSeq-Intelligence REST API.
//
// A Client is safe for concurrent use.  Endpoint groups are exposed as lazy
// sub-clients:
//
//	c, _ := client.NewClient("http://localhost:8080", apiKey)
//	emb, err := c.Embeddings().Encode(ctx, client.EncodeRequest{
//		Encoder:  "natural_vector",
//		Sequence: "MVHLTPEEKSAVTALWGKV",
//	})
//
// Every call decodes the server's response envelope; failures surface as
// *APIError carrying the platform error code.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
)

// Version is the SDK version reported in the User-Agent header.
const Version = "0.1.0"

const defaultAPIKeyHeader = "X-API-Key"

// Logger is the minimal logging interface the client writes to.  The zero
// client logs nothing.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// Client is the BioSeq-Intelligence SDK client.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	apiKey       string
	apiKeyHeader string
	userAgent    string
	logger       Logger
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration

	embeddings     *EmbeddingsClient
	embeddingsOnce sync.Once
	sequences      *SequencesClient
	sequencesOnce  sync.Once
	datasets       *DatasetsClient
	datasetsOnce   sync.Once
	search         *SearchClient
	searchOnce     sync.Once
}

// APIError is a non-2xx answer from the API, decoded from the response
// envelope.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("bioseq: %s (HTTP %d): %s: %s", e.Code, e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("bioseq: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
}

func (e *APIError) IsNotFound() bool     { return e.StatusCode == http.StatusNotFound }
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }
func (e *APIError) IsRateLimited() bool  { return e.StatusCode == http.StatusTooManyRequests }
func (e *APIError) IsServerError() bool  { return e.StatusCode >= 500 && e.StatusCode < 600 }

// NewClient creates a new SDK client.  apiKey may be empty when the target
// server runs with authentication disabled.
func NewClient(baseURL string, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("client: baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid baseURL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("client: baseURL scheme must be http or https, got %q", parsed.Scheme)
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		apiKeyHeader: defaultAPIKeyHeader,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		userAgent:    fmt.Sprintf("bioseq-go-sdk/%s", Version),
		logger:       noopLogger{},
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Embeddings returns the encoding sub-client.
func (c *Client) Embeddings() *EmbeddingsClient {
	c.embeddingsOnce.Do(func() { c.embeddings = &EmbeddingsClient{client: c} })
	return c.embeddings
}

// Sequences returns the stored-record sub-client.
func (c *Client) Sequences() *SequencesClient {
	c.sequencesOnce.Do(func() { c.sequences = &SequencesClient{client: c} })
	return c.sequences
}

// Datasets returns the dataset lifecycle sub-client.
func (c *Client) Datasets() *DatasetsClient {
	c.datasetsOnce.Do(func() { c.datasets = &DatasetsClient{client: c} })
	return c.datasets
}

// Search returns the metadata-search and graph sub-client.
func (c *Client) Search() *SearchClient {
	c.searchOnce.Do(func() { c.search = &SearchClient{client: c} })
	return c.search
}

// Health calls GET /healthz.  The probe endpoints answer outside the response
// envelope.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	resp, err := c.doRaw(ctx, http.MethodGet, "/healthz", nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("client: decode health response: %w", err)
	}
	return &out, nil
}

// Ready calls GET /readyz and reports whether every server dependency is up.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.doRaw(ctx, http.MethodGet, "/readyz", nil, "", nil)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusServiceUnavailable {
			return false, nil
		}
		return false, err
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// HealthStatus is the liveness probe answer.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Request core
// ─────────────────────────────────────────────────────────────────────────────

// envelope mirrors the server's response wrapper with the payload left raw.
type envelope struct {
	Success    bool                `json:"success"`
	Data       json.RawMessage     `json:"data,omitempty"`
	Error      *common.ErrorDetail `json:"error,omitempty"`
	Pagination *common.Pagination  `json:"pagination,omitempty"`
	RequestID  string              `json:"request_id"`
}

// do performs one enveloped JSON request with retries.  result may be nil;
// the returned pagination is nil when the endpoint is not paginated.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result interface{}) (*common.Pagination, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: marshal request body: %w", err)
		}
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	resp, err := c.doRaw(ctx, method, buildPath(path, query), payload, "application/json", bodyReader)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(resp, result)
}

// decodeEnvelope reads and closes resp, unwrapping the response envelope
// into result.
func decodeEnvelope(resp *http.Response, result interface{}) (*common.Pagination, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("client: decode response envelope: %w", err)
	}
	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return nil, fmt.Errorf("client: decode response data: %w", err)
		}
	}
	return env.Pagination, nil
}

// doRaw performs one HTTP request with retry on transport errors, 5xx, and
// Retry-After'd 429s.  The caller owns the returned body.  retryPayload is
// re-sent verbatim on each attempt and may be nil for bodyless requests.
func (c *Client) doRaw(ctx context.Context, method, path string, retryPayload []byte, contentType string, body io.Reader) (*http.Response, error) {
	fullURL := c.baseURL + ensureLeadingSlash(path)

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.logger.Debugf("retry %d for %s %s after %v", attempt, method, path, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if retryPayload != nil {
				body = bytes.NewReader(retryPayload)
			} else {
				body = nil
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
		if err != nil {
			return nil, fmt.Errorf("client: build request: %w", err)
		}
		requestID := uuid.New().String()
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Request-ID", requestID)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.apiKey != "" {
			req.Header.Set(c.apiKeyHeader, c.apiKey)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Errorf("%s %s failed: %v", method, path, err)
			lastErr = err
			continue
		}
		c.logger.Debugf("%s %s -> %d (%v)", method, path, resp.StatusCode, time.Since(start))

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.retryMax {
			wait := retryAfter(resp)
			drainAndClose(resp.Body)
			if wait > 0 {
				c.logger.Infof("rate limited on %s %s, retrying after %v", method, path, wait)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if retryPayload != nil {
				body = bytes.NewReader(retryPayload)
			}
			lastErr = &APIError{StatusCode: resp.StatusCode, Code: "COMMON_007", Message: "rate limit exceeded"}
			continue
		}

		if resp.StatusCode >= 400 {
			apiErr := decodeAPIError(resp, requestID)
			drainAndClose(resp.Body)
			lastErr = apiErr
			if apiErr.IsServerError() {
				continue
			}
			return nil, apiErr
		}

		return resp, nil
	}
	return nil, lastErr
}

// decodeAPIError reads an error response into an *APIError, tolerating
// non-envelope bodies from intermediaries.
func decodeAPIError(resp *http.Response, requestID string) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Code:       "UNKNOWN",
		RequestID:  requestID,
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(raw) == 0 {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}

	var env envelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		if env.RequestID != "" {
			apiErr.RequestID = env.RequestID
		}
		if detail, ok := env.Error.Details["detail"].(string); ok {
			apiErr.Detail = detail
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result interface{}) (*common.Pagination, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	_, err := c.do(ctx, http.MethodPost, path, nil, body, result)
	return err
}

func (c *Client) delete(ctx context.Context, path string, result interface{}) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, result)
	return err
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryWaitMin * time.Duration(1<<uint(attempt-1))
	if d > c.retryWaitMax {
		d = c.retryWaitMax
	}
	if d <= 0 {
		return c.retryWaitMin
	}
	// Up to 25% jitter keeps synchronized clients from retrying in lockstep.
	return d + time.Duration(rand.Int63n(int64(d/4+1)))
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func buildPath(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func ensureLeadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body) //nolint:errcheck
	body.Close()
}
