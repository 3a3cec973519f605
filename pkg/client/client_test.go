package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := []Option{WithRetryWait(time.Millisecond, 2*time.Millisecond)}
	c, err := NewClient(server.URL, "test-api-key", append(base, opts...)...)
	require.NoError(t, err)
	return c
}

// writeEnvelope mirrors the server's success envelope.
func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"data":       data,
		"request_id": "req-test",
		"timestamp":  time.Now().UTC(),
	})
}

// writeEnvelopeError mirrors the server's error envelope.
func writeEnvelopeError(w http.ResponseWriter, status int, code, message, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	e := map[string]interface{}{"code": code, "message": message}
	if detail != "" {
		e["details"] = map[string]interface{}{"detail": detail}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    false,
		"error":      e,
		"request_id": "req-test",
		"timestamp":  time.Now().UTC(),
	})
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://api.example.com/", "key")
	require.NoError(t, err)
	assert.Equal(t, "http://api.example.com", c.baseURL)
	assert.Equal(t, 3, c.retryMax)
	assert.Equal(t, "X-API-Key", c.apiKeyHeader)
	assert.Contains(t, c.userAgent, "bioseq-go-sdk/")
}

func TestNewClient_EmptyAPIKeyAllowed(t *testing.T) {
	c, err := NewClient("http://api.example.com", "")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient("", "key")
	assert.Error(t, err)

	_, err = NewClient("ftp://files.example.com", "key")
	assert.Error(t, err)
}

func TestClient_SendsAuthAndTracingHeaders(t *testing.T) {
	var gotKey, gotAgent, gotRequestID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotAgent = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get("X-Request-ID")
		writeEnvelope(w, http.StatusOK, map[string]string{"ok": "yes"})
	})

	var out map[string]string
	_, err := c.get(context.Background(), "/api/v1/anything", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "test-api-key", gotKey)
	assert.Contains(t, gotAgent, "bioseq-go-sdk/")
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "yes", out["ok"])
}

func TestClient_CustomAPIKeyHeader(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Internal-Token")
		writeEnvelope(w, http.StatusOK, nil)
	}, WithAPIKeyHeader("X-Internal-Token"))

	_, err := c.get(context.Background(), "/api/v1/anything", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "test-api-key", got)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeEnvelopeError(w, http.StatusInternalServerError, "COMMON_001", "internal server error", "")
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]int{"n": 7})
	})

	var out map[string]int
	_, err := c.get(context.Background(), "/api/v1/flaky", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 7, out["n"])
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelopeError(w, http.StatusNotFound, "SEQ_004", "sequence not found", `no record "seq-9"`)
	})

	_, err := c.get(context.Background(), "/api/v1/sequences/seq-9", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "SEQ_004", apiErr.Code)
	assert.Equal(t, "sequence not found", apiErr.Message)
	assert.Equal(t, `no record "seq-9"`, apiErr.Detail)
	assert.Contains(t, apiErr.Error(), "SEQ_004")
}

func TestClient_RetryExhaustionReturnsLastError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelopeError(w, http.StatusServiceUnavailable, "COMMON_008", "service unavailable", "")
	}, WithRetryMax(2))

	_, err := c.get(context.Background(), "/api/v1/down", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsServerError())
}

func TestClient_RateLimitRetriesAfterHeader(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			writeEnvelopeError(w, http.StatusTooManyRequests, "COMMON_007", "rate limit exceeded", "")
			return
		}
		writeEnvelope(w, http.StatusOK, nil)
	})

	_, err := c.get(context.Background(), "/api/v1/busy", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_NonEnvelopeErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}, WithRetryMax(0))

	_, err := c.get(context.Background(), "/api/v1/anything", nil, nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "UNKNOWN", apiErr.Code)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestClient_ContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelopeError(w, http.StatusInternalServerError, "COMMON_001", "internal server error", "")
	}, WithRetryWait(time.Hour, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.get(ctx, "/api/v1/slow", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Health(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprint(w, `{"status":"alive","version":"1.4.0","uptime":"3h2m0s"}`)
	})

	status, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alive", status.Status)
	assert.Equal(t, "1.4.0", status.Version)
}

func TestClient_Ready(t *testing.T) {
	ready := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprint(w, `{"status":"ready"}`)
	})
	ok, err := ready.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	notReady := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"not_ready"}`)
	}, WithRetryMax(0))
	ok, err = notReady.Ready(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_PaginationSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":    true,
			"data":       []string{"a", "b"},
			"pagination": common.Pagination{Page: 2, PageSize: 2, Total: 9},
			"request_id": "req-test",
		})
	})

	var out []string
	page, err := c.get(context.Background(), "/api/v1/things", nil, &out)
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, int64(9), page.Total)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestClient_SubClientsAreSingletons(t *testing.T) {
	c, err := NewClient("http://api.example.com", "key")
	require.NoError(t, err)
	assert.Same(t, c.Embeddings(), c.Embeddings())
	assert.Same(t, c.Sequences(), c.Sequences())
	assert.Same(t, c.Datasets(), c.Datasets())
	assert.Same(t, c.Search(), c.Search())
}
