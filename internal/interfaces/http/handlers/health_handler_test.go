package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyChecker(name string) HealthChecker {
	return HealthCheckFunc{
		ComponentName: name,
		CheckFunc:     func(ctx context.Context) error { return nil },
	}
}

func failingChecker(name string, err error) HealthChecker {
	return HealthCheckFunc{
		ComponentName: name,
		CheckFunc:     func(ctx context.Context) error { return err },
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler("1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Liveness(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealthHandler_Readiness_NoCheckers(t *testing.T) {
	h := NewHealthHandler("test")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readiness(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Empty(t, resp.Components)
}

func TestHealthHandler_Readiness_AllHealthy(t *testing.T) {
	h := NewHealthHandler("test",
		healthyChecker("postgres"),
		healthyChecker("redis"),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readiness(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	require.Len(t, resp.Components, 2)
	assert.Equal(t, "healthy", resp.Components["postgres"].Status)
	assert.NotEmpty(t, resp.Components["postgres"].Latency)
}

func TestHealthHandler_Readiness_OneUnhealthy(t *testing.T) {
	h := NewHealthHandler("test",
		healthyChecker("postgres"),
		failingChecker("milvus", errors.New("connection refused")),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readiness(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "healthy", resp.Components["postgres"].Status)
	assert.Equal(t, "unhealthy", resp.Components["milvus"].Status)
	assert.Equal(t, "connection refused", resp.Components["milvus"].Error)
}

func TestHealthHandler_Detailed(t *testing.T) {
	h := NewHealthHandler("2.0.0", healthyChecker("kafka"))

	req := httptest.NewRequest(http.MethodGet, "/healthz/detail", nil)
	rec := httptest.NewRecorder()
	h.Detailed(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp DetailedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "2.0.0", resp.Version)
	require.Contains(t, resp.Components, "kafka")
}

func TestHealthHandler_Detailed_Degraded(t *testing.T) {
	h := NewHealthHandler("2.0.0",
		healthyChecker("kafka"),
		failingChecker("neo4j", errors.New("no route to host")),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz/detail", nil)
	rec := httptest.NewRecorder()
	h.Detailed(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp DetailedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "no route to host", resp.Components["neo4j"].Error)
}
