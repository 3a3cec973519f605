package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/prometheus"
)

// Metrics returns middleware that records request count, duration, and sizes
// per route. The matched chi route pattern is used as the path label so that
// /sequences/{sequenceID} stays one series regardless of the ID.
func Metrics(metrics *prometheus.AppMetrics) func(http.Handler) http.Handler {
	if metrics == nil {
		metrics = prometheus.NewNoopAppMetrics()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newWrappedResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}

			prometheus.RecordHTTPRequest(
				metrics,
				r.Method,
				path,
				wrapped.statusCode,
				time.Since(start),
				r.ContentLength,
				wrapped.bytesWritten,
			)
		})
	}
}
