package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/BioSeq-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/BioSeq-Intelligence/internal/interfaces/http/middleware"
)

// RouterConfig aggregates all handler and middleware dependencies required
// to construct the complete HTTP route tree.
type RouterConfig struct {
	// Handlers
	EmbeddingHandler *handlers.EmbeddingHandler
	DatasetHandler   *handlers.DatasetHandler
	SequenceHandler  *handlers.SequenceHandler
	SearchHandler    *handlers.SearchHandler
	HealthHandler    *handlers.HealthHandler

	// Middleware configuration. Zero values disable auth and leave CORS
	// locked down; both mirror the server configuration.
	Auth      middleware.APIKeyAuthConfig
	CORS      *middleware.CORSConfig
	Logging   *middleware.LoggingConfig
	RateLimit *middleware.RateLimitConfig

	// Infrastructure
	Logger           logging.Logger
	Metrics          *prometheus.AppMetrics
	MetricsCollector prometheus.MetricsCollector
}

// NewRouter constructs the complete HTTP route tree from the given
// configuration. It wires global middleware, public health endpoints, and
// the authenticated /api/v1 resource groups into one http.Handler.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}

	logCfg := middleware.DefaultLoggingConfig()
	if cfg.Logging != nil {
		logCfg = *cfg.Logging
	}
	r.Use(middleware.RequestLogging(logger, logCfg))

	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	// Public probe endpoints; these bypass auth and rate limiting.
	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
		r.Get("/healthz/detail", cfg.HealthHandler.Detailed)
	}

	// Prometheus scrape endpoint; expose behind an internal listener or
	// firewall rule in production.
	if cfg.MetricsCollector != nil {
		r.Handle("/metrics", cfg.MetricsCollector.Handler())
	}

	// API v1, authenticated and rate limited.
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.APIKeyAuth(cfg.Auth, logger))

		if cfg.RateLimit != nil {
			limiter := middleware.NewTokenBucketLimiter(
				cfg.RateLimit.RequestsPerSecond,
				cfg.RateLimit.BurstSize,
				cfg.RateLimit.CleanupInterval,
			)
			api.Use(middleware.RateLimit(limiter, *cfg.RateLimit))
		}

		registerEmbeddingRoutes(api, cfg.EmbeddingHandler)
		registerDatasetRoutes(api, cfg.DatasetHandler)
		registerSequenceRoutes(api, cfg.SequenceHandler)
		registerSearchRoutes(api, cfg.SearchHandler)
	})

	return r
}

// registerEmbeddingRoutes mounts the stateless encoding endpoints.
func registerEmbeddingRoutes(r chi.Router, h *handlers.EmbeddingHandler) {
	if h == nil {
		return
	}
	r.Post("/embeddings", h.Encode)
	r.Post("/embeddings/batch", h.EncodeBatch)
	r.Get("/encoders", h.ListEncoders)
}

// registerDatasetRoutes mounts dataset lifecycle and job endpoints.
func registerDatasetRoutes(r chi.Router, h *handlers.DatasetHandler) {
	if h == nil {
		return
	}
	r.Route("/datasets", func(dr chi.Router) {
		dr.Get("/", h.List)
		dr.Post("/", h.Ingest)

		dr.Route("/{dataset}", func(item chi.Router) {
			item.Delete("/", h.Delete)
			item.Get("/matrix", h.ExportMatrix)
			item.Post("/embeddings", h.EnqueueEmbedding)
		})
	})

	r.Route("/jobs", func(jr chi.Router) {
		jr.Get("/", h.ListJobs)
		jr.Get("/{jobID}", h.GetJob)
	})
}

// registerSequenceRoutes mounts stored-record endpoints.
func registerSequenceRoutes(r chi.Router, h *handlers.SequenceHandler) {
	if h == nil {
		return
	}
	r.Route("/sequences", func(sr chi.Router) {
		sr.Get("/", h.List)

		sr.Route("/{sequenceID}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Get("/neighbors", h.Neighbors)
			item.Post("/neighbors", h.LinkNeighbors)
			item.Get("/neighborhood", h.Neighborhood)
		})
	})
}

// registerSearchRoutes mounts metadata search and graph analytics.
func registerSearchRoutes(r chi.Router, h *handlers.SearchHandler) {
	if h == nil {
		return
	}
	r.Route("/search", func(sr chi.Router) {
		sr.Get("/", h.Search)
		sr.Get("/suggest", h.Suggest)
		sr.Post("/nearest", h.Nearest)
	})

	r.Route("/graph", func(gr chi.Router) {
		gr.Get("/stats", h.GraphStats)
		gr.Get("/hubs", h.TopHubs)
		gr.Get("/path", h.ShortestPath)
	})
}
