package prometheus

import (
	"fmt"
	"time"
)

// AppMetrics holds all application metrics.
type AppMetrics struct {
	// HTTP Layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPRequestSize     HistogramVec
	HTTPResponseSize    HistogramVec
	HTTPActiveRequests  GaugeVec

	// Encoding Layer
	EncodeTotal          CounterVec
	EncodeDuration       HistogramVec
	EncodeSequenceLength HistogramVec
	EncodeBatchSize      HistogramVec

	// Ingest Layer
	IngestFilesTotal   CounterVec
	IngestRecordsTotal CounterVec
	IngestDuration     HistogramVec
	IngestFileSize     HistogramVec

	// Job/Worker Layer
	EncodingJobsTotal   CounterVec
	EncodingJobDuration HistogramVec
	JobQueueDepth       GaugeVec
	ActiveWorkers       GaugeVec
	JobRetriesTotal     CounterVec

	// Similarity/Graph Layer
	SimilarityQueriesTotal  CounterVec
	SimilarityQueryDuration HistogramVec
	SimilarityResultCount   HistogramVec
	GraphNodesTotal         GaugeVec
	GraphEdgesTotal         GaugeVec
	GraphQueryDuration      HistogramVec

	// Vector Store Layer
	VectorInsertsTotal   CounterVec
	VectorInsertDuration HistogramVec
	VectorCollectionSize GaugeVec

	// Infrastructure Layer
	DBConnectionPoolSize   GaugeVec
	DBConnectionPoolActive GaugeVec
	DBQueryDuration        HistogramVec
	CacheHitsTotal         CounterVec
	CacheMissesTotal       CounterVec
	MessageQueueDepth      GaugeVec
	MessageProcessDuration HistogramVec

	// System Health
	ServiceUptime     GaugeVec
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

// Default Buckets
var (
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	// Encoding a short protein runs in microseconds; a chromosome-scale
	// sequence can take seconds.
	DefaultEncodeDurationBuckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .05, .1, .5, 1, 5, 30}
	DefaultSequenceLengthBuckets = []float64{10, 50, 100, 500, 1000, 10000, 100000, 1000000, 10000000}
	DefaultBatchSizeBuckets      = []float64{1, 10, 50, 100, 500, 1000, 5000}
	DefaultJobDurationBuckets    = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}
	DefaultSizeBuckets           = []float64{100, 1000, 10000, 100000, 1000000, 10000000, 100000000}
	DefaultDBDurationBuckets     = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
	DefaultResultCountBuckets    = []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000}
)

// NewAppMetrics registers all metrics and returns AppMetrics struct.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// HTTP
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPRequestSize = collector.RegisterHistogram("http_request_size_bytes", "HTTP request size", DefaultSizeBuckets, "method", "path")
	m.HTTPResponseSize = collector.RegisterHistogram("http_response_size_bytes", "HTTP response size", DefaultSizeBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method", "path")

	// Encoding
	m.EncodeTotal = collector.RegisterCounter("encode_total", "Sequence encodings", "encoder", "status")
	m.EncodeDuration = collector.RegisterHistogram("encode_duration_seconds", "Sequence encoding duration", DefaultEncodeDurationBuckets, "encoder")
	m.EncodeSequenceLength = collector.RegisterHistogram("encode_sequence_length", "Encoded sequence length in residues", DefaultSequenceLengthBuckets, "encoder")
	m.EncodeBatchSize = collector.RegisterHistogram("encode_batch_size", "Sequences per batch encode call", DefaultBatchSizeBuckets, "encoder")

	// Ingest
	m.IngestFilesTotal = collector.RegisterCounter("ingest_files_total", "Dataset files ingested", "format", "status")
	m.IngestRecordsTotal = collector.RegisterCounter("ingest_records_total", "Sequence records ingested", "format", "status")
	m.IngestDuration = collector.RegisterHistogram("ingest_duration_seconds", "Dataset ingestion duration", DefaultJobDurationBuckets, "format")
	m.IngestFileSize = collector.RegisterHistogram("ingest_file_size_bytes", "Ingested file size", DefaultSizeBuckets, "format")

	// Job/Worker
	m.EncodingJobsTotal = collector.RegisterCounter("encoding_jobs_total", "Encoding jobs processed", "encoder", "status")
	m.EncodingJobDuration = collector.RegisterHistogram("encoding_job_duration_seconds", "Encoding job duration", DefaultJobDurationBuckets, "encoder")
	m.JobQueueDepth = collector.RegisterGauge("job_queue_depth", "Pending encoding jobs", "encoder")
	m.ActiveWorkers = collector.RegisterGauge("active_workers", "Active background workers", "mode")
	m.JobRetriesTotal = collector.RegisterCounter("job_retries_total", "Encoding job retries", "encoder", "reason")

	// Similarity/Graph
	m.SimilarityQueriesTotal = collector.RegisterCounter("similarity_queries_total", "Similarity queries", "backend", "status")
	m.SimilarityQueryDuration = collector.RegisterHistogram("similarity_query_duration_seconds", "Similarity query duration", DefaultHTTPDurationBuckets, "backend")
	m.SimilarityResultCount = collector.RegisterHistogram("similarity_result_count", "Similarity query result count", DefaultResultCountBuckets, "backend")
	m.GraphNodesTotal = collector.RegisterGauge("graph_nodes_total", "Similarity graph nodes", "node_type")
	m.GraphEdgesTotal = collector.RegisterGauge("graph_edges_total", "Similarity graph edges", "edge_type")
	m.GraphQueryDuration = collector.RegisterHistogram("graph_query_duration_seconds", "Graph query duration", DefaultDBDurationBuckets, "query_type")

	// Vector Store
	m.VectorInsertsTotal = collector.RegisterCounter("vector_inserts_total", "Vectors inserted", "collection", "status")
	m.VectorInsertDuration = collector.RegisterHistogram("vector_insert_duration_seconds", "Vector insert duration", DefaultDBDurationBuckets, "collection")
	m.VectorCollectionSize = collector.RegisterGauge("vector_collection_size", "Vectors per collection", "collection")

	// Infrastructure
	m.DBConnectionPoolSize = collector.RegisterGauge("db_pool_size", "Database connection pool size", "db")
	m.DBConnectionPoolActive = collector.RegisterGauge("db_pool_active", "Database active connections", "db")
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "db", "operation")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.MessageQueueDepth = collector.RegisterGauge("mq_depth", "Message queue depth", "queue")
	m.MessageProcessDuration = collector.RegisterHistogram("mq_process_duration_seconds", "Message processing duration", DefaultHTTPDurationBuckets, "queue", "message_type")

	// System Health
	m.ServiceUptime = collector.RegisterGauge("service_uptime_seconds", "Service uptime", "service")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_type", "severity")

	return m
}

// NewNoopAppMetrics returns AppMetrics wired to a collector that discards
// everything.  Handy default for constructors whose callers pass nil metrics.
func NewNoopAppMetrics() *AppMetrics {
	return NewAppMetrics(NewNoopCollector())
}

// Helpers

func RecordHTTPRequest(metrics *AppMetrics, method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	status := fmt.Sprintf("%d", statusCode)
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	metrics.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

func RecordEncode(metrics *AppMetrics, encoder string, sequenceLength int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.EncodeTotal.WithLabelValues(encoder, status).Inc()
	if err == nil {
		metrics.EncodeDuration.WithLabelValues(encoder).Observe(duration.Seconds())
		metrics.EncodeSequenceLength.WithLabelValues(encoder).Observe(float64(sequenceLength))
	}
}

func RecordIngest(metrics *AppMetrics, format string, records int, fileSize int64, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.IngestFilesTotal.WithLabelValues(format, status).Inc()
	metrics.IngestRecordsTotal.WithLabelValues(format, status).Add(float64(records))
	metrics.IngestDuration.WithLabelValues(format).Observe(duration.Seconds())
	metrics.IngestFileSize.WithLabelValues(format).Observe(float64(fileSize))
}

func RecordJob(metrics *AppMetrics, encoder, status string, duration time.Duration) {
	metrics.EncodingJobsTotal.WithLabelValues(encoder, status).Inc()
	metrics.EncodingJobDuration.WithLabelValues(encoder).Observe(duration.Seconds())
}

func RecordSimilarityQuery(metrics *AppMetrics, backend string, results int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.SimilarityQueriesTotal.WithLabelValues(backend, status).Inc()
	metrics.SimilarityQueryDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if err == nil {
		metrics.SimilarityResultCount.WithLabelValues(backend).Observe(float64(results))
	}
}

func RecordDBQuery(metrics *AppMetrics, db, operation string, duration time.Duration, err error) {
	metrics.DBQueryDuration.WithLabelValues(db, operation).Observe(duration.Seconds())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(db, "query_error", "error").Inc()
	}
}

func RecordCacheAccess(metrics *AppMetrics, cache string, hit bool) {
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

func RecordError(metrics *AppMetrics, component, errorType, severity string) {
	metrics.ErrorsTotal.WithLabelValues(component, errorType, severity).Inc()
}
