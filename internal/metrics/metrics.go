package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"outcome"}, // "commit" or "rollback"
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Import pipeline metrics
var (
	ImportItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_import_items_total",
			Help: "Total number of import items by terminal outcome",
		},
		[]string{"outcome"}, // "new", "duplicate", "failed", "cancelled"
	)

	ImportItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_import_item_duration_seconds",
			Help:    "Per-item import duration by pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"}, // "hash", "probe", "persist", "tag_resolution"
	)

	ImportBytesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_import_bytes_processed_total",
			Help: "Total bytes hashed by the import pipeline",
		},
	)

	ImportBatchesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_import_batches_active",
			Help: "Number of import batches currently in flight",
		},
	)

	ImportBatchesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_import_batches_completed_total",
			Help: "Total number of import batches completed",
		},
	)

	ImportQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_import_queue_depth",
			Help: "Number of import items waiting for a worker",
		},
	)

	ImportWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_import_workers",
			Help: "Configured number of import workers",
		},
	)
)

// Tag graph metrics
var (
	TagGraphTags = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_tag_graph_tags",
			Help: "Number of tags currently in the graph",
		},
	)

	TagGraphEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_tag_graph_edges",
			Help: "Number of parent/child edges in the tag graph",
		},
	)

	TagGraphCycleRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_tag_graph_cycle_rejections_total",
			Help: "Total number of relation edits rejected for violating acyclicity",
		},
	)

	TagGraphClosureRegens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_tag_graph_closure_regens_total",
			Help: "Total number of ancestor/descendant closure regenerations",
		},
	)

	TagMergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_tag_merges_total",
			Help: "Total number of tag merge operations",
		},
		[]string{"status"},
	)

	TagRegexSkippedMappings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_tag_regex_skipped_mappings_total",
			Help: "Total number of tag regex mappings skipped due to compile errors",
		},
	)
)

// Probe metrics
var (
	ProbeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_probe_operations_total",
			Help: "Total number of media probe operations",
		},
		[]string{"type", "status"}, // type: "image", "video"
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_probe_duration_seconds",
			Help:    "Media probe duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"type", "status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_vault_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)
)

// Memory backpressure metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_vault_memory_paused",
			Help: "Whether import processing is paused for memory pressure (0 or 1)",
		},
	)

	MemoryGCForced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_memory_gc_forced_total",
			Help: "Total number of garbage collections forced by memory pressure",
		},
	)
)

// Event bus metrics
var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_vault_events_published_total",
			Help: "Total number of events published on the bus",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_vault_events_dropped_total",
			Help: "Total number of events dropped because a sink was not keeping up",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_vault_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
