package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Observation intake metrics
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormwatch_observations_total",
			Help: "Total number of observations received",
		},
		[]string{"source", "status"},
	)

	MalformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormwatch_observations_malformed_total",
			Help: "Total number of observations dropped as malformed",
		},
		[]string{"source"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stormwatch_pipeline_queue_depth",
			Help: "Current depth of the observation queue",
		},
	)

	// Enrichment metrics
	GeoLookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_geo_lookup_errors_total",
			Help: "Total number of geolocation resolver failures",
		},
	)

	GeoDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_geo_degraded_total",
			Help: "Total number of observations forwarded with unknown location",
		},
	)

	GeoCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormwatch_geo_cache_hits_total",
			Help: "Geo cache hits by cache tier",
		},
		[]string{"tier"},
	)

	EnrichDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stormwatch_enrich_duration_seconds",
			Help:    "Duration of geo enrichment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scoring metrics
	ScoringFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_scoring_fallbacks_total",
			Help: "Total number of observations scored by the fallback policy",
		},
	)

	ScoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stormwatch_score_duration_seconds",
			Help:    "Duration of threat scoring in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Correlation metrics
	EventsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_events_created_total",
			Help: "Total number of attack events created",
		},
	)

	EventsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_events_merged_total",
			Help: "Total number of observations merged into existing events",
		},
	)

	EventsAbsorbed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_events_absorbed_total",
			Help: "Total number of duplicate events absorbed into a winner during merge",
		},
	)

	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_observations_duplicates_total",
			Help: "Total number of exact-duplicate observations suppressed",
		},
	)

	// Store metrics
	ActiveEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stormwatch_store_active_events",
			Help: "Number of attack events currently in the active index",
		},
	)

	EventsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_store_events_expired_total",
			Help: "Total number of attack events expired by decay or idle timeout",
		},
	)

	CapacityEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_store_capacity_evictions_total",
			Help: "Total number of attack events evicted under capacity pressure",
		},
	)

	// Publisher metrics
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stormwatch_publisher_subscribers",
			Help: "Number of currently attached delta-stream subscribers",
		},
	)

	DeltasPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormwatch_publisher_deltas_total",
			Help: "Total number of event deltas published",
		},
		[]string{"kind"},
	)

	SlowSubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stormwatch_publisher_slow_drops_total",
			Help: "Total number of subscribers dropped for not keeping up",
		},
	)
)
