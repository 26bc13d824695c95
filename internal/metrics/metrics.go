package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics engine.
type Metrics struct {
	// Ingestion metrics
	InteractionsIngested *prometheus.CounterVec
	IngestLatency        *prometheus.HistogramVec

	// Aggregation metrics
	CounterIncrements  *prometheus.CounterVec
	AggregationErrors  *prometheus.CounterVec
	DailyRollups       *prometheus.CounterVec
	RollupDuration     *prometheus.HistogramVec

	// Attribution metrics
	Attributions       *prometheus.CounterVec
	AttributionMisses  *prometheus.CounterVec
	AttributedRevenue  *prometheus.CounterVec
	BackfillProcessed  *prometheus.CounterVec
	MetricRecomputes   *prometheus.CounterVec

	// Presence metrics
	PresenceWrites  *prometheus.CounterVec
	PresenceErrors  *prometheus.CounterVec
	LiveVisitors    *prometheus.GaugeVec

	// Cache metrics
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// Query metrics
	DashboardQueries *prometheus.CounterVec
	QueryLatency     *prometheus.HistogramVec

	// System metrics
	DBConnections    *prometheus.GaugeVec
	RedisLatency     *prometheus.HistogramVec
	GeoLookupLatency *prometheus.HistogramVec
}

var (
	// DefaultMetrics is the global metrics instance
	DefaultMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		// Ingestion metrics
		InteractionsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactions_ingested_total",
				Help:      "Total interaction events accepted for processing",
			},
			[]string{"event_type"},
		),
		IngestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_latency_seconds",
				Help:      "Interaction processing latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"status"},
		),

		// Aggregation metrics
		CounterIncrements: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counter_increments_total",
				Help:      "Bucket counter increments by metric",
			},
			[]string{"metric"},
		),
		AggregationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_errors_total",
				Help:      "Swallowed aggregation write failures",
			},
			[]string{"operation"},
		),
		DailyRollups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "daily_rollups_total",
				Help:      "Daily rollup runs by outcome",
			},
			[]string{"status"},
		),
		RollupDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rollup_duration_seconds",
				Help:      "Daily rollup duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"status"},
		),

		// Attribution metrics
		Attributions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attributions_total",
				Help:      "Purchases credited to a campaign, by priority tier",
			},
			[]string{"campaign_type", "tier"},
		),
		AttributionMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_misses_total",
				Help:      "Purchases that matched no campaign",
			},
			[]string{"reason"},
		),
		AttributedRevenue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attributed_revenue_total",
				Help:      "Revenue credited to campaigns",
			},
			[]string{"campaign_type"},
		),
		BackfillProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backfill_processed_total",
				Help:      "Backfill sweep results per purchase row",
			},
			[]string{"status"},
		),
		MetricRecomputes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_recomputes_total",
				Help:      "Wholesale campaign metric recomputations",
			},
			[]string{"campaign_type"},
		),

		// Presence metrics
		PresenceWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_writes_total",
				Help:      "Presence records written",
			},
			[]string{"action"},
		),
		PresenceErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_errors_total",
				Help:      "Swallowed presence store failures",
			},
			[]string{"operation"},
		),
		LiveVisitors: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_visitors",
				Help:      "Last observed live visitor count per scope",
			},
			[]string{"scope_id"},
		),

		// Cache metrics
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Dashboard cache hits",
			},
			[]string{"kind"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Dashboard cache misses",
			},
			[]string{"kind"},
		),
		CacheInvalidations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Explicit cache invalidations",
			},
			[]string{"reason"},
		),

		// Query metrics
		DashboardQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dashboard_queries_total",
				Help:      "Dashboard query operations by path",
			},
			[]string{"operation", "path"}, // path: aggregated, derived
		),
		QueryLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_latency_seconds",
				Help:      "Dashboard query latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation"},
		),

		// System metrics
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
		RedisLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "redis_latency_seconds",
				Help:      "Redis operation latency",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"operation"},
		),
		GeoLookupLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"cache_hit"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordIngest records one processed interaction.
func (m *Metrics) RecordIngest(eventType, status string, latency time.Duration) {
	m.InteractionsIngested.WithLabelValues(eventType).Inc()
	m.IngestLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordIncrement records a bucket counter increment.
func (m *Metrics) RecordIncrement(metric string) {
	m.CounterIncrements.WithLabelValues(metric).Inc()
}

// RecordAggregationError records a swallowed aggregation failure.
func (m *Metrics) RecordAggregationError(operation string) {
	m.AggregationErrors.WithLabelValues(operation).Inc()
}

// RecordAttribution records a successful attribution.
func (m *Metrics) RecordAttribution(campaignType, tier string, revenue float64) {
	m.Attributions.WithLabelValues(campaignType, tier).Inc()
	m.AttributedRevenue.WithLabelValues(campaignType).Add(revenue)
}

// RecordAttributionMiss records a purchase that matched no campaign.
func (m *Metrics) RecordAttributionMiss(reason string) {
	m.AttributionMisses.WithLabelValues(reason).Inc()
}

// RecordCacheHit records a cache hit for one key kind.
func (m *Metrics) RecordCacheHit(kind string) {
	m.CacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a cache miss for one key kind.
func (m *Metrics) RecordCacheMiss(kind string) {
	m.CacheMisses.WithLabelValues(kind).Inc()
}

// RecordQuery records a dashboard query and which path served it.
func (m *Metrics) RecordQuery(operation, path string, latency time.Duration) {
	m.DashboardQueries.WithLabelValues(operation, path).Inc()
	m.QueryLatency.WithLabelValues(operation).Observe(latency.Seconds())
}
