package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/metrics"
	"github.com/ticketlane/insights/internal/models"
	"github.com/ticketlane/insights/internal/storage"
)

// interactionMetrics maps interaction types to the hourly counter they
// increment. Purchases are absent: purchase counters are driven by the order
// lifecycle so a paid order and its purchase interaction count once.
var interactionMetrics = map[models.InteractionType]models.Metric{
	models.InteractionPageView:      models.MetricPageViews,
	models.InteractionTicketView:    models.MetricTicketViews,
	models.InteractionAddToCart:     models.MetricAddToCart,
	models.InteractionBeginCheckout: models.MetricCheckoutStarted,
	models.InteractionViewLineup:    models.MetricLineupViews,
	models.InteractionViewPricing:   models.MetricPricingViews,
	models.InteractionViewFAQ:       models.MetricFAQViews,
	models.InteractionViewGallery:   models.MetricGalleryViews,
	models.InteractionShare:         models.MetricShares,
	models.InteractionInterest:      models.MetricInterests,
}

// Aggregator converts raw interactions and order transitions into counter
// increments on hourly bucket rows.
//
// Aggregation is at-least-once and side-effect-tolerant: a failed increment
// is logged and swallowed so it never aborts the business operation that
// triggered it.
type Aggregator struct {
	events  storage.EventStore
	buckets storage.BucketStore
	cache   Cache
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewAggregator constructs an Aggregator over the given stores.
func NewAggregator(events storage.EventStore, buckets storage.BucketStore, cache Cache, logger *zap.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{events: events, buckets: buckets, cache: cache, logger: logger, metrics: m}
}

// Increment adds amount to one counter of the hourly bucket covering
// occurredAt. Failures are logged and swallowed.
func (a *Aggregator) Increment(ctx context.Context, scopeID string, metric models.Metric, amount float64, occurredAt time.Time) {
	if err := a.buckets.Add(ctx, scopeID, occurredAt, metric, amount); err != nil {
		a.logger.Error("bucket increment failed",
			zap.String("scope_id", scopeID),
			zap.String("metric", string(metric)),
			zap.Error(err),
		)
		if a.metrics != nil {
			a.metrics.RecordAggregationError("increment")
		}
		return
	}
	if a.metrics != nil {
		a.metrics.RecordIncrement(string(metric))
	}
}

// IncrementMap adds amount to one key of a categorical map on the hourly
// bucket covering occurredAt. Failures are logged and swallowed.
func (a *Aggregator) IncrementMap(ctx context.Context, scopeID, mapName, key string, amount float64, occurredAt time.Time) {
	if key == "" {
		return
	}
	if err := a.buckets.AddMap(ctx, scopeID, occurredAt, mapName, key, amount); err != nil {
		a.logger.Error("bucket map increment failed",
			zap.String("scope_id", scopeID),
			zap.String("map", mapName),
			zap.String("key", key),
			zap.Error(err),
		)
		if a.metrics != nil {
			a.metrics.RecordAggregationError("increment_map")
		}
	}
}

// TrackInteraction stores a raw interaction and applies its counter side
// effects. Only the insert error propagates: a lost raw row is a real
// ingestion failure, while aggregation failures after a successful insert
// are logged and swallowed.
func (a *Aggregator) TrackInteraction(ctx context.Context, ev *models.Interaction) error {
	if ev == nil {
		return nil
	}
	if ev.ScopeID == "" {
		return fmt.Errorf("interaction %s has no scope", ev.ID)
	}

	if err := a.events.Insert(ctx, ev); err != nil {
		return fmt.Errorf("failed to store interaction: %w", err)
	}

	if metric, ok := interactionMetrics[ev.Type]; ok || ev.IsPageView() {
		if !ok {
			metric = models.MetricPageViews
		}
		a.Increment(ctx, ev.ScopeID, metric, 1, ev.OccurredAt)
	}

	if ev.IsPageView() {
		a.IncrementMap(ctx, ev.ScopeID, models.MapTrafficSources, ev.TrafficSource(), 1, ev.OccurredAt)
		a.IncrementMap(ctx, ev.ScopeID, models.MapDevices, ev.Device.Type, 1, ev.OccurredAt)
		a.IncrementMap(ctx, ev.ScopeID, models.MapLocations, ev.Geo.City, 1, ev.OccurredAt)
	}
	if ev.UTMCampaign != "" {
		a.IncrementMap(ctx, ev.ScopeID, models.MapUTMCampaigns, ev.UTMCampaign, 1, ev.OccurredAt)
	}
	return nil
}

// TrackPurchase applies the counter side effects of a paid order and evicts
// the scope's summary caches. The purchase interaction itself is stored and
// map-counted by TrackInteraction before this is called, so only the scalar
// purchase counters are touched here.
func (a *Aggregator) TrackPurchase(ctx context.Context, ev *models.Interaction, order *models.Order) {
	if ev == nil || order == nil {
		return
	}
	at := ev.OccurredAt

	a.Increment(ctx, order.ScopeID, models.MetricPurchases, 1, at)
	a.Increment(ctx, order.ScopeID, models.MetricTicketsSold, float64(order.Tickets), at)
	a.Increment(ctx, order.ScopeID, models.MetricRevenue, order.Total, at)

	a.invalidate(ctx, order.ScopeID)
}

// invalidate evicts the scope's summary caches, best effort.
func (a *Aggregator) invalidate(ctx context.Context, scopeID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateScope(ctx, scopeID); err != nil {
		a.logger.Warn("cache invalidation after write failed", zap.String("scope_id", scopeID), zap.Error(err))
	}
}

// AggregateDaily derives the daily bucket for one calendar day from raw rows
// and paid orders and upserts it. Safe to re-run: the daily row is replaced
// wholesale.
func (a *Aggregator) AggregateDaily(ctx context.Context, orders storage.OrderRepo, scopeID string, day time.Time) (*models.DailyBucket, error) {
	start := time.Now()
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)
	date := models.BucketDate(dayStart)

	bucket := &models.DailyBucket{
		ScopeID:  scopeID,
		Date:     date,
		Counters: make(map[models.Metric]float64),
		Maps:     make(map[string]map[string]float64),
	}

	pageViews, err := a.events.CountByType(ctx, scopeID, []models.InteractionType{models.InteractionPageView}, dayStart, dayEnd, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count page views: %w", err)
	}
	bucket.Counters[models.MetricPageViews] = float64(pageViews)

	visitors, err := a.events.DistinctVisitors(ctx, scopeID, []models.InteractionType{models.InteractionPageView}, dayStart, dayEnd, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count visitors: %w", err)
	}
	bucket.Counters[models.MetricUniqueVisitors] = float64(visitors)

	sessions, err := a.events.DistinctSessions(ctx, scopeID, models.InteractionPageView, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	bucket.Sessions = sessions

	for typ, metric := range interactionMetrics {
		if typ == models.InteractionPageView {
			continue
		}
		n, err := a.events.CountByType(ctx, scopeID, []models.InteractionType{typ}, dayStart, dayEnd, false)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", typ, err)
		}
		if n > 0 {
			bucket.Counters[metric] = float64(n)
		}
	}

	totals, err := orders.PaidTotals(ctx, scopeID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to total paid orders: %w", err)
	}
	bucket.Counters[models.MetricPurchases] = float64(totals.Orders)
	bucket.Counters[models.MetricTicketsSold] = float64(totals.Tickets)
	bucket.Counters[models.MetricRevenue] = totals.Revenue

	if visitors > 0 {
		bucket.ConversionRate = round2(float64(totals.Orders) / float64(visitors) * 100)
	}
	if totals.Orders > 0 {
		bucket.AvgOrderValue = round2(totals.Revenue / float64(totals.Orders))
	}

	// Categorical maps come from the day's hourly buckets; they are already
	// aggregated and the keys tracked there are the keys we keep.
	hourly, err := a.buckets.HourlyRange(ctx, scopeID, date, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read hourly buckets: %w", err)
	}
	for _, h := range hourly {
		for name, m := range h.Maps {
			if bucket.Maps[name] == nil {
				bucket.Maps[name] = make(map[string]float64)
			}
			for k, v := range m {
				bucket.Maps[name][k] += v
			}
		}
	}

	if err := a.buckets.UpsertDaily(ctx, bucket); err != nil {
		if a.metrics != nil {
			a.metrics.DailyRollups.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("failed to upsert daily bucket: %w", err)
	}

	if a.metrics != nil {
		a.metrics.DailyRollups.WithLabelValues("ok").Inc()
		a.metrics.RollupDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	}
	a.logger.Info("daily bucket aggregated",
		zap.String("scope_id", scopeID),
		zap.String("date", date),
		zap.Float64("page_views", bucket.Counter(models.MetricPageViews)),
		zap.Float64("revenue", bucket.Counter(models.MetricRevenue)),
	)
	return bucket, nil
}
