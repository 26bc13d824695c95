package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/models"
	"github.com/ticketlane/insights/internal/storage"
)

// Lifecycle receives order transitions from the external payment boundary
// and drives their analytics side effects: aggregation, attribution and
// cache invalidation. Side effects are log-and-continue; only failing to
// record the order itself is an error.
type Lifecycle struct {
	orders     storage.OrderRepo
	aggregator *Aggregator
	resolver   *Resolver
	cache      Cache
	logger     *zap.Logger
}

// NewLifecycle constructs the order-lifecycle handler.
func NewLifecycle(orders storage.OrderRepo, aggregator *Aggregator, resolver *Resolver, cache Cache, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{orders: orders, aggregator: aggregator, resolver: resolver, cache: cache, logger: logger}
}

// OrderCreated records a new order and counts the checkout start.
func (l *Lifecycle) OrderCreated(ctx context.Context, o *models.Order) error {
	if o == nil {
		return nil
	}
	if err := l.orders.Upsert(ctx, o); err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}

	ev := l.interactionFor(o, models.InteractionBeginCheckout)
	if err := l.aggregator.TrackInteraction(ctx, ev); err != nil {
		l.logger.Error("checkout tracking failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	return nil
}

// OrderPaid records the paid order, stores and aggregates the purchase
// interaction, attributes it and evicts the scope's summary caches.
func (l *Lifecycle) OrderPaid(ctx context.Context, o *models.Order) error {
	if o == nil {
		return nil
	}
	if err := l.orders.Upsert(ctx, o); err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}

	ev := l.interactionFor(o, models.InteractionPurchase)
	ev.OccurredAt = o.PaidTime()
	ev.Value = o.Total

	if err := l.aggregator.TrackInteraction(ctx, ev); err != nil {
		l.logger.Error("purchase tracking failed", zap.String("order_id", o.ID), zap.Error(err))
		// Without a stored purchase row there is nothing to attribute;
		// the backfill sweep cannot recover it either.
		l.invalidate(ctx, o.ScopeID)
		return nil
	}
	l.aggregator.TrackPurchase(ctx, ev, o)

	if _, err := l.resolver.AttributePurchase(ctx, ev); err != nil {
		l.logger.Error("purchase attribution failed",
			zap.String("order_id", o.ID),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
	return nil
}

// OrderCancelled records the cancellation and invalidates caches. Counters
// and attribution are not rolled back; reversal semantics are undefined
// upstream.
func (l *Lifecycle) OrderCancelled(ctx context.Context, o *models.Order) error {
	if o == nil {
		return nil
	}
	if err := l.orders.Upsert(ctx, o); err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	l.invalidate(ctx, o.ScopeID)
	return nil
}

func (l *Lifecycle) invalidate(ctx context.Context, scopeID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.InvalidateScope(ctx, scopeID); err != nil {
		l.logger.Warn("cache invalidation failed", zap.String("scope_id", scopeID), zap.Error(err))
	}
}

// interactionFor synthesizes the interaction row for an order transition,
// echoing the marketing params captured at checkout.
func (l *Lifecycle) interactionFor(o *models.Order, typ models.InteractionType) *models.Interaction {
	return &models.Interaction{
		ID:          uuid.NewString(),
		TenantID:    o.TenantID,
		ScopeID:     o.ScopeID,
		VisitorID:   o.VisitorID,
		SessionID:   o.SessionID,
		Type:        typ,
		OccurredAt:  o.CreatedAt,
		UTMSource:   o.UTMSource,
		UTMMedium:   o.UTMMedium,
		UTMCampaign: o.UTMCampaign,
		GCLID:       o.GCLID,
		FBCLID:      o.FBCLID,
		TTCLID:      o.TTCLID,
		OrderID:     o.ID,
		Geo:         models.GeoSnapshot{CountryCode: o.CountryCode},
		Consent:     true,
	}
}
