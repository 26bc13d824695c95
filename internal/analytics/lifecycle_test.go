package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/models"
	"github.com/ticketlane/insights/internal/storage"
)

type lifecycleFixture struct {
	events    *storage.InMemoryEventStore
	buckets   *storage.InMemoryBucketStore
	orders    *storage.InMemoryOrderRepo
	campaigns *storage.InMemoryCampaignRepo
	cache     *InMemoryCache
	lifecycle *Lifecycle
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		events:    storage.NewInMemoryEventStore(),
		buckets:   storage.NewInMemoryBucketStore(),
		orders:    storage.NewInMemoryOrderRepo(),
		campaigns: storage.NewInMemoryCampaignRepo(),
		cache:     NewInMemoryCache(),
	}
	aggregator := NewAggregator(f.events, f.buckets, f.cache, zap.NewNop(), nil)
	resolver := NewResolver(f.events, f.campaigns, f.orders, zap.NewNop(), nil, nil)
	f.lifecycle = NewLifecycle(f.orders, aggregator, resolver, f.cache, zap.NewNop())
	return f
}

func TestOrderPaidEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	paidAt := time.Date(2026, 6, 5, 14, 0, 0, 0, time.UTC)

	require.NoError(t, f.campaigns.Upsert(ctx, &models.Campaign{
		ID:        "c1",
		ScopeID:   "s1",
		Type:      models.CampaignFacebookAds,
		Title:     "Spring Sale",
		StartDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Filters:   models.UTMFilters{Campaign: "spring_sale"},
		IsActive:  true,
	}))

	order := &models.Order{
		ID:          "o1",
		ScopeID:     "s1",
		VisitorID:   "v1",
		SessionID:   "sess1",
		Status:      models.OrderPaid,
		Total:       120,
		Tickets:     2,
		UTMSource:   "facebook",
		UTMCampaign: "spring_sale",
		CreatedAt:   paidAt.Add(-10 * time.Minute),
		PaidAt:      &paidAt,
	}
	require.NoError(t, f.lifecycle.OrderPaid(ctx, order))

	// The order is durable.
	stored, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, stored)

	// Hourly counters reflect the purchase at its paid time.
	date := models.BucketDate(paidAt)
	rows, err := f.buckets.HourlyRange(ctx, "s1", date, date)
	require.NoError(t, err)
	var bucket *models.HourlyBucket
	for i := range rows {
		if rows[i].Hour == models.BucketHour(paidAt) {
			bucket = &rows[i]
		}
	}
	require.NotNil(t, bucket)
	require.Equal(t, float64(1), bucket.Counter(models.MetricPurchases))
	require.Equal(t, float64(2), bucket.Counter(models.MetricTicketsSold))
	require.Equal(t, float64(120), bucket.Counter(models.MetricRevenue))
	// One paid order credits its campaign key exactly once in the breakdown.
	require.Equal(t, float64(1), bucket.Maps[models.MapUTMCampaigns]["spring_sale"])

	// The purchase is attributed to the campaign by utm_campaign name.
	c, err := f.campaigns.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(1), c.Conversions)
	require.Equal(t, float64(120), c.AttributedRevenue)

	unattributed, err := f.events.ListUnattributedPurchases(ctx, "s1", 10)
	require.NoError(t, err)
	require.Empty(t, unattributed)
}

func TestOrderPaidInvalidatesSummaries(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	paidAt := time.Date(2026, 6, 5, 14, 0, 0, 0, time.UTC)

	computes := 0
	_, err := f.cache.RememberScoped(ctx, "s1", cacheKey("dashboard", "s1", "7d"), SummaryTTL, countingCompute(&computes, "before"))
	require.NoError(t, err)

	require.NoError(t, f.lifecycle.OrderPaid(ctx, &models.Order{
		ID: "o1", ScopeID: "s1", VisitorID: "v1", SessionID: "sess1",
		Status: models.OrderPaid, Total: 50, Tickets: 1, PaidAt: &paidAt,
	}))

	_, err = f.cache.RememberScoped(ctx, "s1", cacheKey("dashboard", "s1", "7d"), SummaryTTL, countingCompute(&computes, "after"))
	require.NoError(t, err)
	require.Equal(t, 2, computes)
}

func TestOrderCreatedTracksCheckout(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	createdAt := time.Date(2026, 6, 5, 13, 0, 0, 0, time.UTC)

	require.NoError(t, f.lifecycle.OrderCreated(ctx, &models.Order{
		ID: "o1", ScopeID: "s1", VisitorID: "v1", SessionID: "sess1",
		Status: models.OrderCreated, Total: 50, Tickets: 1, CreatedAt: createdAt,
	}))

	count, err := f.events.CountByType(ctx, "s1", []models.InteractionType{models.InteractionBeginCheckout},
		createdAt.Add(-time.Hour), createdAt.Add(time.Hour), false)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestOrderCancelledKeepsCounters(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	paidAt := time.Date(2026, 6, 5, 14, 0, 0, 0, time.UTC)

	require.NoError(t, f.lifecycle.OrderPaid(ctx, &models.Order{
		ID: "o1", ScopeID: "s1", VisitorID: "v1", SessionID: "sess1",
		Status: models.OrderPaid, Total: 80, Tickets: 1, PaidAt: &paidAt,
	}))
	require.NoError(t, f.lifecycle.OrderCancelled(ctx, &models.Order{
		ID: "o1", ScopeID: "s1", VisitorID: "v1", SessionID: "sess1",
		Status: models.OrderCancelled, Total: 80, Tickets: 1, PaidAt: &paidAt,
	}))

	// The status flips but aggregates are never rolled back.
	stored, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, models.OrderCancelled, stored.Status)

	date := models.BucketDate(paidAt)
	rows, err := f.buckets.HourlyRange(ctx, "s1", date, date)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, float64(1), rows[0].Counter(models.MetricPurchases))

	totals, err := f.orders.PaidTotals(ctx, "s1", paidAt.Add(-time.Hour), paidAt.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(0), totals.Orders)
}

func TestLifecycleNilOrderIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	require.NoError(t, f.lifecycle.OrderCreated(ctx, nil))
	require.NoError(t, f.lifecycle.OrderPaid(ctx, nil))
	require.NoError(t, f.lifecycle.OrderCancelled(ctx, nil))
}
