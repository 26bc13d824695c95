package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/models"
	"github.com/ticketlane/insights/internal/storage"
)

type rollupFixture struct {
	scopes    *storage.InMemoryScopeRepo
	events    *storage.InMemoryEventStore
	buckets   *storage.InMemoryBucketStore
	orders    *storage.InMemoryOrderRepo
	campaigns *storage.InMemoryCampaignRepo
	presence  *InMemoryPresenceTracker
	cache     *InMemoryCache
	clock     *fakeClock
	rollup    *Rollup
}

func newRollupFixture(t *testing.T, hasRollups bool) *rollupFixture {
	t.Helper()
	f := &rollupFixture{
		scopes:    storage.NewInMemoryScopeRepo(),
		events:    storage.NewInMemoryEventStore(),
		buckets:   storage.NewInMemoryBucketStore(),
		orders:    storage.NewInMemoryOrderRepo(),
		campaigns: storage.NewInMemoryCampaignRepo(),
		clock:     &fakeClock{t: time.Date(2026, 6, 10, 15, 30, 0, 0, time.UTC)},
	}
	f.presence = NewInMemoryPresenceTrackerAt(f.clock.Now)
	f.cache = NewInMemoryCacheAt(f.clock.Now)

	resolver := NewResolver(f.events, f.campaigns, f.orders, zap.NewNop(), nil, nil)
	f.rollup = NewRollup(
		f.scopes, f.events, f.buckets, f.orders, f.campaigns,
		resolver, f.presence, f.cache, zap.NewNop(), nil,
	).WithClock(f.clock.Now)

	require.NoError(t, f.scopes.Upsert(context.Background(), &models.Scope{
		ID:         "s1",
		TenantID:   "t1",
		Name:       "Summer Fest",
		HasRollups: hasRollups,
		CreatedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}))
	return f
}

func (f *rollupFixture) view(t *testing.T, id, visitorID, sessionID string, at time.Time) {
	t.Helper()
	require.NoError(t, f.events.Insert(context.Background(), &models.Interaction{
		ID:         id,
		ScopeID:    "s1",
		VisitorID:  visitorID,
		SessionID:  sessionID,
		Type:       models.InteractionPageView,
		OccurredAt: at,
	}))
}

func (f *rollupFixture) paid(t *testing.T, id string, at time.Time, total float64, tickets int64) {
	t.Helper()
	require.NoError(t, f.orders.Upsert(context.Background(), &models.Order{
		ID:      id,
		ScopeID: "s1",
		Status:  models.OrderPaid,
		Total:   total,
		Tickets: tickets,
		PaidAt:  &at,
	}))
}

func TestGetOverviewStatsDerived(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)

	f.view(t, "e1", "v1", "sess1", time.Date(2026, 6, 5, 10, 0, 0, 0, time.UTC))
	f.view(t, "e2", "v1", "sess1", time.Date(2026, 6, 5, 10, 5, 0, 0, time.UTC))
	f.view(t, "e3", "v2", "sess2", time.Date(2026, 6, 8, 12, 0, 0, 0, time.UTC))

	f.paid(t, "o1", time.Date(2026, 6, 6, 11, 0, 0, 0, time.UTC), 90, 2)
	f.paid(t, "o2", time.Date(2026, 6, 8, 13, 0, 0, 0, time.UTC), 30, 1)
	// Previous window baseline.
	f.paid(t, "o3", time.Date(2026, 5, 30, 9, 0, 0, 0, time.UTC), 100, 2)

	f.presence.RecordPresence(ctx, "s1", "v1", nil, "Viewing tickets")

	stats, err := f.rollup.GetOverviewStats(ctx, "s1", "7d")
	require.NoError(t, err)

	require.Equal(t, int64(3), stats.PageViews)
	require.Equal(t, int64(2), stats.UniqueVisitors)
	require.Equal(t, float64(120), stats.Revenue)
	require.Equal(t, int64(2), stats.Orders)
	require.Equal(t, int64(3), stats.TicketsSold)
	require.Equal(t, float64(100), stats.ConversionRate)
	require.Equal(t, float64(60), stats.AvgOrderValue)
	require.Equal(t, float64(100), stats.PreviousRevenue)
	require.Equal(t, float64(20), stats.RevenueChangePct)
	require.Equal(t, int64(1), stats.LiveVisitors)
}

func TestGetOverviewStatsAggregated(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, true)

	require.NoError(t, f.buckets.UpsertDaily(ctx, &models.DailyBucket{
		ScopeID: "s1",
		Date:    "2026-06-05",
		Counters: map[models.Metric]float64{
			models.MetricPageViews:      10,
			models.MetricUniqueVisitors: 4,
		},
	}))
	// Paid orders stay authoritative for money even on the aggregated path.
	f.paid(t, "o1", time.Date(2026, 6, 5, 11, 0, 0, 0, time.UTC), 50, 1)

	stats, err := f.rollup.GetOverviewStats(ctx, "s1", "7d")
	require.NoError(t, err)

	require.Equal(t, int64(10), stats.PageViews)
	require.Equal(t, int64(4), stats.UniqueVisitors)
	require.Equal(t, float64(50), stats.Revenue)
	require.Equal(t, float64(25), stats.ConversionRate)
}

func TestGetOverviewStatsAggregatedFallsBackToRaw(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, true)

	// Rollup-capable scope with no daily rows yet: raw rows must still serve.
	f.view(t, "e1", "v1", "sess1", time.Date(2026, 6, 7, 10, 0, 0, 0, time.UTC))

	stats, err := f.rollup.GetOverviewStats(ctx, "s1", "7d")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.PageViews)
	require.Equal(t, int64(1), stats.UniqueVisitors)
}

func TestGetOverviewStatsUnknownScope(t *testing.T) {
	f := newRollupFixture(t, false)

	_, err := f.rollup.GetOverviewStats(context.Background(), "nope", "7d")
	require.ErrorIs(t, err, models.ErrUnknownScope)
}

func TestGetChartDataZeroFillsDaily(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)

	f.view(t, "e1", "v1", "sess1", time.Date(2026, 6, 5, 10, 0, 0, 0, time.UTC))
	f.view(t, "e2", "v1", "sess1", time.Date(2026, 6, 5, 10, 5, 0, 0, time.UTC))
	f.view(t, "e3", "v2", "sess2", time.Date(2026, 6, 8, 12, 0, 0, 0, time.UTC))
	f.paid(t, "o1", time.Date(2026, 6, 6, 11, 0, 0, 0, time.UTC), 90, 2)

	points, err := f.rollup.GetChartData(ctx, "s1", "7d", GranularityDaily)
	require.NoError(t, err)
	require.Len(t, points, 7)

	require.Equal(t, "2026-06-04", points[0].Date)
	require.Equal(t, "2026-06-10", points[6].Date)
	require.Equal(t, ChartPoint{Date: "2026-06-04"}, points[0])
	require.Equal(t, float64(2), points[1].Views)
	require.Equal(t, float64(1), points[2].Orders)
	require.Equal(t, float64(90), points[2].Revenue)
	require.Equal(t, float64(1), points[4].Views)
}

func TestGetChartDataWeeklyRegroup(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)

	f.view(t, "e1", "v1", "sess1", time.Date(2026, 6, 5, 10, 0, 0, 0, time.UTC))
	f.view(t, "e2", "v1", "sess1", time.Date(2026, 6, 5, 10, 5, 0, 0, time.UTC))
	f.view(t, "e3", "v2", "sess2", time.Date(2026, 6, 8, 12, 0, 0, 0, time.UTC))
	f.paid(t, "o1", time.Date(2026, 6, 6, 11, 0, 0, 0, time.UTC), 90, 2)

	points, err := f.rollup.GetChartData(ctx, "s1", "7d", GranularityWeekly)
	require.NoError(t, err)
	require.Len(t, points, 2)

	// ISO weeks start Monday: Jun 4-7 fold into the week of Jun 1, Jun 8-10
	// into the week of Jun 8.
	require.Equal(t, "2026-06-01", points[0].Date)
	require.Equal(t, float64(2), points[0].Views)
	require.Equal(t, float64(1), points[0].Orders)
	require.Equal(t, float64(90), points[0].Revenue)

	require.Equal(t, "2026-06-08", points[1].Date)
	require.Equal(t, float64(1), points[1].Views)
	require.Equal(t, float64(0), points[1].Orders)
}

func TestGetChartDataAggregated(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, true)

	require.NoError(t, f.buckets.UpsertDaily(ctx, &models.DailyBucket{
		ScopeID: "s1",
		Date:    "2026-06-05",
		Counters: map[models.Metric]float64{
			models.MetricPageViews: 10,
			models.MetricPurchases: 2,
			models.MetricRevenue:   150,
		},
	}))

	points, err := f.rollup.GetChartData(ctx, "s1", "7d", GranularityDaily)
	require.NoError(t, err)
	require.Len(t, points, 7)
	require.Equal(t, float64(10), points[1].Views)
	require.Equal(t, float64(2), points[1].Orders)
	require.Equal(t, float64(150), points[1].Revenue)
	require.Equal(t, ChartPoint{Date: "2026-06-06"}, points[2])
}

func TestGetFunnelMetrics(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)
	at := time.Date(2026, 6, 7, 12, 0, 0, 0, time.UTC)

	stage := func(typ models.InteractionType, sessions int) {
		for i := 0; i < sessions; i++ {
			require.NoError(t, f.events.Insert(ctx, &models.Interaction{
				ID:         string(typ) + "-" + string(rune('a'+i)),
				ScopeID:    "s1",
				VisitorID:  "v-" + string(rune('a'+i)),
				SessionID:  "sess-" + string(rune('a'+i)),
				Type:       typ,
				OccurredAt: at,
			}))
		}
	}
	stage(models.InteractionPageView, 8)
	stage(models.InteractionAddToCart, 4)
	stage(models.InteractionBeginCheckout, 2)
	stage(models.InteractionPurchase, 1)

	funnel, err := f.rollup.GetFunnelMetrics(ctx, "s1", "7d")
	require.NoError(t, err)
	require.Len(t, funnel.Stages, 4)

	require.Equal(t, FunnelStage{Name: "page_view", Count: 8, Rate: 100}, funnel.Stages[0])
	require.Equal(t, int64(4), funnel.Stages[1].Count)
	require.Equal(t, float64(50), funnel.ViewToCartRate)
	require.Equal(t, float64(50), funnel.CartToCheckoutRate)
	require.Equal(t, float64(50), funnel.CheckoutToPurchaseRate)
	require.Equal(t, float64(12.5), funnel.OverallConversionRate)
}

func TestGetTrafficSourcesDisplay(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)
	at := time.Date(2026, 6, 7, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.events.Insert(ctx, &models.Interaction{
		ID: "e1", ScopeID: "s1", VisitorID: "v1", SessionID: "sess1",
		Type: models.InteractionPageView, OccurredAt: at, UTMSource: "facebook",
	}))
	require.NoError(t, f.events.Insert(ctx, &models.Interaction{
		ID: "e2", ScopeID: "s1", VisitorID: "v2", SessionID: "sess2",
		Type: models.InteractionPageView, OccurredAt: at, UTMSource: "facebook",
	}))
	require.NoError(t, f.events.Insert(ctx, &models.Interaction{
		ID: "e3", ScopeID: "s1", VisitorID: "v1", SessionID: "sess1",
		Type: models.InteractionPurchase, OccurredAt: at, UTMSource: "facebook", Value: 80,
	}))
	require.NoError(t, f.events.Insert(ctx, &models.Interaction{
		ID: "e4", ScopeID: "s1", VisitorID: "v3", SessionID: "sess3",
		Type: models.InteractionPageView, OccurredAt: at,
	}))

	rows, err := f.rollup.GetTrafficSources(ctx, "s1", "7d")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, models.SourceFacebook, rows[0].Source)
	require.Equal(t, int64(2), rows[0].Visitors)
	require.Equal(t, int64(1), rows[0].Conversions)
	require.Equal(t, float64(80), rows[0].Revenue)
	require.Equal(t, "📘", rows[0].Icon)
	require.Equal(t, "#1877f2", rows[0].Color)

	require.Equal(t, models.SourceDirect, rows[1].Source)
	require.Equal(t, "🔗", rows[1].Icon)
}

func TestGetTopLocations(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)
	at := time.Date(2026, 6, 7, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.events.Insert(ctx, &models.Interaction{
		ID: "e1", ScopeID: "s1", VisitorID: "v1", SessionID: "sess1",
		Type: models.InteractionPurchase, OccurredAt: at, Value: 120,
		Geo: models.GeoSnapshot{City: "Berlin", CountryCode: "DE"},
	}))

	rows, err := f.rollup.GetTopLocations(ctx, "s1", "7d", 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Berlin", rows[0].City)
	require.Equal(t, "🇩🇪", rows[0].Flag)
	require.Equal(t, int64(1), rows[0].Purchases)
	require.Equal(t, float64(120), rows[0].Revenue)
}

func TestGetPeriodComparisonZeroBaseline(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)

	f.view(t, "e1", "v1", "sess1", time.Date(2026, 6, 7, 10, 0, 0, 0, time.UTC))
	f.paid(t, "o1", time.Date(2026, 6, 7, 11, 0, 0, 0, time.UTC), 60, 1)

	cmp, err := f.rollup.GetPeriodComparison(ctx, "s1", "7d")
	require.NoError(t, err)

	require.Equal(t, int64(1), cmp.Current.PageViews)
	require.Equal(t, float64(60), cmp.Current.Revenue)
	require.Equal(t, int64(0), cmp.Previous.PageViews)

	// Empty baselines report 0, never infinity.
	require.Equal(t, float64(0), cmp.PageViewsChangePct)
	require.Equal(t, float64(0), cmp.RevenueChangePct)
}

func TestGetPeriodComparisonDeltas(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)

	f.paid(t, "o1", time.Date(2026, 6, 7, 11, 0, 0, 0, time.UTC), 150, 3)
	f.paid(t, "o2", time.Date(2026, 5, 30, 11, 0, 0, 0, time.UTC), 100, 2)

	cmp, err := f.rollup.GetPeriodComparison(ctx, "s1", "7d")
	require.NoError(t, err)
	require.Equal(t, float64(50), cmp.RevenueChangePct)
	require.Equal(t, float64(50), cmp.TicketsChangePct)
}

func TestGetTodayHourlyChart(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)
	at := time.Date(2026, 6, 10, 9, 15, 0, 0, time.UTC)

	require.NoError(t, f.buckets.Add(ctx, "s1", at, models.MetricPageViews, 5))
	require.NoError(t, f.buckets.Add(ctx, "s1", at, models.MetricPurchases, 1))
	require.NoError(t, f.buckets.Add(ctx, "s1", at, models.MetricRevenue, 40))

	points, err := f.rollup.GetTodayHourlyChart(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, points, 24)

	require.Equal(t, 0, points[0].Hour)
	require.Equal(t, 23, points[23].Hour)
	require.Equal(t, HourlyPoint{Hour: 9, Views: 5, Purchases: 1, Revenue: 40}, points[9])
	require.Equal(t, HourlyPoint{Hour: 10}, points[10])
}

func TestGetRecentSalesMasksBuyers(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)
	at := time.Date(2026, 6, 9, 20, 0, 0, 0, time.UTC)

	require.NoError(t, f.orders.Upsert(ctx, &models.Order{
		ID: "o1", ScopeID: "s1", Status: models.OrderPaid,
		Total: 90, Tickets: 2, BuyerName: "Ana Kovac", CountryCode: "HR",
		PaidAt: &at,
	}))

	sales, err := f.rollup.GetRecentSales(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	require.Equal(t, "Ana K.", sales[0].Buyer)
	require.Equal(t, int64(2), sales[0].Tickets)
	require.Equal(t, "HR", sales[0].CountryCode)
}

func TestMaskName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ana Kovac", "Ana K."},
		{"Jean Claude Van", "Jean V."},
		{"madonna", "m******"},
		{"X", "X"},
		{"", "Someone"},
		{"   ", "Someone"},
	}
	for _, tt := range tests {
		if got := maskName(tt.in); got != tt.want {
			t.Errorf("maskName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCountryFlag(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"DE", "🇩🇪"},
		{"us", "🇺🇸"},
		{"", "🌍"},
		{"DEU", "🌍"},
	}
	for _, tt := range tests {
		if got := countryFlag(tt.code); got != tt.want {
			t.Errorf("countryFlag(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestGetRealtimeSnapshotCached(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)

	f.presence.RecordPresence(ctx, "s1", "v1", nil, "Viewing tickets")

	first, err := f.rollup.GetRealtimeSnapshot(ctx, "s1")
	require.NoError(t, err)

	var snap RealtimeSnapshot
	require.NoError(t, json.Unmarshal(first, &snap))
	require.Equal(t, int64(1), snap.LiveVisitors)
	require.Len(t, snap.TodayHourly, 24)

	// A second visitor within the TTL is invisible: the payload is served
	// from cache.
	f.presence.RecordPresence(ctx, "s1", "v2", nil, "Viewing tickets")
	cached, err := f.rollup.GetRealtimeSnapshot(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, first, cached)

	f.clock.Advance(RealtimeTTL + time.Second)
	fresh, err := f.rollup.GetRealtimeSnapshot(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(fresh, &snap))
	require.Equal(t, int64(2), snap.LiveVisitors)
}

// TestDashboardEndToEnd drives a full season through the write path and
// reads it back through the query layer: 100 page views from 80 visitors,
// 10 cart adds, and 4 paid orders totaling 400, 3 of them carrying the
// spring_sale campaign tag.
func TestDashboardEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)

	aggregator := NewAggregator(f.events, f.buckets, f.cache, zap.NewNop(), nil)
	resolver := NewResolver(f.events, f.campaigns, f.orders, zap.NewNop(), nil, nil)
	lifecycle := NewLifecycle(f.orders, aggregator, resolver, f.cache, zap.NewNop())

	require.NoError(t, f.campaigns.Upsert(ctx, &models.Campaign{
		ID:        "c1",
		ScopeID:   "s1",
		Type:      models.CampaignFacebookAds,
		Title:     "Spring Sale",
		StartDate: time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC),
		Filters:   models.UTMFilters{Campaign: "spring_sale"},
		Budget:    100,
		IsActive:  true,
	}))

	at := time.Date(2026, 6, 7, 12, 0, 0, 0, time.UTC)
	visitor := func(i int) string { return fmt.Sprintf("v%02d", i) }

	// 80 visitors, one session each; the first 20 view twice for 100 views.
	views := 0
	for i := 0; i < 80; i++ {
		n := 1
		if i < 20 {
			n = 2
		}
		for j := 0; j < n; j++ {
			views++
			require.NoError(t, aggregator.TrackInteraction(ctx, &models.Interaction{
				ID:         fmt.Sprintf("pv-%03d", views),
				ScopeID:    "s1",
				VisitorID:  visitor(i),
				SessionID:  "sess-" + visitor(i),
				Type:       models.InteractionPageView,
				OccurredAt: at,
			}))
		}
	}
	require.Equal(t, 100, views)

	for i := 0; i < 10; i++ {
		require.NoError(t, aggregator.TrackInteraction(ctx, &models.Interaction{
			ID:         fmt.Sprintf("cart-%02d", i),
			ScopeID:    "s1",
			VisitorID:  visitor(i),
			SessionID:  "sess-" + visitor(i),
			Type:       models.InteractionAddToCart,
			OccurredAt: at.Add(5 * time.Minute),
		}))
	}

	paidAt := at.Add(30 * time.Minute)
	for i := 0; i < 4; i++ {
		o := &models.Order{
			ID:        fmt.Sprintf("o%d", i),
			ScopeID:   "s1",
			VisitorID: visitor(i),
			SessionID: "sess-" + visitor(i),
			Status:    models.OrderPaid,
			Total:     100,
			Tickets:   1,
			CreatedAt: at.Add(20 * time.Minute),
			PaidAt:    &paidAt,
		}
		if i < 3 {
			o.UTMCampaign = "spring_sale"
		}
		require.NoError(t, lifecycle.OrderPaid(ctx, o))
	}

	overview, err := f.rollup.GetOverviewStats(ctx, "s1", "7d")
	require.NoError(t, err)
	require.Equal(t, int64(100), overview.PageViews)
	require.Equal(t, int64(80), overview.UniqueVisitors)
	require.Equal(t, int64(4), overview.Orders)
	require.Equal(t, float64(400), overview.Revenue)
	require.Equal(t, float64(5), overview.ConversionRate)

	funnel, err := f.rollup.GetFunnelMetrics(ctx, "s1", "7d")
	require.NoError(t, err)
	require.Equal(t, int64(80), funnel.Stages[0].Count)
	require.Equal(t, int64(10), funnel.Stages[1].Count)
	require.Equal(t, float64(12.5), funnel.ViewToCartRate)
	require.Equal(t, float64(5), funnel.OverallConversionRate)

	c, err := f.campaigns.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(3), c.Conversions)
	require.Equal(t, float64(300), c.AttributedRevenue)
}

func TestGetDashboardDataCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newRollupFixture(t, false)

	f.view(t, "e1", "v1", "sess1", time.Date(2026, 6, 7, 10, 0, 0, 0, time.UTC))
	f.paid(t, "o1", time.Date(2026, 6, 7, 11, 0, 0, 0, time.UTC), 60, 1)

	first, err := f.rollup.GetDashboardData(ctx, "s1", "7d")
	require.NoError(t, err)

	var data DashboardData
	require.NoError(t, json.Unmarshal(first, &data))
	require.Equal(t, float64(60), data.Overview.Revenue)
	require.Len(t, data.Chart, 7)

	// New revenue stays invisible until a write-path invalidation.
	f.paid(t, "o2", time.Date(2026, 6, 8, 11, 0, 0, 0, time.UTC), 40, 1)
	cached, err := f.rollup.GetDashboardData(ctx, "s1", "7d")
	require.NoError(t, err)
	require.Equal(t, first, cached)

	require.NoError(t, f.cache.InvalidateScope(ctx, "s1"))
	fresh, err := f.rollup.GetDashboardData(ctx, "s1", "7d")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(fresh, &data))
	require.Equal(t, float64(100), data.Overview.Revenue)
}
