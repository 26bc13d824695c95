package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ticketlane/insights/internal/models"
)

func day(d int, hour int) time.Time {
	return time.Date(2026, 6, d, hour, 0, 0, 0, time.UTC)
}

func TestEventStoreCountsAndDistincts(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	rows := []*models.Interaction{
		{ID: "1", ScopeID: "s1", VisitorID: "v1", SessionID: "a", Type: models.InteractionPageView, OccurredAt: day(1, 10)},
		{ID: "2", ScopeID: "s1", VisitorID: "v1", SessionID: "a", Type: models.InteractionPageView, OccurredAt: day(1, 11)},
		{ID: "3", ScopeID: "s1", VisitorID: "v2", SessionID: "b", Type: "", OccurredAt: day(1, 12)}, // legacy untyped row
		{ID: "4", ScopeID: "s1", VisitorID: "v2", SessionID: "b", Type: models.InteractionAddToCart, OccurredAt: day(1, 12)},
		{ID: "5", ScopeID: "s2", VisitorID: "v9", SessionID: "z", Type: models.InteractionPageView, OccurredAt: day(1, 10)},
	}
	for _, ev := range rows {
		require.NoError(t, store.Insert(ctx, ev))
	}

	from, to := day(1, 0), day(1, 23)
	pageViews := []models.InteractionType{models.InteractionPageView}

	views, err := store.CountByType(ctx, "s1", pageViews, from, to, true)
	require.NoError(t, err)
	require.Equal(t, int64(3), views, "legacy untyped rows count as page views")

	views, err = store.CountByType(ctx, "s1", pageViews, from, to, false)
	require.NoError(t, err)
	require.Equal(t, int64(2), views)

	visitors, err := store.DistinctVisitors(ctx, "s1", pageViews, from, to, true)
	require.NoError(t, err)
	require.Equal(t, int64(2), visitors)

	sessions, err := store.DistinctSessions(ctx, "s1", models.InteractionPageView, from, to)
	require.NoError(t, err)
	require.Equal(t, int64(1), sessions)
}

func TestEventStoreGroupBySourceOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	rows := []*models.Interaction{
		{ID: "1", ScopeID: "s1", VisitorID: "v1", Type: models.InteractionPageView, UTMSource: "facebook", OccurredAt: day(1, 10)},
		{ID: "2", ScopeID: "s1", VisitorID: "v2", Type: models.InteractionPageView, UTMSource: "facebook", OccurredAt: day(1, 10)},
		{ID: "3", ScopeID: "s1", VisitorID: "v3", Type: models.InteractionPageView, OccurredAt: day(1, 10)},
		{ID: "4", ScopeID: "s1", VisitorID: "v2", Type: models.InteractionPurchase, UTMSource: "facebook", Value: 80, OccurredAt: day(1, 11)},
	}
	for _, ev := range rows {
		require.NoError(t, store.Insert(ctx, ev))
	}

	groups, err := store.GroupBySource(ctx, "s1", day(1, 0), day(1, 23))
	require.NoError(t, err)
	require.Len(t, groups, 2)

	require.Equal(t, models.SourceFacebook, groups[0].Source)
	require.Equal(t, int64(2), groups[0].Visitors)
	require.Equal(t, int64(1), groups[0].Conversions)
	require.Equal(t, float64(80), groups[0].Revenue)

	require.Equal(t, models.SourceDirect, groups[1].Source)
	require.Equal(t, int64(1), groups[1].Visitors)
}

func TestEventStoreFindLastTouch(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	rows := []*models.Interaction{
		{ID: "1", ScopeID: "s1", VisitorID: "v1", Type: models.InteractionPageView, UTMCampaign: "early_bird", OccurredAt: day(1, 9)},
		{ID: "2", ScopeID: "s1", VisitorID: "v1", Type: models.InteractionPageView, UTMCampaign: "spring_sale", OccurredAt: day(1, 12)},
		{ID: "3", ScopeID: "s1", VisitorID: "v1", Type: models.InteractionPageView, OccurredAt: day(1, 14)}, // untagged, never a touch
		{ID: "4", ScopeID: "s1", VisitorID: "v2", Type: models.InteractionPageView, UTMCampaign: "other", OccurredAt: day(1, 15)},
	}
	for _, ev := range rows {
		require.NoError(t, store.Insert(ctx, ev))
	}

	touch, err := store.FindLastTouch(ctx, "s1", "v1", "")
	require.NoError(t, err)
	require.NotNil(t, touch)
	require.Equal(t, "spring_sale", touch.UTMCampaign)

	touch, err = store.FindLastTouch(ctx, "s1", "v3", "")
	require.NoError(t, err)
	require.Nil(t, touch)
}

func TestEventStoreSetAttributedCampaignOnce(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	ev := &models.Interaction{ID: "p1", ScopeID: "s1", VisitorID: "v1", Type: models.InteractionPurchase, Value: 50, OccurredAt: day(1, 12)}
	require.NoError(t, store.Insert(ctx, ev))

	won, err := store.SetAttributedCampaign(ctx, "p1", "camp-a")
	require.NoError(t, err)
	require.True(t, won)

	won, err = store.SetAttributedCampaign(ctx, "p1", "camp-b")
	require.NoError(t, err)
	require.False(t, won, "attribution is set-once")

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "camp-a", got.AttributedCampaignID)

	count, revenue, err := store.AttributedPurchaseTotals(ctx, "camp-a")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, float64(50), revenue)
}

func TestEventStoreListUnattributedPurchases(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	rows := []*models.Interaction{
		{ID: "p2", ScopeID: "s1", VisitorID: "v1", Type: models.InteractionPurchase, OccurredAt: day(2, 12)},
		{ID: "p1", ScopeID: "s1", VisitorID: "v1", Type: models.InteractionPurchase, OccurredAt: day(1, 12)},
		{ID: "p3", ScopeID: "s1", VisitorID: "v2", Type: models.InteractionPurchase, OccurredAt: day(3, 12), AttributedCampaignID: "done"},
		{ID: "x1", ScopeID: "s1", VisitorID: "v2", Type: models.InteractionPageView, OccurredAt: day(1, 12)},
	}
	for _, ev := range rows {
		require.NoError(t, store.Insert(ctx, ev))
	}

	list, err := store.ListUnattributedPurchases(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "p1", list[0].ID, "oldest first")
	require.Equal(t, "p2", list[1].ID)

	list, err = store.ListUnattributedPurchases(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
