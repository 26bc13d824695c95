package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/models"
)

// fakeClock is a manually advanced clock for window expiry tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedisTracker(t *testing.T) (*RedisPresenceTracker, *fakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewRedisPresenceTrackerAt(client, zap.NewNop(), nil, clock.Now), clock
}

func TestRedisPresenceWindow(t *testing.T) {
	ctx := context.Background()
	tracker, clock := newRedisTracker(t)
	geo := &models.GeoSnapshot{City: "Berlin", CountryCode: "DE"}

	tracker.RecordPresence(ctx, "s1", "v1", geo, "page_view")
	tracker.RecordPresence(ctx, "s1", "v2", geo, "page_view")
	require.Equal(t, int64(2), tracker.LiveCount(ctx, "s1"))

	// v1 goes quiet; v2 keeps interacting.
	clock.Advance(4 * time.Minute)
	tracker.RecordPresence(ctx, "s1", "v2", geo, "view_ticket")

	clock.Advance(2 * time.Minute)
	require.Equal(t, int64(1), tracker.LiveCount(ctx, "s1"))

	clock.Advance(PresenceWindow)
	require.Equal(t, int64(0), tracker.LiveCount(ctx, "s1"))
}

func TestRedisLiveVisitorsJoinsGeo(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newRedisTracker(t)

	tracker.RecordPresence(ctx, "s1", "v1", &models.GeoSnapshot{City: "Berlin", CountryCode: "DE", Latitude: 52.52, Longitude: 13.405}, "page_view")
	tracker.RecordPresence(ctx, "s1", "v2", nil, "page_view")

	visitors := tracker.LiveVisitors(ctx, "s1")
	require.Len(t, visitors, 1, "visitors without a geo snapshot are omitted")
	require.Equal(t, "v1", visitors[0].VisitorID)
	require.Equal(t, "Berlin", visitors[0].Geo.City)
	require.Equal(t, 52.52, visitors[0].Geo.Latitude)
}

func TestRedisRecentActivityNewestFirstCapped(t *testing.T) {
	ctx := context.Background()
	tracker, clock := newRedisTracker(t)

	for i := 0; i < ActivityFeedCap+5; i++ {
		clock.Advance(time.Second)
		tracker.RecordPresence(ctx, "s1", "v1", &models.GeoSnapshot{City: "Berlin"}, fmt.Sprintf("action-%d", i))
	}

	entries := tracker.RecentActivity(ctx, "s1")
	require.Len(t, entries, ActivityFeedCap)
	require.Equal(t, fmt.Sprintf("action-%d", ActivityFeedCap+4), entries[0].Action)
	require.Equal(t, "Berlin", entries[0].City)
}

func TestRedisPresenceIgnoresBlankIDs(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newRedisTracker(t)

	tracker.RecordPresence(ctx, "", "v1", nil, "page_view")
	tracker.RecordPresence(ctx, "s1", "", nil, "page_view")
	require.Equal(t, int64(0), tracker.LiveCount(ctx, "s1"))
}

func TestInMemoryPresenceWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewInMemoryPresenceTrackerAt(clock.Now)
	geo := &models.GeoSnapshot{City: "Lisbon", CountryCode: "PT"}

	tracker.RecordPresence(ctx, "s1", "v1", geo, "page_view")
	tracker.RecordPresence(ctx, "s1", "v2", nil, "page_view")
	require.Equal(t, int64(2), tracker.LiveCount(ctx, "s1"))

	visitors := tracker.LiveVisitors(ctx, "s1")
	require.Len(t, visitors, 1)
	require.Equal(t, "v1", visitors[0].VisitorID)

	clock.Advance(PresenceWindow + time.Second)
	require.Equal(t, int64(0), tracker.LiveCount(ctx, "s1"))
	require.Empty(t, tracker.LiveVisitors(ctx, "s1"))
}

func TestInMemoryPresenceScopesIsolated(t *testing.T) {
	ctx := context.Background()
	tracker := NewInMemoryPresenceTracker()

	tracker.RecordPresence(ctx, "s1", "v1", nil, "page_view")
	tracker.RecordPresence(ctx, "s2", "v1", nil, "page_view")

	require.Equal(t, int64(1), tracker.LiveCount(ctx, "s1"))
	require.Equal(t, int64(1), tracker.LiveCount(ctx, "s2"))
	require.Len(t, tracker.RecentActivity(ctx, "s1"), 1)
}
