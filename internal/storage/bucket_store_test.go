package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ticketlane/insights/internal/models"
)

func TestBucketStoreAddAndRange(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryBucketStore()
	at := time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)

	require.NoError(t, store.Add(ctx, "scope-1", at, models.MetricPageViews, 1))
	require.NoError(t, store.Add(ctx, "scope-1", at, models.MetricPageViews, 2))
	require.NoError(t, store.Add(ctx, "scope-1", at.Add(time.Hour), models.MetricRevenue, 49.5))
	require.NoError(t, store.Add(ctx, "scope-2", at, models.MetricPageViews, 7))

	buckets, err := store.HourlyRange(ctx, "scope-1", "2026-06-01", "2026-06-01")
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	require.Equal(t, 14, buckets[0].Hour)
	require.Equal(t, float64(3), buckets[0].Counter(models.MetricPageViews))
	require.Equal(t, 15, buckets[1].Hour)
	require.Equal(t, 49.5, buckets[1].Counter(models.MetricRevenue))
}

func TestBucketStoreRejectsUnknownColumns(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryBucketStore()
	at := time.Now()

	require.Error(t, store.Add(ctx, "scope-1", at, "made_up_metric", 1))
	require.Error(t, store.AddMap(ctx, "scope-1", at, "made_up_map", "key", 1))
}

func TestBucketStoreAddMapSkipsEmptyKey(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryBucketStore()
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddMap(ctx, "scope-1", at, models.MapTrafficSources, "", 1))

	buckets, err := store.HourlyRange(ctx, "scope-1", "2026-06-01", "2026-06-01")
	require.NoError(t, err)
	require.Empty(t, buckets)
}

// Concurrent increments against the same (scope, hour, metric) must converge
// to the exact sum, the property the Postgres upsert-increment provides.
func TestBucketStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryBucketStore()
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = store.Add(ctx, "scope-1", at, models.MetricPageViews, 1)
		}()
		go func() {
			defer wg.Done()
			_ = store.AddMap(ctx, "scope-1", at, models.MapTrafficSources, "Direct", 1)
		}()
	}
	wg.Wait()

	buckets, err := store.HourlyRange(ctx, "scope-1", "2026-06-01", "2026-06-01")
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.Equal(t, float64(n), buckets[0].Counter(models.MetricPageViews))
	require.Equal(t, float64(n), buckets[0].Maps[models.MapTrafficSources]["Direct"])
}

func TestBucketStoreDailyReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryBucketStore()

	first := &models.DailyBucket{
		ScopeID:  "scope-1",
		Date:     "2026-06-01",
		Counters: map[models.Metric]float64{models.MetricPageViews: 10, models.MetricRevenue: 100},
	}
	require.NoError(t, store.UpsertDaily(ctx, first))

	second := &models.DailyBucket{
		ScopeID:  "scope-1",
		Date:     "2026-06-01",
		Counters: map[models.Metric]float64{models.MetricPageViews: 12},
	}
	require.NoError(t, store.UpsertDaily(ctx, second))

	days, err := store.DailyRange(ctx, "scope-1", "2026-06-01", "2026-06-01")
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Equal(t, float64(12), days[0].Counter(models.MetricPageViews))
	// The stale revenue counter must not survive the replace.
	require.Equal(t, float64(0), days[0].Counter(models.MetricRevenue))
}
