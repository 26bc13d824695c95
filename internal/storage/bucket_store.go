package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ticketlane/insights/internal/models"
)

// InMemoryBucketStore keeps aggregate buckets in process memory. Increments
// hold the store mutex for the whole add, so the add-or-create is atomic the
// same way the Postgres upsert is.
type InMemoryBucketStore struct {
	mu     sync.Mutex
	hourly map[string]*models.HourlyBucket // scope|date|hour
	daily  map[string]*models.DailyBucket  // scope|date
}

// NewInMemoryBucketStore creates an empty bucket store.
func NewInMemoryBucketStore() *InMemoryBucketStore {
	return &InMemoryBucketStore{
		hourly: make(map[string]*models.HourlyBucket),
		daily:  make(map[string]*models.DailyBucket),
	}
}

func hourlyKey(scopeID, date string, hour int) string {
	return fmt.Sprintf("%s|%s|%02d", scopeID, date, hour)
}

func (s *InMemoryBucketStore) hourlyBucket(scopeID string, at time.Time) *models.HourlyBucket {
	date := models.BucketDate(at)
	hour := models.BucketHour(at)
	key := hourlyKey(scopeID, date, hour)
	b, ok := s.hourly[key]
	if !ok {
		b = &models.HourlyBucket{
			ScopeID:  scopeID,
			Date:     date,
			Hour:     hour,
			Counters: make(map[models.Metric]float64),
			Maps:     make(map[string]map[string]float64),
		}
		s.hourly[key] = b
	}
	return b
}

func (s *InMemoryBucketStore) Add(ctx context.Context, scopeID string, occurredAt time.Time, metric models.Metric, amount float64) error {
	if !models.MetricColumns[metric] {
		return fmt.Errorf("unknown bucket metric %q", metric)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.hourlyBucket(scopeID, occurredAt)
	b.Counters[metric] += amount
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryBucketStore) AddMap(ctx context.Context, scopeID string, occurredAt time.Time, mapName, key string, amount float64) error {
	if !models.MapColumns[mapName] {
		return fmt.Errorf("unknown bucket map %q", mapName)
	}
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.hourlyBucket(scopeID, occurredAt)
	m, ok := b.Maps[mapName]
	if !ok {
		m = make(map[string]float64)
		b.Maps[mapName] = m
	}
	m[key] += amount
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryBucketStore) HourlyRange(ctx context.Context, scopeID string, fromDate, toDate string) ([]models.HourlyBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.HourlyBucket
	for _, b := range s.hourly {
		if b.ScopeID == scopeID && b.Date >= fromDate && b.Date <= toDate {
			result = append(result, copyHourly(b))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Hour < result[j].Hour
	})
	return result, nil
}

func (s *InMemoryBucketStore) UpsertDaily(ctx context.Context, b *models.DailyBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyDaily(b)
	cp.UpdatedAt = time.Now().UTC()
	s.daily[b.ScopeID+"|"+b.Date] = &cp
	return nil
}

func (s *InMemoryBucketStore) DailyRange(ctx context.Context, scopeID string, fromDate, toDate string) ([]models.DailyBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.DailyBucket
	for _, b := range s.daily {
		if b.ScopeID == scopeID && b.Date >= fromDate && b.Date <= toDate {
			result = append(result, copyDaily(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result, nil
}

func copyHourly(b *models.HourlyBucket) models.HourlyBucket {
	cp := *b
	cp.Counters = copyCounters(b.Counters)
	cp.Maps = copyMaps(b.Maps)
	return cp
}

func copyDaily(b *models.DailyBucket) models.DailyBucket {
	cp := *b
	cp.Counters = copyCounters(b.Counters)
	cp.Maps = copyMaps(b.Maps)
	return cp
}

func copyCounters(in map[models.Metric]float64) map[models.Metric]float64 {
	out := make(map[models.Metric]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyMaps(in map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(in))
	for name, m := range in {
		mm := make(map[string]float64, len(m))
		for k, v := range m {
			mm[k] = v
		}
		out[name] = mm
	}
	return out
}
