package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketlane/insights/internal/models"
)

// PostgresBucketStore implements BucketStore using PostgreSQL.
//
// Hourly buckets are stored as one counter row per (scope, date, hour,
// metric) and one row per (scope, date, hour, map, key). Increments are
// single ON CONFLICT upserts, so concurrent aggregators never lose writes
// and there is no read-modify-write anywhere on the hot path.
type PostgresBucketStore struct {
	pool *pgxpool.Pool
}

// NewPostgresBucketStore creates a new PostgreSQL-backed bucket store.
func NewPostgresBucketStore(pool *pgxpool.Pool) *PostgresBucketStore {
	return &PostgresBucketStore{pool: pool}
}

// Add atomically adds amount to one scalar metric of an hourly bucket.
func (s *PostgresBucketStore) Add(ctx context.Context, scopeID string, occurredAt time.Time, metric models.Metric, amount float64) error {
	if !models.MetricColumns[metric] {
		return fmt.Errorf("unknown bucket metric %q", metric)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bucket_counters (scope_id, date, hour, metric, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (scope_id, date, hour, metric)
		DO UPDATE SET value = bucket_counters.value + EXCLUDED.value, updated_at = now()
	`, scopeID, models.BucketDate(occurredAt), models.BucketHour(occurredAt), string(metric), amount)

	if err != nil {
		return fmt.Errorf("failed to add bucket counter: %w", err)
	}
	return nil
}

// AddMap atomically adds amount to one key of a categorical map.
func (s *PostgresBucketStore) AddMap(ctx context.Context, scopeID string, occurredAt time.Time, mapName, key string, amount float64) error {
	if !models.MapColumns[mapName] {
		return fmt.Errorf("unknown bucket map %q", mapName)
	}
	if key == "" {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bucket_map_counters (scope_id, date, hour, map_name, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (scope_id, date, hour, map_name, key)
		DO UPDATE SET value = bucket_map_counters.value + EXCLUDED.value, updated_at = now()
	`, scopeID, models.BucketDate(occurredAt), models.BucketHour(occurredAt), mapName, key, amount)

	if err != nil {
		return fmt.Errorf("failed to add bucket map counter: %w", err)
	}
	return nil
}

// HourlyRange assembles counter rows back into hourly buckets, ordered by
// date then hour.
func (s *PostgresBucketStore) HourlyRange(ctx context.Context, scopeID string, fromDate, toDate string) ([]models.HourlyBucket, error) {
	buckets := make(map[string]*models.HourlyBucket)
	var order []string

	get := func(date string, hour int, updated time.Time) *models.HourlyBucket {
		key := fmt.Sprintf("%s|%02d", date, hour)
		b, ok := buckets[key]
		if !ok {
			b = &models.HourlyBucket{
				ScopeID:  scopeID,
				Date:     date,
				Hour:     hour,
				Counters: make(map[models.Metric]float64),
				Maps:     make(map[string]map[string]float64),
			}
			buckets[key] = b
			order = append(order, key)
		}
		if updated.After(b.UpdatedAt) {
			b.UpdatedAt = updated
		}
		return b
	}

	rows, err := s.pool.Query(ctx, `
		SELECT date, hour, metric, value, updated_at
		FROM bucket_counters
		WHERE scope_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, hour, metric
	`, scopeID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucket counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date, metric string
		var hour int
		var value float64
		var updated time.Time
		if err := rows.Scan(&date, &hour, &metric, &value, &updated); err != nil {
			return nil, err
		}
		get(date, hour, updated).Counters[models.Metric(metric)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mapRows, err := s.pool.Query(ctx, `
		SELECT date, hour, map_name, key, value, updated_at
		FROM bucket_map_counters
		WHERE scope_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, hour, map_name, key
	`, scopeID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucket map counters: %w", err)
	}
	defer mapRows.Close()

	for mapRows.Next() {
		var date, mapName, key string
		var hour int
		var value float64
		var updated time.Time
		if err := mapRows.Scan(&date, &hour, &mapName, &key, &value, &updated); err != nil {
			return nil, err
		}
		b := get(date, hour, updated)
		if b.Maps[mapName] == nil {
			b.Maps[mapName] = make(map[string]float64)
		}
		b.Maps[mapName][key] = value
	}
	if err := mapRows.Err(); err != nil {
		return nil, err
	}

	// Counter rows arrive ordered; map-only buckets are appended after, so
	// re-sort the combined key list.
	sort.Strings(order)

	out := make([]models.HourlyBucket, 0, len(order))
	for _, key := range order {
		out = append(out, *buckets[key])
	}
	return out, nil
}

// UpsertDaily replaces the daily bucket row for its (scope, date). Daily
// rows are written wholesale by the rollup, never incremented, so JSONB
// columns are fine here.
func (s *PostgresBucketStore) UpsertDaily(ctx context.Context, b *models.DailyBucket) error {
	if b == nil {
		return nil
	}

	counters, err := json.Marshal(b.Counters)
	if err != nil {
		return fmt.Errorf("failed to encode daily counters: %w", err)
	}
	maps, err := json.Marshal(b.Maps)
	if err != nil {
		return fmt.Errorf("failed to encode daily maps: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO daily_buckets (scope_id, date, counters, maps, sessions, conversion_rate, avg_order_value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (scope_id, date)
		DO UPDATE SET counters = EXCLUDED.counters, maps = EXCLUDED.maps,
			sessions = EXCLUDED.sessions, conversion_rate = EXCLUDED.conversion_rate,
			avg_order_value = EXCLUDED.avg_order_value, updated_at = now()
	`, b.ScopeID, b.Date, counters, maps, b.Sessions, b.ConversionRate, b.AvgOrderValue)

	if err != nil {
		return fmt.Errorf("failed to upsert daily bucket: %w", err)
	}
	return nil
}

// DailyRange returns daily buckets for [fromDate, toDate], ordered by date.
func (s *PostgresBucketStore) DailyRange(ctx context.Context, scopeID string, fromDate, toDate string) ([]models.DailyBucket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date, counters, maps, sessions, conversion_rate, avg_order_value, updated_at
		FROM daily_buckets
		WHERE scope_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`, scopeID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily buckets: %w", err)
	}
	defer rows.Close()

	var out []models.DailyBucket
	for rows.Next() {
		b := models.DailyBucket{ScopeID: scopeID}
		var counters, maps []byte
		if err := rows.Scan(&b.Date, &counters, &maps, &b.Sessions, &b.ConversionRate, &b.AvgOrderValue, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if len(counters) > 0 {
			if err := json.Unmarshal(counters, &b.Counters); err != nil {
				return nil, fmt.Errorf("failed to decode daily counters: %w", err)
			}
		}
		if len(maps) > 0 {
			if err := json.Unmarshal(maps, &b.Maps); err != nil {
				return nil, fmt.Errorf("failed to decode daily maps: %w", err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
