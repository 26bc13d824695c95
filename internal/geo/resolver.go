package geo

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"

	"github.com/ticketlane/insights/internal/metrics"
	"github.com/ticketlane/insights/internal/models"
)

// cityRecord is the slice of the MaxMind city schema we decode.
type cityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

type cacheEntry struct {
	snapshot  *models.GeoSnapshot
	expiresAt time.Time
}

// Resolver looks up the geo snapshot attached to interactions and presence
// records from a MaxMind GeoLite2 city database. Lookups are cached with a
// TTL; the cache is bounded by wholesale reset when it grows past maxCache.
type Resolver struct {
	reader *maxminddb.Reader

	mu    sync.Mutex
	cache map[string]cacheEntry

	cacheTTL time.Duration
	maxCache int
	metrics  *metrics.Metrics
}

// NewResolver opens the database at dbPath.
func NewResolver(dbPath string) (*Resolver, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &Resolver{
		reader:   reader,
		cache:    make(map[string]cacheEntry),
		cacheTTL: 10 * time.Minute,
		maxCache: 10000,
	}, nil
}

// WithMetrics attaches lookup instrumentation.
func (r *Resolver) WithMetrics(m *metrics.Metrics) *Resolver {
	r.metrics = m
	return r
}

func (r *Resolver) observeLookup(started time.Time, cacheHit bool) {
	if r.metrics == nil {
		return
	}
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	r.metrics.GeoLookupLatency.WithLabelValues(hit).Observe(time.Since(started).Seconds())
}

// Lookup resolves an IP to a geo snapshot. Invalid or unresolvable IPs
// return nil: callers attach no snapshot rather than failing.
func (r *Resolver) Lookup(ip string) *models.GeoSnapshot {
	started := time.Now()
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil
	}

	r.mu.Lock()
	if entry, ok := r.cache[ip]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		r.observeLookup(started, true)
		return entry.snapshot
	}
	r.mu.Unlock()

	var record cityRecord
	if err := r.reader.Lookup(parsed, &record); err != nil {
		return nil
	}

	var snapshot *models.GeoSnapshot
	if record.Country.ISOCode != "" || record.City.Names["en"] != "" {
		snapshot = &models.GeoSnapshot{
			CountryCode: record.Country.ISOCode,
			City:        record.City.Names["en"],
			Latitude:    record.Location.Latitude,
			Longitude:   record.Location.Longitude,
		}
		if len(record.Subdivisions) > 0 {
			snapshot.Region = record.Subdivisions[0].Names["en"]
		}
	}

	r.mu.Lock()
	if len(r.cache) >= r.maxCache {
		r.cache = make(map[string]cacheEntry)
	}
	r.cache[ip] = cacheEntry{snapshot: snapshot, expiresAt: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()
	r.observeLookup(started, false)
	return snapshot
}

// Close closes the database.
func (r *Resolver) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}
