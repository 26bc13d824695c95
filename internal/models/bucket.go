package models

import "time"

// Metric names a scalar counter on an aggregate bucket. The set of tracked
// metrics is fixed; stores validate against MetricColumns.
type Metric string

const (
	MetricPageViews       Metric = "page_views"
	MetricUniqueVisitors  Metric = "unique_visitors"
	MetricBounces         Metric = "bounces"
	MetricTicketViews     Metric = "ticket_views"
	MetricAddToCart       Metric = "add_to_carts"
	MetricCheckoutStarted Metric = "checkouts_started"
	MetricPurchases       Metric = "purchases"
	MetricTicketsSold     Metric = "tickets_sold"
	MetricRevenue         Metric = "revenue"
	MetricLineupViews     Metric = "lineup_views"
	MetricPricingViews    Metric = "pricing_views"
	MetricFAQViews        Metric = "faq_views"
	MetricGalleryViews    Metric = "gallery_views"
	MetricShares          Metric = "shares"
	MetricInterests       Metric = "interests"
)

// MetricColumns is the allow-list of scalar bucket metrics.
var MetricColumns = map[Metric]bool{
	MetricPageViews:       true,
	MetricUniqueVisitors:  true,
	MetricBounces:         true,
	MetricTicketViews:     true,
	MetricAddToCart:       true,
	MetricCheckoutStarted: true,
	MetricPurchases:       true,
	MetricTicketsSold:     true,
	MetricRevenue:         true,
	MetricLineupViews:     true,
	MetricPricingViews:    true,
	MetricFAQViews:        true,
	MetricGalleryViews:    true,
	MetricShares:          true,
	MetricInterests:       true,
}

// Categorical map names on a bucket.
const (
	MapTrafficSources = "traffic_sources"
	MapDevices        = "devices"
	MapLocations      = "locations"
	MapUTMCampaigns   = "utm_campaigns"
)

// MapColumns is the allow-list of categorical bucket maps.
var MapColumns = map[string]bool{
	MapTrafficSources: true,
	MapDevices:        true,
	MapLocations:      true,
	MapUTMCampaigns:   true,
}

// HourlyBucket is the pre-aggregated counter row for one (scope, date, hour).
// Counters are commutative increments; map values are per-key counters kept
// atomic at the storage layer.
type HourlyBucket struct {
	ScopeID string `json:"scope_id"`
	Date    string `json:"date"` // YYYY-MM-DD
	Hour    int    `json:"hour"` // 0-23

	Counters map[Metric]float64            `json:"counters"`
	Maps     map[string]map[string]float64 `json:"maps"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Counter returns a scalar counter, zero when absent.
func (b *HourlyBucket) Counter(m Metric) float64 {
	if b == nil || b.Counters == nil {
		return 0
	}
	return b.Counters[m]
}

// DailyBucket is the pre-aggregated row for one (scope, date), built by the
// daily rollup from raw rows. Eventually the sum of a day's hourly buckets
// equals its daily bucket; the invariant is not transactional.
type DailyBucket struct {
	ScopeID string `json:"scope_id"`
	Date    string `json:"date"`

	Counters map[Metric]float64            `json:"counters"`
	Maps     map[string]map[string]float64 `json:"maps"`

	Sessions       int64   `json:"sessions"`
	ConversionRate float64 `json:"conversion_rate"`
	AvgOrderValue  float64 `json:"avg_order_value"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Counter returns a scalar counter, zero when absent.
func (b *DailyBucket) Counter(m Metric) float64 {
	if b == nil || b.Counters == nil {
		return 0
	}
	return b.Counters[m]
}

// BucketDate formats t's calendar day the way bucket rows key it.
func BucketDate(t time.Time) string { return t.UTC().Format("2006-01-02") }

// BucketHour returns t's hour in the bucket keyspace.
func BucketHour(t time.Time) int { return t.UTC().Hour() }
