package storage

import (
	"context"
	"time"

	"github.com/ticketlane/insights/internal/models"
)

// EventStore is the durable, append-only record of raw interactions.
// Implementations must make SetAttributedCampaign conditional (set if null)
// so concurrent attribution never double-credits an event.
type EventStore interface {
	// Insert appends a raw interaction.
	Insert(ctx context.Context, ev *models.Interaction) error
	// Get returns an interaction by id, or nil when absent.
	Get(ctx context.Context, id string) (*models.Interaction, error)

	// CountByType counts interactions of the given types in [from, to].
	// When includeUntagged is set, rows with an empty type are counted too
	// (legacy rows predate event typing and are treated as page views).
	CountByType(ctx context.Context, scopeID string, types []models.InteractionType, from, to time.Time, includeUntagged bool) (int64, error)
	// DistinctVisitors counts distinct visitor ids over the same filter.
	DistinctVisitors(ctx context.Context, scopeID string, types []models.InteractionType, from, to time.Time, includeUntagged bool) (int64, error)
	// DistinctSessions counts distinct session ids for one type.
	DistinctSessions(ctx context.Context, scopeID string, typ models.InteractionType, from, to time.Time) (int64, error)

	// DailyVisitCounts groups page views (plus untagged rows) per calendar day.
	DailyVisitCounts(ctx context.Context, scopeID string, from, to time.Time) (map[string]int64, error)
	// GroupBySource buckets interactions by traffic source, counting distinct
	// visitors, purchase conversions and purchase revenue per source.
	GroupBySource(ctx context.Context, scopeID string, from, to time.Time) ([]SourceGroup, error)
	// GroupByLocation ranks purchase locations by purchase count.
	GroupByLocation(ctx context.Context, scopeID string, from, to time.Time, limit int) ([]LocationGroup, error)

	// FindLastTouch returns the most recent page view carrying marketing
	// params for the visitor or session, or nil when none exists.
	FindLastTouch(ctx context.Context, scopeID, visitorID, sessionID string) (*models.Interaction, error)

	// ListUnattributedPurchases returns up to limit purchase rows with no
	// attributed campaign, oldest first.
	ListUnattributedPurchases(ctx context.Context, scopeID string, limit int) ([]*models.Interaction, error)
	// AttributedPurchaseTotals returns the count and value sum of purchases
	// credited to a campaign.
	AttributedPurchaseTotals(ctx context.Context, campaignID string) (int64, float64, error)
	// SetAttributedCampaign records attribution once. It reports false when
	// the event was already attributed (to any campaign) or does not exist.
	SetAttributedCampaign(ctx context.Context, eventID, campaignID string) (bool, error)
}

// SourceGroup is one traffic-source row of a breakdown report.
type SourceGroup struct {
	Source      string
	Visitors    int64
	Conversions int64
	Revenue     float64
}

// LocationGroup is one city row of the top-locations report.
type LocationGroup struct {
	City        string
	CountryCode string
	Purchases   int64
	Revenue     float64
}

// BucketStore holds pre-aggregated counter rows. Add and AddMap must be
// atomic add-or-create operations at the storage layer; callers never
// read-modify-write.
type BucketStore interface {
	// Add atomically adds amount to one scalar metric of the hourly bucket
	// covering occurredAt.
	Add(ctx context.Context, scopeID string, occurredAt time.Time, metric models.Metric, amount float64) error
	// AddMap atomically adds amount to one key of a categorical map on the
	// hourly bucket covering occurredAt.
	AddMap(ctx context.Context, scopeID string, occurredAt time.Time, mapName, key string, amount float64) error

	// HourlyRange returns hourly buckets for [fromDate, toDate] inclusive,
	// ordered by date then hour.
	HourlyRange(ctx context.Context, scopeID string, fromDate, toDate string) ([]models.HourlyBucket, error)

	// UpsertDaily replaces the daily bucket row for its (scope, date).
	UpsertDaily(ctx context.Context, b *models.DailyBucket) error
	// DailyRange returns daily buckets for [fromDate, toDate] inclusive,
	// ordered by date.
	DailyRange(ctx context.Context, scopeID string, fromDate, toDate string) ([]models.DailyBucket, error)
}

// CampaignRepo reads campaign definitions and writes back derived metrics.
// Campaign CRUD itself is owned by an external boundary.
type CampaignRepo interface {
	Get(ctx context.Context, id string) (*models.Campaign, error)
	// ListForScope returns all campaigns for a scope, newest start first.
	ListForScope(ctx context.Context, scopeID string) ([]*models.Campaign, error)
	// ActiveForScope returns active campaigns only.
	ActiveForScope(ctx context.Context, scopeID string) ([]*models.Campaign, error)
	Upsert(ctx context.Context, c *models.Campaign) error
	// UpdateMetrics persists only the derived metrics block.
	UpdateMetrics(ctx context.Context, c *models.Campaign) error
}

// OrderRepo exposes the read-side of the purchase aggregate.
type OrderRepo interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Upsert(ctx context.Context, o *models.Order) error
	// PaidTotals returns count, revenue sum and ticket sum of paid orders
	// whose paid time falls in [from, to].
	PaidTotals(ctx context.Context, scopeID string, from, to time.Time) (PaidTotals, error)
	// DailyPaidTotals groups paid orders per calendar day.
	DailyPaidTotals(ctx context.Context, scopeID string, from, to time.Time) (map[string]PaidTotals, error)
	// RecentPaid returns the newest paid orders, newest first.
	RecentPaid(ctx context.Context, scopeID string, limit int) ([]*models.Order, error)
}

// PaidTotals aggregates paid orders over a window.
type PaidTotals struct {
	Orders  int64
	Revenue float64
	Tickets int64
}

// ScopeRepo resolves scope ids. Lookups against unknown ids are hard errors
// surfaced as models.ErrUnknownScope by callers.
type ScopeRepo interface {
	Get(ctx context.Context, id string) (*models.Scope, error)
	Upsert(ctx context.Context, s *models.Scope) error
}
