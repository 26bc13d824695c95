package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/ticketlane/insights/internal/models"
)

// ClickHouseEventStore implements EventStore on a columnar archive. It is
// the query path for high-volume scopes where raw-row scans in Postgres get
// too expensive.
//
// Rows live in a ReplacingMergeTree versioned by insert time; attribution
// writes a new row version rather than updating in place, and reads use
// FINAL to collapse versions. The set-once guarantee is therefore
// read-check-insert here, not a conditional update: scopes that need the
// strict guarantee keep attribution on the Postgres store.
type ClickHouseEventStore struct {
	conn driver.Conn
}

// NewClickHouseEventStore creates an event store on an open connection.
func NewClickHouseEventStore(conn driver.Conn) *ClickHouseEventStore {
	return &ClickHouseEventStore{conn: conn}
}

// InitSchema creates the interactions table if it does not exist.
func (s *ClickHouseEventStore) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS interactions (
		id String,
		tenant_id LowCardinality(String),
		scope_id LowCardinality(String),
		visitor_id String,
		session_id String,
		event_type LowCardinality(String),
		occurred_at DateTime64(3),
		value Float64,
		utm_source String,
		utm_medium String,
		utm_campaign String,
		gclid String,
		fbclid String,
		ttclid String,
		li_fat_id String,
		referrer String,
		content_id String,
		order_id String,
		device_type LowCardinality(String),
		device_browser LowCardinality(String),
		device_os LowCardinality(String),
		country_code LowCardinality(String),
		region String,
		city String,
		consent UInt8,
		attributed_campaign_id String,
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	PRIMARY KEY (scope_id, id)
	ORDER BY (scope_id, id, occurred_at)
	PARTITION BY toYYYYMM(occurred_at)
	SETTINGS index_granularity = 8192
	`

	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create interactions table: %w", err)
	}
	return nil
}

func (s *ClickHouseEventStore) insertVersion(ctx context.Context, ev *models.Interaction) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO interactions")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	consent := uint8(0)
	if ev.Consent {
		consent = 1
	}

	if err := batch.Append(
		ev.ID, ev.TenantID, ev.ScopeID, ev.VisitorID, ev.SessionID, string(ev.Type), ev.OccurredAt,
		ev.Value, ev.UTMSource, ev.UTMMedium, ev.UTMCampaign, ev.GCLID, ev.FBCLID, ev.TTCLID,
		ev.LIFatID, ev.Referrer, ev.ContentID, ev.OrderID,
		ev.Device.Type, ev.Device.Browser, ev.Device.OS,
		ev.Geo.CountryCode, ev.Geo.Region, ev.Geo.City, consent, ev.AttributedCampaignID,
		uint64(time.Now().UnixNano()),
	); err != nil {
		return fmt.Errorf("failed to append interaction: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Insert appends a raw interaction.
func (s *ClickHouseEventStore) Insert(ctx context.Context, ev *models.Interaction) error {
	if ev == nil {
		return nil
	}
	return s.insertVersion(ctx, ev)
}

const chInteractionColumns = `
	id, tenant_id, scope_id, visitor_id, session_id, event_type, occurred_at,
	value, utm_source, utm_medium, utm_campaign, gclid, fbclid, ttclid,
	li_fat_id, referrer, content_id, order_id,
	device_type, device_browser, device_os,
	country_code, region, city, consent, attributed_campaign_id`

// Get retrieves an interaction by ID.
func (s *ClickHouseEventStore) Get(ctx context.Context, id string) (*models.Interaction, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+chInteractionColumns+`
		FROM interactions FINAL WHERE id = ? LIMIT 1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanCHInteraction(rows)
}

// CountByType counts interactions of the given types within the range.
func (s *ClickHouseEventStore) CountByType(ctx context.Context, scopeID string, types []models.InteractionType, from, to time.Time, includeUntagged bool) (int64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count()
		FROM interactions FINAL
		WHERE scope_id = ?
		  AND occurred_at BETWEEN ? AND ?
		  AND (has(?, event_type) OR (? AND event_type = ''))
	`, scopeID, from, to, typeStrings(types), includeUntagged).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return int64(count), nil
}

// DistinctVisitors counts distinct visitors over the same filter.
func (s *ClickHouseEventStore) DistinctVisitors(ctx context.Context, scopeID string, types []models.InteractionType, from, to time.Time, includeUntagged bool) (int64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT uniqExact(visitor_id)
		FROM interactions FINAL
		WHERE scope_id = ?
		  AND occurred_at BETWEEN ? AND ?
		  AND visitor_id != ''
		  AND (has(?, event_type) OR (? AND event_type = ''))
	`, scopeID, from, to, typeStrings(types), includeUntagged).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count distinct visitors: %w", err)
	}
	return int64(count), nil
}

// DistinctSessions counts distinct sessions for one interaction type.
func (s *ClickHouseEventStore) DistinctSessions(ctx context.Context, scopeID string, typ models.InteractionType, from, to time.Time) (int64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT uniqExact(session_id)
		FROM interactions FINAL
		WHERE scope_id = ?
		  AND occurred_at BETWEEN ? AND ?
		  AND session_id != ''
		  AND event_type = ?
	`, scopeID, from, to, string(typ)).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count distinct sessions: %w", err)
	}
	return int64(count), nil
}

// DailyVisitCounts groups page views (plus untagged legacy rows) per day.
func (s *ClickHouseEventStore) DailyVisitCounts(ctx context.Context, scopeID string, from, to time.Time) (map[string]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT formatDateTime(occurred_at, '%Y-%m-%d') AS day, count()
		FROM interactions FINAL
		WHERE scope_id = ?
		  AND occurred_at BETWEEN ? AND ?
		  AND (event_type = ? OR event_type = '')
		GROUP BY day
	`, scopeID, from, to, string(models.InteractionPageView))
	if err != nil {
		return nil, fmt.Errorf("failed to group daily visits: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day string
		var n uint64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[day] = int64(n)
	}
	return counts, rows.Err()
}

// chTrafficSourceCase mirrors Interaction.TrafficSource in ClickHouse SQL.
const chTrafficSourceCase = `
	multiIf(
		fbclid != '' OR lower(utm_source) = 'facebook', 'Facebook',
		gclid != '' OR lower(utm_source) = 'google', 'Google',
		lower(utm_source) = 'instagram' OR positionCaseInsensitive(referrer, 'instagram') > 0, 'Instagram',
		ttclid != '' OR lower(utm_source) = 'tiktok', 'TikTok',
		lower(utm_medium) = 'email', 'Email',
		referrer = '', 'Direct',
		'Organic')`

// GroupBySource buckets interactions by traffic source.
func (s *ClickHouseEventStore) GroupBySource(ctx context.Context, scopeID string, from, to time.Time) ([]SourceGroup, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+chTrafficSourceCase+` AS source,
			uniqExactIf(visitor_id, visitor_id != '') AS visitors,
			countIf(event_type = ?) AS conversions,
			sumIf(value, event_type = ?) AS revenue
		FROM interactions FINAL
		WHERE scope_id = ?
		  AND occurred_at BETWEEN ? AND ?
		GROUP BY source
		ORDER BY visitors DESC, source ASC
	`, string(models.InteractionPurchase), string(models.InteractionPurchase), scopeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to group by source: %w", err)
	}
	defer rows.Close()

	var groups []SourceGroup
	for rows.Next() {
		var g SourceGroup
		var visitors, conversions uint64
		if err := rows.Scan(&g.Source, &visitors, &conversions, &g.Revenue); err != nil {
			return nil, err
		}
		g.Visitors = int64(visitors)
		g.Conversions = int64(conversions)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GroupByLocation ranks purchase locations by purchase count.
func (s *ClickHouseEventStore) GroupByLocation(ctx context.Context, scopeID string, from, to time.Time, limit int) ([]LocationGroup, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.conn.Query(ctx, `
		SELECT city, country_code, count() AS purchases, sum(value) AS revenue
		FROM interactions FINAL
		WHERE scope_id = ?
		  AND occurred_at BETWEEN ? AND ?
		  AND event_type = ?
		  AND city != ''
		GROUP BY city, country_code
		ORDER BY purchases DESC, revenue DESC
		LIMIT ?
	`, scopeID, from, to, string(models.InteractionPurchase), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to group by location: %w", err)
	}
	defer rows.Close()

	var groups []LocationGroup
	for rows.Next() {
		var g LocationGroup
		var purchases uint64
		if err := rows.Scan(&g.City, &g.CountryCode, &purchases, &g.Revenue); err != nil {
			return nil, err
		}
		g.Purchases = int64(purchases)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// FindLastTouch returns the most recent tagged page view for the visitor
// or session, or nil when none exists.
func (s *ClickHouseEventStore) FindLastTouch(ctx context.Context, scopeID, visitorID, sessionID string) (*models.Interaction, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+chInteractionColumns+`
		FROM interactions FINAL
		WHERE scope_id = ?
		  AND ((visitor_id != '' AND visitor_id = ?) OR (session_id != '' AND session_id = ?))
		  AND (event_type = ? OR event_type = '')
		  AND (utm_campaign != '' OR utm_source != '' OR gclid != '' OR fbclid != '' OR ttclid != '' OR li_fat_id != '')
		ORDER BY occurred_at DESC
		LIMIT 1
	`, scopeID, visitorID, sessionID, string(models.InteractionPageView))
	if err != nil {
		return nil, fmt.Errorf("failed to find last touch: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanCHInteraction(rows)
}

// ListUnattributedPurchases returns up to limit purchases that carry no
// attributed campaign, oldest first.
func (s *ClickHouseEventStore) ListUnattributedPurchases(ctx context.Context, scopeID string, limit int) ([]*models.Interaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+chInteractionColumns+`
		FROM interactions FINAL
		WHERE scope_id = ?
		  AND event_type = ?
		  AND attributed_campaign_id = ''
		ORDER BY occurred_at ASC
		LIMIT ?
	`, scopeID, string(models.InteractionPurchase), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unattributed purchases: %w", err)
	}
	defer rows.Close()

	var events []*models.Interaction
	for rows.Next() {
		ev, err := scanCHInteraction(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AttributedPurchaseTotals returns the count and value sum of purchases
// credited to a campaign.
func (s *ClickHouseEventStore) AttributedPurchaseTotals(ctx context.Context, campaignID string) (int64, float64, error) {
	var count uint64
	var revenue float64
	err := s.conn.QueryRow(ctx, `
		SELECT count(), sum(value)
		FROM interactions FINAL
		WHERE attributed_campaign_id = ?
		  AND event_type = ?
	`, campaignID, string(models.InteractionPurchase)).Scan(&count, &revenue)

	if err != nil {
		return 0, 0, fmt.Errorf("failed to total attributed purchases: %w", err)
	}
	return int64(count), revenue, nil
}

// SetAttributedCampaign records attribution by inserting a new row version.
// Read-check-insert, not a conditional update; see the type comment.
func (s *ClickHouseEventStore) SetAttributedCampaign(ctx context.Context, eventID, campaignID string) (bool, error) {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return false, err
	}
	if ev == nil || ev.AttributedCampaignID != "" {
		return false, nil
	}

	ev.AttributedCampaignID = campaignID
	if err := s.insertVersion(ctx, ev); err != nil {
		return false, fmt.Errorf("failed to set attribution: %w", err)
	}
	return true, nil
}

func scanCHInteraction(rows driver.Rows) (*models.Interaction, error) {
	var ev models.Interaction
	var typ string
	var consent uint8
	err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ScopeID, &ev.VisitorID, &ev.SessionID, &typ, &ev.OccurredAt,
		&ev.Value, &ev.UTMSource, &ev.UTMMedium, &ev.UTMCampaign, &ev.GCLID, &ev.FBCLID, &ev.TTCLID,
		&ev.LIFatID, &ev.Referrer, &ev.ContentID, &ev.OrderID,
		&ev.Device.Type, &ev.Device.Browser, &ev.Device.OS,
		&ev.Geo.CountryCode, &ev.Geo.Region, &ev.Geo.City, &consent, &ev.AttributedCampaignID)
	if err != nil {
		return nil, err
	}
	ev.Type = models.InteractionType(typ)
	ev.Consent = consent == 1
	return &ev, nil
}
