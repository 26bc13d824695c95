package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketlane/insights/internal/models"
)

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

const interactionColumns = `
	id, tenant_id, scope_id, visitor_id, session_id, event_type, occurred_at,
	value, utm_source, utm_medium, utm_campaign, gclid, fbclid, ttclid,
	li_fat_id, referrer, content_id, order_id,
	device_type, device_browser, device_os,
	country_code, region, city, consent, attributed_campaign_id`

// trafficSourceCase mirrors Interaction.TrafficSource so SQL-side breakdowns
// and in-memory breakdowns bucket identically.
const trafficSourceCase = `
	CASE
		WHEN fbclid <> '' OR lower(utm_source) = 'facebook' THEN 'Facebook'
		WHEN gclid <> '' OR lower(utm_source) = 'google' THEN 'Google'
		WHEN lower(utm_source) = 'instagram' OR referrer ILIKE '%instagram%' THEN 'Instagram'
		WHEN ttclid <> '' OR lower(utm_source) = 'tiktok' THEN 'TikTok'
		WHEN lower(utm_medium) = 'email' THEN 'Email'
		WHEN referrer = '' THEN 'Direct'
		ELSE 'Organic'
	END`

// Insert appends a raw interaction.
func (s *PostgresEventStore) Insert(ctx context.Context, ev *models.Interaction) error {
	if ev == nil {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.TenantID, ev.ScopeID, ev.VisitorID, ev.SessionID, string(ev.Type), ev.OccurredAt,
		ev.Value, ev.UTMSource, ev.UTMMedium, ev.UTMCampaign, ev.GCLID, ev.FBCLID, ev.TTCLID,
		ev.LIFatID, ev.Referrer, ev.ContentID, ev.OrderID,
		ev.Device.Type, ev.Device.Browser, ev.Device.OS,
		ev.Geo.CountryCode, ev.Geo.Region, ev.Geo.City, ev.Consent, ev.AttributedCampaignID)

	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

// Get retrieves an interaction by ID.
func (s *PostgresEventStore) Get(ctx context.Context, id string) (*models.Interaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions WHERE id = $1
	`, id)

	ev, err := scanInteraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	return ev, nil
}

// CountByType counts interactions of the given types within the range.
func (s *PostgresEventStore) CountByType(ctx context.Context, scopeID string, types []models.InteractionType, from, to time.Time, includeUntagged bool) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM interactions
		WHERE scope_id = $1
		  AND occurred_at BETWEEN $2 AND $3
		  AND (event_type = ANY($4) OR ($5 AND event_type = ''))
	`, scopeID, from, to, typeStrings(types), includeUntagged).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return count, nil
}

// DistinctVisitors counts distinct visitors over the same filter.
func (s *PostgresEventStore) DistinctVisitors(ctx context.Context, scopeID string, types []models.InteractionType, from, to time.Time, includeUntagged bool) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT visitor_id)
		FROM interactions
		WHERE scope_id = $1
		  AND occurred_at BETWEEN $2 AND $3
		  AND visitor_id <> ''
		  AND (event_type = ANY($4) OR ($5 AND event_type = ''))
	`, scopeID, from, to, typeStrings(types), includeUntagged).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count distinct visitors: %w", err)
	}
	return count, nil
}

// DistinctSessions counts distinct sessions for one interaction type.
func (s *PostgresEventStore) DistinctSessions(ctx context.Context, scopeID string, typ models.InteractionType, from, to time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT session_id)
		FROM interactions
		WHERE scope_id = $1
		  AND occurred_at BETWEEN $2 AND $3
		  AND session_id <> ''
		  AND event_type = $4
	`, scopeID, from, to, string(typ)).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count distinct sessions: %w", err)
	}
	return count, nil
}

// DailyVisitCounts groups page views (plus untagged legacy rows) per day.
func (s *PostgresEventStore) DailyVisitCounts(ctx context.Context, scopeID string, from, to time.Time) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(occurred_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		FROM interactions
		WHERE scope_id = $1
		  AND occurred_at BETWEEN $2 AND $3
		  AND (event_type = $4 OR event_type = '')
		GROUP BY day
	`, scopeID, from, to, string(models.InteractionPageView))
	if err != nil {
		return nil, fmt.Errorf("failed to group daily visits: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[day] = n
	}
	return counts, rows.Err()
}

// GroupBySource buckets interactions by traffic source.
func (s *PostgresEventStore) GroupBySource(ctx context.Context, scopeID string, from, to time.Time) ([]SourceGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+trafficSourceCase+` AS source,
			COUNT(DISTINCT visitor_id) FILTER (WHERE visitor_id <> '') AS visitors,
			COUNT(*) FILTER (WHERE event_type = $4) AS conversions,
			COALESCE(SUM(value) FILTER (WHERE event_type = $4), 0) AS revenue
		FROM interactions
		WHERE scope_id = $1
		  AND occurred_at BETWEEN $2 AND $3
		GROUP BY source
		ORDER BY visitors DESC, source ASC
	`, scopeID, from, to, string(models.InteractionPurchase))
	if err != nil {
		return nil, fmt.Errorf("failed to group by source: %w", err)
	}
	defer rows.Close()

	var groups []SourceGroup
	for rows.Next() {
		var g SourceGroup
		if err := rows.Scan(&g.Source, &g.Visitors, &g.Conversions, &g.Revenue); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GroupByLocation ranks purchase locations by purchase count.
func (s *PostgresEventStore) GroupByLocation(ctx context.Context, scopeID string, from, to time.Time, limit int) ([]LocationGroup, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, `
		SELECT city, country_code, COUNT(*) AS purchases, COALESCE(SUM(value), 0) AS revenue
		FROM interactions
		WHERE scope_id = $1
		  AND occurred_at BETWEEN $2 AND $3
		  AND event_type = $4
		  AND city <> ''
		GROUP BY city, country_code
		ORDER BY purchases DESC, revenue DESC
		LIMIT $5
	`, scopeID, from, to, string(models.InteractionPurchase), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to group by location: %w", err)
	}
	defer rows.Close()

	var groups []LocationGroup
	for rows.Next() {
		var g LocationGroup
		if err := rows.Scan(&g.City, &g.CountryCode, &g.Purchases, &g.Revenue); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// FindLastTouch returns the most recent tagged page view for the visitor
// or session, or nil when none exists.
func (s *PostgresEventStore) FindLastTouch(ctx context.Context, scopeID, visitorID, sessionID string) (*models.Interaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions
		WHERE scope_id = $1
		  AND ((visitor_id <> '' AND visitor_id = $2) OR (session_id <> '' AND session_id = $3))
		  AND (event_type = $4 OR event_type = '')
		  AND (utm_campaign <> '' OR utm_source <> '' OR gclid <> '' OR fbclid <> '' OR ttclid <> '' OR li_fat_id <> '')
		ORDER BY occurred_at DESC
		LIMIT 1
	`, scopeID, visitorID, sessionID, string(models.InteractionPageView))

	ev, err := scanInteraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find last touch: %w", err)
	}
	return ev, nil
}

// ListUnattributedPurchases returns up to limit purchases that carry no
// attributed campaign, oldest first.
func (s *PostgresEventStore) ListUnattributedPurchases(ctx context.Context, scopeID string, limit int) ([]*models.Interaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions
		WHERE scope_id = $1
		  AND event_type = $2
		  AND attributed_campaign_id = ''
		ORDER BY occurred_at ASC
		LIMIT $3
	`, scopeID, string(models.InteractionPurchase), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unattributed purchases: %w", err)
	}
	defer rows.Close()

	var events []*models.Interaction
	for rows.Next() {
		ev, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AttributedPurchaseTotals returns the count and value sum of purchases
// credited to a campaign.
func (s *PostgresEventStore) AttributedPurchaseTotals(ctx context.Context, campaignID string) (int64, float64, error) {
	var count int64
	var revenue float64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(value), 0)
		FROM interactions
		WHERE attributed_campaign_id = $1
		  AND event_type = $2
	`, campaignID, string(models.InteractionPurchase)).Scan(&count, &revenue)

	if err != nil {
		return 0, 0, fmt.Errorf("failed to total attributed purchases: %w", err)
	}
	return count, revenue, nil
}

// SetAttributedCampaign records attribution once. The conditional update is
// the concurrency guard; a row attributed by a racing resolver reports false.
func (s *PostgresEventStore) SetAttributedCampaign(ctx context.Context, eventID, campaignID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE interactions
		SET attributed_campaign_id = $2
		WHERE id = $1 AND attributed_campaign_id = ''
	`, eventID, campaignID)

	if err != nil {
		return false, fmt.Errorf("failed to set attribution: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func typeStrings(types []models.InteractionType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func scanInteraction(row pgx.Row) (*models.Interaction, error) {
	var ev models.Interaction
	var typ string
	err := row.Scan(&ev.ID, &ev.TenantID, &ev.ScopeID, &ev.VisitorID, &ev.SessionID, &typ, &ev.OccurredAt,
		&ev.Value, &ev.UTMSource, &ev.UTMMedium, &ev.UTMCampaign, &ev.GCLID, &ev.FBCLID, &ev.TTCLID,
		&ev.LIFatID, &ev.Referrer, &ev.ContentID, &ev.OrderID,
		&ev.Device.Type, &ev.Device.Browser, &ev.Device.OS,
		&ev.Geo.CountryCode, &ev.Geo.Region, &ev.Geo.City, &ev.Consent, &ev.AttributedCampaignID)
	if err != nil {
		return nil, err
	}
	ev.Type = models.InteractionType(typ)
	return &ev, nil
}
