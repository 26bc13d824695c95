package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketlane/insights/internal/models"
)

// PostgresCampaignRepo implements CampaignRepo using PostgreSQL.
type PostgresCampaignRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresCampaignRepo creates a new PostgreSQL-backed campaign repo.
func NewPostgresCampaignRepo(pool *pgxpool.Pool) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{pool: pool}
}

const campaignColumns = `
	id, scope_id, campaign_type, title, start_date, end_date,
	utm_campaign, utm_source, utm_medium, budget, currency, is_active,
	conversions, attributed_revenue, cac, roi, roas,
	baseline_value, post_value, impact_metric, metrics_updated_at,
	created_at, updated_at`

// Get retrieves a campaign by ID.
func (r *PostgresCampaignRepo) Get(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns WHERE id = $1
	`, id)

	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// ListForScope returns all campaigns for a scope, newest start first.
func (r *PostgresCampaignRepo) ListForScope(ctx context.Context, scopeID string) ([]*models.Campaign, error) {
	return r.list(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns WHERE scope_id = $1
		ORDER BY start_date DESC, created_at DESC
	`, scopeID)
}

// ActiveForScope returns active campaigns only.
func (r *PostgresCampaignRepo) ActiveForScope(ctx context.Context, scopeID string) ([]*models.Campaign, error) {
	return r.list(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns WHERE scope_id = $1 AND is_active
		ORDER BY start_date DESC, created_at DESC
	`, scopeID)
}

func (r *PostgresCampaignRepo) list(ctx context.Context, query string, args ...any) ([]*models.Campaign, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Upsert writes the full campaign definition.
func (r *PostgresCampaignRepo) Upsert(ctx context.Context, c *models.Campaign) error {
	if c == nil {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			campaign_type = EXCLUDED.campaign_type,
			title = EXCLUDED.title,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			utm_campaign = EXCLUDED.utm_campaign,
			utm_source = EXCLUDED.utm_source,
			utm_medium = EXCLUDED.utm_medium,
			budget = EXCLUDED.budget,
			currency = EXCLUDED.currency,
			is_active = EXCLUDED.is_active,
			updated_at = now()
	`, c.ID, c.ScopeID, string(c.Type), c.Title, c.StartDate, c.EndDate,
		c.Filters.Campaign, c.Filters.Source, c.Filters.Medium, c.Budget, c.Currency, c.IsActive,
		c.Conversions, c.AttributedRevenue, c.CAC, c.ROI, c.ROAS,
		c.BaselineValue, c.PostValue, c.ImpactMetric, c.MetricsUpdatedAt,
		c.CreatedAt, c.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert campaign: %w", err)
	}
	return nil
}

// UpdateMetrics persists only the derived metrics block.
func (r *PostgresCampaignRepo) UpdateMetrics(ctx context.Context, c *models.Campaign) error {
	if c == nil {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET
			conversions = $2,
			attributed_revenue = $3,
			cac = $4,
			roi = $5,
			roas = $6,
			baseline_value = $7,
			post_value = $8,
			impact_metric = $9,
			metrics_updated_at = now()
		WHERE id = $1
	`, c.ID, c.Conversions, c.AttributedRevenue, c.CAC, c.ROI, c.ROAS,
		c.BaselineValue, c.PostValue, c.ImpactMetric)

	if err != nil {
		return fmt.Errorf("failed to update campaign metrics: %w", err)
	}
	return nil
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	var typ string
	err := row.Scan(&c.ID, &c.ScopeID, &typ, &c.Title, &c.StartDate, &c.EndDate,
		&c.Filters.Campaign, &c.Filters.Source, &c.Filters.Medium, &c.Budget, &c.Currency, &c.IsActive,
		&c.Conversions, &c.AttributedRevenue, &c.CAC, &c.ROI, &c.ROAS,
		&c.BaselineValue, &c.PostValue, &c.ImpactMetric, &c.MetricsUpdatedAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = models.CampaignType(typ)
	return &c, nil
}
