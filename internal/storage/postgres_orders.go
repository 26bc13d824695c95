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

// PostgresOrderRepo implements OrderRepo using PostgreSQL.
type PostgresOrderRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresOrderRepo creates a new PostgreSQL-backed order repo.
func NewPostgresOrderRepo(pool *pgxpool.Pool) *PostgresOrderRepo {
	return &PostgresOrderRepo{pool: pool}
}

const orderColumns = `
	id, tenant_id, scope_id, visitor_id, session_id, status, total, tickets,
	utm_source, utm_medium, utm_campaign, gclid, fbclid, ttclid,
	country_code, buyer_name, created_at, paid_at`

// paidStatuses are the order states that count toward revenue.
var paidStatuses = []string{
	string(models.OrderPaid),
	string(models.OrderConfirmed),
	string(models.OrderCompleted),
}

// Get retrieves an order by ID.
func (r *PostgresOrderRepo) Get(ctx context.Context, id string) (*models.Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE id = $1
	`, id)

	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// Upsert writes the order snapshot received from the lifecycle boundary.
func (r *PostgresOrderRepo) Upsert(ctx context.Context, o *models.Order) error {
	if o == nil {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			tickets = EXCLUDED.tickets,
			paid_at = EXCLUDED.paid_at
	`, o.ID, o.TenantID, o.ScopeID, o.VisitorID, o.SessionID, string(o.Status), o.Total, o.Tickets,
		o.UTMSource, o.UTMMedium, o.UTMCampaign, o.GCLID, o.FBCLID, o.TTCLID,
		o.CountryCode, o.BuyerName, o.CreatedAt, o.PaidAt)

	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// PaidTotals sums paid orders whose paid time falls in [from, to].
func (r *PostgresOrderRepo) PaidTotals(ctx context.Context, scopeID string, from, to time.Time) (PaidTotals, error) {
	var t PaidTotals
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total), 0), COALESCE(SUM(tickets), 0)
		FROM orders
		WHERE scope_id = $1
		  AND status = ANY($2)
		  AND COALESCE(paid_at, created_at) BETWEEN $3 AND $4
	`, scopeID, paidStatuses, from, to).Scan(&t.Orders, &t.Revenue, &t.Tickets)

	if err != nil {
		return PaidTotals{}, fmt.Errorf("failed to total paid orders: %w", err)
	}
	return t, nil
}

// DailyPaidTotals groups paid orders per calendar day.
func (r *PostgresOrderRepo) DailyPaidTotals(ctx context.Context, scopeID string, from, to time.Time) (map[string]PaidTotals, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(COALESCE(paid_at, created_at) AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COUNT(*), COALESCE(SUM(total), 0), COALESCE(SUM(tickets), 0)
		FROM orders
		WHERE scope_id = $1
		  AND status = ANY($2)
		  AND COALESCE(paid_at, created_at) BETWEEN $3 AND $4
		GROUP BY day
	`, scopeID, paidStatuses, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to group daily paid orders: %w", err)
	}
	defer rows.Close()

	days := make(map[string]PaidTotals)
	for rows.Next() {
		var day string
		var t PaidTotals
		if err := rows.Scan(&day, &t.Orders, &t.Revenue, &t.Tickets); err != nil {
			return nil, err
		}
		days[day] = t
	}
	return days, rows.Err()
}

// RecentPaid returns the newest paid orders, newest first.
func (r *PostgresOrderRepo) RecentPaid(ctx context.Context, scopeID string, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE scope_id = $1 AND status = ANY($2)
		ORDER BY COALESCE(paid_at, created_at) DESC
		LIMIT $3
	`, scopeID, paidStatuses, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent paid orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var status string
	err := row.Scan(&o.ID, &o.TenantID, &o.ScopeID, &o.VisitorID, &o.SessionID, &status, &o.Total, &o.Tickets,
		&o.UTMSource, &o.UTMMedium, &o.UTMCampaign, &o.GCLID, &o.FBCLID, &o.TTCLID,
		&o.CountryCode, &o.BuyerName, &o.CreatedAt, &o.PaidAt)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	return &o, nil
}

// PostgresScopeRepo implements ScopeRepo using PostgreSQL.
type PostgresScopeRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresScopeRepo creates a new PostgreSQL-backed scope repo.
func NewPostgresScopeRepo(pool *pgxpool.Pool) *PostgresScopeRepo {
	return &PostgresScopeRepo{pool: pool}
}

// Get retrieves a scope by ID.
func (r *PostgresScopeRepo) Get(ctx context.Context, id string) (*models.Scope, error) {
	var s models.Scope
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, starts_at, status, capacity, revenue_target, has_rollups, created_at
		FROM scopes WHERE id = $1
	`, id).Scan(&s.ID, &s.TenantID, &s.Name, &s.StartsAt, &s.Status, &s.Capacity, &s.RevenueTarget, &s.HasRollups, &s.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	return &s, nil
}

// Upsert writes the scope snapshot.
func (r *PostgresScopeRepo) Upsert(ctx context.Context, s *models.Scope) error {
	if s == nil {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO scopes (id, tenant_id, name, starts_at, status, capacity, revenue_target, has_rollups, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			starts_at = EXCLUDED.starts_at,
			status = EXCLUDED.status,
			capacity = EXCLUDED.capacity,
			revenue_target = EXCLUDED.revenue_target,
			has_rollups = EXCLUDED.has_rollups
	`, s.ID, s.TenantID, s.Name, s.StartsAt, s.Status, s.Capacity, s.RevenueTarget, s.HasRollups, s.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert scope: %w", err)
	}
	return nil
}
