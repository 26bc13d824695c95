package models

import (
	"errors"
	"time"
)

// ErrUnknownScope is returned for queries against a scope id that does not
// exist. Unlike store outages this is a hard validation error.
var ErrUnknownScope = errors.New("unknown scope")

// Scope is the marketing-measurable unit analytics are partitioned by:
// an event listing in the marketplace.
type Scope struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`

	StartsAt      *time.Time `json:"starts_at,omitempty"`
	Status        string     `json:"status,omitempty"`
	Capacity      int64      `json:"capacity,omitempty"`
	RevenueTarget float64    `json:"revenue_target,omitempty"`

	// HasRollups selects the aggregated query path. Scopes without rollups
	// always derive dashboard data from raw rows.
	HasRollups bool `json:"has_rollups"`

	CreatedAt time.Time `json:"created_at"`
}

// DaysUntilStart returns the countdown shown on the overview card, negative
// once the scope's event has started.
func (s *Scope) DaysUntilStart(now time.Time) int {
	if s.StartsAt == nil {
		return 0
	}
	return int(s.StartsAt.Sub(now).Hours() / 24)
}
