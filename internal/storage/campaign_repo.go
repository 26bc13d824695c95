package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ticketlane/insights/internal/models"
)

// InMemoryCampaignRepo stores campaigns in a map keyed by id. Intended for
// tests and development; production uses PostgresCampaignRepo.
type InMemoryCampaignRepo struct {
	mu        sync.RWMutex
	campaigns map[string]*models.Campaign
}

// NewInMemoryCampaignRepo creates a new empty in-memory campaign repo.
func NewInMemoryCampaignRepo() *InMemoryCampaignRepo {
	return &InMemoryCampaignRepo{campaigns: make(map[string]*models.Campaign)}
}

func (r *InMemoryCampaignRepo) Get(ctx context.Context, id string) (*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.campaigns[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryCampaignRepo) ListForScope(ctx context.Context, scopeID string) ([]*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Campaign
	for _, c := range r.campaigns {
		if c.ScopeID == scopeID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartDate.After(result[j].StartDate) })
	return result, nil
}

func (r *InMemoryCampaignRepo) ActiveForScope(ctx context.Context, scopeID string) ([]*models.Campaign, error) {
	all, err := r.ListForScope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, c := range all {
		if c.IsActive {
			active = append(active, c)
		}
	}
	return active, nil
}

func (r *InMemoryCampaignRepo) Upsert(ctx context.Context, c *models.Campaign) error {
	if c == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *InMemoryCampaignRepo) UpdateMetrics(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.campaigns[c.ID]
	if !ok {
		return nil
	}
	cur.Conversions = c.Conversions
	cur.AttributedRevenue = c.AttributedRevenue
	cur.CAC = c.CAC
	cur.ROI = c.ROI
	cur.ROAS = c.ROAS
	cur.BaselineValue = c.BaselineValue
	cur.PostValue = c.PostValue
	cur.ImpactMetric = c.ImpactMetric
	now := time.Now().UTC()
	cur.MetricsUpdatedAt = &now
	return nil
}
