package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ticketlane/insights/internal/models"
)

// InMemoryOrderRepo stores orders in a map keyed by id.
type InMemoryOrderRepo struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

// NewInMemoryOrderRepo creates a new empty in-memory order repo.
func NewInMemoryOrderRepo() *InMemoryOrderRepo {
	return &InMemoryOrderRepo{orders: make(map[string]*models.Order)}
}

func (r *InMemoryOrderRepo) Get(ctx context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryOrderRepo) Upsert(ctx context.Context, o *models.Order) error {
	if o == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *InMemoryOrderRepo) PaidTotals(ctx context.Context, scopeID string, from, to time.Time) (PaidTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var t PaidTotals
	for _, o := range r.orders {
		if o.ScopeID != scopeID || !o.IsPaid() {
			continue
		}
		paid := o.PaidTime()
		if paid.Before(from) || paid.After(to) {
			continue
		}
		t.Orders++
		t.Revenue += o.Total
		t.Tickets += o.Tickets
	}
	return t, nil
}

func (r *InMemoryOrderRepo) DailyPaidTotals(ctx context.Context, scopeID string, from, to time.Time) (map[string]PaidTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	days := make(map[string]PaidTotals)
	for _, o := range r.orders {
		if o.ScopeID != scopeID || !o.IsPaid() {
			continue
		}
		paid := o.PaidTime()
		if paid.Before(from) || paid.After(to) {
			continue
		}
		key := models.BucketDate(paid)
		t := days[key]
		t.Orders++
		t.Revenue += o.Total
		t.Tickets += o.Tickets
		days[key] = t
	}
	return days, nil
}

func (r *InMemoryOrderRepo) RecentPaid(ctx context.Context, scopeID string, limit int) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Order
	for _, o := range r.orders {
		if o.ScopeID == scopeID && o.IsPaid() {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PaidTime().After(result[j].PaidTime()) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// InMemoryScopeRepo stores scopes in a map keyed by id.
type InMemoryScopeRepo struct {
	mu     sync.RWMutex
	scopes map[string]*models.Scope
}

// NewInMemoryScopeRepo creates a new empty in-memory scope repo.
func NewInMemoryScopeRepo() *InMemoryScopeRepo {
	return &InMemoryScopeRepo{scopes: make(map[string]*models.Scope)}
}

func (r *InMemoryScopeRepo) Get(ctx context.Context, id string) (*models.Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.scopes[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryScopeRepo) Upsert(ctx context.Context, s *models.Scope) error {
	if s == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.scopes[s.ID] = &cp
	return nil
}
