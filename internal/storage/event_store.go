package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ticketlane/insights/internal/models"
)

// InMemoryEventStore provides in-memory storage for raw interactions.
// Intended for tests and single-node development; production deployments
// use the Postgres or ClickHouse implementations.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*models.Interaction

	// Insertion order per scope, for deterministic range scans.
	byScope map[string][]string
}

// NewInMemoryEventStore creates an empty in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events:  make(map[string]*models.Interaction),
		byScope: make(map[string][]string),
	}
}

func (s *InMemoryEventStore) Insert(ctx context.Context, ev *models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ev
	s.events[ev.ID] = &cp
	s.byScope[ev.ScopeID] = append(s.byScope[ev.ScopeID], ev.ID)
	return nil
}

func (s *InMemoryEventStore) Get(ctx context.Context, id string) (*models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

// scan walks a scope's events in insertion order.
func (s *InMemoryEventStore) scan(scopeID string, fn func(ev *models.Interaction)) {
	for _, id := range s.byScope[scopeID] {
		if ev, ok := s.events[id]; ok {
			fn(ev)
		}
	}
}

func matchesType(ev *models.Interaction, types []models.InteractionType, includeUntagged bool) bool {
	if includeUntagged && ev.Type == "" {
		return true
	}
	for _, t := range types {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func inRange(ev *models.Interaction, from, to time.Time) bool {
	return !ev.OccurredAt.Before(from) && !ev.OccurredAt.After(to)
}

func (s *InMemoryEventStore) CountByType(ctx context.Context, scopeID string, types []models.InteractionType, from, to time.Time, includeUntagged bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	s.scan(scopeID, func(ev *models.Interaction) {
		if matchesType(ev, types, includeUntagged) && inRange(ev, from, to) {
			count++
		}
	})
	return count, nil
}

func (s *InMemoryEventStore) DistinctVisitors(ctx context.Context, scopeID string, types []models.InteractionType, from, to time.Time, includeUntagged bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	s.scan(scopeID, func(ev *models.Interaction) {
		if matchesType(ev, types, includeUntagged) && inRange(ev, from, to) && ev.VisitorID != "" {
			seen[ev.VisitorID] = true
		}
	})
	return int64(len(seen)), nil
}

func (s *InMemoryEventStore) DistinctSessions(ctx context.Context, scopeID string, typ models.InteractionType, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	s.scan(scopeID, func(ev *models.Interaction) {
		if ev.Type == typ && inRange(ev, from, to) && ev.SessionID != "" {
			seen[ev.SessionID] = true
		}
	})
	return int64(len(seen)), nil
}

func (s *InMemoryEventStore) DailyVisitCounts(ctx context.Context, scopeID string, from, to time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	s.scan(scopeID, func(ev *models.Interaction) {
		if ev.IsPageView() && inRange(ev, from, to) {
			counts[models.BucketDate(ev.OccurredAt)]++
		}
	})
	return counts, nil
}

func (s *InMemoryEventStore) GroupBySource(ctx context.Context, scopeID string, from, to time.Time) ([]SourceGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		visitors    map[string]bool
		conversions int64
		revenue     float64
	}
	groups := make(map[string]*agg)

	s.scan(scopeID, func(ev *models.Interaction) {
		if !inRange(ev, from, to) {
			return
		}
		src := ev.TrafficSource()
		g, ok := groups[src]
		if !ok {
			g = &agg{visitors: make(map[string]bool)}
			groups[src] = g
		}
		if ev.VisitorID != "" {
			g.visitors[ev.VisitorID] = true
		}
		if ev.Type == models.InteractionPurchase {
			g.conversions++
			g.revenue += ev.Value
		}
	})

	result := make([]SourceGroup, 0, len(groups))
	for src, g := range groups {
		result = append(result, SourceGroup{
			Source:      src,
			Visitors:    int64(len(g.visitors)),
			Conversions: g.conversions,
			Revenue:     g.revenue,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Visitors != result[j].Visitors {
			return result[i].Visitors > result[j].Visitors
		}
		return result[i].Source < result[j].Source
	})
	return result, nil
}

func (s *InMemoryEventStore) GroupByLocation(ctx context.Context, scopeID string, from, to time.Time, limit int) ([]LocationGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ city, country string }
	type agg struct {
		purchases int64
		revenue   float64
	}
	groups := make(map[key]*agg)

	s.scan(scopeID, func(ev *models.Interaction) {
		if ev.Type != models.InteractionPurchase || !inRange(ev, from, to) || ev.Geo.City == "" {
			return
		}
		k := key{ev.Geo.City, ev.Geo.CountryCode}
		g, ok := groups[k]
		if !ok {
			g = &agg{}
			groups[k] = g
		}
		g.purchases++
		g.revenue += ev.Value
	})

	result := make([]LocationGroup, 0, len(groups))
	for k, g := range groups {
		result = append(result, LocationGroup{
			City:        k.city,
			CountryCode: k.country,
			Purchases:   g.purchases,
			Revenue:     g.revenue,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Purchases != result[j].Purchases {
			return result[i].Purchases > result[j].Purchases
		}
		return result[i].City < result[j].City
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *InMemoryEventStore) FindLastTouch(ctx context.Context, scopeID, visitorID, sessionID string) (*models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Interaction
	s.scan(scopeID, func(ev *models.Interaction) {
		if !ev.IsPageView() {
			return
		}
		if visitorID != "" && ev.VisitorID != visitorID && (sessionID == "" || ev.SessionID != sessionID) {
			return
		}
		if visitorID == "" && (sessionID == "" || ev.SessionID != sessionID) {
			return
		}
		if ev.UTMCampaign == "" && ev.UTMSource == "" && ev.ClickIDPlatform() == "" {
			return
		}
		if best == nil || ev.OccurredAt.After(best.OccurredAt) {
			best = ev
		}
	})
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *InMemoryEventStore) ListUnattributedPurchases(ctx context.Context, scopeID string, limit int) ([]*models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Interaction
	s.scan(scopeID, func(ev *models.Interaction) {
		if ev.Type == models.InteractionPurchase && ev.AttributedCampaignID == "" {
			cp := *ev
			result = append(result, &cp)
		}
	})
	sort.Slice(result, func(i, j int) bool { return result[i].OccurredAt.Before(result[j].OccurredAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *InMemoryEventStore) AttributedPurchaseTotals(ctx context.Context, campaignID string) (int64, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	var revenue float64
	for _, ev := range s.events {
		if ev.Type == models.InteractionPurchase && ev.AttributedCampaignID == campaignID {
			count++
			revenue += ev.Value
		}
	}
	return count, revenue, nil
}

func (s *InMemoryEventStore) SetAttributedCampaign(ctx context.Context, eventID, campaignID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok || ev.AttributedCampaignID != "" {
		return false, nil
	}
	ev.AttributedCampaignID = campaignID
	return true, nil
}
