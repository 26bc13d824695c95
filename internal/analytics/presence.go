package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/metrics"
	"github.com/ticketlane/insights/internal/models"
)

const (
	// PresenceWindow is the sliding window a visitor stays "live" after
	// their last recorded interaction.
	PresenceWindow = 5 * time.Minute
	// GeoSnapshotTTL bounds how long a visitor's location survives without
	// a refresh.
	GeoSnapshotTTL = 5 * time.Minute
	// ActivityFeedCap bounds the recent-activity ring buffer.
	ActivityFeedCap = 20
	// ActivityFeedTTL expires an idle scope's feed.
	ActivityFeedTTL = 10 * time.Minute
)

// LiveVisitor is one member of the live-globe payload.
type LiveVisitor struct {
	VisitorID string             `json:"visitor_id"`
	Geo       models.GeoSnapshot `json:"geo"`
	LastSeen  time.Time          `json:"last_seen"`
}

// ActivityEntry is one formatted entry of the recent-activity feed.
type ActivityEntry struct {
	Action string    `json:"action"`
	City   string    `json:"city,omitempty"`
	At     time.Time `json:"at"`
}

// PresenceTracker maintains the ephemeral "who is on the page right now"
// state per scope. Strictly best-effort: store unavailability degrades to
// zero/empty results and never fails the caller, so no method returns an
// error.
type PresenceTracker interface {
	RecordPresence(ctx context.Context, scopeID, visitorID string, geo *models.GeoSnapshot, action string)
	LiveCount(ctx context.Context, scopeID string) int64
	LiveVisitors(ctx context.Context, scopeID string) []LiveVisitor
	RecentActivity(ctx context.Context, scopeID string) []ActivityEntry
}

func presenceKey(scopeID string) string {
	return fmt.Sprintf("insights:presence:%s", scopeID)
}

func presenceGeoKey(scopeID, visitorID string) string {
	return fmt.Sprintf("insights:presence:geo:%s:%s", scopeID, visitorID)
}

func activityKey(scopeID string) string {
	return fmt.Sprintf("insights:presence:feed:%s", scopeID)
}

// RedisPresenceTracker implements PresenceTracker on Redis. Last-seen times
// live as sorted-set scores; reads sweep members older than the window, so
// expiry works off the injected clock rather than per-member TTLs.
type RedisPresenceTracker struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRedisPresenceTracker creates a Redis-backed tracker on the real clock.
func NewRedisPresenceTracker(client *redis.Client, logger *zap.Logger, m *metrics.Metrics) *RedisPresenceTracker {
	return &RedisPresenceTracker{client: client, logger: logger, metrics: m, now: time.Now}
}

// NewRedisPresenceTrackerAt creates a tracker on the given clock.
func NewRedisPresenceTrackerAt(client *redis.Client, logger *zap.Logger, m *metrics.Metrics, now func() time.Time) *RedisPresenceTracker {
	return &RedisPresenceTracker{client: client, logger: logger, metrics: m, now: now}
}

// RecordPresence marks the visitor live now, refreshes their geo snapshot
// and appends to the activity feed.
func (t *RedisPresenceTracker) RecordPresence(ctx context.Context, scopeID, visitorID string, geo *models.GeoSnapshot, action string) {
	if scopeID == "" || visitorID == "" {
		return
	}
	now := t.now()

	pipe := t.client.Pipeline()
	pipe.ZAdd(ctx, presenceKey(scopeID), redis.Z{Score: float64(now.Unix()), Member: visitorID})
	pipe.Expire(ctx, presenceKey(scopeID), PresenceWindow+time.Minute)

	if geo != nil {
		if payload, err := json.Marshal(geo); err == nil {
			pipe.Set(ctx, presenceGeoKey(scopeID, visitorID), payload, GeoSnapshotTTL)
		}
	}

	if action != "" {
		entry := ActivityEntry{Action: action, At: now}
		if geo != nil {
			entry.City = geo.City
		}
		if payload, err := json.Marshal(entry); err == nil {
			pipe.LPush(ctx, activityKey(scopeID), payload)
			pipe.LTrim(ctx, activityKey(scopeID), 0, ActivityFeedCap-1)
			pipe.Expire(ctx, activityKey(scopeID), ActivityFeedTTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("presence write failed", zap.String("scope_id", scopeID), zap.Error(err))
		if t.metrics != nil {
			t.metrics.PresenceErrors.WithLabelValues("record").Inc()
		}
		return
	}
	if t.metrics != nil {
		t.metrics.PresenceWrites.WithLabelValues(action).Inc()
	}
}

// sweep drops members whose last-seen score fell out of the window.
func (t *RedisPresenceTracker) sweep(ctx context.Context, scopeID string) {
	cutoff := t.now().Add(-PresenceWindow).Unix()
	if err := t.client.ZRemRangeByScore(ctx, presenceKey(scopeID), "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		t.logger.Warn("presence sweep failed", zap.String("scope_id", scopeID), zap.Error(err))
	}
}

// LiveCount returns how many visitors were active within the window.
func (t *RedisPresenceTracker) LiveCount(ctx context.Context, scopeID string) int64 {
	t.sweep(ctx, scopeID)

	count, err := t.client.ZCard(ctx, presenceKey(scopeID)).Result()
	if err != nil {
		t.logger.Warn("presence count failed", zap.String("scope_id", scopeID), zap.Error(err))
		if t.metrics != nil {
			t.metrics.PresenceErrors.WithLabelValues("count").Inc()
		}
		return 0
	}
	if t.metrics != nil {
		t.metrics.LiveVisitors.WithLabelValues(scopeID).Set(float64(count))
	}
	return count
}

// LiveVisitors joins presence membership with stored geo snapshots. Members
// whose snapshot already expired are omitted.
func (t *RedisPresenceTracker) LiveVisitors(ctx context.Context, scopeID string) []LiveVisitor {
	t.sweep(ctx, scopeID)

	members, err := t.client.ZRangeWithScores(ctx, presenceKey(scopeID), 0, -1).Result()
	if err != nil {
		t.logger.Warn("presence range failed", zap.String("scope_id", scopeID), zap.Error(err))
		if t.metrics != nil {
			t.metrics.PresenceErrors.WithLabelValues("visitors").Inc()
		}
		return nil
	}

	visitors := make([]LiveVisitor, 0, len(members))
	for _, member := range members {
		visitorID, ok := member.Member.(string)
		if !ok {
			continue
		}
		payload, err := t.client.Get(ctx, presenceGeoKey(scopeID, visitorID)).Bytes()
		if err != nil {
			continue
		}
		var geo models.GeoSnapshot
		if err := json.Unmarshal(payload, &geo); err != nil {
			continue
		}
		visitors = append(visitors, LiveVisitor{
			VisitorID: visitorID,
			Geo:       geo,
			LastSeen:  time.Unix(int64(member.Score), 0).UTC(),
		})
	}
	return visitors
}

// RecentActivity returns the newest feed entries, newest first.
func (t *RedisPresenceTracker) RecentActivity(ctx context.Context, scopeID string) []ActivityEntry {
	raw, err := t.client.LRange(ctx, activityKey(scopeID), 0, ActivityFeedCap-1).Result()
	if err != nil {
		t.logger.Warn("activity read failed", zap.String("scope_id", scopeID), zap.Error(err))
		if t.metrics != nil {
			t.metrics.PresenceErrors.WithLabelValues("activity").Inc()
		}
		return nil
	}

	entries := make([]ActivityEntry, 0, len(raw))
	for _, item := range raw {
		var entry ActivityEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

type memoryPresence struct {
	lastSeen time.Time
	geo      *models.GeoSnapshot
}

// InMemoryPresenceTracker implements PresenceTracker without Redis, for
// development and tests.
type InMemoryPresenceTracker struct {
	mu       sync.Mutex
	presence map[string]map[string]memoryPresence
	feed     map[string][]ActivityEntry
	now      func() time.Time
}

// NewInMemoryPresenceTracker creates a tracker on the real clock.
func NewInMemoryPresenceTracker() *InMemoryPresenceTracker {
	return NewInMemoryPresenceTrackerAt(time.Now)
}

// NewInMemoryPresenceTrackerAt creates a tracker on the given clock.
func NewInMemoryPresenceTrackerAt(now func() time.Time) *InMemoryPresenceTracker {
	return &InMemoryPresenceTracker{
		presence: make(map[string]map[string]memoryPresence),
		feed:     make(map[string][]ActivityEntry),
		now:      now,
	}
}

func (t *InMemoryPresenceTracker) RecordPresence(ctx context.Context, scopeID, visitorID string, geo *models.GeoSnapshot, action string) {
	if scopeID == "" || visitorID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.presence[scopeID] == nil {
		t.presence[scopeID] = make(map[string]memoryPresence)
	}
	t.presence[scopeID][visitorID] = memoryPresence{lastSeen: t.now(), geo: geo}

	if action != "" {
		entry := ActivityEntry{Action: action, At: t.now()}
		if geo != nil {
			entry.City = geo.City
		}
		feed := append([]ActivityEntry{entry}, t.feed[scopeID]...)
		if len(feed) > ActivityFeedCap {
			feed = feed[:ActivityFeedCap]
		}
		t.feed[scopeID] = feed
	}
}

func (t *InMemoryPresenceTracker) live(scopeID string) []LiveVisitor {
	cutoff := t.now().Add(-PresenceWindow)
	var visitors []LiveVisitor
	for visitorID, p := range t.presence[scopeID] {
		if p.lastSeen.Before(cutoff) {
			delete(t.presence[scopeID], visitorID)
			continue
		}
		v := LiveVisitor{VisitorID: visitorID, LastSeen: p.lastSeen}
		if p.geo != nil {
			v.Geo = *p.geo
		}
		visitors = append(visitors, v)
	}
	sort.Slice(visitors, func(i, j int) bool { return visitors[i].VisitorID < visitors[j].VisitorID })
	return visitors
}

func (t *InMemoryPresenceTracker) LiveCount(ctx context.Context, scopeID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.live(scopeID)))
}

func (t *InMemoryPresenceTracker) LiveVisitors(ctx context.Context, scopeID string) []LiveVisitor {
	t.mu.Lock()
	defer t.mu.Unlock()

	var withGeo []LiveVisitor
	for _, v := range t.live(scopeID) {
		if v.Geo != (models.GeoSnapshot{}) {
			withGeo = append(withGeo, v)
		}
	}
	return withGeo
}

func (t *InMemoryPresenceTracker) RecentActivity(ctx context.Context, scopeID string) []ActivityEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ActivityEntry(nil), t.feed[scopeID]...)
}
