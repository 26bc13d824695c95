package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/metrics"
	"github.com/ticketlane/insights/internal/models"
	"github.com/ticketlane/insights/internal/storage"
)

// DefaultAttributionWindows is how long after its start an open-ended
// campaign keeps collecting credit, per campaign type. Overridable via
// config.
var DefaultAttributionWindows = map[models.CampaignType]time.Duration{
	models.CampaignGoogleAds:    7 * 24 * time.Hour,
	models.CampaignFacebookAds:  7 * 24 * time.Hour,
	models.CampaignTikTokAds:    7 * 24 * time.Hour,
	models.CampaignLinkedInAds:  7 * 24 * time.Hour,
	models.CampaignEmail:        3 * 24 * time.Hour,
	models.CampaignAnnouncement: 7 * 24 * time.Hour,
	models.CampaignPriceChange:  7 * 24 * time.Hour,
}

// impactWindow is the span of the baseline and post windows compared by
// CalculateImpact.
const impactWindow = 7 * 24 * time.Hour

// Resolver credits completed purchases to marketing campaigns using a
// priority-ordered, time-windowed last-touch model.
type Resolver struct {
	events    storage.EventStore
	campaigns storage.CampaignRepo
	orders    storage.OrderRepo
	logger    *zap.Logger
	metrics   *metrics.Metrics
	windows   map[models.CampaignType]time.Duration
}

// NewResolver constructs a Resolver. A nil windows map uses
// DefaultAttributionWindows.
func NewResolver(events storage.EventStore, campaigns storage.CampaignRepo, orders storage.OrderRepo, logger *zap.Logger, m *metrics.Metrics, windows map[models.CampaignType]time.Duration) *Resolver {
	if windows == nil {
		windows = DefaultAttributionWindows
	}
	return &Resolver{events: events, campaigns: campaigns, orders: orders, logger: logger, metrics: m, windows: windows}
}

func (r *Resolver) window(t models.CampaignType) time.Duration {
	if w, ok := r.windows[t]; ok {
		return w
	}
	return 7 * 24 * time.Hour
}

// AttributePurchase finds the best-matching active campaign for a purchase
// and records the link. Re-invocation on an already-attributed event is a
// no-op returning the recorded campaign. No match is a legitimate terminal
// state, not an error: the event stays unattributed until a backfill sweep.
func (r *Resolver) AttributePurchase(ctx context.Context, ev *models.Interaction) (*models.Campaign, error) {
	if ev == nil || ev.Type != models.InteractionPurchase {
		return nil, nil
	}
	if ev.AttributedCampaignID != "" {
		return r.campaigns.Get(ctx, ev.AttributedCampaignID)
	}

	active, err := r.campaigns.ActiveForScope(ctx, ev.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}
	if len(active) == 0 {
		r.recordMiss("no_active_campaigns")
		return nil, nil
	}

	signal, err := r.marketingSignal(ctx, ev)
	if err != nil {
		return nil, err
	}

	match, tier := r.findMatch(active, signal, ev.OccurredAt)
	if match == nil {
		r.recordMiss("no_match")
		return nil, nil
	}

	won, err := r.events.SetAttributedCampaign(ctx, ev.ID, match.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record attribution: %w", err)
	}
	if !won {
		// A concurrent resolver attributed this event first; its metrics
		// recompute already covered the row.
		current, err := r.events.Get(ctx, ev.ID)
		if err != nil || current == nil || current.AttributedCampaignID == "" {
			return nil, err
		}
		ev.AttributedCampaignID = current.AttributedCampaignID
		return r.campaigns.Get(ctx, current.AttributedCampaignID)
	}
	ev.AttributedCampaignID = match.ID

	if err := r.RecomputeMetrics(ctx, match); err != nil {
		r.logger.Error("campaign metrics recompute failed",
			zap.String("campaign_id", match.ID),
			zap.Error(err),
		)
	}

	if r.metrics != nil {
		r.metrics.RecordAttribution(string(match.Type), tier, ev.Value)
	}
	r.logger.Info("purchase attributed",
		zap.String("event_id", ev.ID),
		zap.String("campaign_id", match.ID),
		zap.String("tier", tier),
		zap.Float64("value", ev.Value),
	)
	return match, nil
}

// marketingSignal returns the interaction whose marketing fields the match
// runs against: the purchase itself when it carries any, otherwise the
// visitor's most recent tagged page view.
func (r *Resolver) marketingSignal(ctx context.Context, ev *models.Interaction) (*models.Interaction, error) {
	if hasMarketingParams(ev) {
		return ev, nil
	}
	touch, err := r.events.FindLastTouch(ctx, ev.ScopeID, ev.VisitorID, ev.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find last touch: %w", err)
	}
	if touch != nil {
		return touch, nil
	}
	return ev, nil
}

func hasMarketingParams(ev *models.Interaction) bool {
	return ev.UTMCampaign != "" || ev.UTMSource != "" || ev.UTMMedium != "" ||
		ev.GCLID != "" || ev.FBCLID != "" || ev.TTCLID != "" || ev.LIFatID != ""
}

// findMatch evaluates campaigns in strict priority order. Every tier is
// gated by the attribution window; the first match wins.
func (r *Resolver) findMatch(campaigns []*models.Campaign, signal *models.Interaction, at time.Time) (*models.Campaign, string) {
	eligible := make([]*models.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if c.IsActive && c.WithinWindow(at, r.window(c.Type)) {
			eligible = append(eligible, c)
		}
	}

	// Tier 1: exact utm_campaign name.
	for _, c := range eligible {
		if c.MatchesUTMCampaign(signal.UTMCampaign) {
			return c, "utm_campaign"
		}
	}
	// Tier 2: ad click id matching the campaign's platform.
	if platform := signal.ClickIDPlatform(); platform != "" {
		for _, c := range eligible {
			if c.AdPlatform() == platform {
				return c, "click_id"
			}
		}
	}
	// Tier 3: utm_source.
	for _, c := range eligible {
		if c.MatchesUTMSource(signal.UTMSource) {
			return c, "utm_source"
		}
	}
	// Tier 4: email medium heuristic.
	if strings.EqualFold(signal.UTMMedium, "email") || strings.EqualFold(signal.UTMSource, "email") {
		for _, c := range eligible {
			if c.Type == models.CampaignEmail {
				return c, "email_heuristic"
			}
		}
	}
	return nil, ""
}

func (r *Resolver) recordMiss(reason string) {
	if r.metrics != nil {
		r.metrics.RecordAttributionMiss(reason)
	}
}

// RecomputeMetrics rebuilds the campaign's derived metrics wholesale from
// attributed purchase rows. Never incremental, so re-running after any
// attribution state is correct by construction.
func (r *Resolver) RecomputeMetrics(ctx context.Context, c *models.Campaign) error {
	conversions, revenue, err := r.events.AttributedPurchaseTotals(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to total attributed purchases: %w", err)
	}

	c.Conversions = conversions
	c.AttributedRevenue = revenue
	c.CAC, c.ROI, c.ROAS = nil, nil, nil

	if c.HasBudget() {
		if conversions > 0 {
			cac := round2(c.Budget / float64(conversions))
			c.CAC = &cac
		}
		roi := round2((revenue - c.Budget) / c.Budget * 100)
		roas := round2(revenue / c.Budget)
		c.ROI = &roi
		c.ROAS = &roas
	}

	if err := r.campaigns.UpdateMetrics(ctx, c); err != nil {
		return fmt.Errorf("failed to persist campaign metrics: %w", err)
	}
	if r.metrics != nil {
		r.metrics.MetricRecomputes.WithLabelValues(string(c.Type)).Inc()
	}
	return nil
}

// Impact is the before/after comparison computed for non-ad campaigns.
type Impact struct {
	Metric    string  `json:"metric"`
	Baseline  float64 `json:"baseline"`
	Post      float64 `json:"post"`
	ChangePct float64 `json:"change_pct"`
	Headline  string  `json:"headline"`
}

var impactLabels = map[string]string{
	"traffic": "Traffic",
	"sales":   "Sales",
	"revenue": "Revenue",
}

// CalculateImpact compares the 7 days before a non-ad campaign's start with
// the 7 days after, across traffic, sales and revenue. The metric with the
// largest relative change becomes the headline; ties resolve traffic first,
// then sales, then revenue.
func (r *Resolver) CalculateImpact(ctx context.Context, c *models.Campaign) (*Impact, error) {
	if c.IsAd() {
		return nil, nil
	}

	baseFrom := c.StartDate.Add(-impactWindow)
	baseTo := c.StartDate.Add(-time.Nanosecond)
	postFrom := c.StartDate
	postTo := c.StartDate.Add(impactWindow)

	pageViews := []models.InteractionType{models.InteractionPageView}
	baseTraffic, err := r.events.DistinctVisitors(ctx, c.ScopeID, pageViews, baseFrom, baseTo, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count baseline traffic: %w", err)
	}
	postTraffic, err := r.events.DistinctVisitors(ctx, c.ScopeID, pageViews, postFrom, postTo, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count post traffic: %w", err)
	}

	baseOrders, err := r.orders.PaidTotals(ctx, c.ScopeID, baseFrom, baseTo)
	if err != nil {
		return nil, fmt.Errorf("failed to total baseline orders: %w", err)
	}
	postOrders, err := r.orders.PaidTotals(ctx, c.ScopeID, postFrom, postTo)
	if err != nil {
		return nil, fmt.Errorf("failed to total post orders: %w", err)
	}

	candidates := []Impact{
		{Metric: "traffic", Baseline: float64(baseTraffic), Post: float64(postTraffic)},
		{Metric: "sales", Baseline: float64(baseOrders.Orders), Post: float64(postOrders.Orders)},
		{Metric: "revenue", Baseline: baseOrders.Revenue, Post: postOrders.Revenue},
	}

	best := candidates[0]
	best.ChangePct = relativeChange(best.Baseline, best.Post)
	for _, cand := range candidates[1:] {
		cand.ChangePct = relativeChange(cand.Baseline, cand.Post)
		if cand.ChangePct > best.ChangePct {
			best = cand
		}
	}
	best.Headline = fmt.Sprintf("%s %+0.1f%%", impactLabels[best.Metric], best.ChangePct)

	c.BaselineValue = best.Baseline
	c.PostValue = best.Post
	c.ImpactMetric = best.Headline
	if err := r.campaigns.UpdateMetrics(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist campaign impact: %w", err)
	}
	return &best, nil
}

// relativeChange returns the percentage change from base to post, 100 when
// base is zero and post is not, 0 when both are zero.
func relativeChange(base, post float64) float64 {
	if base == 0 {
		if post > 0 {
			return 100
		}
		return 0
	}
	return round2((post - base) / base * 100)
}

// BackfillResult reports per-item outcomes of a backfill sweep.
type BackfillResult struct {
	Processed  int `json:"processed"`
	Attributed int `json:"attributed"`
	Unmatched  int `json:"unmatched"`
	Failed     int `json:"failed"`
}

// AttributeUnattributedPurchases sweeps up to limit unattributed purchase
// rows for a scope. Idempotent: attributed rows are never selected again
// and re-running converges to zero work.
func (r *Resolver) AttributeUnattributedPurchases(ctx context.Context, scopeID string, limit int) (BackfillResult, error) {
	var res BackfillResult

	purchases, err := r.events.ListUnattributedPurchases(ctx, scopeID, limit)
	if err != nil {
		return res, fmt.Errorf("failed to list unattributed purchases: %w", err)
	}

	for _, ev := range purchases {
		res.Processed++
		match, err := r.AttributePurchase(ctx, ev)
		switch {
		case err != nil:
			res.Failed++
			r.logger.Error("backfill attribution failed", zap.String("event_id", ev.ID), zap.Error(err))
		case match != nil:
			res.Attributed++
		default:
			res.Unmatched++
		}
		if r.metrics != nil {
			status := "unmatched"
			if err != nil {
				status = "failed"
			} else if match != nil {
				status = "attributed"
			}
			r.metrics.BackfillProcessed.WithLabelValues(status).Inc()
		}
	}

	r.logger.Info("attribution backfill complete",
		zap.String("scope_id", scopeID),
		zap.Int("processed", res.Processed),
		zap.Int("attributed", res.Attributed),
		zap.Int("unmatched", res.Unmatched),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// CompareCampaigns returns the scope's campaigns ordered best ROI first.
// Campaigns without a computed ROI sort last, by revenue.
func (r *Resolver) CompareCampaigns(ctx context.Context, scopeID string) ([]*models.Campaign, error) {
	campaigns, err := r.campaigns.ListForScope(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	sort.SliceStable(campaigns, func(i, j int) bool {
		a, b := campaigns[i], campaigns[j]
		switch {
		case a.ROI != nil && b.ROI != nil:
			return *a.ROI > *b.ROI
		case a.ROI != nil:
			return true
		case b.ROI != nil:
			return false
		default:
			return a.AttributedRevenue > b.AttributedRevenue
		}
	})
	return campaigns, nil
}

// SpendSummary aggregates paid-campaign efficiency across a scope.
type SpendSummary struct {
	TotalSpend        float64  `json:"total_spend"`
	AttributedRevenue float64  `json:"attributed_revenue"`
	BlendedROI        *float64 `json:"blended_roi,omitempty"`
}

// SpendSummary totals ad budgets against attributed revenue. BlendedROI is
// nil when no campaign carries a budget.
func (r *Resolver) SpendSummary(ctx context.Context, scopeID string) (SpendSummary, error) {
	var s SpendSummary

	campaigns, err := r.campaigns.ListForScope(ctx, scopeID)
	if err != nil {
		return s, fmt.Errorf("failed to list campaigns: %w", err)
	}
	for _, c := range campaigns {
		if c.IsAd() {
			s.TotalSpend += c.Budget
		}
		s.AttributedRevenue += c.AttributedRevenue
	}
	if s.TotalSpend > 0 {
		roi := round2((s.AttributedRevenue - s.TotalSpend) / s.TotalSpend * 100)
		s.BlendedROI = &roi
	}
	return s, nil
}

// BudgetSuggestion is one row of the reallocation proposal.
type BudgetSuggestion struct {
	CampaignID      string  `json:"campaign_id"`
	Title           string  `json:"title"`
	CurrentBudget   float64 `json:"current_budget"`
	SuggestedBudget float64 `json:"suggested_budget"`
}

// SuggestBudgetAllocation redistributes the current total ad budget across
// ad campaigns in proportion to revenue multiple (ROI + 100, floored at
// zero). Campaigns losing money shrink toward zero; without any computed
// ROI the proposal keeps budgets as they are.
func (r *Resolver) SuggestBudgetAllocation(ctx context.Context, scopeID string) ([]BudgetSuggestion, error) {
	campaigns, err := r.campaigns.ListForScope(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	var ads []*models.Campaign
	var totalBudget, totalWeight float64
	for _, c := range campaigns {
		if !c.IsAd() || !c.HasBudget() {
			continue
		}
		ads = append(ads, c)
		totalBudget += c.Budget
		if c.ROI != nil {
			if w := *c.ROI + 100; w > 0 {
				totalWeight += w
			}
		}
	}
	if len(ads) == 0 {
		return nil, nil
	}

	suggestions := make([]BudgetSuggestion, 0, len(ads))
	for _, c := range ads {
		suggested := c.Budget
		if totalWeight > 0 {
			var w float64
			if c.ROI != nil && *c.ROI+100 > 0 {
				w = *c.ROI + 100
			}
			suggested = round2(totalBudget * w / totalWeight)
		}
		suggestions = append(suggestions, BudgetSuggestion{
			CampaignID:      c.ID,
			Title:           c.Title,
			CurrentBudget:   c.Budget,
			SuggestedBudget: suggested,
		})
	}
	return suggestions, nil
}
