package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/metrics"
	"github.com/ticketlane/insights/internal/models"
	"github.com/ticketlane/insights/internal/storage"
)

// Chart granularities accepted by the dashboard boundary.
const (
	GranularityDaily   = "daily"
	GranularityWeekly  = "weekly"
	GranularityMonthly = "monthly"
)

// OverviewStats is the dashboard headline card.
type OverviewStats struct {
	ScopeID        string    `json:"scope_id"`
	Range          DateRange `json:"range"`
	Revenue        float64   `json:"revenue"`
	Orders         int64     `json:"orders"`
	TicketsSold    int64     `json:"tickets_sold"`
	PageViews      int64     `json:"page_views"`
	UniqueVisitors int64     `json:"unique_visitors"`
	ConversionRate float64   `json:"conversion_rate"`
	AvgOrderValue  float64   `json:"avg_order_value"`

	PreviousRevenue  float64 `json:"previous_revenue"`
	RevenueChangePct float64 `json:"revenue_change_pct"`

	DaysUntilStart int    `json:"days_until_start"`
	Status         string `json:"status,omitempty"`
	LiveVisitors   int64  `json:"live_visitors"`
}

// ChartPoint is one time-series row. Date is the period start.
type ChartPoint struct {
	Date    string  `json:"date"`
	Views   float64 `json:"views"`
	Orders  float64 `json:"orders"`
	Revenue float64 `json:"revenue"`
}

// HourlyPoint is one row of the today-hourly chart.
type HourlyPoint struct {
	Hour      int     `json:"hour"`
	Views     float64 `json:"views"`
	Purchases float64 `json:"purchases"`
	Revenue   float64 `json:"revenue"`
}

// FunnelStage is one step of the purchase funnel, counted by distinct
// session. Rate is the conversion from the previous stage.
type FunnelStage struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	Rate  float64 `json:"rate"`
}

// FunnelMetrics is the ordered purchase funnel plus its headline rates.
type FunnelMetrics struct {
	Stages                 []FunnelStage `json:"stages"`
	ViewToCartRate         float64       `json:"view_to_cart_rate"`
	CartToCheckoutRate     float64       `json:"cart_to_checkout_rate"`
	CheckoutToPurchaseRate float64       `json:"checkout_to_purchase_rate"`
	OverallConversionRate  float64       `json:"overall_conversion_rate"`
}

// TrafficSourceRow is one row of the source breakdown.
type TrafficSourceRow struct {
	Source      string  `json:"source"`
	Visitors    int64   `json:"visitors"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	Icon        string  `json:"icon"`
	Color       string  `json:"color"`
}

// LocationRow is one row of the top-locations report.
type LocationRow struct {
	City        string  `json:"city"`
	CountryCode string  `json:"country_code"`
	Flag        string  `json:"flag"`
	Purchases   int64   `json:"purchases"`
	Revenue     float64 `json:"revenue"`
}

// PeriodMetrics is one side of a period comparison.
type PeriodMetrics struct {
	Range       DateRange `json:"range"`
	Visitors    int64     `json:"visitors"`
	PageViews   int64     `json:"page_views"`
	Orders      int64     `json:"orders"`
	TicketsSold int64     `json:"tickets_sold"`
	Revenue     float64   `json:"revenue"`
}

// PeriodComparison is the current window against the immediately preceding
// equal-length window. Deltas are 0 when the baseline is 0.
type PeriodComparison struct {
	Current  PeriodMetrics `json:"current"`
	Previous PeriodMetrics `json:"previous"`

	VisitorsChangePct  float64 `json:"visitors_change_pct"`
	PageViewsChangePct float64 `json:"page_views_change_pct"`
	OrdersChangePct    float64 `json:"orders_change_pct"`
	TicketsChangePct   float64 `json:"tickets_change_pct"`
	RevenueChangePct   float64 `json:"revenue_change_pct"`
}

// RecentSale is one row of the recent-sales feed, with the buyer name
// masked for display.
type RecentSale struct {
	Buyer       string    `json:"buyer"`
	Tickets     int64     `json:"tickets"`
	Total       float64   `json:"total"`
	CountryCode string    `json:"country_code,omitempty"`
	PaidAt      time.Time `json:"paid_at"`
}

// CampaignReport is a campaign with its display metadata attached.
type CampaignReport struct {
	*models.Campaign
	TypeLabel string `json:"type_label"`
	Icon      string `json:"icon"`
	Color     string `json:"color"`
}

// RealtimeSnapshot is the seconds-fresh payload behind the realtime cache
// key.
type RealtimeSnapshot struct {
	ScopeID        string          `json:"scope_id"`
	LiveVisitors   int64           `json:"live_visitors"`
	RecentActivity []ActivityEntry `json:"recent_activity"`
	TodayHourly    []HourlyPoint   `json:"today_hourly"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// DashboardData is the composite payload for the main dashboard view.
type DashboardData struct {
	Overview       OverviewStats      `json:"overview"`
	Chart          []ChartPoint       `json:"chart"`
	Funnel         FunnelMetrics      `json:"funnel"`
	TrafficSources []TrafficSourceRow `json:"traffic_sources"`
	TopLocations   []LocationRow      `json:"top_locations"`
	RecentSales    []RecentSale       `json:"recent_sales"`
	Campaigns      []CampaignReport   `json:"campaigns"`
	Spend          SpendSummary       `json:"spend"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// Rollup serves all dashboard queries. Every aggregate query has two arms:
// an aggregated path over pre-built bucket rows and a derived path over raw
// interaction rows, selected by the scope's HasRollups capability. Both
// arms produce the same result shapes so callers and the cache layer stay
// path-agnostic.
type Rollup struct {
	scopes    storage.ScopeRepo
	events    storage.EventStore
	buckets   storage.BucketStore
	orders    storage.OrderRepo
	campaigns storage.CampaignRepo
	resolver  *Resolver
	presence  PresenceTracker
	cache     Cache
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewRollup constructs the query layer over the given stores.
func NewRollup(
	scopes storage.ScopeRepo,
	events storage.EventStore,
	buckets storage.BucketStore,
	orders storage.OrderRepo,
	campaigns storage.CampaignRepo,
	resolver *Resolver,
	presence PresenceTracker,
	cache Cache,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Rollup {
	return &Rollup{
		scopes:    scopes,
		events:    events,
		buckets:   buckets,
		orders:    orders,
		campaigns: campaigns,
		resolver:  resolver,
		presence:  presence,
		cache:     cache,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// WithClock replaces the rollup's clock, for tests.
func (r *Rollup) WithClock(now func() time.Time) *Rollup {
	r.now = now
	return r
}

// scope resolves a scope id. Unknown ids are hard validation errors, unlike
// store outages elsewhere on the read path.
func (r *Rollup) scope(ctx context.Context, scopeID string) (*models.Scope, error) {
	s, err := r.scopes.Get(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scope %s: %w", scopeID, err)
	}
	if s == nil {
		return nil, fmt.Errorf("scope %s: %w", scopeID, models.ErrUnknownScope)
	}
	return s, nil
}

func (r *Rollup) pathLabel(s *models.Scope) string {
	if s.HasRollups {
		return "aggregated"
	}
	return "derived"
}

func (r *Rollup) recordQuery(op string, s *models.Scope, started time.Time) {
	if r.metrics != nil {
		r.metrics.RecordQuery(op, r.pathLabel(s), time.Since(started))
	}
}

// GetOverviewStats returns the headline card for a scope and range preset.
func (r *Rollup) GetOverviewStats(ctx context.Context, scopeID, preset string) (*OverviewStats, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	rng := ResolveRange(preset, scope.CreatedAt, r.now())

	stats := &OverviewStats{
		ScopeID:        scopeID,
		Range:          rng,
		DaysUntilStart: scope.DaysUntilStart(r.now()),
		Status:         scope.Status,
	}

	pageViews, visitors, err := r.visitCounts(ctx, scope, rng)
	if err != nil {
		return nil, err
	}
	stats.PageViews = pageViews
	stats.UniqueVisitors = visitors

	totals, err := r.orders.PaidTotals(ctx, scopeID, rng.From, rng.To)
	if err != nil {
		return nil, fmt.Errorf("failed to total paid orders: %w", err)
	}
	stats.Revenue = totals.Revenue
	stats.Orders = totals.Orders
	stats.TicketsSold = totals.Tickets
	stats.ConversionRate = rate(float64(totals.Orders), float64(visitors))
	if totals.Orders > 0 {
		stats.AvgOrderValue = round2(totals.Revenue / float64(totals.Orders))
	}

	prev := rng.Previous()
	prevTotals, err := r.orders.PaidTotals(ctx, scopeID, prev.From, prev.To)
	if err != nil {
		return nil, fmt.Errorf("failed to total previous-period orders: %w", err)
	}
	stats.PreviousRevenue = prevTotals.Revenue
	stats.RevenueChangePct = pctChange(prevTotals.Revenue, totals.Revenue)

	if r.presence != nil {
		stats.LiveVisitors = r.presence.LiveCount(ctx, scopeID)
	}

	r.recordQuery("overview", scope, started)
	return stats, nil
}

// visitCounts returns page views and distinct visitors for the range,
// preferring daily bucket rows. Rows with an empty event type count as page
// views on the derived path: legacy rows predate event typing.
func (r *Rollup) visitCounts(ctx context.Context, scope *models.Scope, rng DateRange) (int64, int64, error) {
	if scope.HasRollups {
		days, err := r.buckets.DailyRange(ctx, scope.ID, models.BucketDate(rng.From), models.BucketDate(rng.To))
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read daily buckets: %w", err)
		}
		if len(days) > 0 {
			var views, visitors float64
			for _, d := range days {
				views += d.Counter(models.MetricPageViews)
				visitors += d.Counter(models.MetricUniqueVisitors)
			}
			return int64(views), int64(visitors), nil
		}
		// No daily rows yet for this window; fall through to raw rows.
	}

	pageViews := []models.InteractionType{models.InteractionPageView}
	views, err := r.events.CountByType(ctx, scope.ID, pageViews, rng.From, rng.To, true)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count page views: %w", err)
	}
	visitors, err := r.events.DistinctVisitors(ctx, scope.ID, pageViews, rng.From, rng.To, true)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count visitors: %w", err)
	}
	return views, visitors, nil
}

// GetChartData returns one point per period in the range, zero-filled: no
// period may be omitted even when it has no data.
func (r *Rollup) GetChartData(ctx context.Context, scopeID, preset, granularity string) ([]ChartPoint, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	rng := ResolveRange(preset, scope.CreatedAt, r.now())

	daily, err := r.dailyPoints(ctx, scope, rng)
	if err != nil {
		return nil, err
	}

	r.recordQuery("chart", scope, started)
	switch granularity {
	case GranularityWeekly:
		return regroup(daily, weekStart), nil
	case GranularityMonthly:
		return regroup(daily, monthStart), nil
	default:
		return daily, nil
	}
}

// dailyPoints builds the zero-filled daily series both granularities derive
// from.
func (r *Rollup) dailyPoints(ctx context.Context, scope *models.Scope, rng DateRange) ([]ChartPoint, error) {
	views := make(map[string]float64)
	sales := make(map[string]storage.PaidTotals)

	if scope.HasRollups {
		days, err := r.buckets.DailyRange(ctx, scope.ID, models.BucketDate(rng.From), models.BucketDate(rng.To))
		if err != nil {
			return nil, fmt.Errorf("failed to read daily buckets: %w", err)
		}
		for _, d := range days {
			views[d.Date] = d.Counter(models.MetricPageViews)
			sales[d.Date] = storage.PaidTotals{
				Orders:  int64(d.Counter(models.MetricPurchases)),
				Revenue: d.Counter(models.MetricRevenue),
			}
		}
	} else {
		visitCounts, err := r.events.DailyVisitCounts(ctx, scope.ID, rng.From, rng.To)
		if err != nil {
			return nil, fmt.Errorf("failed to group daily visits: %w", err)
		}
		for day, n := range visitCounts {
			views[day] = float64(n)
		}
		sales, err = r.orders.DailyPaidTotals(ctx, scope.ID, rng.From, rng.To)
		if err != nil {
			return nil, fmt.Errorf("failed to group daily paid orders: %w", err)
		}
	}

	days := rng.Days()
	points := make([]ChartPoint, 0, len(days))
	for _, day := range days {
		date := models.BucketDate(day)
		t := sales[date]
		points = append(points, ChartPoint{
			Date:    date,
			Views:   views[date],
			Orders:  float64(t.Orders),
			Revenue: t.Revenue,
		})
	}
	return points, nil
}

func weekStart(t time.Time) time.Time {
	// ISO weeks: Monday starts the week.
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// regroup folds daily points into coarser periods keyed by periodOf.
func regroup(daily []ChartPoint, periodOf func(time.Time) time.Time) []ChartPoint {
	var out []ChartPoint
	index := make(map[string]int)

	for _, p := range daily {
		day, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			continue
		}
		period := models.BucketDate(periodOf(day))
		i, ok := index[period]
		if !ok {
			index[period] = len(out)
			out = append(out, ChartPoint{Date: period})
			i = len(out) - 1
		}
		out[i].Views += p.Views
		out[i].Orders += p.Orders
		out[i].Revenue += p.Revenue
	}
	return out
}

// funnelStages is the ordered purchase funnel.
var funnelStages = []struct {
	name string
	typ  models.InteractionType
}{
	{"page_view", models.InteractionPageView},
	{"add_to_cart", models.InteractionAddToCart},
	{"begin_checkout", models.InteractionBeginCheckout},
	{"purchase", models.InteractionPurchase},
}

// GetFunnelMetrics returns the distinct-session purchase funnel. Stage
// counts come from raw rows on both paths: distinct sessions cannot be
// reassembled from commutative counters.
func (r *Rollup) GetFunnelMetrics(ctx context.Context, scopeID, preset string) (*FunnelMetrics, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	rng := ResolveRange(preset, scope.CreatedAt, r.now())

	funnel := &FunnelMetrics{Stages: make([]FunnelStage, 0, len(funnelStages))}
	for i, stage := range funnelStages {
		count, err := r.events.DistinctSessions(ctx, scopeID, stage.typ, rng.From, rng.To)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s sessions: %w", stage.name, err)
		}
		s := FunnelStage{Name: stage.name, Count: count}
		if i == 0 {
			s.Rate = 100
		} else {
			s.Rate = rate(float64(count), float64(funnel.Stages[i-1].Count))
		}
		funnel.Stages = append(funnel.Stages, s)
	}

	funnel.ViewToCartRate = funnel.Stages[1].Rate
	funnel.CartToCheckoutRate = funnel.Stages[2].Rate
	funnel.CheckoutToPurchaseRate = funnel.Stages[3].Rate
	funnel.OverallConversionRate = rate(float64(funnel.Stages[3].Count), float64(funnel.Stages[0].Count))

	r.recordQuery("funnel", scope, started)
	return funnel, nil
}

// sourceDisplay carries the fixed icon/color per known traffic source.
var sourceDisplay = map[string]struct {
	icon  string
	color string
}{
	models.SourceFacebook:  {"📘", "#1877f2"},
	models.SourceGoogle:    {"🔍", "#ea4335"},
	models.SourceInstagram: {"📸", "#e4405f"},
	models.SourceTikTok:    {"🎵", "#000000"},
	models.SourceEmail:     {"📧", "#f59e0b"},
	models.SourceDirect:    {"🔗", "#6b7280"},
	models.SourceOrganic:   {"🌱", "#10b981"},
}

// GetTrafficSources returns the source breakdown ranked by distinct
// visitors. Distinct-visitor ranking needs raw rows on both paths; the
// categorical bucket maps only feed realtime summaries.
func (r *Rollup) GetTrafficSources(ctx context.Context, scopeID, preset string) ([]TrafficSourceRow, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	rng := ResolveRange(preset, scope.CreatedAt, r.now())

	groups, err := r.events.GroupBySource(ctx, scopeID, rng.From, rng.To)
	if err != nil {
		return nil, fmt.Errorf("failed to group by source: %w", err)
	}

	out := make([]TrafficSourceRow, 0, len(groups))
	for _, g := range groups {
		row := TrafficSourceRow{
			Source:      g.Source,
			Visitors:    g.Visitors,
			Conversions: g.Conversions,
			Revenue:     g.Revenue,
			Icon:        "🌐",
			Color:       "#9ca3af",
		}
		if d, ok := sourceDisplay[g.Source]; ok {
			row.Icon = d.icon
			row.Color = d.color
		}
		out = append(out, row)
	}

	r.recordQuery("traffic_sources", scope, started)
	return out, nil
}

// GetTopLocations ranks purchase locations, with a flag per country.
func (r *Rollup) GetTopLocations(ctx context.Context, scopeID, preset string, limit int) ([]LocationRow, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	rng := ResolveRange(preset, scope.CreatedAt, r.now())

	groups, err := r.events.GroupByLocation(ctx, scopeID, rng.From, rng.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to group by location: %w", err)
	}

	out := make([]LocationRow, 0, len(groups))
	for _, g := range groups {
		out = append(out, LocationRow{
			City:        g.City,
			CountryCode: g.CountryCode,
			Flag:        countryFlag(g.CountryCode),
			Purchases:   g.Purchases,
			Revenue:     g.Revenue,
		})
	}

	r.recordQuery("top_locations", scope, started)
	return out, nil
}

// countryFlag maps an ISO 3166-1 alpha-2 code to its emoji flag.
func countryFlag(code string) string {
	if len(code) != 2 {
		return "🌍"
	}
	code = strings.ToUpper(code)
	return string(rune(0x1F1E6+int(code[0])-'A')) + string(rune(0x1F1E6+int(code[1])-'A'))
}

// GetPeriodComparison compares the range against the immediately preceding
// equal-length window.
func (r *Rollup) GetPeriodComparison(ctx context.Context, scopeID, preset string) (*PeriodComparison, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	rng := ResolveRange(preset, scope.CreatedAt, r.now())

	current, err := r.periodMetrics(ctx, scope, rng)
	if err != nil {
		return nil, err
	}
	previous, err := r.periodMetrics(ctx, scope, rng.Previous())
	if err != nil {
		return nil, err
	}

	cmp := &PeriodComparison{
		Current:            *current,
		Previous:           *previous,
		VisitorsChangePct:  pctChange(float64(previous.Visitors), float64(current.Visitors)),
		PageViewsChangePct: pctChange(float64(previous.PageViews), float64(current.PageViews)),
		OrdersChangePct:    pctChange(float64(previous.Orders), float64(current.Orders)),
		TicketsChangePct:   pctChange(float64(previous.TicketsSold), float64(current.TicketsSold)),
		RevenueChangePct:   pctChange(previous.Revenue, current.Revenue),
	}

	r.recordQuery("comparison", scope, started)
	return cmp, nil
}

func (r *Rollup) periodMetrics(ctx context.Context, scope *models.Scope, rng DateRange) (*PeriodMetrics, error) {
	views, visitors, err := r.visitCounts(ctx, scope, rng)
	if err != nil {
		return nil, err
	}
	totals, err := r.orders.PaidTotals(ctx, scope.ID, rng.From, rng.To)
	if err != nil {
		return nil, fmt.Errorf("failed to total paid orders: %w", err)
	}
	return &PeriodMetrics{
		Range:       rng,
		Visitors:    visitors,
		PageViews:   views,
		Orders:      totals.Orders,
		TicketsSold: totals.Tickets,
		Revenue:     totals.Revenue,
	}, nil
}

// GetTodayHourlyChart returns today's 24 zero-filled hourly points from
// hourly buckets. Hourly buckets exist for every scope: the capability flag
// only gates daily rollups.
func (r *Rollup) GetTodayHourlyChart(ctx context.Context, scopeID string) ([]HourlyPoint, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	today := models.BucketDate(r.now())

	buckets, err := r.buckets.HourlyRange(ctx, scopeID, today, today)
	if err != nil {
		return nil, fmt.Errorf("failed to read hourly buckets: %w", err)
	}

	points := make([]HourlyPoint, 24)
	for i := range points {
		points[i].Hour = i
	}
	for _, b := range buckets {
		if b.Hour < 0 || b.Hour > 23 {
			continue
		}
		points[b.Hour].Views = b.Counter(models.MetricPageViews)
		points[b.Hour].Purchases = b.Counter(models.MetricPurchases)
		points[b.Hour].Revenue = b.Counter(models.MetricRevenue)
	}

	r.recordQuery("today_hourly", scope, started)
	return points, nil
}

// GetRecentSales returns the newest paid orders with buyer names masked.
func (r *Rollup) GetRecentSales(ctx context.Context, scopeID string, limit int) ([]RecentSale, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	orders, err := r.orders.RecentPaid(ctx, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sales: %w", err)
	}

	sales := make([]RecentSale, 0, len(orders))
	for _, o := range orders {
		sales = append(sales, RecentSale{
			Buyer:       maskName(o.BuyerName),
			Tickets:     o.Tickets,
			Total:       o.Total,
			CountryCode: o.CountryCode,
			PaidAt:      o.PaidTime(),
		})
	}

	r.recordQuery("recent_sales", scope, started)
	return sales, nil
}

// maskName keeps the first name and reduces the rest to an initial, so the
// sales feed shows "Ana K." instead of a full identity.
func maskName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Someone"
	}
	parts := strings.Fields(name)
	if len(parts) == 1 {
		r := []rune(parts[0])
		if len(r) <= 1 {
			return string(r)
		}
		return string(r[0]) + strings.Repeat("*", len(r)-1)
	}
	last := []rune(parts[len(parts)-1])
	return parts[0] + " " + string(last[0]) + "."
}

// GetCampaignsWithMetrics returns the scope's campaigns, best ROI first,
// with display metadata attached.
func (r *Rollup) GetCampaignsWithMetrics(ctx context.Context, scopeID string) ([]CampaignReport, error) {
	started := time.Now()
	scope, err := r.scope(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	campaigns, err := r.resolver.CompareCampaigns(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	reports := make([]CampaignReport, 0, len(campaigns))
	for _, c := range campaigns {
		reports = append(reports, CampaignReport{
			Campaign:  c,
			TypeLabel: c.TypeLabel(),
			Icon:      c.TypeIcon(),
			Color:     c.TypeColor(),
		})
	}

	r.recordQuery("campaigns", scope, started)
	return reports, nil
}

// GetRealtimeSnapshot returns the live payload behind the fixed-TTL
// realtime cache key. Never explicitly invalidated; the 60s TTL bounds
// staleness.
func (r *Rollup) GetRealtimeSnapshot(ctx context.Context, scopeID string) ([]byte, error) {
	if _, err := r.scope(ctx, scopeID); err != nil {
		return nil, err
	}

	key := cacheKey("realtime", scopeID)
	return r.cache.Remember(ctx, key, RealtimeTTL, func(ctx context.Context) (any, error) {
		snapshot := RealtimeSnapshot{
			ScopeID:     scopeID,
			GeneratedAt: r.now().UTC(),
		}
		if r.presence != nil {
			snapshot.LiveVisitors = r.presence.LiveCount(ctx, scopeID)
			snapshot.RecentActivity = r.presence.RecentActivity(ctx, scopeID)
		}
		hourly, err := r.GetTodayHourlyChart(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		snapshot.TodayHourly = hourly
		return snapshot, nil
	})
}

// GetDashboardData assembles the composite dashboard payload, cached as a
// tracked summary key so counter writes evict it.
func (r *Rollup) GetDashboardData(ctx context.Context, scopeID, preset string) ([]byte, error) {
	if _, err := r.scope(ctx, scopeID); err != nil {
		return nil, err
	}

	key := cacheKey("dashboard", scopeID, preset)
	return r.cache.RememberScoped(ctx, scopeID, key, SummaryTTL, func(ctx context.Context) (any, error) {
		overview, err := r.GetOverviewStats(ctx, scopeID, preset)
		if err != nil {
			return nil, err
		}
		chart, err := r.GetChartData(ctx, scopeID, preset, GranularityDaily)
		if err != nil {
			return nil, err
		}
		funnel, err := r.GetFunnelMetrics(ctx, scopeID, preset)
		if err != nil {
			return nil, err
		}
		sources, err := r.GetTrafficSources(ctx, scopeID, preset)
		if err != nil {
			return nil, err
		}
		locations, err := r.GetTopLocations(ctx, scopeID, preset, 10)
		if err != nil {
			return nil, err
		}
		sales, err := r.GetRecentSales(ctx, scopeID, 10)
		if err != nil {
			return nil, err
		}
		campaigns, err := r.GetCampaignsWithMetrics(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		spend, err := r.resolver.SpendSummary(ctx, scopeID)
		if err != nil {
			return nil, err
		}

		return DashboardData{
			Overview:       *overview,
			Chart:          chart,
			Funnel:         *funnel,
			TrafficSources: sources,
			TopLocations:   locations,
			RecentSales:    sales,
			Campaigns:      campaigns,
			Spend:          spend,
			GeneratedAt:    r.now().UTC(),
		}, nil
	})
}
