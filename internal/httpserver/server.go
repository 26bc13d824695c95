package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/analytics"
	"github.com/ticketlane/insights/internal/config"
	"github.com/ticketlane/insights/internal/database"
	"github.com/ticketlane/insights/internal/geo"
	"github.com/ticketlane/insights/internal/metrics"
	"github.com/ticketlane/insights/internal/middleware"
	"github.com/ticketlane/insights/internal/models"
	"github.com/ticketlane/insights/internal/storage"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers over the analytics services.
type Server struct {
	rollup     *analytics.Rollup
	lifecycle  *analytics.Lifecycle
	aggregator *analytics.Aggregator
	resolver   *analytics.Resolver
	presence   analytics.PresenceTracker
	geo        *geo.Resolver
	scopes     storage.ScopeRepo
	campaigns  storage.CampaignRepo
	orders     storage.OrderRepo
	logger     *zap.Logger
	config     *config.Config
	metrics    *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	var (
		eventStore   storage.EventStore
		bucketStore  storage.BucketStore
		campaignRepo storage.CampaignRepo
		orderRepo    storage.OrderRepo
		scopeRepo    storage.ScopeRepo
	)

	if deps.DB != nil {
		eventStore = storage.NewPostgresEventStore(deps.DB.Pool)
		bucketStore = storage.NewPostgresBucketStore(deps.DB.Pool)
		campaignRepo = storage.NewPostgresCampaignRepo(deps.DB.Pool)
		orderRepo = storage.NewPostgresOrderRepo(deps.DB.Pool)
		scopeRepo = storage.NewPostgresScopeRepo(deps.DB.Pool)
	} else {
		eventStore = storage.NewInMemoryEventStore()
		bucketStore = storage.NewInMemoryBucketStore()
		campaignRepo = storage.NewInMemoryCampaignRepo()
		orderRepo = storage.NewInMemoryOrderRepo()
		scopeRepo = storage.NewInMemoryScopeRepo()
	}

	// The columnar archive replaces the row store for interaction reads and
	// writes when enabled. Attribution set-once stays strict only on
	// Postgres, so scopes that need it keep ClickHouse off.
	if deps.ClickHouse != nil {
		eventStore = storage.NewClickHouseEventStore(deps.ClickHouse.Conn)
	}

	var cache analytics.Cache
	var presence analytics.PresenceTracker
	if deps.Redis != nil {
		cache = analytics.NewRedisCache(deps.Redis.Client, deps.Logger, deps.Metrics)
		presence = analytics.NewRedisPresenceTracker(deps.Redis.Client, deps.Logger, deps.Metrics)
	} else {
		cache = analytics.NewInMemoryCache()
		presence = analytics.NewInMemoryPresenceTracker()
	}

	var geoResolver *geo.Resolver
	if deps.Config.Geo.Enabled {
		gr, err := geo.NewResolver(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to open geo database, ingesting without location", zap.Error(err))
		} else {
			geoResolver = gr.WithMetrics(deps.Metrics)
		}
	}

	windows := map[models.CampaignType]time.Duration{
		models.CampaignGoogleAds:    deps.Config.Attribution.AdWindow,
		models.CampaignFacebookAds:  deps.Config.Attribution.AdWindow,
		models.CampaignTikTokAds:    deps.Config.Attribution.AdWindow,
		models.CampaignLinkedInAds:  deps.Config.Attribution.AdWindow,
		models.CampaignEmail:        deps.Config.Attribution.EmailWindow,
		models.CampaignAnnouncement: deps.Config.Attribution.OrganicWindow,
		models.CampaignPriceChange:  deps.Config.Attribution.OrganicWindow,
	}

	aggregator := analytics.NewAggregator(eventStore, bucketStore, cache, deps.Logger, deps.Metrics)
	resolver := analytics.NewResolver(eventStore, campaignRepo, orderRepo, deps.Logger, deps.Metrics, windows)
	rollup := analytics.NewRollup(scopeRepo, eventStore, bucketStore, orderRepo, campaignRepo, resolver, presence, cache, deps.Logger, deps.Metrics)
	lifecycle := analytics.NewLifecycle(orderRepo, aggregator, resolver, cache, deps.Logger)

	s := &Server{
		rollup:     rollup,
		lifecycle:  lifecycle,
		aggregator: aggregator,
		resolver:   resolver,
		presence:   presence,
		geo:        geoResolver,
		scopes:     scopeRepo,
		campaigns:  campaignRepo,
		orders:     orderRepo,
		logger:     deps.Logger,
		config:     deps.Config,
		metrics:    deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Ingestion
	mux.HandleFunc("/track", s.handleTrack)

	// Order lifecycle
	mux.HandleFunc("/orders/created", s.handleOrderCreated)
	mux.HandleFunc("/orders/paid", s.handleOrderPaid)
	mux.HandleFunc("/orders/cancelled", s.handleOrderCancelled)

	// Scopes
	mux.HandleFunc("/scopes", s.handleScopes)
	mux.HandleFunc("/scopes/", s.handleScopeByID)

	// Campaigns
	mux.HandleFunc("/campaigns", s.handleCampaigns)
	mux.HandleFunc("/campaigns/", s.handleCampaignByID)

	// Attribution
	mux.HandleFunc("/attribution/backfill", s.handleBackfill)
	mux.HandleFunc("/budget/suggestions", s.handleBudgetSuggestions)

	// Dashboard queries
	mux.HandleFunc("/stats/overview", s.handleOverview)
	mux.HandleFunc("/stats/chart", s.handleChart)
	mux.HandleFunc("/stats/funnel", s.handleFunnel)
	mux.HandleFunc("/stats/traffic-sources", s.handleTrafficSources)
	mux.HandleFunc("/stats/locations", s.handleLocations)
	mux.HandleFunc("/stats/comparison", s.handleComparison)
	mux.HandleFunc("/stats/hourly", s.handleHourly)
	mux.HandleFunc("/stats/recent-sales", s.handleRecentSales)
	mux.HandleFunc("/dashboard", s.handleDashboard)

	// Realtime
	mux.HandleFunc("/realtime", s.handleRealtime)
	mux.HandleFunc("/live/visitors", s.handleLiveVisitors)
	mux.HandleFunc("/live/activity", s.handleLiveActivity)

	// Rollup trigger
	mux.HandleFunc("/rollups/daily", s.handleDailyRollup)

	logging := middleware.NewLoggingMiddleware(deps.Logger)
	recovery := middleware.NewRecoveryMiddleware(deps.Logger)
	return recovery.Handler(logging.Handler(mux))
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Ingestion ----

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	var ev models.Interaction
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if ev.ScopeID == "" || ev.VisitorID == "" {
		s.errorResponse(w, "scope_id and visitor_id are required", http.StatusBadRequest)
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	if s.geo != nil && ev.Consent && ev.Geo.CountryCode == "" {
		if snap := s.geo.Lookup(clientIP(r)); snap != nil {
			ev.Geo = *snap
		}
	}

	if err := s.aggregator.TrackInteraction(r.Context(), &ev); err != nil {
		s.logger.Error("failed to track interaction", zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordIngest(string(ev.Type), "error", time.Since(started))
		}
		s.errorResponse(w, "failed to track", http.StatusInternalServerError)
		return
	}

	s.presence.RecordPresence(r.Context(), ev.ScopeID, ev.VisitorID, &ev.Geo, string(ev.Type))
	if s.metrics != nil {
		s.metrics.RecordIngest(string(ev.Type), "accepted", time.Since(started))
	}

	w.WriteHeader(http.StatusAccepted)
	s.jsonResponse(w, map[string]string{"id": ev.ID})
}

// ---- Order Lifecycle ----

func (s *Server) handleOrderCreated(w http.ResponseWriter, r *http.Request) {
	s.handleOrderTransition(w, r, s.lifecycle.OrderCreated)
}

func (s *Server) handleOrderPaid(w http.ResponseWriter, r *http.Request) {
	s.handleOrderTransition(w, r, s.lifecycle.OrderPaid)
}

func (s *Server) handleOrderCancelled(w http.ResponseWriter, r *http.Request) {
	s.handleOrderTransition(w, r, s.lifecycle.OrderCancelled)
}

func (s *Server) handleOrderTransition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, o *models.Order) error) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var o models.Order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if o.ID == "" || o.ScopeID == "" {
		s.errorResponse(w, "id and scope_id are required", http.StatusBadRequest)
		return
	}

	if err := apply(r.Context(), &o); err != nil {
		s.logger.Error("order transition failed",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
			zap.Error(err),
		)
		s.errorResponse(w, "failed to process order", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, o)
}

// ---- Scopes ----

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sc models.Scope
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if sc.ID == "" {
		s.errorResponse(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := s.scopes.Upsert(r.Context(), &sc); err != nil {
		s.errorResponse(w, "failed to save: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, sc)
}

func (s *Server) handleScopeByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/scopes/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sc, err := s.scopes.Get(r.Context(), id)
	if err != nil {
		s.errorResponse(w, "error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if sc == nil {
		http.NotFound(w, r)
		return
	}
	s.jsonResponse(w, sc)
}

// ---- Campaigns ----

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		scopeID := r.URL.Query().Get("scope_id")
		if scopeID == "" {
			s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
			return
		}
		list, err := s.rollup.GetCampaignsWithMetrics(r.Context(), scopeID)
		if err != nil {
			s.queryError(w, "failed to list campaigns", err)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var c models.Campaign
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := c.Validate(); err != nil {
			s.errorResponse(w, "invalid campaign: "+err.Error(), http.StatusBadRequest)
			return
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if err := s.campaigns.Upsert(r.Context(), &c); err != nil {
			s.errorResponse(w, "failed to save: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, c)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCampaignByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/campaigns/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	c, err := s.campaigns.Get(r.Context(), id)
	if err != nil {
		s.errorResponse(w, "error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if c == nil {
		http.NotFound(w, r)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.jsonResponse(w, c)

	case "impact":
		if r.Method != http.MethodGet {
			s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		impact, err := s.resolver.CalculateImpact(r.Context(), c)
		if err != nil {
			s.logger.Error("failed to calculate impact", zap.String("campaign_id", id), zap.Error(err))
			s.errorResponse(w, "failed to calculate impact", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, impact)

	case "recompute":
		if r.Method != http.MethodPost {
			s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.resolver.RecomputeMetrics(r.Context(), c); err != nil {
			s.logger.Error("failed to recompute metrics", zap.String("campaign_id", id), zap.Error(err))
			s.errorResponse(w, "failed to recompute", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, c)

	default:
		http.NotFound(w, r)
	}
}

// ---- Attribution ----

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return
	}
	limit := intParam(r, "limit", s.config.Attribution.BackfillLimit)

	result, err := s.resolver.AttributeUnattributedPurchases(r.Context(), scopeID, limit)
	if err != nil {
		s.logger.Error("backfill failed", zap.String("scope_id", scopeID), zap.Error(err))
		s.errorResponse(w, "backfill failed", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, result)
}

func (s *Server) handleBudgetSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return
	}
	suggestions, err := s.resolver.SuggestBudgetAllocation(r.Context(), scopeID)
	if err != nil {
		s.errorResponse(w, "failed to suggest budgets", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, suggestions)
}

// ---- Dashboard Queries ----

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	scopeID, preset, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	stats, err := s.rollup.GetOverviewStats(r.Context(), scopeID, preset)
	if err != nil {
		s.queryError(w, "failed to load overview", err)
		return
	}
	s.jsonResponse(w, stats)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	scopeID, preset, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	granularity := r.URL.Query().Get("granularity")
	points, err := s.rollup.GetChartData(r.Context(), scopeID, preset, granularity)
	if err != nil {
		s.queryError(w, "failed to load chart", err)
		return
	}
	s.jsonResponse(w, points)
}

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	scopeID, preset, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	funnel, err := s.rollup.GetFunnelMetrics(r.Context(), scopeID, preset)
	if err != nil {
		s.queryError(w, "failed to load funnel", err)
		return
	}
	s.jsonResponse(w, funnel)
}

func (s *Server) handleTrafficSources(w http.ResponseWriter, r *http.Request) {
	scopeID, preset, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	sources, err := s.rollup.GetTrafficSources(r.Context(), scopeID, preset)
	if err != nil {
		s.queryError(w, "failed to load traffic sources", err)
		return
	}
	s.jsonResponse(w, sources)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	scopeID, preset, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	limit := intParam(r, "limit", 10)
	locations, err := s.rollup.GetTopLocations(r.Context(), scopeID, preset, limit)
	if err != nil {
		s.queryError(w, "failed to load locations", err)
		return
	}
	s.jsonResponse(w, locations)
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	scopeID, preset, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	cmp, err := s.rollup.GetPeriodComparison(r.Context(), scopeID, preset)
	if err != nil {
		s.queryError(w, "failed to load comparison", err)
		return
	}
	s.jsonResponse(w, cmp)
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return
	}
	points, err := s.rollup.GetTodayHourlyChart(r.Context(), scopeID)
	if err != nil {
		s.queryError(w, "failed to load hourly chart", err)
		return
	}
	s.jsonResponse(w, points)
}

func (s *Server) handleRecentSales(w http.ResponseWriter, r *http.Request) {
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return
	}
	limit := intParam(r, "limit", 10)
	sales, err := s.rollup.GetRecentSales(r.Context(), scopeID, limit)
	if err != nil {
		s.queryError(w, "failed to load recent sales", err)
		return
	}
	s.jsonResponse(w, sales)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	scopeID, preset, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	payload, err := s.rollup.GetDashboardData(r.Context(), scopeID, preset)
	if err != nil {
		s.queryError(w, "failed to load dashboard", err)
		return
	}
	s.rawJSON(w, payload)
}

// ---- Realtime ----

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return
	}
	payload, err := s.rollup.GetRealtimeSnapshot(r.Context(), scopeID)
	if err != nil {
		s.queryError(w, "failed to load realtime snapshot", err)
		return
	}
	s.rawJSON(w, payload)
}

func (s *Server) handleLiveVisitors(w http.ResponseWriter, r *http.Request) {
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, s.presence.LiveVisitors(r.Context(), scopeID))
}

func (s *Server) handleLiveActivity(w http.ResponseWriter, r *http.Request) {
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, s.presence.RecentActivity(r.Context(), scopeID))
}

// ---- Rollups ----

func (s *Server) handleDailyRollup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			s.errorResponse(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	bucket, err := s.aggregator.AggregateDaily(r.Context(), s.orders, scopeID, day)
	if err != nil {
		s.logger.Error("daily rollup failed",
			zap.String("scope_id", scopeID),
			zap.String("date", models.BucketDate(day)),
			zap.Error(err),
		)
		s.errorResponse(w, "rollup failed", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, bucket)
}

// ---- Helpers ----

func (s *Server) statsParams(w http.ResponseWriter, r *http.Request) (scopeID, preset string, ok bool) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", "", false
	}
	scopeID = r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.errorResponse(w, "scope_id is required", http.StatusBadRequest)
		return "", "", false
	}
	return scopeID, r.URL.Query().Get("range"), true
}

func (s *Server) queryError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, models.ErrUnknownScope) {
		s.errorResponse(w, "unknown scope", http.StatusNotFound)
		return
	}
	s.logger.Error(message, zap.Error(err))
	s.errorResponse(w, message, http.StatusInternalServerError)
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) rawJSON(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
