package models

import (
	"errors"
	"strings"
	"time"
)

// CampaignType classifies a marketing touchpoint.
type CampaignType string

const (
	CampaignGoogleAds    CampaignType = "google_ads"
	CampaignFacebookAds  CampaignType = "facebook_ads"
	CampaignTikTokAds    CampaignType = "tiktok_ads"
	CampaignLinkedInAds  CampaignType = "linkedin_ads"
	CampaignEmail        CampaignType = "email"
	CampaignAnnouncement CampaignType = "announcement"
	CampaignPriceChange  CampaignType = "price_change"
)

var (
	ErrCampaignTitleRequired = errors.New("campaign title is required")
	ErrCampaignTypeUnknown   = errors.New("campaign type is unknown")
	ErrCampaignWindowOrder   = errors.New("campaign end date precedes start date")
)

// UTMFilters restrict which interactions a campaign matches.
type UTMFilters struct {
	Campaign string `json:"utm_campaign,omitempty"`
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
}

// Campaign is a marketing milestone for a scope: an ad run, an email blast,
// or an organic moment like an announcement. Definitions are owned by an
// external CRUD boundary; this core reads active campaigns and writes back
// the derived metrics block.
type Campaign struct {
	ID      string       `json:"id"`
	ScopeID string       `json:"scope_id"`
	Type    CampaignType `json:"type"`
	Title   string       `json:"title"`

	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	Filters  UTMFilters `json:"filters"`
	Budget   float64    `json:"budget,omitempty"`
	Currency string     `json:"currency,omitempty"`

	IsActive bool `json:"is_active"`

	// Derived metrics, recomputed wholesale by the attribution resolver.
	Conversions       int64      `json:"conversions"`
	AttributedRevenue float64    `json:"attributed_revenue"`
	CAC               *float64   `json:"cac,omitempty"`
	ROI               *float64   `json:"roi,omitempty"`
	ROAS              *float64   `json:"roas,omitempty"`
	BaselineValue     float64    `json:"baseline_value,omitempty"`
	PostValue         float64    `json:"post_value,omitempty"`
	ImpactMetric      string     `json:"impact_metric,omitempty"`
	MetricsUpdatedAt  *time.Time `json:"metrics_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks invariants enforced at the campaign boundary.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return ErrCampaignTitleRequired
	}
	switch c.Type {
	case CampaignGoogleAds, CampaignFacebookAds, CampaignTikTokAds,
		CampaignLinkedInAds, CampaignEmail, CampaignAnnouncement, CampaignPriceChange:
	default:
		return ErrCampaignTypeUnknown
	}
	if c.EndDate != nil && c.EndDate.Before(c.StartDate) {
		return ErrCampaignWindowOrder
	}
	return nil
}

// IsAd reports whether the campaign is a paid ad run.
func (c *Campaign) IsAd() bool {
	switch c.Type {
	case CampaignGoogleAds, CampaignFacebookAds, CampaignTikTokAds, CampaignLinkedInAds:
		return true
	}
	return false
}

// HasBudget reports whether spend-derived metrics apply.
func (c *Campaign) HasBudget() bool { return c.Budget > 0 }

// AdPlatform returns the click-id platform this campaign matches, or ""
// for non-ad campaigns.
func (c *Campaign) AdPlatform() string {
	switch c.Type {
	case CampaignGoogleAds:
		return PlatformGoogle
	case CampaignFacebookAds:
		return PlatformFacebook
	case CampaignTikTokAds:
		return PlatformTikTok
	case CampaignLinkedInAds:
		return PlatformLinkedIn
	}
	return ""
}

// MatchesUTMCampaign reports an exact utm_campaign name match.
func (c *Campaign) MatchesUTMCampaign(name string) bool {
	return name != "" && c.Filters.Campaign != "" && strings.EqualFold(c.Filters.Campaign, name)
}

// MatchesUTMSource reports an exact utm_source match.
func (c *Campaign) MatchesUTMSource(source string) bool {
	return source != "" && c.Filters.Source != "" && strings.EqualFold(c.Filters.Source, source)
}

// WithinWindow reports whether a purchase at t can still be credited to the
// campaign. Open-ended campaigns close defaultWindow after their start.
func (c *Campaign) WithinWindow(t time.Time, defaultWindow time.Duration) bool {
	if t.Before(c.StartDate) {
		return false
	}
	end := c.StartDate.Add(defaultWindow)
	if c.EndDate != nil {
		end = *c.EndDate
	}
	return !t.After(end)
}

// Display metadata used by the dashboard boundary.

func (c *Campaign) TypeLabel() string {
	switch c.Type {
	case CampaignGoogleAds:
		return "Google Ads"
	case CampaignFacebookAds:
		return "Facebook Ads"
	case CampaignTikTokAds:
		return "TikTok Ads"
	case CampaignLinkedInAds:
		return "LinkedIn Ads"
	case CampaignEmail:
		return "Email"
	case CampaignAnnouncement:
		return "Announcement"
	case CampaignPriceChange:
		return "Price Change"
	}
	return string(c.Type)
}

func (c *Campaign) TypeIcon() string {
	switch c.Type {
	case CampaignGoogleAds:
		return "🔍"
	case CampaignFacebookAds:
		return "📘"
	case CampaignTikTokAds:
		return "🎵"
	case CampaignLinkedInAds:
		return "💼"
	case CampaignEmail:
		return "📧"
	case CampaignAnnouncement:
		return "📣"
	case CampaignPriceChange:
		return "💶"
	}
	return "🎯"
}

func (c *Campaign) TypeColor() string {
	switch c.Type {
	case CampaignGoogleAds:
		return "#ea4335"
	case CampaignFacebookAds:
		return "#1877f2"
	case CampaignTikTokAds:
		return "#000000"
	case CampaignLinkedInAds:
		return "#0a66c2"
	case CampaignEmail:
		return "#f59e0b"
	case CampaignAnnouncement:
		return "#8b5cf6"
	case CampaignPriceChange:
		return "#10b981"
	}
	return "#6b7280"
}
