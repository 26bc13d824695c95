package models

import (
	"strings"
	"time"
)

// InteractionType identifies what a visitor did on a scope page.
type InteractionType string

const (
	InteractionPageView      InteractionType = "page_view"
	InteractionTicketView    InteractionType = "view_ticket"
	InteractionAddToCart     InteractionType = "add_to_cart"
	InteractionBeginCheckout InteractionType = "begin_checkout"
	InteractionPurchase      InteractionType = "purchase"
	InteractionSignUp        InteractionType = "sign_up"
	InteractionViewLineup    InteractionType = "view_lineup"
	InteractionViewPricing   InteractionType = "view_pricing"
	InteractionViewFAQ       InteractionType = "view_faq"
	InteractionViewGallery   InteractionType = "view_gallery"
	InteractionShare         InteractionType = "share"
	InteractionInterest      InteractionType = "event_interest"
)

// GeoSnapshot is the location captured at ingestion time.
type GeoSnapshot struct {
	CountryCode string  `json:"country_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

// DeviceSnapshot is the parsed user-agent info captured at ingestion time.
type DeviceSnapshot struct {
	Type    string `json:"type,omitempty"` // desktop, mobile, tablet
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
}

// Interaction is a raw, append-only visitor event. Records are immutable
// after insert except for AttributedCampaignID, which transitions from empty
// to set exactly once and is never reset.
type Interaction struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	ScopeID   string          `json:"scope_id"`
	VisitorID string          `json:"visitor_id"`
	SessionID string          `json:"session_id"`
	Type      InteractionType `json:"event_type"`

	OccurredAt time.Time `json:"occurred_at"`

	// Monetary value for purchase events, in currency units.
	Value float64 `json:"value,omitempty"`

	// Marketing params captured from the landing URL.
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	GCLID       string `json:"gclid,omitempty"`
	FBCLID      string `json:"fbclid,omitempty"`
	TTCLID      string `json:"ttclid,omitempty"`
	LIFatID     string `json:"li_fat_id,omitempty"`
	Referrer    string `json:"referrer,omitempty"`

	// Optional reference to the content the interaction targeted
	// (e.g. a ticket type for add_to_cart).
	ContentID string `json:"content_id,omitempty"`

	// Order linkage for purchase events.
	OrderID string `json:"order_id,omitempty"`

	Device   DeviceSnapshot `json:"device,omitempty"`
	Geo      GeoSnapshot    `json:"geo,omitempty"`
	Consent  bool           `json:"consent"`

	// Set by the attribution resolver, empty until then.
	AttributedCampaignID string `json:"attributed_campaign_id,omitempty"`
}

// IsPageView reports whether the row counts as a visit. Legacy rows ingested
// before event typing have an empty Type and are counted as page views.
func (i *Interaction) IsPageView() bool {
	return i.Type == InteractionPageView || i.Type == ""
}

// ClickIDPlatform returns the ad platform implied by a click id, or "" when
// the interaction carries none. Precedence mirrors attribution priority.
func (i *Interaction) ClickIDPlatform() string {
	switch {
	case i.GCLID != "":
		return PlatformGoogle
	case i.FBCLID != "":
		return PlatformFacebook
	case i.TTCLID != "":
		return PlatformTikTok
	case i.LIFatID != "":
		return PlatformLinkedIn
	default:
		return ""
	}
}

// TrafficSource categorizes the interaction for breakdown reports.
// Click ids beat UTM source, which beats referrer patterns; anything
// without a marketing signal is Direct.
func (i *Interaction) TrafficSource() string {
	if i.FBCLID != "" || strings.EqualFold(i.UTMSource, "facebook") {
		return SourceFacebook
	}
	if i.GCLID != "" || strings.EqualFold(i.UTMSource, "google") {
		return SourceGoogle
	}
	if strings.EqualFold(i.UTMSource, "instagram") || strings.Contains(strings.ToLower(i.Referrer), "instagram") {
		return SourceInstagram
	}
	if i.TTCLID != "" || strings.EqualFold(i.UTMSource, "tiktok") {
		return SourceTikTok
	}
	if strings.EqualFold(i.UTMMedium, "email") {
		return SourceEmail
	}
	if i.Referrer == "" {
		return SourceDirect
	}
	return SourceOrganic
}

// Traffic source categories. Keys are a product decision; keep the set stable.
const (
	SourceFacebook  = "Facebook"
	SourceGoogle    = "Google"
	SourceInstagram = "Instagram"
	SourceTikTok    = "TikTok"
	SourceEmail     = "Email"
	SourceDirect    = "Direct"
	SourceOrganic   = "Organic"
)

// Ad platform identifiers shared by click ids and campaign types.
const (
	PlatformGoogle   = "google"
	PlatformFacebook = "facebook"
	PlatformTikTok   = "tiktok"
	PlatformLinkedIn = "linkedin"
)
