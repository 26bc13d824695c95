package models

import "time"

// OrderStatus is the purchase lifecycle state, owned by the external
// payment boundary.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderPaid      OrderStatus = "paid"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

// Order is the purchase aggregate. Read-only to the analytics core; the
// lifecycle boundary notifies the core of transitions so it can aggregate,
// attribute and invalidate caches.
type Order struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	ScopeID   string      `json:"scope_id"`
	VisitorID string      `json:"visitor_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Status    OrderStatus `json:"status"`

	Total   float64 `json:"total"`
	Tickets int64   `json:"tickets"`

	// UTM/click-id echo stored at checkout; used when the purchase
	// interaction itself carries no marketing params.
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	GCLID       string `json:"gclid,omitempty"`
	FBCLID      string `json:"fbclid,omitempty"`
	TTCLID      string `json:"ttclid,omitempty"`

	CountryCode string `json:"country_code,omitempty"`
	BuyerName   string `json:"buyer_name,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// IsPaid reports whether the order counts toward revenue.
func (o *Order) IsPaid() bool {
	switch o.Status {
	case OrderPaid, OrderConfirmed, OrderCompleted:
		return true
	}
	return false
}

// PaidTime returns the revenue-recognition timestamp.
func (o *Order) PaidTime() time.Time {
	if o.PaidAt != nil {
		return *o.PaidAt
	}
	return o.CreatedAt
}
