package domain

import "time"

// Credential is the access/refresh token pair for one signed-in session.
// Both tokens are opaque to this package.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentCard
}

type OrderStatus string

const (
	StatusReceived  OrderStatus = "RECEIVED"
	StatusPreparing OrderStatus = "PREPARING"
	StatusReady     OrderStatus = "READY"
	StatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusPreparing, StatusReady, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further status changes can follow.
func (s OrderStatus) Terminal() bool {
	return s == StatusReady || s == StatusCancelled
}

type CartItem struct {
	ItemID        string `json:"item_id"`
	UnitPrice     int64  `json:"unit_price"`
	Quantity      int    `json:"quantity"`
	PrepMinutes   int    `json:"prep_minutes"`
	PointsPerUnit int    `json:"points_per_unit"`
}

// CartSnapshot is the immutable cart handed to checkout. The totals below are
// client-side estimates; the backend stays the price authority.
type CartSnapshot []CartItem

func (c CartSnapshot) Subtotal() int64 {
	var sum int64
	for _, it := range c {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

func (c CartSnapshot) PointsTotal() int {
	total := 0
	for _, it := range c {
		total += it.PointsPerUnit * it.Quantity
	}
	return total
}

// MaxPrepMinutes estimates readiness as the slowest line item, 0 for an empty cart.
func (c CartSnapshot) MaxPrepMinutes() int {
	longest := 0
	for _, it := range c {
		if it.PrepMinutes > longest {
			longest = it.PrepMinutes
		}
	}
	return longest
}

type OrderRequest struct {
	LineItems     []CartItem `json:"line_items"`
	ApplyDiscount bool       `json:"apply_discount"`
}

type OrderResponse struct {
	OrderID         string `json:"order_id"`
	ChargedAmount   int64  `json:"charged_amount"`
	PointsEarned    int    `json:"points_earned"`
	DiscountApplied int64  `json:"discount_applied"`
	// Nil when the backend did not report an estimate; the client falls back
	// to its own cart-derived value.
	EstimatedReadyMinutes *int `json:"estimated_ready_minutes,omitempty"`
}

type PaymentRequest struct {
	OrderID string        `json:"order_id"`
	Amount  int64         `json:"amount"`
	Method  PaymentMethod `json:"method"`
}

type BalanceResponse struct {
	Points int `json:"points"`
}

// Receipt is the final summary of a completed checkout. Every field reflects
// the backend's authoritative response, not the client's request.
type Receipt struct {
	OrderID               string `json:"order_id"`
	AmountCharged         int64  `json:"amount_charged"`
	DiscountApplied       int64  `json:"discount_applied"`
	PointsEarned          int    `json:"points_earned"`
	PointsBalanceAfter    int    `json:"points_balance_after"`
	EstimatedReadyMinutes int    `json:"estimated_ready_minutes"`
}

type OrderStatusEvent struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	ETA     *time.Time  `json:"eta,omitempty"`
}
