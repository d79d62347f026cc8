package devserver

import (
	"errors"
	"time"

	"bistro/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyPaid        = errors.New("order already paid")
	ErrAmountMismatch     = errors.New("payment amount does not match the order")
	ErrInsufficientPoints = errors.New("not enough loyalty points")
)

type Customer struct {
	ID       string
	Email    string
	Password string // dev backend only, stored as-is
	Points   int
}

type Order struct {
	ID                    string
	CustomerID            string
	Status                domain.OrderStatus
	Subtotal              int64
	ChargedAmount         int64
	DiscountApplied       int64
	PointsEarned          int
	PointsRedeemed        int
	EstimatedReadyMinutes int
	ETA                   *time.Time
	Paid                  bool
	CreatedAt             time.Time
}

type Payment struct {
	ID        string
	OrderID   string
	Amount    int64
	Method    domain.PaymentMethod
	CreatedAt time.Time
}

// Store is the persistence contract of the dev backend.
type Store interface {
	CustomerByEmail(email string) (Customer, error)
	Customer(id string) (Customer, error)
	Points(customerID string) (int, error)

	CreateOrder(o Order) (Order, error)
	Order(id string) (Order, error)
	// RecordPayment stores the payment, marks the order paid and settles the
	// loyalty points in one step: redeemed points are deducted and earned
	// points credited together. No points move until the order is paid, so an
	// abandoned or failed payment leaves the balance untouched. Fails with
	// ErrInsufficientPoints if the redemption no longer covers.
	RecordPayment(p Payment) (Order, error)
	UpdateOrderStatus(id string, status domain.OrderStatus, eta *time.Time) (Order, error)
}
