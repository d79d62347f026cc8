package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"bistro/internal/domain"
	"bistro/internal/session"
)

// DiscountThreshold is the loyalty balance needed before a discount may even
// be requested. The backend re-checks it and is the final authority.
const DiscountThreshold = 400

var ErrEmptyCart = errors.New("cart is empty, nothing to checkout")

// CheckoutError reports which step failed. The cart is never touched by a
// failed attempt, so retrying with the same snapshot is safe for the caller.
type CheckoutError struct {
	Step string
	Err  error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout %s step failed (cart unchanged, safe to retry): %v", e.Step, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

type Options struct {
	RequestDiscount bool
	Method          domain.PaymentMethod
}

// Orchestrator turns a cart snapshot into an order plus payment and hands back
// the consolidated receipt. It keeps the last loyalty balance it saw so the
// discount hint can be gated client-side.
type Orchestrator struct {
	api *session.Client
	log *logrus.Logger

	mu           sync.Mutex
	balance      int
	balanceKnown bool
}

func New(api *session.Client, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{api: api, log: log}
}

// Balance fetches the current loyalty balance and remembers it.
func (o *Orchestrator) Balance(ctx context.Context) (int, error) {
	var resp domain.BalanceResponse
	if err := o.api.Get(ctx, "/loyalty/balance", &resp); err != nil {
		return 0, err
	}
	o.setBalance(resp.Points)
	return resp.Points, nil
}

// Checkout runs order creation, payment and balance refresh, in that order.
// Nothing in cart is mutated, on success or failure; only a returned Receipt
// tells the caller the cart may be cleared.
func (o *Orchestrator) Checkout(ctx context.Context, cart domain.CartSnapshot, opts Options) (domain.Receipt, error) {
	if len(cart) == 0 {
		return domain.Receipt{}, ErrEmptyCart
	}
	if opts.Method == "" {
		opts.Method = domain.PaymentCash
	}
	if !opts.Method.Valid() {
		return domain.Receipt{}, fmt.Errorf("unknown payment method %q", opts.Method)
	}

	// Advisory only; the backend recomputes everything that matters.
	estimatedPrep := cart.MaxPrepMinutes()
	apply := opts.RequestDiscount && o.discountEligible()
	if opts.RequestDiscount && !apply {
		o.log.WithField("threshold", DiscountThreshold).
			Debug("discount requested but known balance below threshold, sending without it")
	}

	var order domain.OrderResponse
	err := o.api.Post(ctx, "/orders", domain.OrderRequest{
		LineItems:     cart,
		ApplyDiscount: apply,
	}, &order)
	if err != nil {
		return domain.Receipt{}, &CheckoutError{Step: "order", Err: err}
	}

	err = o.api.Post(ctx, "/payments", domain.PaymentRequest{
		OrderID: order.OrderID,
		Amount:  order.ChargedAmount,
		Method:  opts.Method,
	}, nil)
	if err != nil {
		return domain.Receipt{}, &CheckoutError{Step: "payment", Err: err}
	}

	balance, err := o.Balance(ctx)
	if err != nil {
		// Payment already went through; degrade to a local estimate instead
		// of failing a completed checkout.
		o.log.WithError(err).Warn("balance refresh after payment failed, estimating")
		balance = o.estimateBalanceAfter(order)
	}

	readyMinutes := estimatedPrep
	if order.EstimatedReadyMinutes != nil {
		readyMinutes = *order.EstimatedReadyMinutes
	}

	receipt := domain.Receipt{
		OrderID:               order.OrderID,
		AmountCharged:         order.ChargedAmount,
		DiscountApplied:       order.DiscountApplied,
		PointsEarned:          order.PointsEarned,
		PointsBalanceAfter:    balance,
		EstimatedReadyMinutes: readyMinutes,
	}
	o.log.WithFields(logrus.Fields{
		"order_id": receipt.OrderID,
		"charged":  receipt.AmountCharged,
		"discount": receipt.DiscountApplied,
	}).Info("checkout completed")
	return receipt, nil
}

func (o *Orchestrator) discountEligible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.balanceKnown && o.balance >= DiscountThreshold
}

func (o *Orchestrator) setBalance(points int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.balance = points
	o.balanceKnown = true
}

func (o *Orchestrator) estimateBalanceAfter(order domain.OrderResponse) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.balanceKnown {
		return order.PointsEarned
	}
	estimate := o.balance + order.PointsEarned
	if order.DiscountApplied > 0 && estimate >= DiscountThreshold {
		estimate -= DiscountThreshold
	}
	return estimate
}
