package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bistro/internal/domain"
	"bistro/internal/session"
)

func testLogger() *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return lg
}

type backendScript struct {
	points        int
	orderResp     domain.OrderResponse
	failOrders    int32 // countdown of order calls to fail with 500
	failPayments  int32
	orderCalls    int32
	paymentCalls  int32
	lastOrderReq  domain.OrderRequest
	paymentAmount int64
}

func (b *backendScript) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/loyalty/balance", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.BalanceResponse{Points: b.points})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.orderCalls, 1)
		if atomic.AddInt32(&b.failOrders, -1) >= 0 {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "upstream down"})
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&b.lastOrderReq); err != nil {
			t.Errorf("decode order request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(b.orderResp)
	})
	mux.HandleFunc("/payments", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.paymentCalls, 1)
		if atomic.AddInt32(&b.failPayments, -1) >= 0 {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "card declined"})
			return
		}
		var req domain.PaymentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.paymentAmount = req.Amount
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	return httptest.NewServer(mux)
}

func newOrchestrator(t *testing.T, baseURL string) *Orchestrator {
	t.Helper()
	store := session.NewCredentialStore()
	store.Set(domain.Credential{AccessToken: "a", RefreshToken: "r"})
	return New(session.NewClient(baseURL, 2*time.Second, store, testLogger()), testLogger())
}

func intPtr(v int) *int { return &v }

func demoCart() domain.CartSnapshot {
	return domain.CartSnapshot{
		{ItemID: "1", UnitPrice: 199, Quantity: 2, PrepMinutes: 15, PointsPerUnit: 5},
	}
}

// Discount requested with a stale local balance of 500 points and the
// backend refuses the discount; every receipt field must mirror the
// backend response.
func TestCheckout_BackendIsDiscountAuthority(t *testing.T) {
	backend := &backendScript{
		points: 500,
		orderResp: domain.OrderResponse{
			OrderID:               "ord-1",
			ChargedAmount:         398,
			PointsEarned:          10,
			DiscountApplied:       0,
			EstimatedReadyMinutes: intPtr(15),
		},
	}
	srv := backend.server(t)
	defer srv.Close()

	o := newOrchestrator(t, srv.URL)
	if _, err := o.Balance(context.Background()); err != nil {
		t.Fatalf("balance: %v", err)
	}

	receipt, err := o.Checkout(context.Background(), demoCart(), Options{RequestDiscount: true, Method: domain.PaymentCard})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !backend.lastOrderReq.ApplyDiscount {
		t.Fatal("discount hint should have been sent, local balance was 500")
	}
	if receipt.AmountCharged != 398 {
		t.Fatalf("AmountCharged = %d, want 398", receipt.AmountCharged)
	}
	if receipt.DiscountApplied != 0 {
		t.Fatalf("DiscountApplied = %d, want 0 (backend said no)", receipt.DiscountApplied)
	}
	if receipt.PointsEarned != 10 {
		t.Fatalf("PointsEarned = %d, want 10", receipt.PointsEarned)
	}
	if receipt.EstimatedReadyMinutes != 15 {
		t.Fatalf("EstimatedReadyMinutes = %d, want 15", receipt.EstimatedReadyMinutes)
	}
	if backend.paymentAmount != 398 {
		t.Fatalf("payment used amount %d, want the authoritative 398", backend.paymentAmount)
	}
}

func TestCheckout_ReadyMinutesFallBackToClientEstimateOnlyWhenAbsent(t *testing.T) {
	backend := &backendScript{
		orderResp: domain.OrderResponse{OrderID: "ord-2", ChargedAmount: 398, PointsEarned: 10},
	}
	srv := backend.server(t)
	defer srv.Close()

	o := newOrchestrator(t, srv.URL)
	receipt, err := o.Checkout(context.Background(), demoCart(), Options{})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if receipt.EstimatedReadyMinutes != 15 {
		t.Fatalf("EstimatedReadyMinutes = %d, want the cart estimate 15", receipt.EstimatedReadyMinutes)
	}
}

func TestCheckout_DiscountHintSuppressedWhenBalanceUnknownOrLow(t *testing.T) {
	backend := &backendScript{
		points:    100,
		orderResp: domain.OrderResponse{OrderID: "ord-3", ChargedAmount: 398},
	}
	srv := backend.server(t)
	defer srv.Close()

	// Unknown balance: never fetched.
	o := newOrchestrator(t, srv.URL)
	if _, err := o.Checkout(context.Background(), demoCart(), Options{RequestDiscount: true}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if backend.lastOrderReq.ApplyDiscount {
		t.Fatal("discount hint must not be sent while the balance is unknown")
	}

	// Known but below threshold.
	if _, err := o.Balance(context.Background()); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if _, err := o.Checkout(context.Background(), demoCart(), Options{RequestDiscount: true}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if backend.lastOrderReq.ApplyDiscount {
		t.Fatal("discount hint must not be sent with 100 points")
	}
}

func TestCheckout_FailedAttemptLeavesCartUntouchedAndRetries(t *testing.T) {
	backend := &backendScript{
		orderResp:  domain.OrderResponse{OrderID: "ord-4", ChargedAmount: 398, PointsEarned: 10},
		failOrders: 1,
	}
	srv := backend.server(t)
	defer srv.Close()

	cart := demoCart()
	want := append(domain.CartSnapshot(nil), cart...)

	o := newOrchestrator(t, srv.URL)
	_, err := o.Checkout(context.Background(), cart, Options{})
	var checkoutErr *CheckoutError
	if !errors.As(err, &checkoutErr) || checkoutErr.Step != "order" {
		t.Fatalf("expected order-step CheckoutError, got %v", err)
	}
	if !reflect.DeepEqual(cart, want) {
		t.Fatalf("cart mutated by failed attempt: %+v", cart)
	}

	receipt, err := o.Checkout(context.Background(), cart, Options{})
	if err != nil {
		t.Fatalf("retry should succeed, got %v", err)
	}
	if receipt.OrderID != "ord-4" {
		t.Fatalf("OrderID = %q, want %q", receipt.OrderID, "ord-4")
	}
	if !reflect.DeepEqual(cart, want) {
		t.Fatalf("cart mutated by successful attempt: %+v", cart)
	}
}

func TestCheckout_PaymentFailureIsSurfaced(t *testing.T) {
	backend := &backendScript{
		orderResp:    domain.OrderResponse{OrderID: "ord-5", ChargedAmount: 398},
		failPayments: 1,
	}
	srv := backend.server(t)
	defer srv.Close()

	o := newOrchestrator(t, srv.URL)
	_, err := o.Checkout(context.Background(), demoCart(), Options{})
	var checkoutErr *CheckoutError
	if !errors.As(err, &checkoutErr) || checkoutErr.Step != "payment" {
		t.Fatalf("expected payment-step CheckoutError, got %v", err)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	o := newOrchestrator(t, "http://unused.invalid")
	if _, err := o.Checkout(context.Background(), nil, Options{}); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}
