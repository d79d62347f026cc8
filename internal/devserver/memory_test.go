package devserver

import (
	"errors"
	"testing"

	"bistro/internal/domain"
)

func seededStore() (*MemoryStore, Customer) {
	store := NewMemoryStore([]Customer{
		{ID: "cust-1", Email: "Demo@Bistro.local", Password: "demo", Points: 450},
	})
	c, _ := store.Customer("cust-1")
	return store, c
}

func TestMemoryStore_CustomerLookupIsCaseInsensitive(t *testing.T) {
	store, _ := seededStore()
	c, err := store.CustomerByEmail("demo@bistro.LOCAL")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if c.ID != "cust-1" {
		t.Fatalf("ID = %q, want cust-1", c.ID)
	}
	if _, err := store.CustomerByEmail("nobody@bistro.local"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_PointsSettleOnPaymentNotBefore(t *testing.T) {
	store, _ := seededStore()
	order, err := store.CreateOrder(Order{
		CustomerID:     "cust-1",
		ChargedAmount:  198,
		PointsEarned:   10,
		PointsRedeemed: 400,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if balance, _ := store.Points("cust-1"); balance != 450 {
		t.Fatalf("balance = %d, an unpaid order must not move points", balance)
	}

	// A rejected payment attempt moves nothing either.
	if _, err := store.RecordPayment(Payment{OrderID: order.ID, Amount: 1, Method: domain.PaymentCash}); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if balance, _ := store.Points("cust-1"); balance != 450 {
		t.Fatalf("balance = %d, a failed payment must not move points", balance)
	}

	if _, err := store.RecordPayment(Payment{OrderID: order.ID, Amount: 198, Method: domain.PaymentCash}); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if balance, _ := store.Points("cust-1"); balance != 60 {
		t.Fatalf("balance = %d, want 60 after redeeming 400 and earning 10", balance)
	}
}

func TestMemoryStore_RecordPaymentRefusesOverdrawnRedemption(t *testing.T) {
	store, _ := seededStore()
	first, _ := store.CreateOrder(Order{CustomerID: "cust-1", ChargedAmount: 100, PointsRedeemed: 400})
	second, _ := store.CreateOrder(Order{CustomerID: "cust-1", ChargedAmount: 100, PointsRedeemed: 400})

	if _, err := store.RecordPayment(Payment{OrderID: first.ID, Amount: 100, Method: domain.PaymentCash}); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if _, err := store.RecordPayment(Payment{OrderID: second.ID, Amount: 100, Method: domain.PaymentCash}); !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if balance, _ := store.Points("cust-1"); balance != 50 {
		t.Fatalf("balance = %d, want 50 after one redemption", balance)
	}
	if o, _ := store.Order(second.ID); o.Paid {
		t.Fatal("refused payment must not mark the order paid")
	}
}

func TestMemoryStore_RecordPaymentCreditsPointsOnce(t *testing.T) {
	store, _ := seededStore()
	order, err := store.CreateOrder(Order{
		CustomerID:    "cust-1",
		ChargedAmount: 398,
		PointsEarned:  10,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != domain.StatusReceived {
		t.Fatalf("status = %s, want RECEIVED", order.Status)
	}

	if _, err := store.RecordPayment(Payment{OrderID: order.ID, Amount: 100, Method: domain.PaymentCash}); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	paid, err := store.RecordPayment(Payment{OrderID: order.ID, Amount: 398, Method: domain.PaymentCash})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if !paid.Paid {
		t.Fatal("order should be marked paid")
	}
	if balance, _ := store.Points("cust-1"); balance != 460 {
		t.Fatalf("balance = %d, want 460 after earning 10", balance)
	}
	if _, err := store.RecordPayment(Payment{OrderID: order.ID, Amount: 398, Method: domain.PaymentCash}); !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if balance, _ := store.Points("cust-1"); balance != 460 {
		t.Fatalf("balance = %d, double payment must not credit twice", balance)
	}
}

func TestMemoryStore_UpdateOrderStatus(t *testing.T) {
	store, _ := seededStore()
	order, _ := store.CreateOrder(Order{CustomerID: "cust-1", ChargedAmount: 10})

	updated, err := store.UpdateOrderStatus(order.ID, domain.StatusPreparing, nil)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.StatusPreparing {
		t.Fatalf("status = %s, want PREPARING", updated.Status)
	}
	if _, err := store.UpdateOrderStatus("missing", domain.StatusReady, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
