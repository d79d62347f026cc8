package devserver

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bistro/internal/domain"
)

// MemoryStore is the default store; state lives for the process lifetime.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string]Customer
	byEmail   map[string]string
	orders    map[string]Order
	payments  map[string]Payment
}

func NewMemoryStore(seed []Customer) *MemoryStore {
	s := &MemoryStore{
		customers: make(map[string]Customer),
		byEmail:   make(map[string]string),
		orders:    make(map[string]Order),
		payments:  make(map[string]Payment),
	}
	for _, c := range seed {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		s.customers[c.ID] = c
		s.byEmail[strings.ToLower(c.Email)] = c.ID
	}
	return s
}

func (s *MemoryStore) CustomerByEmail(email string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return s.customers[id], nil
}

func (s *MemoryStore) Customer(id string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Points(customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[customerID]
	if !ok {
		return 0, ErrNotFound
	}
	return c.Points, nil
}

func (s *MemoryStore) CreateOrder(o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = domain.StatusReceived
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	s.orders[o.ID] = o
	return o, nil
}

func (s *MemoryStore) Order(id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) RecordPayment(p Payment) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[p.OrderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.Paid {
		return o, ErrAlreadyPaid
	}
	if p.Amount != o.ChargedAmount {
		return o, ErrAmountMismatch
	}
	c, ok := s.customers[o.CustomerID]
	if !ok {
		return o, ErrNotFound
	}
	next := c.Points + o.PointsEarned - o.PointsRedeemed
	if next < 0 {
		return o, ErrInsufficientPoints
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.payments[p.ID] = p

	o.Paid = true
	s.orders[o.ID] = o
	c.Points = next
	s.customers[c.ID] = c
	return o, nil
}

func (s *MemoryStore) UpdateOrderStatus(id string, status domain.OrderStatus, eta *time.Time) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Status = status
	o.ETA = eta
	s.orders[id] = o
	return o, nil
}
