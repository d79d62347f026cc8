package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"bistro/internal/domain"
)

// PostgresStore backs the dev server with a real database so order and
// loyalty state survives restarts (STORE_MODE=postgres).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the dev tables and seeds the given customers if they
// are not present yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context, seed []Customer) error {
	statements := []string{
		`create table if not exists customers (
			id uuid primary key,
			email text not null unique,
			password text not null,
			points integer not null default 0
		)`,
		`create table if not exists orders (
			id uuid primary key,
			customer_id uuid not null references customers(id),
			status text not null,
			subtotal bigint not null,
			charged_amount bigint not null,
			discount_applied bigint not null,
			points_earned integer not null,
			points_redeemed integer not null default 0,
			estimated_ready_minutes integer not null,
			eta timestamptz,
			paid boolean not null default false,
			created_at timestamptz not null default now()
		)`,
		`create table if not exists payments (
			id uuid primary key,
			order_id uuid not null references orders(id),
			amount bigint not null,
			method text not null,
			created_at timestamptz not null default now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	for _, c := range seed {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into customers(id, email, password, points) values ($1, $2, $3, $4)
			 on conflict (email) do nothing`,
			c.ID, strings.ToLower(c.Email), c.Password, c.Points,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				return fmt.Errorf("seed customer %s: %s", c.Email, pqErr.Message)
			}
			return fmt.Errorf("seed customer %s: %w", c.Email, err)
		}
	}
	return nil
}

func (s *PostgresStore) CustomerByEmail(email string) (Customer, error) {
	return s.scanCustomer(s.db.QueryRow(
		`select id, email, password, points from customers where email = $1`,
		strings.ToLower(email),
	))
}

func (s *PostgresStore) Customer(id string) (Customer, error) {
	return s.scanCustomer(s.db.QueryRow(
		`select id, email, password, points from customers where id = $1`, id,
	))
}

func (s *PostgresStore) scanCustomer(row *sql.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Email, &c.Password, &c.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	return c, nil
}

func (s *PostgresStore) Points(customerID string) (int, error) {
	var points int
	err := s.db.QueryRow(`select points from customers where id = $1`, customerID).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return points, err
}

func (s *PostgresStore) CreateOrder(o Order) (Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = domain.StatusReceived
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`insert into orders(id, customer_id, status, subtotal, charged_amount,
		                    discount_applied, points_earned, points_redeemed,
		                    estimated_ready_minutes, eta, paid, created_at)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.CustomerID, string(o.Status), o.Subtotal, o.ChargedAmount,
		o.DiscountApplied, o.PointsEarned, o.PointsRedeemed,
		o.EstimatedReadyMinutes, o.ETA, o.Paid, o.CreatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *PostgresStore) Order(id string) (Order, error) {
	var o Order
	var status string
	err := s.db.QueryRow(
		`select id, customer_id, status, subtotal, charged_amount, discount_applied,
		        points_earned, points_redeemed, estimated_ready_minutes, eta, paid,
		        created_at
		 from orders where id = $1`, id,
	).Scan(&o.ID, &o.CustomerID, &status, &o.Subtotal, &o.ChargedAmount,
		&o.DiscountApplied, &o.PointsEarned, &o.PointsRedeemed,
		&o.EstimatedReadyMinutes, &o.ETA, &o.Paid, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func (s *PostgresStore) RecordPayment(p Payment) (Order, error) {
	order, err := s.Order(p.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Paid {
		return order, ErrAlreadyPaid
	}
	if p.Amount != order.ChargedAmount {
		return order, ErrAmountMismatch
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`insert into payments(id, order_id, amount, method, created_at)
		 values ($1, $2, $3, $4, $5)`,
		p.ID, p.OrderID, p.Amount, string(p.Method), p.CreatedAt,
	); err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(`update orders set paid = true where id = $1`, p.OrderID); err != nil {
		return Order{}, err
	}
	delta := order.PointsEarned - order.PointsRedeemed
	res, err := tx.Exec(
		`update customers set points = points + $2
		 where id = $1 and points + $2 >= 0`,
		order.CustomerID, delta,
	)
	if err != nil {
		return Order{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return order, ErrInsufficientPoints
	}
	if err := tx.Commit(); err != nil {
		return Order{}, err
	}
	order.Paid = true
	return order, nil
}

func (s *PostgresStore) UpdateOrderStatus(id string, status domain.OrderStatus, eta *time.Time) (Order, error) {
	res, err := s.db.Exec(
		`update orders set status = $2, eta = $3 where id = $1`,
		id, string(status), eta,
	)
	if err != nil {
		return Order{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Order{}, ErrNotFound
	}
	return s.Order(id)
}
