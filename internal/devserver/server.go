package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bistro/internal/config"
	"bistro/internal/domain"
)

type contextKey string

const contextKeyCustomerID contextKey = "customer_id"

const (
	discountPointsCost = 400
	discountAmount     = 200
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// Server is the local development backend the client core talks to. It is
// not the production service: passwords are plain, roles are absent and the
// status-transition endpoint is open to any signed-in user.
type Server struct {
	cfg    config.Config
	store  Store
	broker *broker
	log    *logrus.Logger
}

func NewServer(cfg config.Config, store Store, log *logrus.Logger) *Server {
	return &Server{cfg: cfg, store: store, broker: newBroker(), log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireCustomer)
		protected.Post("/auth/logout", s.handleLogout)
		protected.Post("/orders", s.handleCreateOrder)
		protected.Post("/payments", s.handlePayment)
		protected.Get("/loyalty/balance", s.handleBalance)
		protected.Get("/orders/{orderID}/events", s.handleOrderEvents)
		protected.Post("/orders/{orderID}/status", s.handleUpdateStatus)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	customer, err := s.store.CustomerByEmail(req.Email)
	if err != nil || customer.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	access, err := s.signToken(customer.ID, "access", s.cfg.AccessTokenTTL)
	if err == nil {
		var refresh string
		refresh, err = s.signToken(customer.ID, "refresh", s.cfg.RefreshTokenTTL)
		if err == nil {
			writeJSON(w, http.StatusOK, domain.Credential{AccessToken: access, RefreshToken: refresh})
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "failed to sign tokens")
}

// handleRefresh mints a new access token for a valid refresh bearer. The
// refresh token itself is left as-is, matching the client renewal contract.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	customerID, err := s.verifyToken(bearerToken(r), "refresh")
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if _, err := s.store.Customer(customerID); err != nil {
		writeError(w, http.StatusUnauthorized, "unknown customer")
		return
	}
	access, err := s.signToken(customerID, "access", s.cfg.AccessTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Tokens are stateless here; the client drops them locally.
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	customerID := customerFromContext(r.Context())
	var req domain.OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cart := domain.CartSnapshot(req.LineItems)
	if len(cart) == 0 {
		writeError(w, http.StatusBadRequest, "order needs at least one line item")
		return
	}

	subtotal := cart.Subtotal()
	var discount int64
	var redeemed int
	if req.ApplyDiscount {
		// The request flag is only a hint; the balance decides. Points are
		// not deducted yet, the payment step settles them so an abandoned
		// order costs nothing.
		points, err := s.store.Points(customerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "loyalty lookup failed")
			return
		}
		if points >= discountPointsCost {
			discount = discountAmount
			redeemed = discountPointsCost
		}
	}
	charged := subtotal - discount
	if charged < 0 {
		charged = 0
	}

	ready := cart.MaxPrepMinutes()
	order, err := s.store.CreateOrder(Order{
		ID:                    uuid.NewString(),
		CustomerID:            customerID,
		Status:                domain.StatusReceived,
		Subtotal:              subtotal,
		ChargedAmount:         charged,
		DiscountApplied:       discount,
		PointsEarned:          cart.PointsTotal(),
		PointsRedeemed:        redeemed,
		EstimatedReadyMinutes: ready,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}
	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"charged":  order.ChargedAmount,
		"discount": order.DiscountApplied,
	}).Info("order created")
	s.broker.publish(domain.OrderStatusEvent{OrderID: order.ID, Status: order.Status})

	writeJSON(w, http.StatusCreated, domain.OrderResponse{
		OrderID:               order.ID,
		ChargedAmount:         order.ChargedAmount,
		PointsEarned:          order.PointsEarned,
		DiscountApplied:       order.DiscountApplied,
		EstimatedReadyMinutes: &order.EstimatedReadyMinutes,
	})
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	customerID := customerFromContext(r.Context())
	var req domain.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Method.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown payment method %q", req.Method))
		return
	}
	order, err := s.store.Order(req.OrderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if order.CustomerID != customerID {
		writeError(w, http.StatusForbidden, "not your order")
		return
	}

	if _, err := s.store.RecordPayment(Payment{
		OrderID: req.OrderID,
		Amount:  req.Amount,
		Method:  req.Method,
	}); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyPaid):
			writeError(w, http.StatusConflict, "order already paid")
		case errors.Is(err, ErrAmountMismatch):
			writeError(w, http.StatusConflict, "amount does not match the order")
		case errors.Is(err, ErrInsufficientPoints):
			writeError(w, http.StatusConflict, "loyalty points no longer cover the discount")
		default:
			writeError(w, http.StatusInternalServerError, "failed to record payment")
		}
		return
	}
	s.log.WithField("order_id", req.OrderID).Info("payment recorded")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.Points(customerFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loyalty lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, domain.BalanceResponse{Points: points})
}

// handleUpdateStatus is the kitchen-side transition used by ops tooling and
// tests to drive an order through its lifecycle.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req struct {
		Status     domain.OrderStatus `json:"status"`
		ETAMinutes *int               `json:"eta_minutes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	var eta *time.Time
	if req.ETAMinutes != nil {
		at := time.Now().UTC().Add(time.Duration(*req.ETAMinutes) * time.Minute)
		eta = &at
	}
	order, err := s.store.UpdateOrderStatus(orderID, req.Status, eta)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	s.broker.publish(domain.OrderStatusEvent{OrderID: order.ID, Status: order.Status, ETA: order.ETA})
	writeJSON(w, http.StatusOK, map[string]string{"order_id": order.ID, "status": string(order.Status)})
}

// handleOrderEvents streams status changes as server-sent events. The current
// status is replayed on connect so a reconnecting client is never behind.
func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	orderID := chi.URLParam(r, "orderID")

	// Subscribe before reading the replay snapshot. A transition committed
	// after the read is published to the subscription; a transition committed
	// before it is in the snapshot. Reading first leaves a window where a
	// transition lands in neither and the client stalls on a stale status.
	ch := s.broker.subscribe(orderID)
	defer s.broker.unsubscribe(orderID, ch)

	order, err := s.store.Order(orderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if order.CustomerID != customerFromContext(r.Context()) {
		writeError(w, http.StatusForbidden, "not your order")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	current := domain.OrderStatusEvent{OrderID: order.ID, Status: order.Status, ETA: order.ETA}
	if err := writeSSE(w, flusher, current); err != nil {
		return
	}
	if current.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-ch:
			if err := writeSSE(w, flusher, ev); err != nil {
				return
			}
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev domain.OrderStatusEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: order-status\ndata: %s\n\n", raw); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) signToken(customerID, typ string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": customerID,
		"typ": typ,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *Server) verifyToken(raw, wantType string) (string, error) {
	if raw == "" {
		return "", errors.New("missing token")
	}
	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if typ, _ := claims["typ"].(string); typ != wantType {
		return "", fmt.Errorf("expected %s token", wantType)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing subject")
	}
	return sub, nil
}

func (s *Server) requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			// Transports without header support may pass the token in the
			// query string (the browser EventSource case).
			raw = r.URL.Query().Get("access_token")
		}
		customerID, err := s.verifyToken(raw, "access")
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing access token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCustomerID, customerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func customerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyCustomerID).(string)
	return id
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
