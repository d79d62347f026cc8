package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bistro/internal/domain"
	"bistro/internal/session"
)

type SubscriptionState string

const (
	StateConnecting SubscriptionState = "CONNECTING"
	StateOpen       SubscriptionState = "OPEN"
	StateClosed     SubscriptionState = "CLOSED"
)

// eventName is the SSE event type the backend emits for status changes.
const eventName = "order-status"

// Channel opens live order-status subscriptions. The access token is read
// from the credential store at every (re)connect; the channel never renews
// tokens itself. An expired credential just shows up as another transport
// drop, and the next reconnect picks up whatever the store holds by then.
type Channel struct {
	baseURL    string
	creds      *session.CredentialStore
	httpClient *http.Client
	retryBase  time.Duration
	retryMax   time.Duration
	log        *logrus.Logger

	// StateListener, when set before Subscribe, observes every state
	// transition of subscriptions opened through this channel.
	StateListener func(orderID string, state SubscriptionState)
}

func NewChannel(baseURL string, creds *session.CredentialStore, retryBase, retryMax time.Duration, log *logrus.Logger) *Channel {
	return &Channel{
		baseURL: baseURL,
		creds:   creds,
		// No client timeout: the stream stays open for the order's lifetime.
		httpClient: &http.Client{},
		retryBase:  retryBase,
		retryMax:   retryMax,
		log:        log,
	}
}

// Subscription is one live status feed for one order. Events arrive in the
// order the backend sent them, at least once each; the channel is closed
// after a terminal status or Close.
type Subscription struct {
	orderID  string
	events   chan domain.OrderStatusEvent
	cancel   context.CancelFunc
	done     chan struct{}
	listener func(orderID string, state SubscriptionState)

	mu     sync.Mutex
	state  SubscriptionState
	closed bool
}

// Subscribe opens a feed for orderID. The caller owns the subscription and
// must Close it when done.
func (c *Channel) Subscribe(orderID string) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		orderID:  orderID,
		events:   make(chan domain.OrderStatusEvent, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
		listener: c.StateListener,
		state:    StateConnecting,
	}
	if sub.listener != nil {
		sub.listener(orderID, StateConnecting)
	}
	go c.run(ctx, sub)
	return sub
}

func (s *Subscription) Events() <-chan domain.OrderStatusEvent {
	return s.events
}

func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the transport down and waits for the read loop to stop, so no
// event is delivered after it returns. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	if s.listener != nil {
		s.listener(s.orderID, state)
	}
}

func (c *Channel) run(ctx context.Context, sub *Subscription) {
	defer func() {
		sub.setState(StateClosed)
		close(sub.events)
		close(sub.done)
	}()

	delay := c.retryBase
	for {
		sub.setState(StateConnecting)
		opened, terminal, err := c.consume(ctx, sub)
		if ctx.Err() != nil || terminal {
			return
		}
		if opened {
			delay = c.retryBase
		}
		if err != nil {
			c.log.WithError(err).WithField("order_id", sub.orderID).
				Warnf("status stream dropped, reconnecting in %s", delay)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > c.retryMax {
			delay = c.retryMax
		}
	}
}

// consume holds one transport connection open and forwards its events.
// It returns when the connection drops (err), the context is cancelled, or a
// terminal status was delivered.
func (c *Channel) consume(ctx context.Context, sub *Subscription) (opened, terminal bool, err error) {
	url := fmt.Sprintf("%s/orders/%s/events", c.baseURL, sub.orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cred, ok := c.creds.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, false, fmt.Errorf("stream connect failed with status %d", resp.StatusCode)
	}

	sub.setState(StateOpen)
	opened = true

	var name string
	var data bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 && (name == eventName || name == "") {
				delivered, term := c.deliver(ctx, sub, data.Bytes())
				if !delivered {
					return opened, false, nil
				}
				if term {
					return opened, true, nil
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment, keepalive only.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	// EOF without Close counts as a transport drop.
	if scanErr := scanner.Err(); scanErr != nil {
		return opened, false, scanErr
	}
	return opened, false, io.ErrUnexpectedEOF
}

// deliver forwards one parsed event, preserving arrival order. delivered is
// false when the subscription was cancelled instead.
func (c *Channel) deliver(ctx context.Context, sub *Subscription, raw []byte) (delivered, terminal bool) {
	var ev domain.OrderStatusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.WithError(err).WithField("order_id", sub.orderID).Debug("dropping malformed status event")
		return true, false
	}
	if ev.OrderID == "" {
		ev.OrderID = sub.orderID
	}
	select {
	case sub.events <- ev:
	case <-ctx.Done():
		return false, false
	}
	return true, ev.Status.Terminal()
}
