package devserver

import (
	"sync"

	"bistro/internal/domain"
)

// broker fans order-status events out to the SSE handlers listening on each
// order. Slow listeners drop events rather than block the publisher; the
// stream layer treats status updates as last-value-wins anyway.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.OrderStatusEvent]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[chan domain.OrderStatusEvent]struct{})}
}

func (b *broker) subscribe(orderID string) chan domain.OrderStatusEvent {
	ch := make(chan domain.OrderStatusEvent, 8)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[orderID] == nil {
		b.subs[orderID] = make(map[chan domain.OrderStatusEvent]struct{})
	}
	b.subs[orderID][ch] = struct{}{}
	return ch
}

func (b *broker) unsubscribe(orderID string, ch chan domain.OrderStatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if listeners, ok := b.subs[orderID]; ok {
		delete(listeners, ch)
		if len(listeners) == 0 {
			delete(b.subs, orderID)
		}
	}
}

func (b *broker) publish(ev domain.OrderStatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.OrderID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
