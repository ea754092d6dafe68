package api

import (
	"sync"

	"ordersync/internal/model"
)

// OrderEvent is what live stream subscribers receive.
type OrderEvent struct {
	Type string            `json:"type"`
	Data model.StatusEvent `json:"data"`
}

// Broker fans order status events out to in-process subscribers (SSE and
// WebSocket handlers). Subscribing to the empty order id receives every
// event (firehose).
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan OrderEvent]struct{} // orderID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan OrderEvent]struct{}{}}
}

func (b *Broker) Subscribe(orderID string) chan OrderEvent {
	ch := make(chan OrderEvent, 8)
	b.mu.Lock()
	if b.subs[orderID] == nil {
		b.subs[orderID] = map[chan OrderEvent]struct{}{}
	}
	b.subs[orderID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(orderID string, ch chan OrderEvent) {
	b.mu.Lock()
	if m := b.subs[orderID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, orderID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(orderID string, evt OrderEvent) {
	b.mu.Lock()
	for ch := range b.subs[orderID] {
		select {
		case ch <- evt:
		default:
		}
	}
	// firehose subscribers
	for ch := range b.subs[""] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

// PublishOrder adapts the broker to the notifier's EventPublisher port.
func (b *Broker) PublishOrder(orderID string, evt model.StatusEvent) {
	b.Publish(orderID, OrderEvent{Type: "order.status_changed", Data: evt})
}
