package api

import (
	"context"
	"encoding/json"
	"os"
	"time"

	redis "github.com/redis/go-redis/v9"

	"ordersync/internal/model"
)

// EventBroker is the fan-out surface shared by the in-memory and Redis
// implementations.
type EventBroker interface {
	Subscribe(orderID string) chan OrderEvent
	Unsubscribe(orderID string, ch chan OrderEvent)
	Publish(orderID string, evt OrderEvent)
	PublishOrder(orderID string, evt model.StatusEvent)
}

// RedisBroker implements EventBroker over Redis Pub/Sub so multiple API
// replicas share one event stream (and the support-chat bridge can consume
// it out of process).
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker() (*RedisBroker, error) {
	url := os.Getenv("REDIS_URL")
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt)}, nil
}

func (b *RedisBroker) Subscribe(orderID string) chan OrderEvent {
	ch := make(chan OrderEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(orderID))
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt OrderEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(orderID string, ch chan OrderEvent) {
	// The reader goroutine exits when the PubSub channel closes; closing our
	// channel is enough for handlers.
	close(ch)
}

func (b *RedisBroker) Publish(orderID string, evt OrderEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(orderID), data).Err()
	_ = b.rdb.Publish(ctx, b.chanName(""), data).Err()
}

func (b *RedisBroker) PublishOrder(orderID string, evt model.StatusEvent) {
	b.Publish(orderID, OrderEvent{Type: "order.status_changed", Data: evt})
}

func (b *RedisBroker) chanName(orderID string) string {
	if orderID == "" {
		return "orders:events"
	}
	return "order:" + orderID
}
