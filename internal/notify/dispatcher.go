// Package notify emits exactly one downstream notification per genuine
// canonical status transition: a signed webhook to the merchant push
// endpoint and a message to the human-support channel, plus the in-process
// event broker feeding the live streams.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"ordersync/internal/metrics"
	"ordersync/internal/model"
	"ordersync/internal/store"
)

// Channel delivers one status event to one downstream consumer.
type Channel interface {
	Name() string
	Send(ctx context.Context, evt model.StatusEvent) error
}

// EventPublisher fans events out to connected SSE/WebSocket clients.
type EventPublisher interface {
	PublishOrder(orderID string, evt model.StatusEvent)
}

// Dispatcher routes transition events to all configured channels. Status
// truth never depends on channel availability: failures are logged and
// recorded, nothing is rolled back, and the dedup marker was already
// committed with the transition.
type Dispatcher struct {
	Store    store.Store
	Channels []Channel
	Broker   EventPublisher
	Timeout  time.Duration
}

func NewDispatcher(s store.Store, broker EventPublisher, channels ...Channel) *Dispatcher {
	return &Dispatcher{Store: s, Channels: channels, Broker: broker, Timeout: 10 * time.Second}
}

// Notify emits the event for old -> new. Callers only invoke this for
// genuine transitions; the last_notified_status guard upstream makes the
// emission at-most-once per transition.
func (d *Dispatcher) Notify(ctx context.Context, o model.Order, old, new model.Status) {
	evt := model.StatusEvent{
		OrderID:          o.ID,
		TenantID:         o.TenantID,
		OldStatus:        old,
		NewStatus:        new,
		RemoteStatusText: o.RemoteStatusText,
		Timestamp:        time.Now().UTC(),
	}

	if d.Broker != nil {
		d.Broker.PublishOrder(o.ID, evt)
	}

	sendCtx := context.WithoutCancel(ctx)
	for _, ch := range d.Channels {
		cctx, cancel := context.WithTimeout(sendCtx, d.Timeout)
		err := ch.Send(cctx, evt)
		cancel()
		status := "ok"
		if err != nil {
			status = "error"
			log.Printf("notify: %s channel failed for order %s (%s -> %s): %v", ch.Name(), o.ID, old, new, err)
		}
		metrics.Notifications.WithLabelValues(ch.Name(), status).Inc()
		if d.Store != nil {
			rec := store.NotificationRecord{
				OrderID:   o.ID,
				TenantID:  o.TenantID,
				OldStatus: old,
				NewStatus: new,
				Channel:   ch.Name(),
				Delivered: err == nil,
			}
			if err != nil {
				rec.Error = err.Error()
			}
			if aerr := d.Store.AppendNotification(sendCtx, rec); aerr != nil {
				log.Printf("notify: audit append for order %s: %v", o.ID, aerr)
			}
		}
	}
}

// WebhookChannel POSTs HMAC-signed events to the merchant push endpoint.
type WebhookChannel struct {
	URL    string
	Secret string
	HTTP   *http.Client
	name   string
}

func NewWebhookChannel(name, url, secret string) *WebhookChannel {
	return &WebhookChannel{URL: url, Secret: secret, HTTP: &http.Client{Timeout: 5 * time.Second}, name: name}
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Send(ctx context.Context, evt model.StatusEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", "order.status_changed")
	if c.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(c.Secret, body))
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Code: resp.StatusCode}
	}
	return nil
}

// DeliveryError reports a non-2xx channel response.
type DeliveryError struct {
	Code int
}

func (e *DeliveryError) Error() string {
	return http.StatusText(e.Code) + " from notification endpoint"
}
