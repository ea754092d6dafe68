package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ordersync/internal/model"
)

// SupportChannel posts a human-readable line to the support chat bridge so
// agents see courier progress without opening the order.
type SupportChannel struct {
	URL  string
	HTTP *http.Client
}

func NewSupportChannel(url string) *SupportChannel {
	return &SupportChannel{URL: url, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func (c *SupportChannel) Name() string { return "support" }

func (c *SupportChannel) Send(ctx context.Context, evt model.StatusEvent) error {
	text := fmt.Sprintf("Order %s moved %s -> %s", evt.OrderID, evt.OldStatus, evt.NewStatus)
	if evt.RemoteStatusText != "" {
		text += fmt.Sprintf(" (courier: %s)", evt.RemoteStatusText)
	}
	body, _ := json.Marshal(map[string]string{
		"text":    text,
		"orderId": evt.OrderID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
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
