// Package courier wraps the third-party delivery platform's HTTP API:
// session auth, remote order creation and bulk status reads. It performs no
// store access so it can be tested against a fake partner endpoint.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"ordersync/internal/metrics"
)

// API is the surface the sync engine consumes; tests substitute fakes.
type API interface {
	CreateOrder(ctx context.Context, req CreateRequest) (string, error)
	FetchStatuses(ctx context.Context, remoteIDs []string) (map[string]RemoteStatus, error)
}

// CreateRequest carries the delivery-relevant order fields to the partner.
// TotalAmount is the full undiscounted total; under-reporting it is a
// correctness bug, not a formatting choice.
type CreateRequest struct {
	MerchantOrderID string `json:"merchant_order_id"`
	RecipientName   string `json:"recipient_name"`
	Phone           string `json:"recipient_phone"`
	AltPhone        string `json:"alternative_phone,omitempty"`
	Address         string `json:"recipient_address,omitempty"`
	RegionID        string `json:"region_id,omitempty"`
	CityID          string `json:"city_id,omitempty"`
	ItemCount       int    `json:"item_quantity"`
	TotalAmount     int64  `json:"cod_amount"`
	Notes           string `json:"note,omitempty"`
}

// RemoteStatus is the raw courier view of one order's delivery status.
type RemoteStatus struct {
	Code int    `json:"status_code"`
	Text string `json:"status_text"`
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// RateLimit caps partner calls per second; Burst allows short spikes.
	RateLimit float64
	Burst     int
	// BatchMax is the partner's documented maximum ids per bulk status call.
	BatchMax int
}

// Client talks to the courier platform.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *authManager
	limiter    *rate.Limiter
	batchMax   int
}

func NewClient(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 10
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.BatchMax <= 0 {
		o.BatchMax = 50
	}
	return &Client{
		baseURL:    o.BaseURL,
		httpClient: &http.Client{Timeout: o.Timeout},
		auth:       newAuthManager(o.BaseURL+"/api/v1/auth/login", o.APIKey, o.APISecret, o.Timeout),
		limiter:    rate.NewLimiter(rate.Limit(o.RateLimit), o.Burst),
		batchMax:   o.BatchMax,
	}
}

type createResponse struct {
	ConsignmentID string `json:"consignment_id"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

// CreateOrder submits a remote order and returns the courier's consignment
// id. Exactly one partner call per invocation (plus at most one transparent
// re-auth retry).
func (c *Client) CreateOrder(ctx context.Context, req CreateRequest) (string, error) {
	var out createResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/orders", req, &out)
	observe("create", err)
	if err != nil {
		return "", err
	}
	if out.ConsignmentID == "" {
		return "", &Error{Kind: KindUnparseable, Message: "create response missing consignment_id"}
	}
	return out.ConsignmentID, nil
}

type bulkStatusRequest struct {
	ConsignmentIDs []string `json:"consignment_ids"`
}

type bulkStatusResponse struct {
	Statuses []struct {
		ConsignmentID string `json:"consignment_id"`
		RemoteStatus
	} `json:"statuses"`
}

// FetchStatuses reads current remote status for a batch of consignment ids
// in as few round-trips as the partner allows, chunking at the documented
// bulk maximum.
func (c *Client) FetchStatuses(ctx context.Context, remoteIDs []string) (map[string]RemoteStatus, error) {
	out := make(map[string]RemoteStatus, len(remoteIDs))
	for start := 0; start < len(remoteIDs); start += c.batchMax {
		end := start + c.batchMax
		if end > len(remoteIDs) {
			end = len(remoteIDs)
		}
		var resp bulkStatusResponse
		err := c.call(ctx, http.MethodPost, "/api/v1/orders/status/bulk", bulkStatusRequest{ConsignmentIDs: remoteIDs[start:end]}, &resp)
		observe("status_bulk", err)
		if err != nil {
			return nil, err
		}
		for _, s := range resp.Statuses {
			out[s.ConsignmentID] = s.RemoteStatus
		}
	}
	return out, nil
}

// call performs one authenticated request. On a 401 it invalidates the
// cached token and retries the single call once; a second 401 propagates as
// AuthExpired.
func (c *Client) call(ctx context.Context, method, path string, body, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransient, Message: err.Error()}
	}
	err := c.do(ctx, method, path, body, target)
	if KindOf(err) == KindAuthExpired {
		c.auth.Invalidate()
		err = c.do(ctx, method, path, body, target)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	tok, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindRejected, Message: fmt.Sprintf("marshal request: %v", err)}
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return &Error{Kind: KindTransient, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Includes timeouts; classified transient for the caller's backoff.
		return &Error{Kind: KindTransient, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &Error{Kind: KindAuthExpired, StatusCode: resp.StatusCode, Message: partnerMessage(raw)}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Message: partnerMessage(raw)}
	case resp.StatusCode >= 400:
		return &Error{Kind: KindRejected, StatusCode: resp.StatusCode, Message: partnerMessage(raw)}
	}

	if target != nil {
		if err := json.Unmarshal(raw, target); err != nil {
			log.Printf("courier: unparseable %s %s response (%d bytes): %v", method, path, len(raw), err)
			return &Error{Kind: KindUnparseable, StatusCode: resp.StatusCode, Message: err.Error()}
		}
	}
	return nil
}

func partnerMessage(raw []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if len(raw) > 256 {
		raw = raw[:256]
	}
	return string(raw)
}

func observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.CourierRequests.WithLabelValues(op, outcome).Inc()
}

var _ API = (*Client)(nil)
