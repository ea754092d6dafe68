package courier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakePartner simulates the courier platform: a login endpoint issuing
// sequential tokens and order endpoints with scriptable behavior.
type fakePartner struct {
	mux         *http.ServeMux
	logins      atomic.Int64
	orderCalls  atomic.Int64
	statusCalls atomic.Int64
	ordersFn    func(w http.ResponseWriter, r *http.Request)
	statusFn    func(w http.ResponseWriter, r *http.Request)
}

func newFakePartner() *fakePartner {
	f := &fakePartner{mux: http.NewServeMux()}
	f.mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := f.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok" + string(rune('0'+n)), "expires_in": 3600})
	})
	f.mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		f.orderCalls.Add(1)
		if f.ordersFn != nil {
			f.ordersFn(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"consignment_id": "CN-1", "status": "accepted"})
	})
	f.mux.HandleFunc("/api/v1/orders/status/bulk", func(w http.ResponseWriter, r *http.Request) {
		f.statusCalls.Add(1)
		if f.statusFn != nil {
			f.statusFn(w, r)
			return
		}
		var req struct {
			ConsignmentIDs []string `json:"consignment_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := []map[string]any{}
		for _, id := range req.ConsignmentIDs {
			out = append(out, map[string]any{"consignment_id": id, "status_code": 3, "status_text": "In Transit"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"statuses": out})
	})
	return f
}

func newTestClient(t *testing.T, f *fakePartner, batchMax int) *Client {
	t.Helper()
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:   srv.URL,
		APIKey:    "k",
		APISecret: "s",
		Timeout:   2 * time.Second,
		RateLimit: 1000,
		Burst:     1000,
		BatchMax:  batchMax,
	})
}

func TestCreateOrderOK(t *testing.T) {
	f := newFakePartner()
	c := newTestClient(t, f, 50)
	id, err := c.CreateOrder(context.Background(), CreateRequest{MerchantOrderID: "o1", RecipientName: "A", Phone: "1"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if id != "CN-1" {
		t.Fatalf("got consignment id %q", id)
	}
	if f.logins.Load() != 1 {
		t.Fatalf("expected one login, got %d", f.logins.Load())
	}
}

func TestReauthOnceOn401(t *testing.T) {
	f := newFakePartner()
	f.ordersFn = func(w http.ResponseWriter, r *http.Request) {
		// First token is rejected; the refreshed one is accepted.
		if r.Header.Get("Authorization") == "Bearer tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "token expired"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"consignment_id": "CN-2"})
	}
	c := newTestClient(t, f, 50)
	id, err := c.CreateOrder(context.Background(), CreateRequest{MerchantOrderID: "o1"})
	if err != nil {
		t.Fatalf("CreateOrder after re-auth: %v", err)
	}
	if id != "CN-2" {
		t.Fatalf("got %q", id)
	}
	if f.logins.Load() != 2 {
		t.Fatalf("expected re-login, got %d logins", f.logins.Load())
	}
}

func TestSecond401IsAuthExpired(t *testing.T) {
	f := newFakePartner()
	f.ordersFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	c := newTestClient(t, f, 50)
	_, err := c.CreateOrder(context.Background(), CreateRequest{})
	if KindOf(err) != KindAuthExpired {
		t.Fatalf("want auth_expired, got %v", err)
	}
	if f.orderCalls.Load() != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", f.orderCalls.Load())
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"rejected", 422, `{"message":"invalid region"}`, KindRejected},
		{"server error", 500, `{"error":"boom"}`, KindTransient},
		{"rate limited", 429, ``, KindTransient},
		{"garbage body", 200, `<html>oops`, KindUnparseable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakePartner()
			f.ordersFn = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}
			c := newTestClient(t, f, 50)
			_, err := c.CreateOrder(context.Background(), CreateRequest{})
			if err == nil {
				t.Fatal("expected error")
			}
			if KindOf(err) != tc.want {
				t.Fatalf("want %s, got %v", tc.want, err)
			}
		})
	}
}

func TestRetryableByKind(t *testing.T) {
	if !Retryable(&Error{Kind: KindTransient}) || !Retryable(&Error{Kind: KindUnparseable}) || !Retryable(&Error{Kind: KindAuthExpired}) {
		t.Fatal("transient, unparseable and auth_expired must be retryable")
	}
	if Retryable(&Error{Kind: KindRejected}) {
		t.Fatal("rejected must not be retryable")
	}
}

func TestFetchStatusesChunks(t *testing.T) {
	f := newFakePartner()
	c := newTestClient(t, f, 2)
	ids := []string{"a", "b", "c", "d", "e"}
	got, err := c.FetchStatuses(context.Background(), ids)
	if err != nil {
		t.Fatalf("FetchStatuses: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d statuses", len(got))
	}
	if f.statusCalls.Load() != 3 {
		t.Fatalf("expected 3 chunked calls, got %d", f.statusCalls.Load())
	}
	if got["c"].Code != 3 {
		t.Fatalf("unexpected status %+v", got["c"])
	}
}
