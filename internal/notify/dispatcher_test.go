package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ordersync/internal/model"
	"ordersync/internal/store"
)

func testEvent() (model.Order, model.Status, model.Status) {
	o := model.Order{
		ID:               "ord-1",
		TenantID:         "t_test",
		CanonicalStatus:  model.StatusDelivered,
		RemoteStatusText: "Delivered",
	}
	return o, model.StatusInTransit, model.StatusDelivered
}

func TestWebhookChannelSignsPayload(t *testing.T) {
	var gotBody []byte
	var gotSig, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := store.NewMemory()
	d := NewDispatcher(s, nil, NewWebhookChannel("push", srv.URL, "sekrit"))
	o, old, next := testEvent()
	d.Notify(context.Background(), o, old, next)

	if gotType != "order.status_changed" {
		t.Fatalf("event type = %q", gotType)
	}
	if !VerifyHMAC("sekrit", gotBody, gotSig) {
		t.Fatal("signature does not verify")
	}
	var evt model.StatusEvent
	if err := json.Unmarshal(gotBody, &evt); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if evt.OrderID != "ord-1" || evt.OldStatus != model.StatusInTransit || evt.NewStatus != model.StatusDelivered {
		t.Fatalf("payload = %+v", evt)
	}

	recs, _ := s.ListNotifications(context.Background(), "ord-1", 10)
	if len(recs) != 1 || !recs[0].Delivered {
		t.Fatalf("audit rows = %+v", recs)
	}
}

func TestChannelFailureIsToleratedAndAudited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := store.NewMemory()
	d := NewDispatcher(s, nil, NewWebhookChannel("push", srv.URL, ""))
	o, old, next := testEvent()
	// Notify must not panic or surface the failure.
	d.Notify(context.Background(), o, old, next)

	recs, _ := s.ListNotifications(context.Background(), "ord-1", 10)
	if len(recs) != 1 {
		t.Fatalf("audit rows = %d", len(recs))
	}
	if recs[0].Delivered || recs[0].Error == "" {
		t.Fatalf("failure not recorded: %+v", recs[0])
	}
}

func TestSupportChannelMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSupportChannel(srv.URL)
	o, old, next := testEvent()
	evt := model.StatusEvent{OrderID: o.ID, OldStatus: old, NewStatus: next, RemoteStatusText: o.RemoteStatusText}
	if err := ch.Send(context.Background(), evt); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["orderId"] != "ord-1" {
		t.Fatalf("body = %+v", got)
	}
	if want := "Order ord-1 moved in_transit -> delivered (courier: Delivered)"; got["text"] != want {
		t.Fatalf("text = %q", got["text"])
	}
}

type capturePublisher struct {
	orderID string
	evt     model.StatusEvent
}

func (p *capturePublisher) PublishOrder(orderID string, evt model.StatusEvent) {
	p.orderID = orderID
	p.evt = evt
}

func TestNotifyFansOutToBroker(t *testing.T) {
	p := &capturePublisher{}
	d := NewDispatcher(store.NewMemory(), p)
	o, old, next := testEvent()
	d.Notify(context.Background(), o, old, next)
	if p.orderID != "ord-1" || p.evt.NewStatus != model.StatusDelivered || p.evt.OldStatus != old {
		t.Fatalf("broker got %q %+v", p.orderID, p.evt)
	}
}
