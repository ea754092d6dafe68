package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"ordersync/internal/courier"
	"ordersync/internal/mapping"
	"ordersync/internal/model"
	"ordersync/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, o model.Order, old, new model.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, model.StatusEvent{OrderID: o.ID, OldStatus: old, NewStatus: new})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// seedDispatched creates an order that is live on the courier side.
func seedDispatched(t *testing.T, s store.Store, remoteID string) model.Order {
	t.Helper()
	o := seedEligible(t, s, completeOrderIn())
	o, err := s.MarkDispatched(context.Background(), o.ID, remoteID, model.StatusDispatchEligible)
	if err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	return o
}

func newTestReconciler(s store.Store, fc *fakeCourier, n Notifier) *Reconciler {
	return NewReconciler(s, fc, mapping.NewProvider(mapping.Defaults()), n)
}

func TestReconcileDeliveredNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	n := &recordingNotifier{}
	o := seedDispatched(t, s, "CN-1")
	fc := &fakeCourier{statuses: map[string]courier.RemoteStatus{
		"CN-1": {Code: 4, Text: "Delivered"},
	}}
	r := newTestReconciler(s, fc, n)

	stats, err := r.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if stats.OrdersExamined != 1 || stats.OrdersChanged != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	cur, _ := s.GetOrder(ctx, "", o.ID)
	if cur.CanonicalStatus != model.StatusDelivered {
		t.Fatalf("status = %s", cur.CanonicalStatus)
	}
	if cur.LastNotifiedStatus != model.StatusDelivered {
		t.Fatalf("notification marker = %s", cur.LastNotifiedStatus)
	}
	if cur.RemoteStatusCode != 4 || cur.RemoteStatusText != "Delivered" {
		t.Fatalf("remote snapshot = %d %q", cur.RemoteStatusCode, cur.RemoteStatusText)
	}
	if n.count() != 1 {
		t.Fatalf("notifications = %d", n.count())
	}

	// Terminal orders leave the candidate set; a second cycle is a no-op.
	stats, err = r.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if stats.OrdersExamined != 0 {
		t.Fatalf("delivered order re-examined: %+v", stats)
	}
	if n.count() != 1 {
		t.Fatalf("duplicate notification: %d", n.count())
	}
}

func TestReconcileUnknownCodeIsInert(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	n := &recordingNotifier{}
	o := seedDispatched(t, s, "CN-1")
	fc := &fakeCourier{statuses: map[string]courier.RemoteStatus{
		"CN-1": {Code: 99, Text: "Weird new state"},
	}}
	r := newTestReconciler(s, fc, n)

	stats, err := r.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if stats.UnknownCodes != 1 || stats.OrdersChanged != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	cur, _ := s.GetOrder(ctx, "", o.ID)
	if cur.CanonicalStatus != model.StatusDispatchedPending {
		t.Fatalf("unknown code must not change status, got %s", cur.CanonicalStatus)
	}
	if cur.RemoteStatusCode != 0 {
		t.Fatalf("unknown code must not overwrite the snapshot, got %d", cur.RemoteStatusCode)
	}
	if n.count() != 0 {
		t.Fatal("unknown code must not notify")
	}
}

func TestReconcileIgnoresBackwardMoves(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	n := &recordingNotifier{}
	o := seedDispatched(t, s, "CN-1")

	fc := &fakeCourier{statuses: map[string]courier.RemoteStatus{
		"CN-1": {Code: 3, Text: "In Transit"},
	}}
	r := newTestReconciler(s, fc, n)
	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// Partner later reports a stale "Pending" read.
	fc.mu.Lock()
	fc.statuses["CN-1"] = courier.RemoteStatus{Code: 1, Text: "Pending"}
	fc.mu.Unlock()
	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	cur, _ := s.GetOrder(ctx, "", o.ID)
	if cur.CanonicalStatus != model.StatusInTransit {
		t.Fatalf("stale read must not regress status, got %s", cur.CanonicalStatus)
	}
	if cur.LastSyncedAt == nil {
		t.Fatal("stale read still counts as a sync touch")
	}
}

func TestReconcileNotifiesOncePerTransition(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	n := &recordingNotifier{}
	seedDispatched(t, s, "CN-1")

	// Remote sequence A A B B C as seen across five cycles.
	seq := []courier.RemoteStatus{
		{Code: 1, Text: "Pending"},
		{Code: 1, Text: "Pending"},
		{Code: 3, Text: "In Transit"},
		{Code: 3, Text: "In Transit"},
		{Code: 4, Text: "Delivered"},
	}
	fc := &fakeCourier{statuses: map[string]courier.RemoteStatus{}}
	r := newTestReconciler(s, fc, n)
	for i, rs := range seq {
		fc.mu.Lock()
		fc.statuses["CN-1"] = rs
		fc.mu.Unlock()
		if _, err := r.RunCycle(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	// dispatched_pending -> in_transit and in_transit -> delivered. The
	// code-1 reads map to the status the order already holds.
	if n.count() != 2 {
		t.Fatalf("expected 2 notifications, got %d: %+v", n.count(), n.events)
	}
	if n.events[0].NewStatus != model.StatusInTransit || n.events[1].NewStatus != model.StatusDelivered {
		t.Fatalf("unexpected sequence: %+v", n.events)
	}
}

func TestReconcileFetchErrorCountsAndPropagates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedDispatched(t, s, "CN-1")
	fc := &fakeCourier{fetchErr: &courier.Error{Kind: courier.KindTransient, Message: "partner down"}}
	r := newTestReconciler(s, fc, &recordingNotifier{})

	stats, err := r.RunCycle(ctx)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if stats.Errors != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestReconcileManyOrders(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	n := &recordingNotifier{}
	statuses := map[string]courier.RemoteStatus{}
	for i := 0; i < 20; i++ {
		rid := fmt.Sprintf("CN-%02d", i)
		seedDispatched(t, s, rid)
		statuses[rid] = courier.RemoteStatus{Code: 2, Text: "Received by Agent"}
	}
	fc := &fakeCourier{statuses: statuses}
	r := newTestReconciler(s, fc, n)

	stats, err := r.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if stats.OrdersExamined != 20 || stats.OrdersChanged != 20 {
		t.Fatalf("stats = %+v", stats)
	}
	if n.count() != 20 {
		t.Fatalf("notifications = %d", n.count())
	}
}
