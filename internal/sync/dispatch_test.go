package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ordersync/internal/courier"
	"ordersync/internal/model"
	"ordersync/internal/store"
)

// fakeCourier scripts partner behavior for engine tests.
type fakeCourier struct {
	mu          sync.Mutex
	createCalls int
	createErr   error
	nextRemote  string
	statuses    map[string]courier.RemoteStatus
	fetchErr    error
	block       chan struct{} // when set, FetchStatuses waits on it
}

func (f *fakeCourier) CreateOrder(ctx context.Context, req courier.CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.nextRemote == "" {
		f.nextRemote = "CN-1"
	}
	return f.nextRemote, nil
}

func (f *fakeCourier) FetchStatuses(ctx context.Context, ids []string) (map[string]courier.RemoteStatus, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := map[string]courier.RemoteStatus{}
	for _, id := range ids {
		if rs, ok := f.statuses[id]; ok {
			out[id] = rs
		}
	}
	return out, nil
}

func (f *fakeCourier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func seedEligible(t *testing.T, s store.Store, in model.OrderIn) model.Order {
	t.Helper()
	ctx := context.Background()
	o, err := s.CreateOrder(ctx, "t_test", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	o, err = s.UpdateOrderStatus(ctx, o.ID, model.StatusCreated, model.StatusDispatchEligible, model.StatusFields{})
	if err != nil {
		t.Fatalf("move to eligible: %v", err)
	}
	return o
}

func completeOrderIn() model.OrderIn {
	return model.OrderIn{
		RecipientName: "Amina Rahman",
		Phone:         "07901234567",
		Address:       "12 Lake Road",
		ItemCount:     2,
		TotalAmount:   30000,
	}
}

func TestDispatchSetsRemoteIDOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fc := &fakeCourier{nextRemote: "CN-77"}
	d := NewDispatcher(s, fc)

	o := seedEligible(t, s, completeOrderIn())
	got, err := d.Dispatch(ctx, o)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.RemoteOrderID != "CN-77" {
		t.Fatalf("remote id = %q", got.RemoteOrderID)
	}
	if got.CanonicalStatus != model.StatusDispatchedPending {
		t.Fatalf("status = %s", got.CanonicalStatus)
	}

	// A second dispatch of the same order is a success no-op.
	again, err := d.Dispatch(ctx, got)
	if err != nil {
		t.Fatalf("re-dispatch: %v", err)
	}
	if again.RemoteOrderID != "CN-77" {
		t.Fatalf("remote id changed to %q", again.RemoteOrderID)
	}
	if fc.calls() != 1 {
		t.Fatalf("expected exactly one partner create, got %d", fc.calls())
	}
}

func TestDispatchValidationDoesNotCountAttempt(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fc := &fakeCourier{}
	d := NewDispatcher(s, fc)

	in := completeOrderIn()
	in.Phone = "" // no phone at all
	o := seedEligible(t, s, in)

	_, err := d.Dispatch(ctx, o)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if fc.calls() != 0 {
		t.Fatal("partner must not be called for invalid orders")
	}
	cur, _ := s.GetOrder(ctx, "", o.ID)
	if cur.DispatchAttempts != 0 {
		t.Fatalf("validation failure must not count as an attempt, got %d", cur.DispatchAttempts)
	}
	if cur.RemoteOrderID != "" {
		t.Fatalf("remote id must stay empty, got %q", cur.RemoteOrderID)
	}
}

func TestDispatchAltPhoneSatisfiesValidation(t *testing.T) {
	in := completeOrderIn()
	in.Phone = ""
	in.AltPhone = "07809999999"
	o := model.Order{RecipientName: in.RecipientName, AltPhone: in.AltPhone, Address: in.Address}
	if verr := ValidateDispatchable(o); verr != nil {
		t.Fatalf("alt phone should satisfy the phone requirement: %v", verr)
	}
}

func TestDispatchTransientFailureRecorded(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fc := &fakeCourier{createErr: &courier.Error{Kind: courier.KindTransient, StatusCode: 503, Message: "down"}}
	d := NewDispatcher(s, fc)

	o := seedEligible(t, s, completeOrderIn())
	if _, err := d.Dispatch(ctx, o); err == nil {
		t.Fatal("expected error")
	}
	cur, _ := s.GetOrder(ctx, "", o.ID)
	if cur.DispatchAttempts != 1 {
		t.Fatalf("attempts = %d", cur.DispatchAttempts)
	}
	if !cur.DispatchRetryable {
		t.Fatal("transient failure must be retryable")
	}
	if cur.CanonicalStatus != model.StatusDispatchEligible {
		t.Fatalf("order must stay eligible, got %s", cur.CanonicalStatus)
	}
}

func TestDispatchRejectedNotRetryable(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fc := &fakeCourier{createErr: &courier.Error{Kind: courier.KindRejected, StatusCode: 422, Message: "bad region"}}
	d := NewDispatcher(s, fc)

	o := seedEligible(t, s, completeOrderIn())
	if _, err := d.Dispatch(ctx, o); err == nil {
		t.Fatal("expected error")
	}
	cur, _ := s.GetOrder(ctx, "", o.ID)
	if cur.DispatchRetryable {
		t.Fatal("rejected failure must not be retryable")
	}
	failed, err := s.ListFailedOrders(ctx, "t_test", 10)
	if err != nil || len(failed) != 1 {
		t.Fatalf("failed orders = %d (%v)", len(failed), err)
	}
}

func TestDispatchConflictIsSilentNoop(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fc := &fakeCourier{nextRemote: "CN-9"}
	d := NewDispatcher(s, fc)

	o := seedEligible(t, s, completeOrderIn())
	// Simulate another actor moving the order after we read it.
	if _, err := s.UpdateOrderStatus(ctx, o.ID, model.StatusDispatchEligible, model.StatusCancelled, model.StatusFields{}); err != nil {
		t.Fatalf("concurrent move: %v", err)
	}
	got, err := d.Dispatch(ctx, o)
	if err != nil {
		t.Fatalf("conflict must not surface as an error: %v", err)
	}
	if got.CanonicalStatus != model.StatusCancelled {
		t.Fatalf("expected the winning state back, got %s", got.CanonicalStatus)
	}
}

func TestRetrySweepPicksParkedOrders(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fc := &fakeCourier{createErr: &courier.Error{Kind: courier.KindTransient, Message: "down"}}
	d := NewDispatcher(s, fc)

	o := seedEligible(t, s, completeOrderIn())
	_, _ = d.Dispatch(ctx, o)

	// Courier recovers.
	fc.mu.Lock()
	fc.createErr = nil
	fc.nextRemote = "CN-42"
	fc.mu.Unlock()

	sched := NewScheduler(NewReconciler(s, fc, nil, nil), d)
	sched.RetryAfter = 0
	sched.retrySweep(ctx)

	cur, _ := s.GetOrder(ctx, "", o.ID)
	if cur.RemoteOrderID != "CN-42" {
		t.Fatalf("sweep should have dispatched, remote id = %q", cur.RemoteOrderID)
	}

	more, _ := s.ListRetryCandidates(ctx, time.Now().UTC(), sched.MaxDispatchAttempts)
	if len(more) != 0 {
		t.Fatalf("no candidates expected after success, got %d", len(more))
	}
}
