package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"ordersync/internal/model"
)

func seedOrder(t *testing.T, m *Memory, status model.Status) model.Order {
	t.Helper()
	o, err := m.CreateOrder(context.Background(), "t1", model.OrderIn{
		RecipientName: "A Customer", Phone: "07901234567", Address: "12 High St", ItemCount: 1, TotalAmount: 30000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if status != model.StatusCreated {
		o, err = m.UpdateOrderStatus(context.Background(), o.ID, model.StatusCreated, status, model.StatusFields{})
		if err != nil {
			t.Fatalf("seed status: %v", err)
		}
	}
	return o
}

func TestConditionalUpdateConflict(t *testing.T) {
	m := NewMemory()
	o := seedOrder(t, m, model.StatusDispatchedPending)

	if _, err := m.UpdateOrderStatus(context.Background(), o.ID, model.StatusDispatchedPending, model.StatusInTransit, model.StatusFields{}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Second writer still believes the order is dispatched_pending.
	_, err := m.UpdateOrderStatus(context.Background(), o.ID, model.StatusDispatchedPending, model.StatusDelivered, model.StatusFields{})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestMarkDispatchedOnce(t *testing.T) {
	m := NewMemory()
	o := seedOrder(t, m, model.StatusDispatchEligible)

	got, err := m.MarkDispatched(context.Background(), o.ID, "CN-1", model.StatusDispatchEligible)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got.RemoteOrderID != "CN-1" || got.CanonicalStatus != model.StatusDispatchedPending {
		t.Fatalf("unexpected order after mark: %+v", got)
	}
	if _, err := m.MarkDispatched(context.Background(), o.ID, "CN-2", model.StatusDispatchEligible); !errors.Is(err, ErrConflict) {
		t.Fatalf("second mark must conflict, got %v", err)
	}
}

func TestSyncCandidateSelection(t *testing.T) {
	m := NewMemory()
	a := seedOrder(t, m, model.StatusDispatchEligible)
	if _, err := m.MarkDispatched(context.Background(), a.ID, "CN-A", model.StatusDispatchEligible); err != nil {
		t.Fatal(err)
	}
	b := seedOrder(t, m, model.StatusDispatchEligible)
	if _, err := m.MarkDispatched(context.Background(), b.ID, "CN-B", model.StatusDispatchEligible); err != nil {
		t.Fatal(err)
	}
	if _, err := m.UpdateOrderStatus(context.Background(), b.ID, model.StatusDispatchedPending, model.StatusDelivered, model.StatusFields{}); err != nil {
		t.Fatal(err)
	}
	seedOrder(t, m, model.StatusDispatchEligible) // never dispatched

	got, err := m.ListSyncCandidates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("expected only the non-terminal dispatched order, got %d", len(got))
	}
}

func TestRetryCandidates(t *testing.T) {
	m := NewMemory()
	o := seedOrder(t, m, model.StatusDispatchEligible)
	past := time.Now().Add(-time.Hour)
	if err := m.RecordDispatchFailure(context.Background(), o.ID, "courier transient (HTTP 503)", true, past); err != nil {
		t.Fatal(err)
	}

	got, err := m.ListRetryCandidates(context.Background(), time.Now().Add(-10*time.Minute), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 retry candidate, got %d", len(got))
	}

	// Too recent an attempt is not yet eligible.
	if err := m.RecordDispatchFailure(context.Background(), o.ID, "again", true, time.Now()); err != nil {
		t.Fatal(err)
	}
	got, _ = m.ListRetryCandidates(context.Background(), time.Now().Add(-10*time.Minute), 5)
	if len(got) != 0 {
		t.Fatalf("recent failure should not be eligible, got %d", len(got))
	}

	// Non-retryable (rejected) orders never appear.
	if err := m.RecordDispatchFailure(context.Background(), o.ID, "courier rejected (HTTP 422)", false, past); err != nil {
		t.Fatal(err)
	}
	got, _ = m.ListRetryCandidates(context.Background(), time.Now(), 5)
	if len(got) != 0 {
		t.Fatalf("rejected order must not be retried, got %d", len(got))
	}
	failed, _ := m.ListFailedOrders(context.Background(), "t1", 10)
	if len(failed) != 1 {
		t.Fatalf("rejected order should surface as failed, got %d", len(failed))
	}
}
