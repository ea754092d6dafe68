package mapping

import (
	"testing"

	"ordersync/internal/model"
)

func TestResolveByCode(t *testing.T) {
	tbl := New(Defaults())
	st, cat, ok := tbl.Resolve(4, "whatever the partner says")
	if !ok || st != model.StatusDelivered || cat != model.CategoryTerminalSuccess {
		t.Fatalf("code 4: got (%s,%s,%v)", st, cat, ok)
	}
}

func TestResolveUnknownCode(t *testing.T) {
	tbl := New(Defaults())
	st, cat, ok := tbl.Resolve(999, "Delivered")
	if ok || st != "" || cat != model.CategoryUnknown {
		t.Fatalf("unmapped code must resolve unknown, got (%s,%s,%v)", st, cat, ok)
	}
}

func TestResolveTextFallback(t *testing.T) {
	tbl := New(Defaults())
	// Code absent: advisory text applies, case and whitespace folded.
	st, cat, ok := tbl.Resolve(0, "  DELIVERED ")
	if !ok || st != model.StatusDelivered || cat != model.CategoryTerminalSuccess {
		t.Fatalf("text fallback: got (%s,%s,%v)", st, cat, ok)
	}
	if _, _, ok := tbl.Resolve(0, "no such status"); ok {
		t.Fatal("unknown text must not resolve")
	}
}

func TestDefaultsCoverCourierReachableStatuses(t *testing.T) {
	tbl := New(Defaults())
	want := map[model.Status]bool{
		model.StatusDispatchedPending: false,
		model.StatusInTransit:         false,
		model.StatusDelivered:         false,
		model.StatusReturned:          false,
		model.StatusCancelled:         false,
		model.StatusUndeliverable:     false,
	}
	for _, m := range tbl.Rows() {
		want[m.Canonical] = true
		if model.CategoryOf(m.Canonical) != m.Category {
			t.Fatalf("code %d: category %s disagrees with canonical %s", m.RemoteCode, m.Category, m.Canonical)
		}
	}
	for st, covered := range want {
		if !covered {
			t.Fatalf("no remote code maps to %s", st)
		}
	}
}

func TestProviderSwap(t *testing.T) {
	p := NewProvider(Defaults())
	if _, _, ok := p.Current().Resolve(42, ""); ok {
		t.Fatal("42 should be unmapped initially")
	}
	rows := append(Defaults(), model.StatusMapping{
		RemoteCode: 42, RemoteText: "Hub Scan", Canonical: model.StatusInTransit, Category: model.CategoryInTransit,
	})
	p.Replace(rows)
	st, _, ok := p.Current().Resolve(42, "")
	if !ok || st != model.StatusInTransit {
		t.Fatalf("after swap: got (%s,%v)", st, ok)
	}
}
