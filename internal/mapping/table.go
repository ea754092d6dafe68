// Package mapping translates the courier platform's status vocabulary onto
// the canonical business statuses. The remote numeric code is the
// authoritative key; partner status text is advisory and only consulted when
// a payload arrives without a code.
package mapping

import (
	"strings"
	"sync/atomic"

	"ordersync/internal/model"
)

// Table is an immutable snapshot of the translation table. Reads are safe
// from any goroutine without synchronization.
type Table struct {
	byCode map[int]model.StatusMapping
	byText map[string]model.StatusMapping
}

// New builds a snapshot from rows. Later rows win on duplicate keys, which
// lets store-loaded rows override compiled-in defaults.
func New(rows []model.StatusMapping) *Table {
	t := &Table{
		byCode: make(map[int]model.StatusMapping, len(rows)),
		byText: make(map[string]model.StatusMapping, len(rows)),
	}
	for _, r := range rows {
		if r.RemoteCode != 0 {
			t.byCode[r.RemoteCode] = r
		}
		if k := foldText(r.RemoteText); k != "" {
			t.byText[k] = r
		}
	}
	return t
}

// Resolve maps a remote status onto the canonical vocabulary. A code of 0
// means the partner payload carried no code and the text fallback applies.
// Misses resolve to ("", unknown, false): no information, never a default.
func (t *Table) Resolve(code int, text string) (model.Status, model.Category, bool) {
	if code != 0 {
		if m, ok := t.byCode[code]; ok {
			return m.Canonical, m.Category, true
		}
		return "", model.CategoryUnknown, false
	}
	if m, ok := t.byText[foldText(text)]; ok {
		return m.Canonical, m.Category, true
	}
	return "", model.CategoryUnknown, false
}

// Rows returns the table contents for the admin listing.
func (t *Table) Rows() []model.StatusMapping {
	out := make([]model.StatusMapping, 0, len(t.byCode))
	for _, m := range t.byCode {
		out = append(out, m)
	}
	return out
}

// foldText normalizes partner status text; the partner is not consistent
// about casing or padding.
func foldText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Defaults is the compiled-in table covering the courier's documented codes.
// Store rows loaded at startup and admin upserts override it.
func Defaults() []model.StatusMapping {
	return []model.StatusMapping{
		{RemoteCode: 1, RemoteText: "Pending", Canonical: model.StatusDispatchedPending, Category: model.CategoryActive},
		{RemoteCode: 2, RemoteText: "Received by Agent", Canonical: model.StatusInTransit, Category: model.CategoryInTransit},
		{RemoteCode: 3, RemoteText: "In Transit", Canonical: model.StatusInTransit, Category: model.CategoryInTransit},
		{RemoteCode: 4, RemoteText: "Delivered", Canonical: model.StatusDelivered, Category: model.CategoryTerminalSuccess},
		{RemoteCode: 5, RemoteText: "Cancelled", Canonical: model.StatusCancelled, Category: model.CategoryTerminalFailure},
		{RemoteCode: 6, RemoteText: "Returned to Merchant", Canonical: model.StatusReturned, Category: model.CategoryTerminalFailure},
		{RemoteCode: 7, RemoteText: "Delivery Failed", Canonical: model.StatusUndeliverable, Category: model.CategoryTerminalFailure},
		{RemoteCode: 8, RemoteText: "On Hold", Canonical: model.StatusInTransit, Category: model.CategoryInTransit},
	}
}

// Provider hands the hot path an immutable snapshot and lets the admin
// surface swap it out-of-band.
type Provider struct {
	cur atomic.Pointer[Table]
}

func NewProvider(rows []model.StatusMapping) *Provider {
	p := &Provider{}
	p.cur.Store(New(rows))
	return p
}

// Current returns the active snapshot.
func (p *Provider) Current() *Table { return p.cur.Load() }

// Replace swaps in a new snapshot built from rows.
func (p *Provider) Replace(rows []model.StatusMapping) { p.cur.Store(New(rows)) }
