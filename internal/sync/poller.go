package sync

import (
	"context"
	"errors"
	"log"
	"time"

	"ordersync/internal/courier"
	"ordersync/internal/mapping"
	"ordersync/internal/metrics"
	"ordersync/internal/model"
	"ordersync/internal/store"
)

// Notifier receives genuine canonical transitions. Emission failures are the
// notifier's problem; reconciliation never rolls back on them.
type Notifier interface {
	Notify(ctx context.Context, o model.Order, old, new model.Status)
}

// Reconciler runs one reconciliation pass: read the courier's view of every
// dispatched, non-terminal order and fold it into the local records.
type Reconciler struct {
	Store    store.Store
	Courier  courier.API
	Mappings *mapping.Provider
	Notifier Notifier

	// Deadline bounds one cycle; orders not reached are picked up next tick.
	Deadline time.Duration
}

func NewReconciler(s store.Store, c courier.API, mp *mapping.Provider, n Notifier) *Reconciler {
	return &Reconciler{Store: s, Courier: c, Mappings: mp, Notifier: n, Deadline: 2 * time.Minute}
}

// RunCycle executes one full reconciliation pass.
func (r *Reconciler) RunCycle(ctx context.Context) (model.SyncRunStats, error) {
	start := time.Now()
	stats := model.SyncRunStats{}
	if r.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Deadline)
		defer cancel()
	}

	orders, err := r.Store.ListSyncCandidates(ctx)
	if err != nil {
		return stats, err
	}
	if len(orders) == 0 || r.Courier == nil {
		stats.DurationMs = time.Since(start).Milliseconds()
		return stats, nil
	}

	ids := make([]string, 0, len(orders))
	byRemote := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.RemoteOrderID)
		byRemote[o.RemoteOrderID] = o
	}

	statuses, err := r.Courier.FetchStatuses(ctx, ids)
	if err != nil {
		stats.Errors++
		stats.DurationMs = time.Since(start).Milliseconds()
		return stats, err
	}

	tbl := r.Mappings.Current()
	for remoteID, rs := range statuses {
		if ctx.Err() != nil {
			// Soft deadline hit; the rest waits for the next tick.
			log.Printf("sync: cycle deadline reached after %d orders", stats.OrdersExamined)
			break
		}
		o, ok := byRemote[remoteID]
		if !ok {
			continue
		}
		stats.OrdersExamined++
		if err := r.reconcileOne(ctx, o, rs, tbl, &stats); err != nil {
			stats.Errors++
			log.Printf("sync: order %s: %v", o.ID, err)
		}
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	return stats, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, o model.Order, rs courier.RemoteStatus, tbl *mapping.Table, stats *model.SyncRunStats) error {
	next, category, ok := tbl.Resolve(rs.Code, rs.Text)
	if !ok || category == model.CategoryUnknown {
		// No information: never overwrite a known status. Surfaced for
		// mapping-table maintenance.
		stats.UnknownCodes++
		metrics.SyncOrders.WithLabelValues("unknown_code").Inc()
		log.Printf("sync: order %s: unmapped courier status code=%d text=%q", o.ID, rs.Code, rs.Text)
		return nil
	}

	now := time.Now().UTC()
	if next == o.CanonicalStatus {
		metrics.SyncOrders.WithLabelValues("unchanged").Inc()
		return r.Store.TouchSynced(ctx, o.ID, now, rs.Code, rs.Text)
	}

	if !model.CanTransition(o.CanonicalStatus, next) {
		// A stale or out-of-order remote read; terminal states are absorbing.
		metrics.SyncOrders.WithLabelValues("stale").Inc()
		log.Printf("sync: order %s: ignoring %s -> %s (not a forward transition)", o.ID, o.CanonicalStatus, next)
		return r.Store.TouchSynced(ctx, o.ID, now, 0, "")
	}

	fields := model.StatusFields{
		RemoteStatusCode: rs.Code,
		RemoteStatusText: rs.Text,
		LastSyncedAt:     &now,
	}
	willNotify := o.LastNotifiedStatus != next
	if willNotify {
		// The dedup marker commits in the same conditional step as the
		// transition itself.
		fields.LastNotifiedStatus = next
	}

	updated, err := r.Store.UpdateOrderStatus(ctx, o.ID, o.CanonicalStatus, next, fields)
	if errors.Is(err, store.ErrConflict) {
		// Someone else already moved this order.
		metrics.SyncOrders.WithLabelValues("conflict").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	stats.OrdersChanged++
	metrics.SyncOrders.WithLabelValues("changed").Inc()
	log.Printf("sync: order %s: %s -> %s (courier %d %q)", o.ID, o.CanonicalStatus, next, rs.Code, rs.Text)
	if willNotify && r.Notifier != nil {
		r.Notifier.Notify(ctx, updated, o.CanonicalStatus, next)
	}
	return nil
}
