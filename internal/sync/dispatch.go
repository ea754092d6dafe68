// Package sync contains the order-to-courier synchronization engine:
// idempotent dispatch, the reconciliation poller and the scheduler that
// drives both.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"ordersync/internal/courier"
	"ordersync/internal/metrics"
	"ordersync/internal/model"
	"ordersync/internal/store"
)

// ValidationError reports a local data problem that must be fixed by the
// merchant or an operator; it is not a partner-side failure and does not
// count as a dispatch attempt.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "order not dispatchable: " + strings.Join(e.Fields, ", ")
}

// Dispatcher hands orders to the courier exactly once.
type Dispatcher struct {
	Store   store.Store
	Courier courier.API
}

func NewDispatcher(s store.Store, c courier.API) *Dispatcher {
	return &Dispatcher{Store: s, Courier: c}
}

// Dispatch creates the remote order for a dispatch-eligible local order.
//
// Idempotency: if remote_order_id is already set the call is a success
// no-op, which is the primary defense against duplicate remote orders from
// retried requests or concurrent triggers. A lost conditional update is the
// same situation discovered later and is treated identically.
func (d *Dispatcher) Dispatch(ctx context.Context, o model.Order) (model.Order, error) {
	if o.RemoteOrderID != "" {
		metrics.DispatchAttempts.WithLabelValues("noop").Inc()
		return o, nil
	}
	if o.CanonicalStatus != model.StatusDispatchEligible {
		metrics.DispatchAttempts.WithLabelValues("noop").Inc()
		return o, nil
	}
	if verr := ValidateDispatchable(o); verr != nil {
		metrics.DispatchAttempts.WithLabelValues("validation").Inc()
		return o, verr
	}
	if d.Courier == nil {
		err := &courier.Error{Kind: courier.KindTransient, Message: "courier not configured"}
		if rerr := d.Store.RecordDispatchFailure(ctx, o.ID, err.Message, true, time.Now().UTC()); rerr != nil {
			log.Printf("dispatch: record failure for %s: %v", o.ID, rerr)
		}
		metrics.DispatchAttempts.WithLabelValues(courier.KindTransient.String()).Inc()
		return o, err
	}

	remoteID, err := d.Courier.CreateOrder(ctx, courier.CreateRequest{
		MerchantOrderID: o.ID,
		RecipientName:   o.RecipientName,
		Phone:           o.Phone,
		AltPhone:        o.AltPhone,
		Address:         o.Address,
		RegionID:        o.RegionID,
		CityID:          o.CityID,
		ItemCount:       o.ItemCount,
		TotalAmount:     o.TotalAmount,
		Notes:           o.Notes,
	})
	if err != nil {
		kind := courier.KindOf(err)
		retryable := courier.Retryable(err)
		if rerr := d.Store.RecordDispatchFailure(ctx, o.ID, err.Error(), retryable, time.Now().UTC()); rerr != nil {
			log.Printf("dispatch: record failure for %s: %v", o.ID, rerr)
		}
		metrics.DispatchAttempts.WithLabelValues(kind.String()).Inc()
		return o, fmt.Errorf("dispatch order %s: %w", o.ID, err)
	}

	updated, err := d.Store.MarkDispatched(ctx, o.ID, remoteID, model.StatusDispatchEligible)
	if errors.Is(err, store.ErrConflict) {
		// Someone else already moved this order; our remote create won the
		// partner side but the local row advanced first. Surface current row.
		log.Printf("dispatch: order %s moved concurrently, keeping remote %s unrecorded locally", o.ID, remoteID)
		metrics.DispatchAttempts.WithLabelValues("conflict").Inc()
		cur, gerr := d.Store.GetOrder(ctx, "", o.ID)
		if gerr != nil {
			return o, gerr
		}
		return cur, nil
	}
	if err != nil {
		return o, err
	}
	metrics.DispatchAttempts.WithLabelValues("ok").Inc()
	log.Printf("dispatch: order %s -> remote %s", o.ID, remoteID)
	return updated, nil
}

// ValidateDispatchable checks the delivery fields the courier requires:
// recipient name, at least one phone number, and a resolvable address or
// region. The API front door uses it to reject a dispatch-eligible move
// before anything is written.
func ValidateDispatchable(o model.Order) *ValidationError {
	missing := []string{}
	if strings.TrimSpace(o.RecipientName) == "" {
		missing = append(missing, "recipientName")
	}
	if strings.TrimSpace(o.Phone) == "" && strings.TrimSpace(o.AltPhone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(o.Address) == "" && strings.TrimSpace(o.RegionID) == "" {
		missing = append(missing, "address or regionId")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}
