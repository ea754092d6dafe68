package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ordersync/internal/mapping"
	"ordersync/internal/model"
	"ordersync/internal/store"
	syncengine "ordersync/internal/sync"
)

// OrdersHandler handles POST/GET /v1/orders
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		var in model.OrderIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateOrderIn(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid order", err.Error(), r.URL.Path)
			return
		}
		o, err := s.Store.CreateOrder(r.Context(), p.Tenant, in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create order failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, o)
	case http.MethodGet:
		p := s.getPrincipal(r)
		status := r.URL.Query().Get("status")
		if status != "" {
			st, ok := model.ParseStatus(status)
			if !ok {
				writeProblem(w, http.StatusBadRequest, "Invalid status filter", "unknown status "+status, r.URL.Path)
				return
			}
			status = string(st)
		}
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListOrders(r.Context(), p.Tenant, status, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// OrderByIDHandler handles /v1/orders/{id} and its sub-resources:
//
//	GET  /v1/orders/{id}
//	PUT  /v1/orders/{id}/status
//	GET  /v1/orders/{id}/events/stream   (SSE)
//	GET  /v1/orders/{id}/notifications
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/orders/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	p := s.getPrincipal(r)

	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		s.streamOrderEvents(w, r, id)
		return
	}
	if len(parts) > 1 && parts[1] == "status" {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.updateOrderStatus(w, r, p, id)
		return
	}
	if len(parts) > 1 && parts[1] == "notifications" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		recs, err := s.Store.ListNotifications(r.Context(), id, 100)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List notifications failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": recs})
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	o, err := s.Store.GetOrder(r.Context(), p.Tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Order not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get order failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// updateOrderStatus applies a manual canonical transition. Entering
// dispatch_eligible triggers dispatch in the request path; courier-side
// failures do not fail the request (the order carries lastDispatchError),
// but local validation problems reject it before anything is written.
func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request, p Principal, id string) {
	var req model.StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	next, ok := model.ParseStatus(req.Status)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid status",
			fmt.Sprintf("unknown status %q (known: %v)", req.Status, model.Statuses), r.URL.Path)
		return
	}
	o, err := s.Store.GetOrder(r.Context(), p.Tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Order not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get order failed", err.Error(), r.URL.Path)
		return
	}
	if next == o.CanonicalStatus {
		writeJSON(w, http.StatusOK, o)
		return
	}
	if !model.CanTransition(o.CanonicalStatus, next) {
		writeProblem(w, http.StatusConflict, "Invalid transition",
			fmt.Sprintf("cannot move %s from %s to %s", id, o.CanonicalStatus, next), r.URL.Path)
		return
	}
	if next == model.StatusDispatchEligible && s.Dispatcher != nil {
		if verr := syncengine.ValidateDispatchable(o); verr != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Order not dispatchable", verr.Error(), r.URL.Path)
			return
		}
	}
	fields := model.StatusFields{Notes: req.Notes, ChangedBy: req.ChangedBy}
	if req.ChangedBy == "" {
		fields.ChangedBy = p.MerchantID
	}
	// Commit the notification marker with the transition so the reconciler
	// cannot double-notify the same move.
	fields.LastNotifiedStatus = next
	updated, err := s.Store.UpdateOrderStatus(r.Context(), id, o.CanonicalStatus, next, fields)
	if errors.Is(err, store.ErrConflict) {
		writeProblem(w, http.StatusConflict, "Order moved concurrently", "retry with fresh state", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Update status failed", err.Error(), r.URL.Path)
		return
	}
	if s.Notifier != nil {
		s.Notifier.Notify(r.Context(), updated, o.CanonicalStatus, next)
	}
	if next == model.StatusDispatchEligible && s.Dispatcher != nil {
		dispatched, derr := s.Dispatcher.Dispatch(r.Context(), updated)
		if derr != nil {
			// Courier-side failure: the transition already committed, so the
			// caller sees the order with lastDispatchError populated.
			cur, gerr := s.Store.GetOrder(r.Context(), p.Tenant, id)
			if gerr == nil {
				updated = cur
			}
		} else {
			updated = dispatched
		}
	}
	writeJSON(w, http.StatusOK, updated)
}

// streamOrderEvents serves SSE for one order's status events.
func (s *Server) streamOrderEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"orderId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
	flusher.Flush()
	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"orderId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// SyncForceHandler handles POST /v1/sync/force
func (s *Server) SyncForceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanOperate() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	stats, err := s.Scheduler.ForceSync(r.Context())
	if errors.Is(err, syncengine.ErrCycleInFlight) {
		writeProblem(w, http.StatusConflict, "Sync already running", "a cycle is in flight; try again shortly", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Sync failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SyncStatusHandler handles GET /v1/sync/status
func (s *Server) SyncStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Scheduler.Status())
}

// StatusMappingsHandler handles GET/PUT /v1/admin/status-mappings
func (s *Server) StatusMappingsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"mappings": s.Mappings.Current().Rows()})
	case http.MethodPut:
		var req struct {
			Mappings []model.StatusMapping `json:"mappings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateMappings(req.Mappings); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid mappings", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.UpsertStatusMappings(r.Context(), req.Mappings); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Persist mappings failed", err.Error(), r.URL.Path)
			return
		}
		rows, err := s.Store.LoadStatusMappings(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Reload mappings failed", err.Error(), r.URL.Path)
			return
		}
		// Readers on the hot path keep the old table until this swap.
		s.Mappings.Replace(append(mapping.Defaults(), rows...))
		writeJSON(w, http.StatusOK, map[string]any{"mappings": s.Mappings.Current().Rows()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// FailedOrdersHandler handles GET /v1/admin/orders/failed
func (s *Server) FailedOrdersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanOperate() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, err := s.Store.ListFailedOrders(r.Context(), p.Tenant, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List failed orders failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// RedispatchHandler handles POST /v1/admin/orders/{id}/redispatch
func (s *Server) RedispatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanOperate() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/orders/"), "/redispatch")
	o, err := s.Store.GetOrder(r.Context(), p.Tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Order not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get order failed", err.Error(), r.URL.Path)
		return
	}
	if o.RemoteOrderID != "" {
		writeProblem(w, http.StatusConflict, "Already dispatched", "order has remote id "+o.RemoteOrderID, r.URL.Path)
		return
	}
	if err := s.Store.ClearDispatchError(r.Context(), id); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Clear dispatch error failed", err.Error(), r.URL.Path)
		return
	}
	o.LastDispatchError = ""
	updated, derr := s.Dispatcher.Dispatch(r.Context(), o)
	var verr *syncengine.ValidationError
	if errors.As(derr, &verr) {
		writeProblem(w, http.StatusUnprocessableEntity, "Order not dispatchable", verr.Error(), r.URL.Path)
		return
	}
	if derr != nil {
		cur, gerr := s.Store.GetOrder(r.Context(), p.Tenant, id)
		if gerr == nil {
			updated = cur
		}
	}
	writeJSON(w, http.StatusOK, updated)
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles GET /readyz
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
