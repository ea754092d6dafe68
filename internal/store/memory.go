package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ordersync/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// Conditional-update semantics match the Postgres implementation so the sync
// engine behaves identically in tests and dev.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]model.Order
	byTen    map[string][]string
	mappings map[int]model.StatusMapping
	notes    map[string][]NotificationRecord // orderID -> audit rows
}

func NewMemory() *Memory {
	return &Memory{
		orders:   map[string]model.Order{},
		byTen:    map[string][]string{},
		mappings: map[int]model.StatusMapping{},
		notes:    map[string][]NotificationRecord{},
	}
}

func (m *Memory) CreateOrder(ctx context.Context, tenantID string, in model.OrderIn) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	o := model.Order{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		ExternalRef:     in.ExternalRef,
		RecipientName:   in.RecipientName,
		Phone:           in.Phone,
		AltPhone:        in.AltPhone,
		Address:         in.Address,
		RegionID:        in.RegionID,
		CityID:          in.CityID,
		ItemCount:       in.ItemCount,
		TotalAmount:     in.TotalAmount,
		Notes:           in.Notes,
		CanonicalStatus: model.StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.orders[o.ID] = o
	m.byTen[tenantID] = append(m.byTen[tenantID], o.ID)
	return o, nil
}

func (m *Memory) GetOrder(ctx context.Context, tenantID, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || (tenantID != "" && o.TenantID != tenantID) {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Order, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	ids := m.byTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Order{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		o := m.orders[ids[i]]
		if status == "" || string(o.CanonicalStatus) == status {
			out = append(out, o)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) ListSyncCandidates(ctx context.Context) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if o.RemoteOrderID != "" && !model.IsTerminal(o.CanonicalStatus) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListRetryCandidates(ctx context.Context, attemptedBefore time.Time, maxAttempts int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if o.CanonicalStatus != model.StatusDispatchEligible || o.RemoteOrderID != "" {
			continue
		}
		if !o.DispatchRetryable || o.DispatchAttempts == 0 || o.DispatchAttempts >= maxAttempts {
			continue
		}
		if o.LastDispatchAt != nil && o.LastDispatchAt.After(attemptedBefore) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListFailedOrders(ctx context.Context, tenantID string, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []model.Order{}
	for _, o := range m.orders {
		if tenantID != "" && o.TenantID != tenantID {
			continue
		}
		if o.LastDispatchError != "" && !o.DispatchRetryable {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, id string, expectedOld, newStatus model.Status, fields model.StatusFields) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	if o.CanonicalStatus != expectedOld {
		return model.Order{}, ErrConflict
	}
	o.CanonicalStatus = newStatus
	if fields.RemoteStatusCode != 0 {
		o.RemoteStatusCode = fields.RemoteStatusCode
	}
	if fields.RemoteStatusText != "" {
		o.RemoteStatusText = fields.RemoteStatusText
	}
	if fields.LastSyncedAt != nil {
		o.LastSyncedAt = fields.LastSyncedAt
	}
	if fields.LastNotifiedStatus != "" {
		o.LastNotifiedStatus = fields.LastNotifiedStatus
	}
	if fields.Notes != "" {
		o.Notes = fields.Notes
	}
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return o, nil
}

func (m *Memory) MarkDispatched(ctx context.Context, id, remoteOrderID string, expectedStatus model.Status) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	if o.CanonicalStatus != expectedStatus || o.RemoteOrderID != "" {
		return model.Order{}, ErrConflict
	}
	now := time.Now().UTC()
	o.RemoteOrderID = remoteOrderID
	o.CanonicalStatus = model.StatusDispatchedPending
	o.DispatchAttempts = 0
	o.LastDispatchError = ""
	o.DispatchRetryable = false
	o.LastDispatchAt = &now
	o.UpdatedAt = now
	m.orders[id] = o
	return o, nil
}

func (m *Memory) RecordDispatchFailure(ctx context.Context, id, lastError string, retryable bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.DispatchAttempts++
	o.LastDispatchError = lastError
	o.DispatchRetryable = retryable
	o.LastDispatchAt = &at
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *Memory) ClearDispatchError(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.DispatchAttempts = 0
	o.LastDispatchError = ""
	o.DispatchRetryable = false
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *Memory) TouchSynced(ctx context.Context, id string, at time.Time, remoteCode int, remoteText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.LastSyncedAt = &at
	if remoteCode != 0 {
		o.RemoteStatusCode = remoteCode
	}
	if remoteText != "" {
		o.RemoteStatusText = remoteText
	}
	m.orders[id] = o
	return nil
}

func (m *Memory) LoadStatusMappings(ctx context.Context) ([]model.StatusMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.StatusMapping, 0, len(m.mappings))
	for _, r := range m.mappings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteCode < out[j].RemoteCode })
	return out, nil
}

func (m *Memory) UpsertStatusMappings(ctx context.Context, rows []model.StatusMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.mappings[r.RemoteCode] = r
	}
	return nil
}

func (m *Memory) AppendNotification(ctx context.Context, rec NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.notes[rec.OrderID] = append(m.notes[rec.OrderID], rec)
	return nil
}

func (m *Memory) ListNotifications(ctx context.Context, orderID string, limit int) ([]NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.notes[orderID]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]NotificationRecord, len(recs))
	copy(out, recs)
	return out, nil
}

var _ Store = (*Memory)(nil)
