package store

import (
	"context"
	"errors"
	"time"

	"ordersync/internal/model"
)

// Store is the persistence interface used by the API server and the sync
// engine. Status and remote-id mutations are conditional updates: the write
// applies only if the order is still in the expected prior state, otherwise
// ErrConflict is returned and the caller treats the attempt as already done
// by someone else.
type Store interface {
	// Orders
	CreateOrder(ctx context.Context, tenantID string, in model.OrderIn) (model.Order, error)
	GetOrder(ctx context.Context, tenantID, id string) (model.Order, error)
	ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) (items []model.Order, nextCursor string, err error)

	// Sync candidate selection
	ListSyncCandidates(ctx context.Context) ([]model.Order, error)
	ListRetryCandidates(ctx context.Context, attemptedBefore time.Time, maxAttempts int) ([]model.Order, error)
	ListFailedOrders(ctx context.Context, tenantID string, limit int) ([]model.Order, error)

	// Conditional mutations
	UpdateOrderStatus(ctx context.Context, id string, expectedOld, newStatus model.Status, fields model.StatusFields) (model.Order, error)
	MarkDispatched(ctx context.Context, id, remoteOrderID string, expectedStatus model.Status) (model.Order, error)
	RecordDispatchFailure(ctx context.Context, id, lastError string, retryable bool, at time.Time) error
	ClearDispatchError(ctx context.Context, id string) error
	TouchSynced(ctx context.Context, id string, at time.Time, remoteCode int, remoteText string) error

	// Status mapping table
	LoadStatusMappings(ctx context.Context) ([]model.StatusMapping, error)
	UpsertStatusMappings(ctx context.Context, rows []model.StatusMapping) error

	// Notification audit log
	AppendNotification(ctx context.Context, rec NotificationRecord) error
	ListNotifications(ctx context.Context, orderID string, limit int) ([]NotificationRecord, error)
}

// NotificationRecord is one audit row per notification channel emission.
type NotificationRecord struct {
	ID        string
	OrderID   string
	TenantID  string
	OldStatus model.Status
	NewStatus model.Status
	Channel   string
	Delivered bool
	Error     string
	CreatedAt time.Time
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional update lost: the order already moved.
	ErrConflict = errors.New("conditional update conflict")
)
