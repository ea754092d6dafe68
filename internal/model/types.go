package model

import "time"

// Order is the sync-relevant view of a merchant order. The order store owns
// the row; this service reads and conditionally updates the fields below.
type Order struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	ExternalRef string `json:"externalRef,omitempty"`

	// Delivery-relevant merchant fields.
	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`
	AltPhone      string `json:"altPhone,omitempty"`
	Address       string `json:"address,omitempty"`
	RegionID      string `json:"regionId,omitempty"`
	CityID        string `json:"cityId,omitempty"`
	ItemCount     int    `json:"itemCount"`
	// TotalAmount is the full, undiscounted order total in minor units.
	// The courier must always see this value, never a discounted subtotal.
	TotalAmount int64  `json:"totalAmount"`
	Notes       string `json:"notes,omitempty"`

	CanonicalStatus Status `json:"canonicalStatus"`

	// RemoteOrderID is set exactly once when the courier accepts the order.
	RemoteOrderID    string `json:"remoteOrderId,omitempty"`
	RemoteStatusCode int    `json:"remoteStatusCode,omitempty"`
	RemoteStatusText string `json:"remoteStatusText,omitempty"`

	LastSyncedAt       *time.Time `json:"lastSyncedAt,omitempty"`
	DispatchAttempts   int        `json:"dispatchAttempts"`
	LastDispatchError  string     `json:"lastDispatchError,omitempty"`
	LastDispatchAt     *time.Time `json:"lastDispatchAt,omitempty"`
	DispatchRetryable  bool       `json:"dispatchRetryable,omitempty"`
	LastNotifiedStatus Status     `json:"lastNotifiedStatus,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OrderIn is the merchant-facing create payload.
type OrderIn struct {
	ExternalRef   string `json:"externalRef,omitempty"`
	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`
	AltPhone      string `json:"altPhone,omitempty"`
	Address       string `json:"address,omitempty"`
	RegionID      string `json:"regionId,omitempty"`
	CityID        string `json:"cityId,omitempty"`
	ItemCount     int    `json:"itemCount"`
	TotalAmount   int64  `json:"totalAmount"`
	Notes         string `json:"notes,omitempty"`
}

// StatusUpdateRequest is the body of PUT /v1/orders/{id}/status. Status may
// be canonical or a legacy alias.
type StatusUpdateRequest struct {
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	ChangedBy string `json:"changedBy,omitempty"`
}

// StatusFields carries the columns written together with a conditional
// status transition, so the remote snapshot, sync stamp and notification
// marker commit in the same step as the transition itself.
type StatusFields struct {
	RemoteStatusCode   int
	RemoteStatusText   string
	LastSyncedAt       *time.Time
	LastNotifiedStatus Status
	Notes              string
	ChangedBy          string
}

// StatusMapping is one row of the courier-code translation table.
// RemoteCode is authoritative; RemoteText is advisory, used for display and
// as a fallback when the code is absent from a partner payload.
type StatusMapping struct {
	RemoteCode int      `json:"remoteCode"`
	RemoteText string   `json:"remoteText,omitempty"`
	Canonical  Status   `json:"canonical"`
	Category   Category `json:"category"`
}

// StatusEvent is the notification payload emitted once per genuine
// canonical transition.
type StatusEvent struct {
	OrderID          string    `json:"orderId"`
	TenantID         string    `json:"tenantId"`
	OldStatus        Status    `json:"oldStatus"`
	NewStatus        Status    `json:"newStatus"`
	RemoteStatusText string    `json:"remoteStatusText,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// SyncRunStats summarizes one reconciliation cycle. Process-local, exposed
// for observability only.
type SyncRunStats struct {
	OrdersExamined int   `json:"ordersExamined"`
	OrdersChanged  int   `json:"ordersChanged"`
	UnknownCodes   int   `json:"unknownCodes"`
	Errors         int   `json:"errors"`
	DurationMs     int64 `json:"durationMs"`
}

// SchedulerStatus is the health snapshot served by GET /v1/sync/status.
type SchedulerStatus struct {
	IsRunning        bool       `json:"isRunning"`
	IsCyclingNow     bool       `json:"isCyclingNow"`
	LastCycleAt      *time.Time `json:"lastCycleAt,omitempty"`
	TotalCycles      int64      `json:"totalCycles"`
	SuccessfulCycles int64      `json:"successfulCycles"`
	FailedCycles     int64      `json:"failedCycles"`
	LastError        string     `json:"lastError,omitempty"`
}
