package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ordersync/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id::text, tenant_id, external_ref, recipient_name, phone, alt_phone, address, region_id, city_id,
	item_count, total_amount, notes, canonical_status, remote_order_id, remote_status_code, remote_status_text,
	last_synced_at, dispatch_attempts, last_dispatch_error, last_dispatch_at, dispatch_retryable,
	last_notified_status, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (model.Order, error) {
	var o model.Order
	var extRef, altPhone, address, regionID, cityID, notes sql.NullString
	var remoteID, remoteText, lastErr, notified sql.NullString
	var remoteCode sql.NullInt64
	var syncedAt, dispatchAt sql.NullTime
	var status string
	err := row.Scan(&o.ID, &o.TenantID, &extRef, &o.RecipientName, &o.Phone, &altPhone, &address, &regionID, &cityID,
		&o.ItemCount, &o.TotalAmount, &notes, &status, &remoteID, &remoteCode, &remoteText,
		&syncedAt, &o.DispatchAttempts, &lastErr, &dispatchAt, &o.DispatchRetryable,
		&notified, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, ErrNotFound
		}
		return o, err
	}
	o.ExternalRef = extRef.String
	o.AltPhone = altPhone.String
	o.Address = address.String
	o.RegionID = regionID.String
	o.CityID = cityID.String
	o.Notes = notes.String
	o.CanonicalStatus = model.Status(status)
	o.RemoteOrderID = remoteID.String
	o.RemoteStatusCode = int(remoteCode.Int64)
	o.RemoteStatusText = remoteText.String
	o.LastDispatchError = lastErr.String
	o.LastNotifiedStatus = model.Status(notified.String)
	if syncedAt.Valid {
		t := syncedAt.Time
		o.LastSyncedAt = &t
	}
	if dispatchAt.Valid {
		t := dispatchAt.Time
		o.LastDispatchAt = &t
	}
	return o, nil
}

func (p *Postgres) CreateOrder(ctx context.Context, tenantID string, in model.OrderIn) (model.Order, error) {
	id := uuid.New()
	_, err := p.db.ExecContext(ctx, `INSERT INTO orders
		(id, tenant_id, external_ref, recipient_name, phone, alt_phone, address, region_id, city_id, item_count, total_amount, notes, canonical_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		id, tenantID, nullIfEmpty(in.ExternalRef), in.RecipientName, in.Phone, nullIfEmpty(in.AltPhone),
		nullIfEmpty(in.Address), nullIfEmpty(in.RegionID), nullIfEmpty(in.CityID), in.ItemCount, in.TotalAmount,
		nullIfEmpty(in.Notes), string(model.StatusCreated))
	if err != nil {
		return model.Order{}, err
	}
	return p.GetOrder(ctx, tenantID, id.String())
}

func (p *Postgres) GetOrder(ctx context.Context, tenantID, id string) (model.Order, error) {
	if tenantID != "" {
		row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE tenant_id=$1 AND id=$2`, tenantID, id)
		return scanOrder(row)
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

func (p *Postgres) ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Order, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	// Simple keyset cursor on id text, same as the orders listing elsewhere.
	var rows *sql.Rows
	var err error
	switch {
	case status != "" && cursor != "":
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE tenant_id=$1 AND canonical_status=$2 AND id::text > $3 ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
	case status != "":
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE tenant_id=$1 AND canonical_status=$2 ORDER BY id LIMIT $3`, tenantID, status, limit)
	case cursor != "":
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	default:
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, o)
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) ListSyncCandidates(ctx context.Context) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE remote_order_id IS NOT NULL
		AND canonical_status NOT IN ('delivered','returned','cancelled','undeliverable')
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (p *Postgres) ListRetryCandidates(ctx context.Context, attemptedBefore time.Time, maxAttempts int) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE canonical_status='dispatch_eligible' AND remote_order_id IS NULL
		AND dispatch_retryable AND dispatch_attempts > 0 AND dispatch_attempts < $1
		AND (last_dispatch_at IS NULL OR last_dispatch_at <= $2)
		ORDER BY id`, maxAttempts, attemptedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (p *Postgres) ListFailedOrders(ctx context.Context, tenantID string, limit int) ([]model.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if tenantID != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
			WHERE tenant_id=$1 AND last_dispatch_error <> '' AND NOT dispatch_retryable ORDER BY updated_at DESC LIMIT $2`, tenantID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
			WHERE last_dispatch_error <> '' AND NOT dispatch_retryable ORDER BY updated_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// UpdateOrderStatus applies the transition only while the row still holds
// expectedOld ("update ... where canonical_status = expected"); zero rows
// affected surfaces as ErrConflict.
func (p *Postgres) UpdateOrderStatus(ctx context.Context, id string, expectedOld, newStatus model.Status, fields model.StatusFields) (model.Order, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET
			canonical_status=$1,
			remote_status_code = CASE WHEN $2 <> 0 THEN $2 ELSE remote_status_code END,
			remote_status_text = CASE WHEN $3 <> '' THEN $3 ELSE remote_status_text END,
			last_synced_at = COALESCE($4, last_synced_at),
			last_notified_status = CASE WHEN $5 <> '' THEN $5 ELSE last_notified_status END,
			notes = CASE WHEN $6 <> '' THEN $6 ELSE notes END,
			updated_at = now()
		WHERE id=$7 AND canonical_status=$8`,
		string(newStatus), fields.RemoteStatusCode, fields.RemoteStatusText, fields.LastSyncedAt,
		string(fields.LastNotifiedStatus), fields.Notes, id, string(expectedOld))
	if err != nil {
		return model.Order{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Order{}, ErrConflict
	}
	return p.GetOrder(ctx, "", id)
}

// MarkDispatched sets the remote id exactly once: the guard requires the
// expected status and a still-null remote_order_id.
func (p *Postgres) MarkDispatched(ctx context.Context, id, remoteOrderID string, expectedStatus model.Status) (model.Order, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET
			remote_order_id=$1, canonical_status=$2, dispatch_attempts=0, last_dispatch_error='',
			dispatch_retryable=false, last_dispatch_at=now(), updated_at=now()
		WHERE id=$3 AND canonical_status=$4 AND remote_order_id IS NULL`,
		remoteOrderID, string(model.StatusDispatchedPending), id, string(expectedStatus))
	if err != nil {
		return model.Order{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Order{}, ErrConflict
	}
	return p.GetOrder(ctx, "", id)
}

func (p *Postgres) RecordDispatchFailure(ctx context.Context, id, lastError string, retryable bool, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET
			dispatch_attempts = dispatch_attempts + 1, last_dispatch_error=$1, dispatch_retryable=$2,
			last_dispatch_at=$3, updated_at=now()
		WHERE id=$4`, lastError, retryable, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ClearDispatchError(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET
			dispatch_attempts=0, last_dispatch_error='', dispatch_retryable=false, updated_at=now()
		WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchSynced(ctx context.Context, id string, at time.Time, remoteCode int, remoteText string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE orders SET
			last_synced_at=$1,
			remote_status_code = CASE WHEN $2 <> 0 THEN $2 ELSE remote_status_code END,
			remote_status_text = CASE WHEN $3 <> '' THEN $3 ELSE remote_status_text END
		WHERE id=$4`, at, remoteCode, remoteText, id)
	return err
}

func (p *Postgres) LoadStatusMappings(ctx context.Context) ([]model.StatusMapping, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT remote_code, remote_text, canonical_status, category FROM status_mappings ORDER BY remote_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.StatusMapping{}
	for rows.Next() {
		var m model.StatusMapping
		var text sql.NullString
		var canonical, category string
		if err := rows.Scan(&m.RemoteCode, &text, &canonical, &category); err != nil {
			return nil, err
		}
		m.RemoteText = text.String
		m.Canonical = model.Status(canonical)
		m.Category = model.Category(category)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertStatusMappings(ctx context.Context, mappings []model.StatusMapping) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, m := range mappings {
		_, err := tx.ExecContext(ctx, `INSERT INTO status_mappings (remote_code, remote_text, canonical_status, category)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (remote_code) DO UPDATE SET remote_text=EXCLUDED.remote_text,
				canonical_status=EXCLUDED.canonical_status, category=EXCLUDED.category`,
			m.RemoteCode, nullIfEmpty(m.RemoteText), string(m.Canonical), string(m.Category))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) AppendNotification(ctx context.Context, rec NotificationRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO notification_log
			(id, order_id, tenant_id, old_status, new_status, channel, delivered, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		id, rec.OrderID, rec.TenantID, string(rec.OldStatus), string(rec.NewStatus), rec.Channel, rec.Delivered, nullIfEmpty(rec.Error))
	return err
}

func (p *Postgres) ListNotifications(ctx context.Context, orderID string, limit int) ([]NotificationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, order_id::text, tenant_id, old_status, new_status, channel, delivered, COALESCE(error,''), created_at
		FROM notification_log WHERE order_id=$1 ORDER BY created_at DESC LIMIT $2`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []NotificationRecord{}
	for rows.Next() {
		var r NotificationRecord
		var oldS, newS string
		if err := rows.Scan(&r.ID, &r.OrderID, &r.TenantID, &oldS, &newS, &r.Channel, &r.Delivered, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.OldStatus = model.Status(oldS)
		r.NewStatus = model.Status(newS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func collectOrders(rows *sql.Rows) ([]model.Order, error) {
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*Postgres)(nil)
