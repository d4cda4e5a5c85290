package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/store"
)

const orderColumns = `id, series_id, service_id, customer_id, provider_id, scheduled_date, is_recurring,
	recurrence_type, recurrence_interval, recurrence_end_date, country, currency, base_price,
	discount_amount, platform_fee, total_price, coupon_code, status, cancellation_reason,
	paid_amount, remaining_amount, is_fully_paid, payment_status, reminder_enabled,
	reminder_sent_at, version, created_at, updated_at`

type orderRepo struct {
	q pgx.Tx
}

func scanOrder(row scanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.SeriesID, &o.ServiceID, &o.CustomerID, &o.ProviderID, &o.ScheduledDate, &o.IsRecurring,
		&o.RecurrenceType, &o.RecurrenceInterval, &o.RecurrenceEndDate, &o.Country, &o.Currency, &o.BasePrice,
		&o.DiscountAmount, &o.PlatformFee, &o.TotalPrice, &o.CouponCode, &o.Status, &o.CancellationReason,
		&o.PaidAmount, &o.RemainingAmount, &o.IsFullyPaid, &o.PaymentStatus, &o.ReminderEnabled,
		&o.ReminderSentAt, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (r orderRepo) Create(ctx context.Context, orders []*models.Order) error {
	const q = `INSERT INTO orders (id, series_id, service_id, customer_id, provider_id, scheduled_date, is_recurring,
		recurrence_type, recurrence_interval, recurrence_end_date, country, currency, base_price,
		discount_amount, platform_fee, total_price, coupon_code, status, cancellation_reason,
		paid_amount, remaining_amount, is_fully_paid, payment_status, reminder_enabled, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, 1)
		RETURNING version, created_at, updated_at`
	for _, o := range orders {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		err := r.q.QueryRow(ctx, q, o.ID, o.SeriesID, o.ServiceID, o.CustomerID, o.ProviderID, o.ScheduledDate, o.IsRecurring,
			o.RecurrenceType, o.RecurrenceInterval, o.RecurrenceEndDate, o.Country, o.Currency, o.BasePrice,
			o.DiscountAmount, o.PlatformFee, o.TotalPrice, o.CouponCode, o.Status, o.CancellationReason,
			o.PaidAmount, o.RemainingAmount, o.IsFullyPaid, o.PaymentStatus, o.ReminderEnabled).
			Scan(&o.Version, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (r orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r orderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (r orderRepo) Update(ctx context.Context, o *models.Order) error {
	const q = `UPDATE orders SET provider_id = $3, scheduled_date = $4, status = $5, cancellation_reason = $6,
		paid_amount = $7, remaining_amount = $8, is_fully_paid = $9, payment_status = $10,
		reminder_enabled = $11, reminder_sent_at = $12, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`
	err := r.q.QueryRow(ctx, q, o.ID, o.Version, o.ProviderID, o.ScheduledDate, o.Status, o.CancellationReason,
		o.PaidAmount, o.RemainingAmount, o.IsFullyPaid, o.PaymentStatus, o.ReminderEnabled, o.ReminderSentAt).
		Scan(&o.Version, &o.UpdatedAt)
	err = mapErr(err)
	if errors.Is(err, store.ErrNotFound) {
		// Either the row is gone or another writer bumped the version first.
		return store.ErrConflict
	}
	return err
}

func (r orderRepo) ExistsActiveAt(ctx context.Context, customerID, serviceID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM orders
		WHERE customer_id = $1 AND service_id = $2 AND scheduled_date = $3
		  AND status <> 'cancelled' AND ($4::uuid IS NULL OR id <> $4)
	)`
	var exists bool
	err := r.q.QueryRow(ctx, q, customerID, serviceID, at, excludeID).Scan(&exists)
	return exists, mapErr(err)
}

// list runs SELECT over orders with the given WHERE clause and tail.
func (r orderRepo) list(ctx context.Context, where, tail string, args ...any) ([]*models.Order, error) {
	rows, err := r.q.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY scheduled_date, id`+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

func (r orderRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Order, error) {
	return r.list(ctx, `customer_id = $1`, "", customerID)
}

func (r orderRepo) ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]*models.Order, error) {
	return r.list(ctx, `series_id = $1`, "", seriesID)
}

func (r orderRepo) ListDueForReminder(ctx context.Context, from, to time.Time) ([]*models.Order, error) {
	return r.list(ctx, `reminder_enabled AND reminder_sent_at IS NULL
		AND status NOT IN ('completed', 'cancelled')
		AND scheduled_date BETWEEN $1 AND $2`, ` FOR UPDATE SKIP LOCKED`, from, to)
}
