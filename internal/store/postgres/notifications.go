package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeserve/marketplace/internal/models"
)

// NotificationLogs records delivered notification intents.
type NotificationLogs struct {
	pool *pgxpool.Pool
}

// NewNotificationLogs creates a notification log repository.
func NewNotificationLogs(pool *pgxpool.Pool) *NotificationLogs {
	return &NotificationLogs{pool: pool}
}

// Record inserts a delivery record.
func (r *NotificationLogs) Record(ctx context.Context, l *models.NotificationLog) error {
	const q = `INSERT INTO notification_logs (kind, recipient_id, recipient_role, order_id, subject, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	return mapErr(r.pool.QueryRow(ctx, q, l.Kind, l.RecipientID, l.RecipientRole, l.OrderID,
		nullString(l.Subject), l.Status, nullString(l.ErrorMessage)).Scan(&l.ID, &l.CreatedAt))
}

// ListByOrder returns the delivery history of one order, newest first.
func (r *NotificationLogs) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.NotificationLog, error) {
	const q = `SELECT id, kind, recipient_id, recipient_role, order_id, subject, status, error_message, created_at
		FROM notification_logs WHERE order_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.NotificationLog
	for rows.Next() {
		var (
			l       models.NotificationLog
			subject *string
			errMsg  *string
		)
		if err := rows.Scan(&l.ID, &l.Kind, &l.RecipientID, &l.RecipientRole, &l.OrderID, &subject, &l.Status, &errMsg, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Subject = derefString(subject)
		l.ErrorMessage = derefString(errMsg)
		list = append(list, l)
	}
	return list, rows.Err()
}
