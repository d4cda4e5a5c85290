package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/notify"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/pkg/apperror"
)

// DispatchReminders stamps ReminderSentAt on every live order scheduled within lead of now and
// emits one booking_reminder per order. An order is reminded at most once per scheduled date.
func (o *Orchestrator) DispatchReminders(ctx context.Context, now time.Time, lead time.Duration) (int, error) {
	const op = "booking.DispatchReminders"
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	now = now.UTC()
	var due []*models.Order
	err := o.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		orders, err := tx.Orders().ListDueForReminder(ctx, now, now.Add(lead))
		if err != nil {
			return apperror.Internal(op, err)
		}
		for _, ord := range orders {
			stamp := now
			ord.ReminderSentAt = &stamp
			if err := tx.Orders().Update(ctx, ord); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return apperror.New(apperror.KindConcurrencyConflict, op, "order %s changed during reminder sweep", ord.ID)
				}
				return apperror.Internal(op, err)
			}
		}
		due = orders
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, ord := range due {
		orderID := ord.ID
		notify.EmitAll(ctx, o.notifier, o.logger, models.NotificationIntent{
			Kind:          models.NotificationBookingReminder,
			RecipientID:   ord.CustomerID,
			RecipientRole: models.RecipientCustomer,
			OrderID:       &orderID,
			Subject:       "Upcoming booking",
			Message:       fmt.Sprintf("Reminder: your service is scheduled for %s.", ord.ScheduledDate.Format("2006-01-02 15:04")),
			OccurredAt:    now,
		})
	}
	if len(due) > 0 {
		o.logger.Info("booking reminders dispatched", zap.Int("count", len(due)))
	}
	return len(due), nil
}
