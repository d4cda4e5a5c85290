package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/notify"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/pkg/apperror"
)

// mutation changes ord in place. It returns false when there is nothing to write.
type mutation func(ctx context.Context, tx store.Tx, ord *models.Order) (bool, error)

// transition loads the order under lock, applies fn and writes it back with a version check.
func (o *Orchestrator) transition(ctx context.Context, op string, orderID uuid.UUID, fn mutation) (*models.Order, bool, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	var (
		out     *models.Order
		changed bool
	)
	err := o.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ord, err := loadForUpdate(ctx, tx, op, orderID)
		if err != nil {
			return err
		}
		changed, err = fn(ctx, tx, ord)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Orders().Update(ctx, ord); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return apperror.New(apperror.KindConcurrencyConflict, op, "order %s was modified concurrently, retry", orderID)
				}
				return apperror.Internal(op, err)
			}
		}
		out = ord
		return nil
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			o.logger.Error("order transition failed", zap.String("op", op), zap.String("order_id", orderID.String()), zap.Error(err))
		}
		return nil, false, err
	}
	return out, changed, nil
}

func loadForUpdate(ctx context.Context, tx store.Tx, op string, id uuid.UUID) (*models.Order, error) {
	ord, err := tx.Orders().GetForUpdate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.New(apperror.KindNotFound, op, "order %s not found", id)
	}
	if err != nil {
		return nil, apperror.Internal(op, err)
	}
	return ord, nil
}

func invalidTransition(op string, ord *models.Order, to models.OrderStatus) error {
	return apperror.New(apperror.KindInvalidState, op, "order %s cannot move from %s to %s", ord.ID, ord.Status, to)
}

// Accept assigns providerID and moves a pending order to accepted.
func (o *Orchestrator) Accept(ctx context.Context, orderID, providerID uuid.UUID) (*models.Order, error) {
	const op = "booking.Accept"
	if providerID == uuid.Nil {
		return nil, apperror.New(apperror.KindInvalidArgument, op, "provider is required")
	}
	ord, _, err := o.transition(ctx, op, orderID, func(_ context.Context, _ store.Tx, ord *models.Order) (bool, error) {
		if ord.Status != models.OrderStatusPending {
			return false, invalidTransition(op, ord, models.OrderStatusAccepted)
		}
		ord.Status = models.OrderStatusAccepted
		ord.ProviderID = &providerID
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.emit(ctx, ord, models.NotificationBookingAccepted, "Booking accepted",
		fmt.Sprintf("A provider accepted your booking on %s.", ord.ScheduledDate.Format("2006-01-02 15:04")), false)
	return ord, nil
}

// Start moves an accepted order to in_progress.
func (o *Orchestrator) Start(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	const op = "booking.Start"
	ord, _, err := o.transition(ctx, op, orderID, func(_ context.Context, _ store.Tx, ord *models.Order) (bool, error) {
		if ord.Status != models.OrderStatusAccepted {
			return false, invalidTransition(op, ord, models.OrderStatusInProgress)
		}
		ord.Status = models.OrderStatusInProgress
		return true, nil
	})
	return ord, err
}

// Complete moves an in_progress order to completed. Completing a completed order is a no-op.
func (o *Orchestrator) Complete(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	const op = "booking.Complete"
	ord, changed, err := o.transition(ctx, op, orderID, func(_ context.Context, _ store.Tx, ord *models.Order) (bool, error) {
		switch ord.Status {
		case models.OrderStatusCompleted:
			return false, nil
		case models.OrderStatusInProgress:
			ord.Status = models.OrderStatusCompleted
			return true, nil
		}
		return false, invalidTransition(op, ord, models.OrderStatusCompleted)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		o.logger.Info("order completed", zap.String("order_id", ord.ID.String()))
		o.emit(ctx, ord, models.NotificationOrderCompleted, "Service completed",
			fmt.Sprintf("Your service on %s is complete.", ord.ScheduledDate.Format("2006-01-02")), true)
	}
	return ord, nil
}

// Cancel cancels a non-terminal order and voids its invoice when still voidable.
// Coupon usage is never released.
func (o *Orchestrator) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error) {
	const op = "booking.Cancel"
	reason = strings.TrimSpace(reason)
	ord, _, err := o.transition(ctx, op, orderID, func(ctx context.Context, tx store.Tx, ord *models.Order) (bool, error) {
		if ord.Status.IsTerminal() {
			return false, invalidTransition(op, ord, models.OrderStatusCancelled)
		}
		ord.Status = models.OrderStatusCancelled
		ord.CancellationReason = reason
		if o.invoices != nil {
			if _, err := o.invoices.VoidForOrder(ctx, tx, ord.ID); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("order cancelled", zap.String("order_id", ord.ID.String()), zap.String("reason", reason))
	msg := fmt.Sprintf("Your booking on %s was cancelled.", ord.ScheduledDate.Format("2006-01-02 15:04"))
	if reason != "" {
		msg += " Reason: " + reason
	}
	o.emit(ctx, ord, models.NotificationBookingCancelled, "Booking cancelled", msg, true)
	return ord, nil
}

// Reschedule moves a non-terminal order to newDate after checking the new slot.
// On conflict the order is left untouched.
func (o *Orchestrator) Reschedule(ctx context.Context, orderID uuid.UUID, newDate time.Time) (*models.Order, error) {
	const op = "booking.Reschedule"
	if newDate.IsZero() {
		return nil, apperror.New(apperror.KindInvalidArgument, op, "new date is required")
	}
	target := normalizeTime(newDate)
	ord, _, err := o.transition(ctx, op, orderID, func(ctx context.Context, tx store.Tx, ord *models.Order) (bool, error) {
		if ord.Status.IsTerminal() {
			return false, apperror.New(apperror.KindInvalidState, op, "order %s is %s and cannot be rescheduled", ord.ID, ord.Status)
		}
		if ord.ScheduledDate.Equal(target) {
			return false, nil
		}
		exclude := ord.ID
		taken, err := o.conflicts.HasConflict(ctx, tx, ord.CustomerID, ord.ServiceID, target, &exclude)
		if err != nil {
			return false, err
		}
		if taken {
			return false, apperror.New(apperror.KindSchedulingConflict, op, "slot %s is already booked", target.Format(time.RFC3339))
		}
		ord.ScheduledDate = target
		ord.ReminderSentAt = nil
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ord, nil
}

// Get returns one order.
func (o *Orchestrator) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	const op = "booking.Get"
	var out *models.Order
	err := o.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ord, err := tx.Orders().GetByID(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.New(apperror.KindNotFound, op, "order %s not found", orderID)
		}
		if err != nil {
			return apperror.Internal(op, err)
		}
		out = ord
		return nil
	})
	return out, err
}

// ListByCustomer returns a customer's orders by scheduled date.
func (o *Orchestrator) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Order, error) {
	var out []*models.Order
	err := o.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Orders().ListByCustomer(ctx, customerID)
		return apperror.Internal("booking.ListByCustomer", err)
	})
	return out, err
}

// ListSeries returns every occurrence created by one booking request.
func (o *Orchestrator) ListSeries(ctx context.Context, seriesID uuid.UUID) ([]*models.Order, error) {
	const op = "booking.ListSeries"
	var out []*models.Order
	err := o.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Orders().ListBySeries(ctx, seriesID)
		if err != nil {
			return apperror.Internal(op, err)
		}
		if len(out) == 0 {
			return apperror.New(apperror.KindNotFound, op, "series %s not found", seriesID)
		}
		return nil
	})
	return out, err
}

// emit notifies the customer, and the assigned provider when toProvider is set.
func (o *Orchestrator) emit(ctx context.Context, ord *models.Order, kind models.NotificationKind, subject, msg string, toProvider bool) {
	orderID := ord.ID
	now := o.now().UTC()
	intents := []models.NotificationIntent{{
		Kind: kind, RecipientID: ord.CustomerID, RecipientRole: models.RecipientCustomer,
		OrderID: &orderID, Subject: subject, Message: msg, OccurredAt: now,
	}}
	if toProvider && ord.ProviderID != nil {
		intents = append(intents, models.NotificationIntent{
			Kind: kind, RecipientID: *ord.ProviderID, RecipientRole: models.RecipientProvider,
			OrderID: &orderID, Subject: subject, Message: msg, OccurredAt: now,
		})
	}
	notify.EmitAll(ctx, o.notifier, o.logger, intents...)
}
