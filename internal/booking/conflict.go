package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/pkg/apperror"
)

// ConflictDetector answers whether a slot is already taken.
// Slots match on the exact instant; overlapping but different times do not conflict.
type ConflictDetector struct{}

// HasConflict reports a non-cancelled order for the same customer and service at date.
// excludeOrderID lets a reschedule ignore the order being moved.
func (ConflictDetector) HasConflict(ctx context.Context, tx store.Tx, customerID, serviceID uuid.UUID, date time.Time, excludeOrderID *uuid.UUID) (bool, error) {
	taken, err := tx.Orders().ExistsActiveAt(ctx, customerID, serviceID, date, excludeOrderID)
	if err != nil {
		return false, apperror.Internal("booking.HasConflict", err)
	}
	return taken, nil
}
