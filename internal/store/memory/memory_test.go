package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/store"
)

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	s.PutCoupon(models.Coupon{Code: "SAVE10", DiscountValue: decimal.NewFromInt(10), MaxUsage: 5, IsActive: true, Version: 1, ExpiryDate: time.Now().Add(time.Hour)})

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.Coupons().IncrementUsage(ctx, "SAVE10", 1)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, _ := s.Coupon("SAVE10")
	assert.Equal(t, 0, c.UsageCount)
	assert.Equal(t, 1, c.Version)
}

func TestIncrementUsageRejectsStaleVersionAndCap(t *testing.T) {
	s := New()
	s.PutCoupon(models.Coupon{Code: "ONCE", MaxUsage: 1, IsActive: true, Version: 3})

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.Coupons().IncrementUsage(ctx, "ONCE", 2)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.Coupons().IncrementUsage(ctx, "ONCE", 3)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Coupons().IncrementUsage(ctx, "ONCE", 4)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	c, _ := s.Coupon("ONCE")
	assert.Equal(t, 1, c.UsageCount)
}

func TestOrderSlotUniqueness(t *testing.T) {
	s := New()
	customer, service := uuid.New(), uuid.New()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	create := func(status models.OrderStatus) error {
		return s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.Orders().Create(ctx, []*models.Order{{CustomerID: customer, ServiceID: service, ScheduledDate: at, Status: status}})
		})
	}

	require.NoError(t, create(models.OrderStatusPending))
	assert.ErrorIs(t, create(models.OrderStatusPending), store.ErrConflict)
	assert.Equal(t, 1, s.OrderCount())
}

func TestOrderUpdateChecksVersion(t *testing.T) {
	s := New()
	o := models.Order{ID: uuid.New(), Status: models.OrderStatusPending, Version: 2}
	s.PutOrder(o)

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		stale := o
		stale.Version = 1
		return tx.Orders().Update(ctx, &stale)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	err = s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.Orders().GetForUpdate(ctx, o.ID)
		require.NoError(t, err)
		cur.Status = models.OrderStatusAccepted
		return tx.Orders().Update(ctx, cur)
	})
	require.NoError(t, err)

	got, _ := s.Order(o.ID)
	assert.Equal(t, models.OrderStatusAccepted, got.Status)
	assert.Equal(t, 3, got.Version)
}

func TestInvoiceNumbersAreNotReusedAfterRollback(t *testing.T) {
	s := New()
	var first, second int64
	_ = s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		first, _ = tx.Invoices().NextNumber(ctx)
		return errors.New("rollback")
	})
	_ = s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		second, _ = tx.Invoices().NextNumber(ctx)
		return nil
	})
	assert.Greater(t, second, first)
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
