// Package coupons validates and redeems flat-amount discount codes.
package coupons

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/pkg/apperror"
)

// Validator checks coupon applicability and consumes usage.
type Validator struct {
	store  store.Store
	logger *zap.Logger
}

// NewValidator creates a coupon validator.
func NewValidator(s store.Store, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{store: s, logger: logger}
}

// TryApply redeems code inside tx and returns its discount value.
// The usage increment is part of tx, so it is undone if the caller rolls back.
func (v *Validator) TryApply(ctx context.Context, tx store.Tx, code string, now time.Time) (decimal.Decimal, error) {
	const op = "coupons.TryApply"

	c, err := lookup(ctx, tx, op, code)
	if err != nil {
		return decimal.Zero, err
	}
	if err := check(op, c, now); err != nil {
		return decimal.Zero, err
	}

	ok, err := tx.Coupons().IncrementUsage(ctx, c.Code, c.Version)
	if err != nil {
		return decimal.Zero, apperror.Internal(op, err)
	}
	if !ok {
		v.logger.Warn("coupon usage race lost", zap.String("code", c.Code), zap.Int("version", c.Version))
		return decimal.Zero, apperror.New(apperror.KindConcurrencyConflict, op, "coupon %s was redeemed concurrently, retry", c.Code)
	}
	return c.DiscountValue, nil
}

// Preview reports whether code is applicable at now without consuming it.
func (v *Validator) Preview(ctx context.Context, code string, now time.Time) (*models.Coupon, error) {
	const op = "coupons.Preview"
	var out *models.Coupon
	err := v.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := lookup(ctx, tx, op, code)
		if err != nil {
			return err
		}
		if err := check(op, c, now); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// CreateInput is the admin payload for a new coupon.
type CreateInput struct {
	Code          string
	DiscountValue decimal.Decimal
	ExpiryDate    time.Time
	MaxUsage      int
}

// Create stores a new active coupon with zero usage.
func (v *Validator) Create(ctx context.Context, in CreateInput) (*models.Coupon, error) {
	const op = "coupons.Create"
	code := strings.TrimSpace(in.Code)
	switch {
	case code == "":
		return nil, apperror.New(apperror.KindInvalidArgument, op, "code is required")
	case !in.DiscountValue.IsPositive():
		return nil, apperror.New(apperror.KindInvalidArgument, op, "discount value must be positive")
	case in.MaxUsage < 1:
		return nil, apperror.New(apperror.KindInvalidArgument, op, "max usage must be at least 1")
	case in.ExpiryDate.IsZero():
		return nil, apperror.New(apperror.KindInvalidArgument, op, "expiry date is required")
	}

	c := &models.Coupon{
		Code:          code,
		DiscountValue: in.DiscountValue.Round(2),
		ExpiryDate:    in.ExpiryDate.UTC(),
		MaxUsage:      in.MaxUsage,
		IsActive:      true,
	}
	err := v.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Coupons().Create(ctx, c); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperror.New(apperror.KindInvalidArgument, op, "coupon %s already exists", code)
			}
			return apperror.Internal(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.logger.Info("coupon created", zap.String("code", c.Code), zap.Int("max_usage", c.MaxUsage))
	return c, nil
}

func lookup(ctx context.Context, tx store.Tx, op, code string) (*models.Coupon, error) {
	c, err := tx.Coupons().GetByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.New(apperror.KindNotFound, op, "coupon %s not found", code)
	}
	if err != nil {
		return nil, apperror.Internal(op, err)
	}
	return c, nil
}

func check(op string, c *models.Coupon, now time.Time) error {
	switch {
	case !c.IsActive:
		return apperror.New(apperror.KindInvalidCoupon, op, "coupon %s is inactive", c.Code)
	case !now.Before(c.ExpiryDate):
		return apperror.New(apperror.KindInvalidCoupon, op, "coupon %s has expired", c.Code)
	case c.UsageCount >= c.MaxUsage:
		return apperror.New(apperror.KindInvalidCoupon, op, "coupon %s has reached its usage limit", c.Code)
	}
	return nil
}
