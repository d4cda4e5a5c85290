package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coupon is a flat-amount discount code.
type Coupon struct {
	ID            uuid.UUID       `json:"id"`
	Code          string          `json:"code"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	UsageCount    int             `json:"usage_count"`
	MaxUsage      int             `json:"max_usage"`
	IsActive      bool            `json:"is_active"`
	Version       int             `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Applicable reports whether the coupon can be redeemed at now.
func (c *Coupon) Applicable(now time.Time) bool {
	return c.IsActive && now.Before(c.ExpiryDate) && c.UsageCount < c.MaxUsage
}
