package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of one scheduled occurrence.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusAccepted   OrderStatus = "accepted"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusInProgress, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the stored payment state of an order.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentProgress is the presentation-level payment state; "partial" is never stored.
type PaymentProgress string

const (
	ProgressUnpaid   PaymentProgress = "unpaid"
	ProgressPartial  PaymentProgress = "partial"
	ProgressPaid     PaymentProgress = "paid"
	ProgressRefunded PaymentProgress = "refunded"
)

// RecurrenceType selects how a booking repeats.
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

// Order is one scheduled occurrence of a booked service.
type Order struct {
	ID         uuid.UUID  `json:"id"`
	SeriesID   uuid.UUID  `json:"series_id"`
	ServiceID  uuid.UUID  `json:"service_id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	ProviderID *uuid.UUID `json:"provider_id,omitempty"`

	ScheduledDate      time.Time      `json:"scheduled_date"`
	IsRecurring        bool           `json:"is_recurring"`
	RecurrenceType     RecurrenceType `json:"recurrence_type"`
	RecurrenceInterval int            `json:"recurrence_interval"`
	RecurrenceEndDate  *time.Time     `json:"recurrence_end_date,omitempty"`

	Country        string          `json:"country"`
	Currency       string          `json:"currency"`
	BasePrice      decimal.Decimal `json:"base_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	CouponCode     string          `json:"coupon_code,omitempty"`

	Status             OrderStatus `json:"status"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`

	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	IsFullyPaid     bool            `json:"is_fully_paid"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`

	ReminderEnabled bool       `json:"reminder_enabled"`
	ReminderSentAt  *time.Time `json:"reminder_sent_at,omitempty"`

	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Parties returns the customer and, once assigned, the provider.
func (o *Order) Parties() []uuid.UUID {
	if o.ProviderID == nil {
		return []uuid.UUID{o.CustomerID}
	}
	return []uuid.UUID{o.CustomerID, *o.ProviderID}
}

// PaymentProgress derives the UI payment state from the stored amounts.
func (o *Order) PaymentProgress() PaymentProgress {
	switch {
	case o.PaymentStatus == PaymentStatusRefunded:
		return ProgressRefunded
	case o.IsFullyPaid:
		return ProgressPaid
	case o.PaidAmount.IsPositive():
		return ProgressPartial
	}
	return ProgressUnpaid
}

// Reconcile recomputes RemainingAmount, IsFullyPaid and the paid/unpaid status from PaidAmount.
// Refunded is set by the refund path only.
func (o *Order) Reconcile() {
	o.RemainingAmount = decimal.Max(decimal.Zero, o.TotalPrice.Sub(o.PaidAmount))
	o.IsFullyPaid = o.PaidAmount.GreaterThanOrEqual(o.TotalPrice)
	if o.IsFullyPaid {
		o.PaymentStatus = PaymentStatusPaid
	} else {
		o.PaymentStatus = PaymentStatusUnpaid
	}
}
