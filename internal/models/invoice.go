package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

// Invoice is derived from exactly one order.
type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"order_id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	Country        string          `json:"country"`
	Currency       string          `json:"currency"`
	SubTotal       decimal.Decimal `json:"sub_total"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Status         InvoiceStatus   `json:"status"`
	DueDate        time.Time       `json:"due_date"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	VoidedAt       *time.Time      `json:"voided_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Voidable reports whether Cancel is allowed.
func (i *Invoice) Voidable() bool {
	return i.Status != InvoiceStatusPaid && i.Status != InvoiceStatusVoid
}
