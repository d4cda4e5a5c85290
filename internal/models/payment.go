package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind separates money in from money out.
type TransactionKind string

const (
	TransactionPayment TransactionKind = "payment"
	TransactionRefund  TransactionKind = "refund"
)

// TransactionStatus for payment transactions.
const (
	TransactionStatusCompleted = "completed"
	TransactionStatusRefunded  = "refunded"
)

// PaymentTransaction is the durable record written from a gateway result or a refund.
type PaymentTransaction struct {
	ID                    uuid.UUID       `json:"id"`
	OrderID               uuid.UUID       `json:"order_id"`
	Kind                  TransactionKind `json:"kind"`
	Amount                decimal.Decimal `json:"amount"`
	PaymentMethod         string          `json:"payment_method"`
	Status                string          `json:"status"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	Reason                string          `json:"reason,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}
