// Package store declares the persistence boundary of the engine.
// Every multi-step operation runs inside Store.WithTx so a failure rolls back all of its effects.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homeserve/marketplace/internal/models"
)

// Store opens transactions.
type Store interface {
	// WithTx runs fn in a transaction. A non-nil error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes repositories bound to one transaction.
type Tx interface {
	Services() ServiceRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	Invoices() InvoiceRepository
	Transactions() TransactionRepository
}

// ServiceRepository reads the service catalogue.
type ServiceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Service, error)
}

// OrderRepository persists orders.
type OrderRepository interface {
	// Create inserts orders. A live order on the same customer/service/slot yields a concurrency conflict.
	Create(ctx context.Context, orders []*models.Order) error
	// GetForUpdate returns the order and locks it for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// Update writes o when o.Version still matches the stored row, then bumps the version.
	Update(ctx context.Context, o *models.Order) error
	// ExistsActiveAt reports a non-cancelled order at exactly scheduledDate, ignoring excludeID.
	ExistsActiveAt(ctx context.Context, customerID, serviceID uuid.UUID, scheduledDate time.Time, excludeID *uuid.UUID) (bool, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Order, error)
	ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]*models.Order, error)
	// ListDueForReminder returns live orders with reminders enabled, not yet reminded, scheduled in [from, to].
	ListDueForReminder(ctx context.Context, from, to time.Time) ([]*models.Order, error)
}

// CouponRepository persists coupons.
type CouponRepository interface {
	Create(ctx context.Context, c *models.Coupon) error
	GetByCode(ctx context.Context, code string) (*models.Coupon, error)
	// IncrementUsage bumps usage_count by one if version matches and the cap is not reached.
	// It reports false when the conditional update touched no row.
	IncrementUsage(ctx context.Context, code string, version int) (bool, error)
}

// InvoiceRepository persists invoices.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *models.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)
	Update(ctx context.Context, inv *models.Invoice) error
	// NextNumber returns the next value of the invoice number sequence. Values are never reused.
	NextNumber(ctx context.Context) (int64, error)
	// ListOverdueCandidates returns sent, unpaid invoices due before now.
	ListOverdueCandidates(ctx context.Context, now time.Time) ([]*models.Invoice, error)
}

// TransactionRepository persists payment transactions.
type TransactionRepository interface {
	Create(ctx context.Context, t *models.PaymentTransaction) error
	GetByProviderID(ctx context.Context, providerTransactionID string) (*models.PaymentTransaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.PaymentTransaction, error)
	SumByOrder(ctx context.Context, orderID uuid.UUID, kind models.TransactionKind) (decimal.Decimal, error)
}
