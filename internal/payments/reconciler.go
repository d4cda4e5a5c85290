// Package payments keeps order balances, payment transactions and invoices consistent.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/gateway"
	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/notify"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/pkg/apperror"
)

// InvoiceSync is the part of the invoice generator the reconciler drives inside its transaction.
type InvoiceSync interface {
	CreateFromOrder(ctx context.Context, tx store.Tx, ord *models.Order) (*models.Invoice, error)
	ApplyPayment(ctx context.Context, tx store.Tx, id uuid.UUID, amount decimal.Decimal) (*models.Invoice, error)
}

// Charger processes a charge through a payment provider.
type Charger interface {
	Process(ctx context.Context, req gateway.PaymentRequest) (gateway.PaymentResult, error)
}

// Options configures a Reconciler.
type Options struct {
	Store    store.Store
	Invoices InvoiceSync
	Gateway  Charger
	Notifier notify.Sink
	Logger   *zap.Logger
	// Timeout bounds every operation, including the provider call; zero disables it.
	Timeout time.Duration
	Now     func() time.Time
}

// Reconciler applies payments and refunds to orders.
type Reconciler struct {
	store    store.Store
	invoices InvoiceSync
	gateway  Charger
	notifier notify.Sink
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(opts Options) *Reconciler {
	r := &Reconciler{
		store:    opts.Store,
		invoices: opts.Invoices,
		gateway:  opts.Gateway,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		now:      opts.Now,
	}
	if r.notifier == nil {
		r.notifier = notify.Nop{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Reconciler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// PaymentInput is money received for an order.
type PaymentInput struct {
	OrderID               uuid.UUID
	Amount                decimal.Decimal
	Method                string
	ProviderTransactionID string
}

// RefundInput is money returned for an order.
type RefundInput struct {
	OrderID uuid.UUID
	Amount  decimal.Decimal
	Reason  string
}

// Result is the state after a payment or refund.
type Result struct {
	Order       *models.Order              `json:"order"`
	Progress    models.PaymentProgress     `json:"payment_progress"`
	Transaction *models.PaymentTransaction `json:"transaction"`
	Invoice     *models.Invoice            `json:"invoice,omitempty"`
	// Replayed is set when the provider transaction id had already been recorded.
	Replayed bool `json:"replayed"`
}

// RecordPayment adds a payment to the order, writes the transaction row and advances the invoice,
// all in one transaction. Recording the same provider transaction id twice changes nothing.
func (r *Reconciler) RecordPayment(ctx context.Context, in PaymentInput) (*Result, error) {
	const op = "payments.RecordPayment"
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	amount := in.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.KindInvalidArgument, op, "payment amount must be at least 0.01")
	}
	in.ProviderTransactionID = strings.TrimSpace(in.ProviderTransactionID)

	res := &Result{}
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if in.ProviderTransactionID != "" {
			prev, err := tx.Transactions().GetByProviderID(ctx, in.ProviderTransactionID)
			switch {
			case err == nil:
				if prev.OrderID != in.OrderID {
					return apperror.New(apperror.KindInvalidArgument, op, "provider transaction %s belongs to another order", in.ProviderTransactionID)
				}
				ord, err := loadOrder(ctx, tx, op, in.OrderID, false)
				if err != nil {
					return err
				}
				res.Order, res.Transaction, res.Replayed = ord, prev, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return apperror.Internal(op, err)
			}
		}

		ord, err := loadOrder(ctx, tx, op, in.OrderID, true)
		if err != nil {
			return err
		}
		if ord.Status == models.OrderStatusCancelled {
			return apperror.New(apperror.KindInvalidState, op, "order %s is cancelled", ord.ID)
		}

		ord.PaidAmount = ord.PaidAmount.Add(amount)
		ord.Reconcile()
		if err := updateOrder(ctx, tx, op, ord); err != nil {
			return err
		}

		txn := &models.PaymentTransaction{
			ID:                    uuid.New(),
			OrderID:               ord.ID,
			Kind:                  models.TransactionPayment,
			Amount:                amount,
			PaymentMethod:         in.Method,
			Status:                models.TransactionStatusCompleted,
			ProviderTransactionID: in.ProviderTransactionID,
		}
		if err := tx.Transactions().Create(ctx, txn); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperror.New(apperror.KindConcurrencyConflict, op, "provider transaction %s recorded concurrently", in.ProviderTransactionID)
			}
			return apperror.Internal(op, err)
		}

		inv, err := r.syncInvoice(ctx, tx, ord, amount)
		if err != nil {
			return err
		}
		res.Order, res.Transaction, res.Invoice = ord, txn, inv
		return nil
	})
	if err != nil {
		r.logFailure(op, in.OrderID, err)
		return nil, err
	}
	res.Progress = res.Order.PaymentProgress()
	if res.Replayed {
		r.logger.Info("payment replay ignored", zap.String("order_id", in.OrderID.String()), zap.String("provider_transaction_id", in.ProviderTransactionID))
		return res, nil
	}

	r.logger.Info("payment recorded",
		zap.String("order_id", res.Order.ID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("paid", res.Order.PaidAmount.StringFixed(2)),
		zap.String("remaining", res.Order.RemainingAmount.StringFixed(2)),
		zap.String("progress", string(res.Progress)),
	)
	r.emit(ctx, res.Order, models.NotificationPaymentReceived, "Payment received",
		fmt.Sprintf("We received %s %s. Remaining balance %s %s.",
			amount.StringFixed(2), res.Order.Currency, res.Order.RemainingAmount.StringFixed(2), res.Order.Currency))
	return res, nil
}

// syncInvoice creates the order's invoice if needed and applies amount to it.
// Void and fully paid invoices are left as they are.
func (r *Reconciler) syncInvoice(ctx context.Context, tx store.Tx, ord *models.Order, amount decimal.Decimal) (*models.Invoice, error) {
	if r.invoices == nil {
		return nil, nil
	}
	inv, err := r.invoices.CreateFromOrder(ctx, tx, ord)
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvoiceStatusVoid || inv.Status == models.InvoiceStatusPaid {
		return inv, nil
	}
	return r.invoices.ApplyPayment(ctx, tx, inv.ID, amount)
}

// RecordRefund returns part or all of what was paid. The invoice is not regressed.
func (r *Reconciler) RecordRefund(ctx context.Context, in RefundInput) (*Result, error) {
	const op = "payments.RecordRefund"
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	amount := in.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.KindInvalidArgument, op, "refund amount must be at least 0.01")
	}

	res := &Result{}
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ord, err := loadOrder(ctx, tx, op, in.OrderID, true)
		if err != nil {
			return err
		}
		if amount.GreaterThan(ord.PaidAmount) {
			return apperror.New(apperror.KindExcessiveRefund, op, "refund %s exceeds paid amount %s",
				amount.StringFixed(2), ord.PaidAmount.StringFixed(2))
		}

		ord.PaidAmount = ord.PaidAmount.Sub(amount)
		ord.Reconcile()
		if ord.PaidAmount.IsZero() {
			ord.PaymentStatus = models.PaymentStatusRefunded
		}
		if err := updateOrder(ctx, tx, op, ord); err != nil {
			return err
		}

		txn := &models.PaymentTransaction{
			ID:      uuid.New(),
			OrderID: ord.ID,
			Kind:    models.TransactionRefund,
			Amount:  amount,
			Status:  models.TransactionStatusRefunded,
			Reason:  strings.TrimSpace(in.Reason),
		}
		if err := tx.Transactions().Create(ctx, txn); err != nil {
			return apperror.Internal(op, err)
		}
		res.Order, res.Transaction = ord, txn
		return nil
	})
	if err != nil {
		r.logFailure(op, in.OrderID, err)
		return nil, err
	}
	res.Progress = res.Order.PaymentProgress()

	r.logger.Info("refund recorded",
		zap.String("order_id", res.Order.ID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("paid", res.Order.PaidAmount.StringFixed(2)),
	)
	r.emit(ctx, res.Order, models.NotificationRefundIssued, "Refund issued",
		fmt.Sprintf("%s %s has been refunded.", amount.StringFixed(2), res.Order.Currency))
	return res, nil
}

// ChargeInput asks a provider to collect money for an order.
type ChargeInput struct {
	OrderID uuid.UUID
	Method  gateway.ProviderType
	Source  string
	// Amount defaults to the remaining balance.
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Charge calls the provider outside any transaction and records the payment on success.
// A failed charge changes nothing and surfaces as PaymentDeclined.
func (r *Reconciler) Charge(ctx context.Context, in ChargeInput) (*Result, error) {
	const op = "payments.Charge"
	if r.gateway == nil {
		return nil, apperror.New(apperror.KindInvalidState, op, "no payment gateway configured")
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var ord *models.Order
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ord, err = loadOrder(ctx, tx, op, in.OrderID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ord.Status == models.OrderStatusCancelled {
		return nil, apperror.New(apperror.KindInvalidState, op, "order %s is cancelled", ord.ID)
	}

	amount := ord.RemainingAmount
	if !in.Amount.IsZero() {
		if amount = in.Amount.Round(2); !amount.IsPositive() {
			return nil, apperror.New(apperror.KindInvalidArgument, op, "charge amount must be at least 0.01")
		}
	}
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.KindInvalidState, op, "order %s has no balance to charge", ord.ID)
	}
	key := in.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	result, err := r.gateway.Process(ctx, gateway.PaymentRequest{
		OrderID:        ord.ID,
		CustomerID:     ord.CustomerID,
		Amount:         amount.Round(2),
		Currency:       ord.Currency,
		Method:         in.Method,
		Source:         in.Source,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, &apperror.Error{Kind: apperror.KindPaymentDeclined, Op: op, Msg: "payment provider unavailable, retry with the same idempotency key", Err: err}
	}
	if !result.Success {
		return nil, apperror.New(apperror.KindPaymentDeclined, op, "%s", result.Message)
	}

	return r.RecordPayment(ctx, PaymentInput{
		OrderID:               ord.ID,
		Amount:                amount,
		Method:                string(result.Provider),
		ProviderTransactionID: result.TransactionID,
	})
}

// ListTransactions returns the payment and refund history of an order.
func (r *Reconciler) ListTransactions(ctx context.Context, orderID uuid.UUID) ([]*models.PaymentTransaction, error) {
	const op = "payments.ListTransactions"
	var out []*models.PaymentTransaction
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := loadOrder(ctx, tx, op, orderID, false); err != nil {
			return err
		}
		var err error
		out, err = tx.Transactions().ListByOrder(ctx, orderID)
		return apperror.Internal(op, err)
	})
	return out, err
}

// Order returns the order with its current payment state.
func (r *Reconciler) Order(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	const op = "payments.Order"
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var ord *models.Order
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ord, err = loadOrder(ctx, tx, op, orderID, false)
		return err
	})
	return ord, err
}

func loadOrder(ctx context.Context, tx store.Tx, op string, id uuid.UUID, lock bool) (*models.Order, error) {
	var (
		ord *models.Order
		err error
	)
	if lock {
		ord, err = tx.Orders().GetForUpdate(ctx, id)
	} else {
		ord, err = tx.Orders().GetByID(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.New(apperror.KindNotFound, op, "order %s not found", id)
	}
	if err != nil {
		return nil, apperror.Internal(op, err)
	}
	return ord, nil
}

func updateOrder(ctx context.Context, tx store.Tx, op string, ord *models.Order) error {
	if err := tx.Orders().Update(ctx, ord); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return apperror.New(apperror.KindConcurrencyConflict, op, "order %s was modified concurrently, retry", ord.ID)
		}
		return apperror.Internal(op, err)
	}
	return nil
}

func (r *Reconciler) logFailure(op string, orderID uuid.UUID, err error) {
	if apperror.KindOf(err) == apperror.KindInternal {
		r.logger.Error("payment operation failed", zap.String("op", op), zap.String("order_id", orderID.String()), zap.Error(err))
		return
	}
	r.logger.Info("payment operation rejected", zap.String("op", op), zap.String("order_id", orderID.String()), zap.Error(err))
}

func (r *Reconciler) emit(ctx context.Context, ord *models.Order, kind models.NotificationKind, subject, msg string) {
	orderID := ord.ID
	now := r.now().UTC()
	intents := []models.NotificationIntent{{
		Kind: kind, RecipientID: ord.CustomerID, RecipientRole: models.RecipientCustomer,
		OrderID: &orderID, Subject: subject, Message: msg, OccurredAt: now,
	}}
	if ord.ProviderID != nil {
		intents = append(intents, models.NotificationIntent{
			Kind: kind, RecipientID: *ord.ProviderID, RecipientRole: models.RecipientProvider,
			OrderID: &orderID, Subject: subject, Message: msg, OccurredAt: now,
		})
	}
	notify.EmitAll(ctx, r.notifier, r.logger, intents...)
}
