// Package invoices derives invoices from orders and tracks their payment status.
package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/notify"
	"github.com/homeserve/marketplace/internal/pricing"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/pkg/apperror"
	"github.com/homeserve/marketplace/pkg/queue"
)

// DefaultNetDays is the payment term used when none is configured.
const DefaultNetDays = 7

// Archiver queues a sent invoice for document archival.
type Archiver interface {
	EnqueueInvoiceArchive(ctx context.Context, payload queue.InvoiceArchivePayload) error
}

// Options configures a Generator.
type Options struct {
	Store    store.Store
	Pricing  *pricing.Resolver
	Notifier notify.Sink
	Archiver Archiver
	Logger   *zap.Logger
	NetDays  int
	Now      func() time.Time
}

// Generator creates invoices and moves them through their lifecycle.
type Generator struct {
	store    store.Store
	pricing  *pricing.Resolver
	notifier notify.Sink
	archiver Archiver
	logger   *zap.Logger
	netDays  int
	now      func() time.Time
}

// NewGenerator creates an invoice generator.
func NewGenerator(opts Options) *Generator {
	g := &Generator{
		store:    opts.Store,
		pricing:  opts.Pricing,
		notifier: opts.Notifier,
		archiver: opts.Archiver,
		logger:   opts.Logger,
		netDays:  opts.NetDays,
		now:      opts.Now,
	}
	if g.notifier == nil {
		g.notifier = notify.Nop{}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.netDays <= 0 {
		g.netDays = DefaultNetDays
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// FormatNumber renders an invoice number from its issue date and sequence value.
func FormatNumber(issued time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%06d", issued.UTC().Format("20060102"), seq)
}

// CreateFromOrder returns the order's invoice, creating a draft inside tx if there is none.
// Amounts are recomputed from the order's base price and country.
func (g *Generator) CreateFromOrder(ctx context.Context, tx store.Tx, ord *models.Order) (*models.Invoice, error) {
	const op = "invoices.CreateFromOrder"

	existing, err := tx.Invoices().GetByOrderID(ctx, ord.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperror.Internal(op, err)
	}

	seq, err := tx.Invoices().NextNumber(ctx)
	if err != nil {
		return nil, apperror.Internal(op, err)
	}
	now := g.now().UTC()
	b := g.pricing.ComputeBreakdown(ord.BasePrice, ord.Country, ord.DiscountAmount, ord.PlatformFee)

	inv := &models.Invoice{
		ID:             uuid.New(),
		OrderID:        ord.ID,
		CustomerID:     ord.CustomerID,
		InvoiceNumber:  FormatNumber(now, seq),
		Country:        string(b.Country),
		Currency:       b.Currency,
		SubTotal:       b.BasePrice,
		TaxRate:        b.TaxRate,
		TaxAmount:      b.TaxAmount,
		PlatformFee:    b.PlatformFee,
		DiscountAmount: b.Discount,
		TotalAmount:    b.Total,
		PaidAmount:     decimal.Zero,
		Status:         models.InvoiceStatusDraft,
		DueDate:        now.AddDate(0, 0, g.netDays),
	}
	if !inv.TotalAmount.Equal(ord.TotalPrice) {
		g.logger.Warn("invoice total differs from order total",
			zap.String("order_id", ord.ID.String()),
			zap.String("invoice_total", inv.TotalAmount.StringFixed(2)),
			zap.String("order_total", ord.TotalPrice.StringFixed(2)),
		)
	}
	if err := tx.Invoices().Create(ctx, inv); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperror.New(apperror.KindConcurrencyConflict, op, "invoice for order %s was created concurrently, retry", ord.ID)
		}
		return nil, apperror.Internal(op, err)
	}
	g.logger.Info("invoice created", zap.String("invoice_number", inv.InvoiceNumber), zap.String("order_id", ord.ID.String()))
	return inv, nil
}

// Create issues the invoice for orderID in its own transaction.
func (g *Generator) Create(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	const op = "invoices.Create"
	var out *models.Invoice
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ord, err := tx.Orders().GetByID(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.New(apperror.KindNotFound, op, "order %s not found", orderID)
		}
		if err != nil {
			return apperror.Internal(op, err)
		}
		if ord.Status == models.OrderStatusCancelled {
			return apperror.New(apperror.KindInvalidState, op, "order %s is cancelled", orderID)
		}
		out, err = g.CreateFromOrder(ctx, tx, ord)
		return err
	})
	return out, err
}

// ApplyPayment adds amount to the invoice inside tx. Status only moves forward.
func (g *Generator) ApplyPayment(ctx context.Context, tx store.Tx, id uuid.UUID, amount decimal.Decimal) (*models.Invoice, error) {
	const op = "invoices.ApplyPayment"
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.KindInvalidArgument, op, "amount must be positive")
	}
	inv, err := loadForUpdate(ctx, tx, op, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvoiceStatusVoid || inv.Status == models.InvoiceStatusPaid {
		return nil, apperror.New(apperror.KindInvalidState, op, "invoice %s is %s", inv.InvoiceNumber, inv.Status)
	}

	inv.PaidAmount = inv.PaidAmount.Add(amount)
	if inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount) {
		now := g.now().UTC()
		inv.Status = models.InvoiceStatusPaid
		inv.PaidAt = &now
	} else {
		inv.Status = models.InvoiceStatusPartiallyPaid
	}
	if err := tx.Invoices().Update(ctx, inv); err != nil {
		return nil, apperror.Internal(op, err)
	}
	return inv, nil
}

// Send moves a draft invoice to sent and queues it for archival.
func (g *Generator) Send(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	const op = "invoices.Send"
	var out *models.Invoice
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inv, err := loadForUpdate(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceStatusDraft {
			return apperror.New(apperror.KindInvalidState, op, "invoice %s is %s, only drafts can be sent", inv.InvoiceNumber, inv.Status)
		}
		now := g.now().UTC()
		inv.Status = models.InvoiceStatusSent
		inv.SentAt = &now
		if err := tx.Invoices().Update(ctx, inv); err != nil {
			return apperror.Internal(op, err)
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	invID := out.ID
	notify.EmitAll(ctx, g.notifier, g.logger, models.NotificationIntent{
		Kind:          models.NotificationInvoiceSent,
		RecipientID:   out.CustomerID,
		RecipientRole: models.RecipientCustomer,
		OrderID:       &out.OrderID,
		InvoiceID:     &invID,
		Subject:       "Invoice " + out.InvoiceNumber,
		Message: fmt.Sprintf("Invoice %s for %s %s is due on %s.",
			out.InvoiceNumber, out.TotalAmount.StringFixed(2), out.Currency, out.DueDate.Format("2006-01-02")),
		OccurredAt: out.SentAt.UTC(),
	})
	if g.archiver != nil {
		if err := g.archiver.EnqueueInvoiceArchive(ctx, queue.InvoiceArchivePayload{InvoiceID: out.ID, InvoiceNumber: out.InvoiceNumber}); err != nil {
			g.logger.Warn("invoice archive not queued", zap.String("invoice_number", out.InvoiceNumber), zap.Error(err))
		}
	}
	return out, nil
}

// Cancel voids an invoice that is neither paid nor already void. No refund is issued.
func (g *Generator) Cancel(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	const op = "invoices.Cancel"
	var out *models.Invoice
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inv, err := loadForUpdate(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if !inv.Voidable() {
			return apperror.New(apperror.KindInvalidState, op, "invoice %s is %s and cannot be voided", inv.InvoiceNumber, inv.Status)
		}
		if err := g.void(ctx, tx, inv); err != nil {
			return apperror.Internal(op, err)
		}
		out = inv
		return nil
	})
	return out, err
}

// VoidForOrder voids the order's invoice inside tx when one exists and is voidable.
func (g *Generator) VoidForOrder(ctx context.Context, tx store.Tx, orderID uuid.UUID) (bool, error) {
	const op = "invoices.VoidForOrder"
	inv, err := tx.Invoices().GetByOrderID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperror.Internal(op, err)
	}
	if !inv.Voidable() {
		return false, nil
	}
	if err := g.void(ctx, tx, inv); err != nil {
		return false, apperror.Internal(op, err)
	}
	return true, nil
}

func (g *Generator) void(ctx context.Context, tx store.Tx, inv *models.Invoice) error {
	now := g.now().UTC()
	inv.Status = models.InvoiceStatusVoid
	inv.VoidedAt = &now
	if err := tx.Invoices().Update(ctx, inv); err != nil {
		return err
	}
	g.logger.Info("invoice voided", zap.String("invoice_number", inv.InvoiceNumber))
	return nil
}

// MarkOverdue flags sent, unpaid invoices whose due date has passed. It returns how many changed.
func (g *Generator) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	const op = "invoices.MarkOverdue"
	var n int
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		due, err := tx.Invoices().ListOverdueCandidates(ctx, now.UTC())
		if err != nil {
			return apperror.Internal(op, err)
		}
		for _, inv := range due {
			inv.Status = models.InvoiceStatusOverdue
			if err := tx.Invoices().Update(ctx, inv); err != nil {
				return apperror.Internal(op, err)
			}
		}
		n = len(due)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		g.logger.Info("invoices marked overdue", zap.Int("count", n))
	}
	return n, nil
}

// Get returns one invoice.
func (g *Generator) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	const op = "invoices.Get"
	var out *models.Invoice
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inv, err := tx.Invoices().GetByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.New(apperror.KindNotFound, op, "invoice %s not found", id)
		}
		if err != nil {
			return apperror.Internal(op, err)
		}
		out = inv
		return nil
	})
	return out, err
}

// GetByOrder returns the invoice of an order.
func (g *Generator) GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	const op = "invoices.GetByOrder"
	var out *models.Invoice
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inv, err := tx.Invoices().GetByOrderID(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.New(apperror.KindNotFound, op, "no invoice for order %s", orderID)
		}
		if err != nil {
			return apperror.Internal(op, err)
		}
		out = inv
		return nil
	})
	return out, err
}

func loadForUpdate(ctx context.Context, tx store.Tx, op string, id uuid.UUID) (*models.Invoice, error) {
	inv, err := tx.Invoices().GetForUpdate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.New(apperror.KindNotFound, op, "invoice %s not found", id)
	}
	if err != nil {
		return nil, apperror.Internal(op, err)
	}
	return inv, nil
}
