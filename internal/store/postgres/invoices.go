package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/store"
)

const invoiceColumns = `id, order_id, customer_id, invoice_number, country, currency, sub_total, tax_rate,
	tax_amount, platform_fee, discount_amount, total_amount, paid_amount, status, due_date,
	sent_at, paid_at, voided_at, created_at, updated_at`

type invoiceRepo struct {
	q pgx.Tx
}

func scanInvoice(row scanner) (*models.Invoice, error) {
	var i models.Invoice
	err := row.Scan(&i.ID, &i.OrderID, &i.CustomerID, &i.InvoiceNumber, &i.Country, &i.Currency, &i.SubTotal, &i.TaxRate,
		&i.TaxAmount, &i.PlatformFee, &i.DiscountAmount, &i.TotalAmount, &i.PaidAmount, &i.Status, &i.DueDate,
		&i.SentAt, &i.PaidAt, &i.VoidedAt, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &i, nil
}

func (r invoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	const q = `INSERT INTO invoices (id, order_id, customer_id, invoice_number, country, currency, sub_total, tax_rate,
		tax_amount, platform_fee, discount_amount, total_amount, paid_amount, status, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, q, inv.ID, inv.OrderID, inv.CustomerID, inv.InvoiceNumber, inv.Country, inv.Currency,
		inv.SubTotal, inv.TaxRate, inv.TaxAmount, inv.PlatformFee, inv.DiscountAmount, inv.TotalAmount,
		inv.PaidAmount, inv.Status, inv.DueDate).
		Scan(&inv.CreatedAt, &inv.UpdatedAt)
	return mapErr(err)
}

func (r invoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

func (r invoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

func (r invoiceRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	return scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID))
}

func (r invoiceRepo) Update(ctx context.Context, inv *models.Invoice) error {
	const q = `UPDATE invoices SET paid_amount = $2, status = $3, sent_at = $4, paid_at = $5, voided_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err := r.q.QueryRow(ctx, q, inv.ID, inv.PaidAmount, inv.Status, inv.SentAt, inv.PaidAt, inv.VoidedAt).Scan(&inv.UpdatedAt)
	return mapErr(err)
}

func (r invoiceRepo) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&n)
	return n, mapErr(err)
}

func (r invoiceRepo) ListOverdueCandidates(ctx context.Context, now time.Time) ([]*models.Invoice, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE status = 'sent' AND paid_amount = 0 AND due_date < $1
		ORDER BY invoice_number
		FOR UPDATE SKIP LOCKED`
	rows, err := r.q.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

type txnRepo struct {
	q pgx.Tx
}

const txnColumns = `id, order_id, kind, amount, payment_method, status, provider_transaction_id, reason, created_at`

func scanTxn(row scanner) (*models.PaymentTransaction, error) {
	var (
		p          models.PaymentTransaction
		providerID *string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.Kind, &p.Amount, &p.PaymentMethod, &p.Status, &providerID, &p.Reason, &p.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	p.ProviderTransactionID = derefString(providerID)
	return &p, nil
}

func (r txnRepo) Create(ctx context.Context, p *models.PaymentTransaction) error {
	const q = `INSERT INTO payment_transactions (id, order_id, kind, amount, payment_method, status, provider_transaction_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, q, p.ID, p.OrderID, p.Kind, p.Amount, p.PaymentMethod, p.Status,
		nullString(p.ProviderTransactionID), p.Reason).Scan(&p.CreatedAt)
	return mapErr(err)
}

func (r txnRepo) GetByProviderID(ctx context.Context, providerTransactionID string) (*models.PaymentTransaction, error) {
	if providerTransactionID == "" {
		return nil, store.ErrNotFound
	}
	return scanTxn(r.q.QueryRow(ctx, `SELECT `+txnColumns+` FROM payment_transactions WHERE provider_transaction_id = $1`, providerTransactionID))
}

func (r txnRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.PaymentTransaction, error) {
	rows, err := r.q.Query(ctx, `SELECT `+txnColumns+` FROM payment_transactions WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.PaymentTransaction
	for rows.Next() {
		p, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r txnRepo) SumByOrder(ctx context.Context, orderID uuid.UUID, kind models.TransactionKind) (decimal.Decimal, error) {
	const q = `SELECT COALESCE(SUM(amount), 0) FROM payment_transactions WHERE order_id = $1 AND kind = $2`
	var sum decimal.Decimal
	err := r.q.QueryRow(ctx, q, orderID, kind).Scan(&sum)
	return sum, mapErr(err)
}
