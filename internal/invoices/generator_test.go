package invoices

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/notify"
	"github.com/homeserve/marketplace/internal/pricing"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/internal/store/memory"
	"github.com/homeserve/marketplace/pkg/apperror"
	"github.com/homeserve/marketplace/pkg/queue"
)

var clock = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

type fakeArchiver struct{ jobs []queue.InvoiceArchivePayload }

func (f *fakeArchiver) EnqueueInvoiceArchive(_ context.Context, p queue.InvoiceArchivePayload) error {
	f.jobs = append(f.jobs, p)
	return nil
}

type fixture struct {
	store    *memory.Store
	gen      *Generator
	sink     *notify.MemorySink
	archiver *fakeArchiver
	resolver *pricing.Resolver
}

func newFixture() *fixture {
	s := memory.New()
	sink := notify.NewMemorySink()
	arch := &fakeArchiver{}
	r := pricing.NewResolver("SA")
	return &fixture{
		store:    s,
		sink:     sink,
		archiver: arch,
		resolver: r,
		gen: NewGenerator(Options{
			Store: s, Pricing: r, Notifier: sink, Archiver: arch, NetDays: 14,
			Now: func() time.Time { return clock },
		}),
	}
}

func (f *fixture) order(country string, base, discount, fee decimal.Decimal) models.Order {
	b := f.resolver.ComputeBreakdown(base, country, discount, fee)
	o := models.Order{
		ID: uuid.New(), SeriesID: uuid.New(), ServiceID: uuid.New(), CustomerID: uuid.New(),
		ScheduledDate: clock.Add(48 * time.Hour), Country: string(b.Country), Currency: b.Currency,
		BasePrice: b.BasePrice, DiscountAmount: b.Discount, PlatformFee: b.PlatformFee, TotalPrice: b.Total,
		Status: models.OrderStatusPending, Version: 1,
	}
	o.Reconcile()
	f.store.PutOrder(o)
	return o
}

func (f *fixture) create(t *testing.T, orderID uuid.UUID) *models.Invoice {
	t.Helper()
	inv, err := f.gen.Create(context.Background(), orderID)
	require.NoError(t, err)
	return inv
}

func (f *fixture) pay(id uuid.UUID, amount string) (*models.Invoice, error) {
	var out *models.Invoice
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = f.gen.ApplyPayment(ctx, tx, id, decimal.RequireFromString(amount))
		return err
	})
	return out, err
}

func TestInvoiceTotalMatchesOrderInEveryCountry(t *testing.T) {
	for _, c := range pricing.Countries() {
		t.Run(string(c), func(t *testing.T) {
			f := newFixture()
			o := f.order(string(c), decimal.RequireFromString("149.99"), decimal.NewFromInt(10), decimal.RequireFromString("7.50"))
			inv := f.create(t, o.ID)

			assert.True(t, inv.TotalAmount.Equal(o.TotalPrice), "invoice %s order %s", inv.TotalAmount, o.TotalPrice)
			assert.True(t, inv.SubTotal.Add(inv.TaxAmount).Add(inv.PlatformFee).Sub(inv.DiscountAmount).Equal(inv.TotalAmount))
			assert.Equal(t, o.Currency, inv.Currency)
		})
	}
}

func TestCreateIsIdempotentAndNumbered(t *testing.T) {
	f := newFixture()
	o := f.order("SaudiArabia", decimal.NewFromInt(100), decimal.Zero, decimal.Zero)

	first := f.create(t, o.ID)
	again := f.create(t, o.ID)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "INV-20240310-000001", first.InvoiceNumber)
	assert.Equal(t, models.InvoiceStatusDraft, first.Status)
	assert.Equal(t, clock.AddDate(0, 0, 14), first.DueDate)
	assert.Equal(t, "115", first.TotalAmount.String())

	other := f.create(t, f.order("Egypt", decimal.NewFromInt(50), decimal.Zero, decimal.Zero).ID)
	assert.Equal(t, "INV-20240310-000002", other.InvoiceNumber)
}

func TestCreateRejectsCancelledOrder(t *testing.T) {
	f := newFixture()
	o := f.order("Qatar", decimal.NewFromInt(10), decimal.Zero, decimal.Zero)
	o.Status = models.OrderStatusCancelled
	f.store.PutOrder(o)

	_, err := f.gen.Create(context.Background(), o.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestApplyPaymentMovesForward(t *testing.T) {
	f := newFixture()
	inv := f.create(t, f.order("Kuwait", decimal.NewFromInt(200), decimal.Zero, decimal.Zero).ID)

	got, err := f.pay(inv.ID, "120")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPartiallyPaid, got.Status)

	got, err = f.pay(inv.ID, "80")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)

	_, err = f.pay(inv.ID, "1")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	_, err = f.gen.Cancel(context.Background(), inv.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestApplyPaymentRejectsVoidAndNonPositive(t *testing.T) {
	f := newFixture()
	inv := f.create(t, f.order("Oman", decimal.NewFromInt(20), decimal.Zero, decimal.Zero).ID)

	_, err := f.pay(inv.ID, "0")
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)

	voided, err := f.gen.Cancel(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusVoid, voided.Status)

	_, err = f.pay(inv.ID, "5")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	_, err = f.gen.Cancel(context.Background(), inv.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestSendNotifiesAndQueuesArchive(t *testing.T) {
	f := newFixture()
	inv := f.create(t, f.order("Jordan", decimal.NewFromInt(30), decimal.Zero, decimal.Zero).ID)

	sent, err := f.gen.Send(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusSent, sent.Status)
	assert.Equal(t, []models.NotificationKind{models.NotificationInvoiceSent}, f.sink.Kinds())
	require.Len(t, f.archiver.jobs, 1)
	assert.Equal(t, inv.InvoiceNumber, f.archiver.jobs[0].InvoiceNumber)

	_, err = f.gen.Send(context.Background(), inv.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestMarkOverdueOnlyTouchesUnpaidSent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	unpaid := f.create(t, f.order("Bahrain", decimal.NewFromInt(40), decimal.Zero, decimal.Zero).ID)
	partial := f.create(t, f.order("Bahrain", decimal.NewFromInt(40), decimal.Zero, decimal.Zero).ID)
	draft := f.create(t, f.order("Bahrain", decimal.NewFromInt(40), decimal.Zero, decimal.Zero).ID)

	_, err := f.gen.Send(ctx, unpaid.ID)
	require.NoError(t, err)
	_, err = f.gen.Send(ctx, partial.ID)
	require.NoError(t, err)
	_, err = f.pay(partial.ID, "10")
	require.NoError(t, err)

	n, err := f.gen.MarkOverdue(ctx, clock.AddDate(0, 0, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.gen.Get(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusOverdue, got.Status)
	got, _ = f.gen.Get(ctx, draft.ID)
	assert.Equal(t, models.InvoiceStatusDraft, got.Status)

	paid, err := f.pay(unpaid.ID, "46")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, paid.Status)
}

func TestVoidForOrder(t *testing.T) {
	f := newFixture()
	o := f.order("UAE", decimal.NewFromInt(10), decimal.Zero, decimal.Zero)

	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		voided, err := f.gen.VoidForOrder(ctx, tx, o.ID)
		assert.False(t, voided)
		return err
	})
	require.NoError(t, err)

	inv := f.create(t, o.ID)
	err = f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		voided, err := f.gen.VoidForOrder(ctx, tx, o.ID)
		assert.True(t, voided)
		return err
	})
	require.NoError(t, err)

	got, _ := f.gen.GetByOrder(context.Background(), o.ID)
	assert.Equal(t, inv.ID, got.ID)
	assert.Equal(t, models.InvoiceStatusVoid, got.Status)
}

func TestRenderDocument(t *testing.T) {
	f := newFixture()
	inv := f.create(t, f.order("SA", decimal.NewFromInt(100), decimal.Zero, decimal.Zero).ID)

	raw, err := Render(f.resolver, inv)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "115.00", doc.TotalAmount)
	assert.Equal(t, "15.00", doc.TaxRatePercent)
	assert.Equal(t, "ar-SA", doc.Locale)
}
