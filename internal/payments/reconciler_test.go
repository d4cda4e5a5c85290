package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeserve/marketplace/internal/gateway"
	"github.com/homeserve/marketplace/internal/invoices"
	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/notify"
	"github.com/homeserve/marketplace/internal/pricing"
	"github.com/homeserve/marketplace/internal/store/memory"
	"github.com/homeserve/marketplace/pkg/apperror"
)

var clock = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubCharger struct {
	result gateway.PaymentResult
	err    error
	calls  []gateway.PaymentRequest
}

func (s *stubCharger) Process(_ context.Context, req gateway.PaymentRequest) (gateway.PaymentResult, error) {
	s.calls = append(s.calls, req)
	return s.result, s.err
}

type fixture struct {
	store   *memory.Store
	rec     *Reconciler
	gen     *invoices.Generator
	sink    *notify.MemorySink
	charger *stubCharger
}

func newFixture() *fixture {
	s := memory.New()
	sink := notify.NewMemorySink()
	now := func() time.Time { return clock }
	gen := invoices.NewGenerator(invoices.Options{Store: s, Pricing: pricing.NewResolver("SA"), Now: now})
	ch := &stubCharger{}
	return &fixture{
		store:   s,
		gen:     gen,
		sink:    sink,
		charger: ch,
		rec: NewReconciler(Options{
			Store: s, Invoices: gen, Gateway: ch, Notifier: sink, Timeout: time.Second, Now: now,
		}),
	}
}

// order seeds a Kuwait order (no tax) so the total equals base.
func (f *fixture) order(total string) models.Order {
	o := models.Order{
		ID: uuid.New(), SeriesID: uuid.New(), ServiceID: uuid.New(), CustomerID: uuid.New(),
		ScheduledDate: clock.Add(24 * time.Hour), Country: string(pricing.Kuwait), Currency: "KWD",
		BasePrice: dec(total), DiscountAmount: decimal.Zero, PlatformFee: decimal.Zero, TotalPrice: dec(total),
		Status: models.OrderStatusAccepted, Version: 1,
	}
	o.Reconcile()
	f.store.PutOrder(o)
	return o
}

func (f *fixture) pay(t *testing.T, orderID uuid.UUID, amount, ref string) *Result {
	t.Helper()
	res, err := f.rec.RecordPayment(context.Background(), PaymentInput{OrderID: orderID, Amount: dec(amount), Method: "card", ProviderTransactionID: ref})
	require.NoError(t, err)
	return res
}

func TestPaymentMonotonicity(t *testing.T) {
	f := newFixture()
	o := f.order("200")

	res := f.pay(t, o.ID, "120", "tx-1")
	assert.Equal(t, "120", res.Order.PaidAmount.String())
	assert.Equal(t, "80", res.Order.RemainingAmount.String())
	assert.Equal(t, models.PaymentStatusUnpaid, res.Order.PaymentStatus)
	assert.False(t, res.Order.IsFullyPaid)
	assert.Equal(t, models.ProgressPartial, res.Progress)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, models.InvoiceStatusPartiallyPaid, res.Invoice.Status)

	res = f.pay(t, o.ID, "80", "tx-2")
	assert.Equal(t, "200", res.Order.PaidAmount.String())
	assert.True(t, res.Order.RemainingAmount.IsZero())
	assert.Equal(t, models.PaymentStatusPaid, res.Order.PaymentStatus)
	assert.True(t, res.Order.IsFullyPaid)
	assert.Equal(t, models.InvoiceStatusPaid, res.Invoice.Status)

	txns, err := f.rec.ListTransactions(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
	assert.Equal(t, []models.NotificationKind{models.NotificationPaymentReceived, models.NotificationPaymentReceived}, f.sink.Kinds())
}

func TestOverpaymentKeepsRawPaidAmount(t *testing.T) {
	f := newFixture()
	o := f.order("50")

	res := f.pay(t, o.ID, "75", "")
	assert.Equal(t, "75", res.Order.PaidAmount.String())
	assert.True(t, res.Order.RemainingAmount.IsZero())
	assert.Equal(t, models.PaymentStatusPaid, res.Order.PaymentStatus)

	// The paid invoice accepts nothing further but the order still records money received.
	res = f.pay(t, o.ID, "5", "")
	assert.Equal(t, "80", res.Order.PaidAmount.String())
	assert.Equal(t, models.InvoiceStatusPaid, res.Invoice.Status)
}

func TestRecordPaymentReplayIsNoop(t *testing.T) {
	f := newFixture()
	o := f.order("100")

	f.pay(t, o.ID, "40", "tx-dup")
	res := f.pay(t, o.ID, "40", "tx-dup")
	assert.True(t, res.Replayed)
	assert.Equal(t, "40", res.Order.PaidAmount.String())

	txns, _ := f.rec.ListTransactions(context.Background(), o.ID)
	assert.Len(t, txns, 1)

	other := f.order("100")
	_, err := f.rec.RecordPayment(context.Background(), PaymentInput{OrderID: other.ID, Amount: dec("1"), ProviderTransactionID: "tx-dup"})
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)
}

func TestRecordPaymentRejections(t *testing.T) {
	f := newFixture()
	o := f.order("100")

	_, err := f.rec.RecordPayment(context.Background(), PaymentInput{OrderID: o.ID, Amount: dec("0")})
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)
	_, err = f.rec.RecordPayment(context.Background(), PaymentInput{OrderID: o.ID, Amount: dec("-5")})
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)
	_, err = f.rec.RecordPayment(context.Background(), PaymentInput{OrderID: uuid.New(), Amount: dec("5")})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	cancelled := f.order("10")
	cancelled.Status = models.OrderStatusCancelled
	f.store.PutOrder(cancelled)
	_, err = f.rec.RecordPayment(context.Background(), PaymentInput{OrderID: cancelled.ID, Amount: dec("5")})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	got, _ := f.store.Order(o.ID)
	assert.True(t, got.PaidAmount.IsZero())
}

func TestRefundBound(t *testing.T) {
	f := newFixture()
	o := f.order("200")
	f.pay(t, o.ID, "150", "")

	_, err := f.rec.RecordRefund(context.Background(), RefundInput{OrderID: o.ID, Amount: dec("150.01"), Reason: "too much"})
	assert.ErrorIs(t, err, apperror.ErrExcessiveRefund)
	got, _ := f.store.Order(o.ID)
	assert.Equal(t, "150", got.PaidAmount.String())

	res, err := f.rec.RecordRefund(context.Background(), RefundInput{OrderID: o.ID, Amount: dec("50"), Reason: "partial"})
	require.NoError(t, err)
	assert.Equal(t, "100", res.Order.PaidAmount.String())
	assert.Equal(t, models.PaymentStatusUnpaid, res.Order.PaymentStatus)
	assert.Equal(t, models.TransactionRefund, res.Transaction.Kind)

	res, err = f.rec.RecordRefund(context.Background(), RefundInput{OrderID: o.ID, Amount: dec("100"), Reason: "rest"})
	require.NoError(t, err)
	assert.True(t, res.Order.PaidAmount.IsZero())
	assert.Equal(t, models.PaymentStatusRefunded, res.Order.PaymentStatus)
	assert.Equal(t, models.ProgressRefunded, res.Progress)

	_, err = f.rec.RecordRefund(context.Background(), RefundInput{OrderID: o.ID, Amount: dec("1")})
	assert.ErrorIs(t, err, apperror.ErrExcessiveRefund)
}

func TestRefundDoesNotRegressInvoice(t *testing.T) {
	f := newFixture()
	o := f.order("60")
	f.pay(t, o.ID, "60", "")

	_, err := f.rec.RecordRefund(context.Background(), RefundInput{OrderID: o.ID, Amount: dec("20")})
	require.NoError(t, err)
	inv, err := f.gen.GetByOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
}

func TestConcurrentPaymentsAllApplied(t *testing.T) {
	f := newFixture()
	o := f.order("200")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rec.RecordPayment(context.Background(), PaymentInput{OrderID: o.ID, Amount: dec("20"), Method: "cash"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := f.store.Order(o.ID)
	assert.Equal(t, "200", got.PaidAmount.String())
	assert.True(t, got.IsFullyPaid)
	txns, _ := f.rec.ListTransactions(context.Background(), o.ID)
	assert.Len(t, txns, 10)
}

func TestSubCentAmountsRejectedAfterRounding(t *testing.T) {
	f := newFixture()
	o := f.order("100")
	f.pay(t, o.ID, "40", "tx-1")

	_, err := f.rec.RecordPayment(context.Background(), PaymentInput{OrderID: o.ID, Amount: dec("0.001"), Method: "card"})
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)
	assert.Contains(t, apperror.Message(err), "0.01")

	_, err = f.rec.RecordRefund(context.Background(), RefundInput{OrderID: o.ID, Amount: dec("0.004"), Reason: "rounding"})
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)

	_, err = f.rec.Charge(context.Background(), ChargeInput{OrderID: o.ID, Method: gateway.ProviderCard, Amount: dec("0.001"), IdempotencyKey: "k-1"})
	assert.ErrorIs(t, err, apperror.ErrInvalidArgument)
	assert.Empty(t, f.charger.calls)

	got, _ := f.store.Order(o.ID)
	assert.Equal(t, "40", got.PaidAmount.String())
	txns, err := f.rec.ListTransactions(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestChargeSuccessRecordsPayment(t *testing.T) {
	f := newFixture()
	o := f.order("90")
	f.charger.result = gateway.PaymentResult{Success: true, TransactionID: "ch_1", Provider: gateway.ProviderCard}

	res, err := f.rec.Charge(context.Background(), ChargeInput{OrderID: o.ID, Method: gateway.ProviderCard, Source: "tok", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, res.Order.IsFullyPaid)
	assert.Equal(t, "ch_1", res.Transaction.ProviderTransactionID)
	assert.Equal(t, "card", res.Transaction.PaymentMethod)

	require.Len(t, f.charger.calls, 1)
	assert.Equal(t, "90", f.charger.calls[0].Amount.String())
	assert.Equal(t, "KWD", f.charger.calls[0].Currency)
	assert.Equal(t, "k1", f.charger.calls[0].IdempotencyKey)

	_, err = f.rec.Charge(context.Background(), ChargeInput{OrderID: o.ID, Method: gateway.ProviderCard})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestChargeFailureChangesNothing(t *testing.T) {
	tests := []struct {
		name    string
		charger stubCharger
	}{
		{name: "declined", charger: stubCharger{result: gateway.PaymentResult{Success: false, Message: "insufficient funds"}}},
		{name: "provider error", charger: stubCharger{err: errors.New("timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			*f.charger = tt.charger
			o := f.order("90")

			_, err := f.rec.Charge(context.Background(), ChargeInput{OrderID: o.ID, Method: gateway.ProviderStcPay})
			assert.ErrorIs(t, err, apperror.ErrPaymentDeclined)

			got, _ := f.store.Order(o.ID)
			assert.True(t, got.PaidAmount.IsZero())
			txns, _ := f.rec.ListTransactions(context.Background(), o.ID)
			assert.Empty(t, txns)
			assert.Empty(t, f.sink.Kinds())
		})
	}
}
