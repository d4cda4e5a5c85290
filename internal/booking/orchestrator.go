// Package booking turns a booking request into scheduled orders and drives their lifecycle.
package booking

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
	"github.com/homeserve/marketplace/internal/recurrence"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/pkg/apperror"
)

// CouponRedeemer consumes a coupon inside the caller's transaction.
type CouponRedeemer interface {
	TryApply(ctx context.Context, tx store.Tx, code string, now time.Time) (decimal.Decimal, error)
}

// InvoiceVoider voids the invoice of a cancelled order when it is still voidable.
type InvoiceVoider interface {
	VoidForOrder(ctx context.Context, tx store.Tx, orderID uuid.UUID) (bool, error)
}

// Request is one booking request, possibly recurring.
type Request struct {
	CustomerID         uuid.UUID
	ServiceID          uuid.UUID
	ScheduledDate      time.Time
	Country            string
	CouponCode         string
	IsRecurring        bool
	RecurrenceType     models.RecurrenceType
	RecurrenceInterval int
	RecurrenceEndDate  *time.Time
	ReminderEnabled    bool
}

// Options configures an Orchestrator.
type Options struct {
	Store       store.Store
	Pricing     *pricing.Resolver
	Coupons     CouponRedeemer
	Expander    *recurrence.Expander
	Invoices    InvoiceVoider
	Notifier    notify.Sink
	Logger      *zap.Logger
	PlatformFee decimal.Decimal
	// Timeout bounds every operation; zero disables it.
	Timeout time.Duration
	Now     func() time.Time
}

// Orchestrator composes pricing, coupons, recurrence and conflict detection.
type Orchestrator struct {
	store       store.Store
	pricing     *pricing.Resolver
	coupons     CouponRedeemer
	expander    *recurrence.Expander
	invoices    InvoiceVoider
	notifier    notify.Sink
	conflicts   ConflictDetector
	logger      *zap.Logger
	platformFee decimal.Decimal
	timeout     time.Duration
	now         func() time.Time
}

// NewOrchestrator creates an orchestrator. Store, Pricing and Coupons are required.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:       opts.Store,
		pricing:     opts.Pricing,
		coupons:     opts.Coupons,
		expander:    opts.Expander,
		invoices:    opts.Invoices,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		platformFee: opts.PlatformFee,
		timeout:     opts.Timeout,
		now:         opts.Now,
	}
	if o.expander == nil {
		o.expander = recurrence.NewExpander(0, 0)
	}
	if o.notifier == nil {
		o.notifier = notify.Nop{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// normalizeTime keeps instants comparable after a round trip through Postgres.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CreateBooking prices the request once, expands it into occurrences and persists one order per
// occurrence. Either every occurrence is created and the coupon consumed, or nothing is.
// It returns the first occurrence.
func (o *Orchestrator) CreateBooking(ctx context.Context, req Request) (*models.Order, error) {
	const op = "booking.CreateBooking"
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	if req.CustomerID == uuid.Nil || req.ServiceID == uuid.Nil {
		return nil, apperror.New(apperror.KindInvalidArgument, op, "customer and service are required")
	}
	if req.ScheduledDate.IsZero() {
		return nil, apperror.New(apperror.KindInvalidArgument, op, "scheduled date is required")
	}

	start := normalizeTime(req.ScheduledDate)
	rule := recurrence.Rule{
		IsRecurring: req.IsRecurring,
		Type:        req.RecurrenceType,
		Interval:    req.RecurrenceInterval,
	}
	if req.RecurrenceEndDate != nil {
		end := normalizeTime(*req.RecurrenceEndDate)
		rule.EndDate = &end
	}

	var (
		orders  []*models.Order
		service *models.Service
	)
	err := o.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		service, err = tx.Services().GetByID(ctx, req.ServiceID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !service.IsActive) {
			return apperror.New(apperror.KindNotFound, op, "service %s not found", req.ServiceID)
		}
		if err != nil {
			return apperror.Internal(op, err)
		}

		discount := decimal.Zero
		if req.CouponCode != "" {
			discount, err = o.coupons.TryApply(ctx, tx, req.CouponCode, o.now().UTC())
			if err != nil {
				if apperror.KindOf(err) == apperror.KindConcurrencyConflict || apperror.KindOf(err) == apperror.KindInternal {
					return err
				}
				return apperror.New(apperror.KindInvalidCoupon, op, "%s", apperror.Message(err))
			}
		}

		price := o.pricing.ComputeBreakdown(service.BasePrice, req.Country, discount, o.platformFee)

		dates, err := o.expander.Expand(start, rule)
		if err != nil {
			return err
		}

		seen := make(map[time.Time]struct{}, len(dates))
		for _, d := range dates {
			if _, dup := seen[d]; dup {
				return apperror.New(apperror.KindSchedulingConflict, op, "occurrence %s is requested twice", d.Format(time.RFC3339))
			}
			seen[d] = struct{}{}

			taken, err := o.conflicts.HasConflict(ctx, tx, req.CustomerID, req.ServiceID, d, nil)
			if err != nil {
				return err
			}
			if taken {
				return apperror.New(apperror.KindSchedulingConflict, op, "slot %s is already booked", d.Format(time.RFC3339))
			}
		}

		orders = buildOrders(req, rule, o.expander, start, dates, price)
		if err := tx.Orders().Create(ctx, orders); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperror.New(apperror.KindConcurrencyConflict, op, "slot was booked concurrently, retry")
			}
			return apperror.Internal(op, err)
		}
		return nil
	})
	if err != nil {
		o.logBookingFailure(req, err)
		return nil, err
	}

	first := orders[0]
	o.logger.Info("booking created",
		zap.String("series_id", first.SeriesID.String()),
		zap.String("customer_id", first.CustomerID.String()),
		zap.Int("occurrences", len(orders)),
		zap.String("total_price", first.TotalPrice.StringFixed(2)),
		zap.String("currency", first.Currency),
	)
	notify.EmitAll(ctx, o.notifier, o.logger, confirmedIntents(first, service, len(orders), o.now())...)
	return first, nil
}

func buildOrders(req Request, rule recurrence.Rule, exp *recurrence.Expander, start time.Time, dates []time.Time, price pricing.Breakdown) []*models.Order {
	seriesID := uuid.New()
	recurring := len(dates) > 1 || (rule.IsRecurring && (rule.Type == models.RecurrenceWeekly || rule.Type == models.RecurrenceMonthly))

	recType := models.RecurrenceNone
	interval := 1
	var endDate *time.Time
	if recurring {
		recType = rule.Type
		interval = rule.Interval
		end := exp.EndDate(start, rule)
		endDate = &end
	}

	orders := make([]*models.Order, 0, len(dates))
	for _, d := range dates {
		ord := &models.Order{
			ID:                 uuid.New(),
			SeriesID:           seriesID,
			ServiceID:          req.ServiceID,
			CustomerID:         req.CustomerID,
			ScheduledDate:      d,
			IsRecurring:        recurring,
			RecurrenceType:     recType,
			RecurrenceInterval: interval,
			RecurrenceEndDate:  endDate,
			Country:            string(price.Country),
			Currency:           price.Currency,
			BasePrice:          price.BasePrice,
			DiscountAmount:     price.Discount,
			PlatformFee:        price.PlatformFee,
			TotalPrice:         price.Total,
			CouponCode:         req.CouponCode,
			Status:             models.OrderStatusPending,
			PaymentStatus:      models.PaymentStatusUnpaid,
			PaidAmount:         decimal.Zero,
			RemainingAmount:    price.Total,
			ReminderEnabled:    req.ReminderEnabled,
		}
		orders = append(orders, ord)
	}
	return orders
}

func (o *Orchestrator) logBookingFailure(req Request, err error) {
	fields := []zap.Field{
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("service_id", req.ServiceID.String()),
		zap.String("kind", string(apperror.KindOf(err))),
		zap.Error(err),
	}
	if apperror.KindOf(err) == apperror.KindInternal {
		o.logger.Error("booking failed", fields...)
		return
	}
	o.logger.Info("booking rejected", fields...)
}

func confirmedIntents(first *models.Order, svc *models.Service, occurrences int, now time.Time) []models.NotificationIntent {
	orderID := first.ID
	msg := fmt.Sprintf("Your %s booking on %s is confirmed. Total %s %s.",
		svc.Name, first.ScheduledDate.Format("2006-01-02 15:04"), first.TotalPrice.StringFixed(2), first.Currency)
	if occurrences > 1 {
		msg = fmt.Sprintf("Your recurring %s booking (%d visits, first on %s) is confirmed. Total per visit %s %s.",
			svc.Name, occurrences, first.ScheduledDate.Format("2006-01-02 15:04"), first.TotalPrice.StringFixed(2), first.Currency)
	}
	intents := []models.NotificationIntent{{
		Kind:          models.NotificationBookingConfirmed,
		RecipientID:   first.CustomerID,
		RecipientRole: models.RecipientCustomer,
		OrderID:       &orderID,
		Subject:       "Booking confirmed",
		Message:       msg,
		OccurredAt:    now.UTC(),
	}}
	if svc.ProviderID != nil {
		intents = append(intents, models.NotificationIntent{
			Kind:          models.NotificationBookingConfirmed,
			RecipientID:   *svc.ProviderID,
			RecipientRole: models.RecipientProvider,
			OrderID:       &orderID,
			Subject:       "New booking",
			Message:       fmt.Sprintf("New %s booking on %s.", svc.Name, first.ScheduledDate.Format("2006-01-02 15:04")),
			OccurredAt:    now.UTC(),
		})
	}
	return intents
}
