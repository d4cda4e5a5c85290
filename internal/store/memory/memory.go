// Package memory is an in-process Store. Transactions are serialised behind one mutex and commit
// copy-on-write, so a failed transaction leaves no trace. Used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/store"
)

type dataset struct {
	services map[uuid.UUID]models.Service
	orders   map[uuid.UUID]models.Order
	coupons  map[string]models.Coupon
	invoices map[uuid.UUID]models.Invoice
	txns     []models.PaymentTransaction
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		services: make(map[uuid.UUID]models.Service, len(d.services)),
		orders:   make(map[uuid.UUID]models.Order, len(d.orders)),
		coupons:  make(map[string]models.Coupon, len(d.coupons)),
		invoices: make(map[uuid.UUID]models.Invoice, len(d.invoices)),
		txns:     append([]models.PaymentTransaction(nil), d.txns...),
	}
	for k, v := range d.services {
		c.services[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.coupons {
		c.coupons[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	return c
}

// Store keeps all data in memory.
type Store struct {
	mu         sync.Mutex
	data       *dataset
	invoiceSeq atomic.Int64
	now        func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data: &dataset{
			services: make(map[uuid.UUID]models.Service),
			orders:   make(map[uuid.UUID]models.Order),
			coupons:  make(map[string]models.Coupon),
			invoices: make(map[uuid.UUID]models.Invoice),
		},
		now: time.Now,
	}
}

// WithTx implements store.Store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, &tx{s: s, d: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

// PutService seeds a catalogue entry.
func (s *Store) PutService(svc models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	s.data.services[svc.ID] = svc
}

// PutCoupon seeds or replaces a coupon.
func (s *Store) PutCoupon(c models.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.data.coupons[c.Code] = c
}

// PutOrder seeds or replaces an order.
func (s *Store) PutOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.orders[o.ID] = o
}

// Order returns a committed order snapshot.
func (s *Store) Order(id uuid.UUID) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	return o, ok
}

// Coupon returns a committed coupon snapshot.
func (s *Store) Coupon(code string) (models.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.coupons[code]
	return c, ok
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.orders)
}

type tx struct {
	s *Store
	d *dataset
}

func (t *tx) Services() store.ServiceRepository         { return serviceRepo{t} }
func (t *tx) Orders() store.OrderRepository             { return orderRepo{t} }
func (t *tx) Coupons() store.CouponRepository           { return couponRepo{t} }
func (t *tx) Invoices() store.InvoiceRepository         { return invoiceRepo{t} }
func (t *tx) Transactions() store.TransactionRepository { return txnRepo{t} }

type serviceRepo struct{ t *tx }

func (r serviceRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Service, error) {
	svc, ok := r.t.d.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &svc, nil
}

type orderRepo struct{ t *tx }

func (r orderRepo) Create(_ context.Context, orders []*models.Order) error {
	now := r.t.s.now()
	for _, o := range orders {
		if o.Status != models.OrderStatusCancelled && r.slotTaken(o.CustomerID, o.ServiceID, o.ScheduledDate, &o.ID) {
			return store.ErrConflict
		}
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		o.Version = 1
		o.CreatedAt, o.UpdatedAt = now, now
		r.t.d.orders[o.ID] = *o
	}
	return nil
}

func (r orderRepo) slotTaken(customerID, serviceID uuid.UUID, at time.Time, excludeID *uuid.UUID) bool {
	for id, o := range r.t.d.orders {
		if excludeID != nil && id == *excludeID {
			continue
		}
		if o.CustomerID == customerID && o.ServiceID == serviceID && o.ScheduledDate.Equal(at) && o.Status != models.OrderStatusCancelled {
			return true
		}
	}
	return false
}

func (r orderRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := r.t.d.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

// GetForUpdate needs no lock: the whole transaction already holds the store mutex.
func (r orderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.GetByID(ctx, id)
}

func (r orderRepo) Update(_ context.Context, o *models.Order) error {
	cur, ok := r.t.d.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != o.Version {
		return store.ErrConflict
	}
	if o.Status != models.OrderStatusCancelled && r.slotTaken(o.CustomerID, o.ServiceID, o.ScheduledDate, &o.ID) {
		return store.ErrConflict
	}
	o.Version++
	o.UpdatedAt = r.t.s.now()
	r.t.d.orders[o.ID] = *o
	return nil
}

func (r orderRepo) ExistsActiveAt(_ context.Context, customerID, serviceID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error) {
	return r.slotTaken(customerID, serviceID, at, excludeID), nil
}

func (r orderRepo) list(keep func(models.Order) bool) []*models.Order {
	var out []*models.Order
	for _, o := range r.t.d.orders {
		if keep(o) {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].ScheduledDate.Before(out[j].ScheduledDate)
	})
	return out
}

func (r orderRepo) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]*models.Order, error) {
	return r.list(func(o models.Order) bool { return o.CustomerID == customerID }), nil
}

func (r orderRepo) ListBySeries(_ context.Context, seriesID uuid.UUID) ([]*models.Order, error) {
	return r.list(func(o models.Order) bool { return o.SeriesID == seriesID }), nil
}

func (r orderRepo) ListDueForReminder(_ context.Context, from, to time.Time) ([]*models.Order, error) {
	return r.list(func(o models.Order) bool {
		return o.ReminderEnabled && o.ReminderSentAt == nil && !o.Status.IsTerminal() &&
			!o.ScheduledDate.Before(from) && !o.ScheduledDate.After(to)
	}), nil
}

type couponRepo struct{ t *tx }

func (r couponRepo) Create(_ context.Context, c *models.Coupon) error {
	if _, ok := r.t.d.coupons[c.Code]; ok {
		return store.ErrConflict
	}
	now := r.t.s.now()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Version = 1
	c.CreatedAt, c.UpdatedAt = now, now
	r.t.d.coupons[c.Code] = *c
	return nil
}

func (r couponRepo) GetByCode(_ context.Context, code string) (*models.Coupon, error) {
	c, ok := r.t.d.coupons[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r couponRepo) IncrementUsage(_ context.Context, code string, version int) (bool, error) {
	c, ok := r.t.d.coupons[code]
	if !ok || c.Version != version || c.UsageCount >= c.MaxUsage {
		return false, nil
	}
	c.UsageCount++
	c.Version++
	c.UpdatedAt = r.t.s.now()
	r.t.d.coupons[code] = c
	return true, nil
}

type invoiceRepo struct{ t *tx }

func (r invoiceRepo) Create(_ context.Context, inv *models.Invoice) error {
	for _, existing := range r.t.d.invoices {
		if existing.OrderID == inv.OrderID || existing.InvoiceNumber == inv.InvoiceNumber {
			return store.ErrConflict
		}
	}
	now := r.t.s.now()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.CreatedAt, inv.UpdatedAt = now, now
	r.t.d.invoices[inv.ID] = *inv
	return nil
}

func (r invoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	inv, ok := r.t.d.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inv, nil
}

func (r invoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return r.GetByID(ctx, id)
}

func (r invoiceRepo) GetByOrderID(_ context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	for _, inv := range r.t.d.invoices {
		if inv.OrderID == orderID {
			inv := inv
			return &inv, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r invoiceRepo) Update(_ context.Context, inv *models.Invoice) error {
	if _, ok := r.t.d.invoices[inv.ID]; !ok {
		return store.ErrNotFound
	}
	inv.UpdatedAt = r.t.s.now()
	r.t.d.invoices[inv.ID] = *inv
	return nil
}

func (r invoiceRepo) NextNumber(_ context.Context) (int64, error) {
	return r.t.s.invoiceSeq.Add(1), nil
}

func (r invoiceRepo) ListOverdueCandidates(_ context.Context, now time.Time) ([]*models.Invoice, error) {
	var out []*models.Invoice
	for _, inv := range r.t.d.invoices {
		if inv.Status == models.InvoiceStatusSent && inv.PaidAmount.IsZero() && inv.DueDate.Before(now) {
			inv := inv
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	return out, nil
}

type txnRepo struct{ t *tx }

func (r txnRepo) Create(_ context.Context, p *models.PaymentTransaction) error {
	if p.ProviderTransactionID != "" {
		for _, existing := range r.t.d.txns {
			if existing.ProviderTransactionID == p.ProviderTransactionID {
				return store.ErrConflict
			}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = r.t.s.now()
	r.t.d.txns = append(r.t.d.txns, *p)
	return nil
}

func (r txnRepo) GetByProviderID(_ context.Context, providerID string) (*models.PaymentTransaction, error) {
	for _, p := range r.t.d.txns {
		if providerID != "" && p.ProviderTransactionID == providerID {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r txnRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*models.PaymentTransaction, error) {
	var out []*models.PaymentTransaction
	for _, p := range r.t.d.txns {
		if p.OrderID == orderID {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (r txnRepo) SumByOrder(_ context.Context, orderID uuid.UUID, kind models.TransactionKind) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range r.t.d.txns {
		if p.OrderID == orderID && p.Kind == kind {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}
