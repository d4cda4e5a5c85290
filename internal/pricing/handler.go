package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/pkg/apperror"
	"github.com/homeserve/marketplace/pkg/response"
)

// CouponPreviewer checks a coupon without consuming it.
type CouponPreviewer interface {
	Preview(ctx context.Context, code string, now time.Time) (*models.Coupon, error)
}

// Handler serves regional reference data and price quotes.
type Handler struct {
	resolver    *Resolver
	store       store.Store
	coupons     CouponPreviewer
	platformFee decimal.Decimal
}

// NewHandler creates a pricing handler.
func NewHandler(r *Resolver, s store.Store, coupons CouponPreviewer, platformFee decimal.Decimal) *Handler {
	return &Handler{resolver: r, store: s, coupons: coupons, platformFee: platformFee}
}

// Regions handles GET /pricing/regions.
func (h *Handler) Regions(c *gin.Context) {
	out := make([]RegionalConfig, 0, len(regions))
	for _, country := range Countries() {
		out = append(out, regions[country])
	}
	response.OK(c, out)
}

// Region handles GET /pricing/regions/:country. Unknown countries fall back to the default region.
func (h *Handler) Region(c *gin.Context) {
	response.OK(c, h.resolver.ResolveConfig(c.Param("country")))
}

// Quote handles GET /pricing/quote?service_id=&country=&coupon_code=.
// The coupon is checked but not consumed, so the quote may differ from the final booking price.
func (h *Handler) Quote(c *gin.Context) {
	const op = "pricing.Quote"
	serviceID, err := uuid.Parse(c.Query("service_id"))
	if err != nil {
		response.BadRequest(c, "invalid service_id")
		return
	}
	ctx := c.Request.Context()

	var svc *models.Service
	err = h.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		svc, err = tx.Services().GetByID(ctx, serviceID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !svc.IsActive) {
			return apperror.New(apperror.KindNotFound, op, "service %s not found", serviceID)
		}
		return apperror.Internal(op, err)
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	discount := decimal.Zero
	if code := c.Query("coupon_code"); code != "" && h.coupons != nil {
		coupon, err := h.coupons.Preview(ctx, code, time.Now().UTC())
		if err != nil {
			if apperror.KindOf(err) != apperror.KindInternal {
				err = apperror.New(apperror.KindInvalidCoupon, op, "%s", apperror.Message(err))
			}
			response.Error(c, err)
			return
		}
		discount = coupon.DiscountValue
	}

	response.OK(c, h.resolver.ComputeBreakdown(svc.BasePrice, c.Query("country"), discount, h.platformFee))
}
