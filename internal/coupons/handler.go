package coupons

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/homeserve/marketplace/pkg/response"
)

// CreateRequest is the body for POST /admin/coupons.
type CreateRequest struct {
	Code          string          `json:"code" binding:"required"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	MaxUsage      int             `json:"max_usage" binding:"required,min=1"`
}

// Handler handles coupon HTTP endpoints.
type Handler struct {
	validator *Validator
}

// NewHandler creates a coupons handler.
func NewHandler(v *Validator) *Handler {
	return &Handler{validator: v}
}

// Create handles POST /admin/coupons (admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	coupon, err := h.validator.Create(c.Request.Context(), CreateInput(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, coupon)
}

// Preview handles GET /coupons/:code. It never consumes usage.
func (h *Handler) Preview(c *gin.Context) {
	coupon, err := h.validator.Preview(c.Request.Context(), c.Param("code"), time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"code":           coupon.Code,
		"discount_value": coupon.DiscountValue,
		"expiry_date":    coupon.ExpiryDate,
		"remaining_uses": coupon.MaxUsage - coupon.UsageCount,
	})
}
