package payments

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homeserve/marketplace/internal/gateway"
	"github.com/homeserve/marketplace/internal/invoices"
	"github.com/homeserve/marketplace/internal/middleware"
	"github.com/homeserve/marketplace/pkg/response"
)

// PaymentRequest is the body for POST /orders/:id/payments and POST /invoices/:id/payments.
type PaymentRequest struct {
	Amount                decimal.Decimal `json:"amount"`
	PaymentMethod         string          `json:"payment_method" binding:"required"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
}

// RefundRequest is the body for POST /orders/:id/refunds.
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"required"`
}

// ChargeRequest is the body for POST /orders/:id/charge.
type ChargeRequest struct {
	PaymentMethod  string          `json:"payment_method" binding:"required,oneof=card stc_pay urpay cash"`
	Source         string          `json:"source"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Handler handles payment HTTP endpoints.
type Handler struct {
	reconciler *Reconciler
	invoices   *invoices.Generator
}

// NewHandler creates a payments handler.
func NewHandler(r *Reconciler, g *invoices.Generator) *Handler {
	return &Handler{reconciler: r, invoices: g}
}

// RecordPayment handles POST /orders/:id/payments (provider/admin), for money collected outside the gateway.
func (h *Handler) RecordPayment(c *gin.Context) {
	orderID, ok := pathID(c, "invalid order id")
	if !ok {
		return
	}
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.reconciler.RecordPayment(c.Request.Context(), PaymentInput{
		OrderID:               orderID,
		Amount:                req.Amount,
		Method:                req.PaymentMethod,
		ProviderTransactionID: req.ProviderTransactionID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// PayInvoice handles POST /invoices/:id/payments. The payment is applied to the invoice's order.
func (h *Handler) PayInvoice(c *gin.Context) {
	invoiceID, ok := pathID(c, "invalid invoice id")
	if !ok {
		return
	}
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	inv, err := h.invoices.Get(c.Request.Context(), invoiceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.reconciler.RecordPayment(c.Request.Context(), PaymentInput{
		OrderID:               inv.OrderID,
		Amount:                req.Amount,
		Method:                req.PaymentMethod,
		ProviderTransactionID: req.ProviderTransactionID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// RecordRefund handles POST /orders/:id/refunds (admin).
func (h *Handler) RecordRefund(c *gin.Context) {
	orderID, ok := pathID(c, "invalid order id")
	if !ok {
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.reconciler.RecordRefund(c.Request.Context(), RefundInput{OrderID: orderID, Amount: req.Amount, Reason: req.Reason})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Charge handles POST /orders/:id/charge (the order's customer or admin).
func (h *Handler) Charge(c *gin.Context) {
	orderID, ok := h.authorize(c)
	if !ok {
		return
	}
	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(middleware.HeaderIdempotencyKey)
	}
	res, err := h.reconciler.Charge(c.Request.Context(), ChargeInput{
		OrderID:        orderID,
		Method:         gateway.ProviderType(req.PaymentMethod),
		Source:         req.Source,
		Amount:         req.Amount,
		IdempotencyKey: key,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// ListTransactions handles GET /orders/:id/transactions (the order's parties or admin).
func (h *Handler) ListTransactions(c *gin.Context) {
	orderID, ok := h.authorize(c)
	if !ok {
		return
	}
	txns, err := h.reconciler.ListTransactions(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, txns)
}

// authorize loads the order named in the path and checks the caller is one of its parties.
func (h *Handler) authorize(c *gin.Context) (uuid.UUID, bool) {
	orderID, ok := pathID(c, "invalid order id")
	if !ok {
		return uuid.Nil, false
	}
	ord, err := h.reconciler.Order(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return uuid.Nil, false
	}
	if !middleware.CanAccess(c, ord.Parties()...) {
		response.Forbidden(c, "not your order")
		return uuid.Nil, false
	}
	return orderID, true
}

func pathID(c *gin.Context, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}
