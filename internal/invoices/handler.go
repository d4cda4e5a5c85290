package invoices

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/homeserve/marketplace/internal/middleware"
	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/pkg/apperror"
	"github.com/homeserve/marketplace/pkg/response"
)

// DocumentLinker signs download links for archived invoice documents.
type DocumentLinker interface {
	PresignInvoiceDownload(ctx context.Context, key string) (string, error)
}

// Handler handles invoice HTTP endpoints. Invoice payments go through the payments handler
// so the order balance stays in step.
type Handler struct {
	generator *Generator
	linker    DocumentLinker
}

// NewHandler creates an invoices handler. linker may be nil when no archive is configured.
func NewHandler(g *Generator, linker DocumentLinker) *Handler {
	return &Handler{generator: g, linker: linker}
}

// CreateForOrder handles POST /orders/:id/invoice. Returns the existing invoice if there is one.
func (h *Handler) CreateForOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid order id")
		return
	}
	inv, err := h.generator.Create(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inv)
}

// Get handles GET /invoices/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	inv, err := h.generator.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canView(c, inv) {
		response.Forbidden(c, "not your invoice")
		return
	}
	response.OK(c, inv)
}

// Document handles GET /invoices/:id/document and returns a short-lived download link.
// Only sent invoices are archived.
func (h *Handler) Document(c *gin.Context) {
	if h.linker == nil {
		response.ServiceUnavailable(c, "invoice archive is not configured")
		return
	}
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	inv, err := h.generator.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canView(c, inv) {
		response.Forbidden(c, "not your invoice")
		return
	}
	if inv.SentAt == nil {
		response.Error(c, apperror.New(apperror.KindInvalidState, "invoices.Document", "invoice %s has not been sent", inv.InvoiceNumber))
		return
	}
	url, err := h.linker.PresignInvoiceDownload(c.Request.Context(), ArchiveKey(inv))
	if err != nil {
		response.Error(c, apperror.Internal("invoices.Document", err))
		return
	}
	response.OK(c, gin.H{"url": url})
}

// Send handles POST /invoices/:id/send (admin).
func (h *Handler) Send(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	inv, err := h.generator.Send(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

// Cancel handles POST /invoices/:id/cancel (admin).
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	inv, err := h.generator.Cancel(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

func invoiceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid invoice id")
		return uuid.Nil, false
	}
	return id, true
}

func canView(c *gin.Context, inv *models.Invoice) bool {
	return middleware.CanAccess(c, inv.CustomerID)
}
