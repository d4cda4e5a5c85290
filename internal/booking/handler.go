package booking

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/homeserve/marketplace/internal/middleware"
	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/pkg/response"
)

// CreateRequest is the body for POST /bookings.
type CreateRequest struct {
	ServiceID          uuid.UUID  `json:"service_id"`
	ScheduledDate      time.Time  `json:"scheduled_date"`
	Country            string     `json:"country"`
	CouponCode         string     `json:"coupon_code"`
	IsRecurring        bool       `json:"is_recurring"`
	RecurrenceType     string     `json:"recurrence_type"`
	RecurrenceInterval int        `json:"recurrence_interval"`
	RecurrenceEndDate  *time.Time `json:"recurrence_end_date"`
	ReminderEnabled    *bool      `json:"reminder_enabled"`
}

// CancelRequest is the body for POST /bookings/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// RescheduleRequest is the body for POST /bookings/:id/reschedule.
type RescheduleRequest struct {
	ScheduledDate time.Time `json:"scheduled_date" binding:"required"`
}

// Handler handles booking HTTP endpoints.
type Handler struct {
	orchestrator *Orchestrator
}

// NewHandler creates a bookings handler.
func NewHandler(o *Orchestrator) *Handler {
	return &Handler{orchestrator: o}
}

// Create handles POST /bookings (customer). The caller is the customer.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reminders := true
	if req.ReminderEnabled != nil {
		reminders = *req.ReminderEnabled
	}
	// Unknown types are passed through; the expander books the first occurrence only.
	recType := models.RecurrenceType(strings.ToLower(strings.TrimSpace(req.RecurrenceType)))
	if recType == "" {
		recType = models.RecurrenceNone
	}

	ord, err := h.orchestrator.CreateBooking(c.Request.Context(), Request{
		CustomerID:         c.MustGet(middleware.ContextUserID).(uuid.UUID),
		ServiceID:          req.ServiceID,
		ScheduledDate:      req.ScheduledDate,
		Country:            req.Country,
		CouponCode:         req.CouponCode,
		IsRecurring:        req.IsRecurring,
		RecurrenceType:     recType,
		RecurrenceInterval: req.RecurrenceInterval,
		RecurrenceEndDate:  req.RecurrenceEndDate,
		ReminderEnabled:    reminders,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, orderView(ord))
}

// Get handles GET /bookings/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	ord, err := h.orchestrator.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canView(c, ord) {
		response.Forbidden(c, "not your booking")
		return
	}
	response.OK(c, orderView(ord))
}

// List handles GET /bookings for the calling customer.
func (h *Handler) List(c *gin.Context) {
	orders, err := h.orchestrator.ListByCustomer(c.Request.Context(), c.MustGet(middleware.ContextUserID).(uuid.UUID))
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	response.OK(c, out)
}

// ListSeries handles GET /bookings/series/:seriesId.
func (h *Handler) ListSeries(c *gin.Context) {
	seriesID, err := uuid.Parse(c.Param("seriesId"))
	if err != nil {
		response.BadRequest(c, "invalid series id")
		return
	}
	orders, err := h.orchestrator.ListSeries(c.Request.Context(), seriesID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canView(c, orders[0]) {
		response.Forbidden(c, "not your booking")
		return
	}
	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	response.OK(c, out)
}

// Accept handles POST /bookings/:id/accept (provider). The caller becomes the provider.
func (h *Handler) Accept(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	ord, err := h.orchestrator.Accept(c.Request.Context(), id, c.MustGet(middleware.ContextUserID).(uuid.UUID))
	h.reply(c, ord, err)
}

// Start handles POST /bookings/:id/start (assigned provider).
func (h *Handler) Start(c *gin.Context) {
	id, ok := h.authorize(c)
	if !ok {
		return
	}
	ord, err := h.orchestrator.Start(c.Request.Context(), id)
	h.reply(c, ord, err)
}

// Complete handles POST /bookings/:id/complete (assigned provider).
func (h *Handler) Complete(c *gin.Context) {
	id, ok := h.authorize(c)
	if !ok {
		return
	}
	ord, err := h.orchestrator.Complete(c.Request.Context(), id)
	h.reply(c, ord, err)
}

// Cancel handles POST /bookings/:id/cancel (customer, assigned provider or admin).
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := h.authorize(c)
	if !ok {
		return
	}
	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	ord, err := h.orchestrator.Cancel(c.Request.Context(), id, req.Reason)
	h.reply(c, ord, err)
}

// Reschedule handles POST /bookings/:id/reschedule (customer or admin).
func (h *Handler) Reschedule(c *gin.Context) {
	id, ok := h.authorize(c)
	if !ok {
		return
	}
	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ord, err := h.orchestrator.Reschedule(c.Request.Context(), id, req.ScheduledDate)
	h.reply(c, ord, err)
}

func (h *Handler) reply(c *gin.Context, ord *models.Order, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, orderView(ord))
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

// authorize loads the order named in the path and checks the caller is one of its parties.
// It writes the error response itself.
func (h *Handler) authorize(c *gin.Context) (uuid.UUID, bool) {
	id, ok := orderID(c)
	if !ok {
		return uuid.Nil, false
	}
	ord, err := h.orchestrator.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return uuid.Nil, false
	}
	if !canView(c, ord) {
		response.Forbidden(c, "not your booking")
		return uuid.Nil, false
	}
	return id, true
}

func canView(c *gin.Context, ord *models.Order) bool {
	return middleware.CanAccess(c, ord.Parties()...)
}

// orderView adds the derived payment progress to the stored order.
func orderView(o *models.Order) gin.H {
	return gin.H{
		"order":            o,
		"payment_progress": o.PaymentProgress(),
	}
}
