package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homeserve/marketplace/pkg/apperror"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err, Code: string(apperror.KindInvalidArgument)})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Error maps an engine error to its HTTP status. Internal errors never leak their cause.
func Error(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	c.JSON(StatusFor(kind), Body{Success: false, Error: apperror.Message(err), Code: string(kind)})
}

// StatusFor returns the HTTP status used for kind.
func StatusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindInvalidArgument, apperror.KindInvalidRecurrenceRule:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindSchedulingConflict, apperror.KindConcurrencyConflict, apperror.KindInvalidState:
		return http.StatusConflict
	case apperror.KindInvalidCoupon, apperror.KindExcessiveRefund:
		return http.StatusUnprocessableEntity
	case apperror.KindPaymentDeclined:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}
