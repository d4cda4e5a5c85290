package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeserve/marketplace/internal/middleware"
	"github.com/homeserve/marketplace/internal/models"
)

type orderBody struct {
	Success bool `json:"success"`
	Data    struct {
		Order models.Order `json:"order"`
	} `json:"data"`
}

func (f *fixture) router(caller uuid.UUID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.orch)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, caller)
		c.Set(middleware.ContextUserRole, role)
		c.Next()
	})
	r.POST("/bookings", h.Create)
	r.POST("/bookings/:id/start", h.Start)
	r.POST("/bookings/:id/cancel", h.Cancel)
	r.POST("/bookings/:id/reschedule", h.Reschedule)
	return r
}

func post(r *gin.Engine, url, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) models.Order {
	t.Helper()
	var body orderBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success, w.Body.String())
	return body.Data.Order
}

func TestHandlerCancelOnlyByParties(t *testing.T) {
	f := newFixture()
	ord := f.book(t, f.request(at(2, 1)))
	url := "/bookings/" + ord.ID.String() + "/cancel"

	w := post(f.router(uuid.New(), middleware.RoleCustomer), url, `{"reason":"not mine"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	stored, _ := f.store.Order(ord.ID)
	assert.Equal(t, models.OrderStatusPending, stored.Status)

	w = post(f.router(f.customer, middleware.RoleCustomer), url, `{"reason":"changed plans"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderStatusCancelled, decodeOrder(t, w).Status)
}

func TestHandlerRescheduleOnlyByParties(t *testing.T) {
	f := newFixture()
	ord := f.book(t, f.request(at(2, 1)))
	url := "/bookings/" + ord.ID.String() + "/reschedule"
	body := `{"scheduled_date":"` + at(2, 8).Format(time.RFC3339) + `"}`

	w := post(f.router(uuid.New(), middleware.RoleCustomer), url, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	stored, _ := f.store.Order(ord.ID)
	assert.Equal(t, at(2, 1), stored.ScheduledDate)

	w = post(f.router(uuid.New(), middleware.RoleAdmin), url, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeOrder(t, w).ScheduledDate.Equal(at(2, 8)))
}

func TestHandlerStartOnlyByAssignedProvider(t *testing.T) {
	f := newFixture()
	ord := f.book(t, f.request(at(2, 1)))
	_, err := f.orch.Accept(context.Background(), ord.ID, f.provider)
	require.NoError(t, err)
	url := "/bookings/" + ord.ID.String() + "/start"

	w := post(f.router(uuid.New(), middleware.RoleProvider), url, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = post(f.router(f.provider, middleware.RoleProvider), url, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderStatusInProgress, decodeOrder(t, w).Status)
}

func TestHandlerCancelUnknownOrder(t *testing.T) {
	f := newFixture()
	w := post(f.router(f.customer, middleware.RoleCustomer), "/bookings/"+uuid.NewString()+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerCreateUnknownRecurrenceBooksFirstOccurrence(t *testing.T) {
	f := newFixture()
	body := `{"service_id":"` + f.service.ID.String() + `","scheduled_date":"` + at(2, 1).Format(time.RFC3339) +
		`","country":"SA","is_recurring":true,"recurrence_type":"fortnightly","recurrence_interval":1}`

	w := post(f.router(f.customer, middleware.RoleCustomer), "/bookings", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ord := decodeOrder(t, w)
	assert.False(t, ord.IsRecurring)
	assert.Equal(t, models.RecurrenceNone, ord.RecurrenceType)
	assert.Equal(t, f.customer, ord.CustomerID)
	assert.Equal(t, 1, f.store.OrderCount())
}
