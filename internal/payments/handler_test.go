package payments

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeserve/marketplace/internal/gateway"
	"github.com/homeserve/marketplace/internal/middleware"
)

func (f *fixture) router(caller uuid.UUID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.rec, f.gen)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, caller)
		c.Set(middleware.ContextUserRole, role)
		c.Next()
	})
	r.POST("/orders/:id/charge", h.Charge)
	r.GET("/orders/:id/transactions", h.ListTransactions)
	return r
}

func serve(r *gin.Engine, method, url, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerChargeOnlyByParties(t *testing.T) {
	f := newFixture()
	o := f.order("90")
	f.charger.result = gateway.PaymentResult{Success: true, TransactionID: "ch_9", Provider: gateway.ProviderCard}
	url := "/orders/" + o.ID.String() + "/charge"
	body := `{"payment_method":"card","source":"tok","idempotency_key":"k-9"}`

	w := serve(f.router(uuid.New(), middleware.RoleCustomer), http.MethodPost, url, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.charger.calls)
	got, _ := f.store.Order(o.ID)
	assert.True(t, got.PaidAmount.IsZero())

	w = serve(f.router(o.CustomerID, middleware.RoleCustomer), http.MethodPost, url, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.charger.calls, 1)
	got, _ = f.store.Order(o.ID)
	assert.True(t, got.IsFullyPaid)
}

func TestHandlerTransactionsOnlyByParties(t *testing.T) {
	f := newFixture()
	o := f.order("50")
	f.pay(t, o.ID, "20", "tx-1")
	url := "/orders/" + o.ID.String() + "/transactions"

	w := serve(f.router(uuid.New(), middleware.RoleProvider), http.MethodGet, url, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(f.router(o.CustomerID, middleware.RoleCustomer), http.MethodGet, url, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tx-1")

	w = serve(f.router(uuid.New(), middleware.RoleAdmin), http.MethodGet, url, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(f.router(o.CustomerID, middleware.RoleCustomer), http.MethodGet, "/orders/"+uuid.NewString()+"/transactions", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
