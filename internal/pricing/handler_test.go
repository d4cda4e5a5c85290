package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/store/memory"
	"github.com/homeserve/marketplace/pkg/apperror"
)

type stubPreviewer map[string]decimal.Decimal

func (p stubPreviewer) Preview(_ context.Context, code string, _ time.Time) (*models.Coupon, error) {
	v, ok := p[code]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "coupons.Preview", "coupon %s not found", code)
	}
	return &models.Coupon{Code: code, DiscountValue: v}, nil
}

type quoteBody struct {
	Success bool      `json:"success"`
	Data    Breakdown `json:"data"`
	Code    string    `json:"code"`
}

func quoteRouter(t *testing.T) (*gin.Engine, uuid.UUID, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := memory.New()
	active := models.Service{ID: uuid.New(), Name: "AC repair", BasePrice: decimal.NewFromInt(100), IsActive: true}
	retired := models.Service{ID: uuid.New(), Name: "Pest control", BasePrice: decimal.NewFromInt(80)}
	s.PutService(active)
	s.PutService(retired)

	h := NewHandler(NewResolver("SA"), s, stubPreviewer{"SAVE10": decimal.NewFromInt(10)}, decimal.NewFromInt(5))
	r := gin.New()
	r.GET("/pricing/quote", h.Quote)
	r.GET("/pricing/regions/:country", h.Region)
	return r, active.ID, retired.ID
}

func get(r *gin.Engine, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	return w
}

func TestQuoteAppliesTaxFeeAndCoupon(t *testing.T) {
	r, active, _ := quoteRouter(t)

	w := get(r, "/pricing/quote?service_id="+active.String()+"&country=SaudiArabia&coupon_code=SAVE10")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body quoteBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "SAR", body.Data.Currency)
	assert.True(t, body.Data.TaxAmount.Equal(decimal.NewFromInt(15)))
	assert.True(t, body.Data.Discount.Equal(decimal.NewFromInt(10)))
	assert.True(t, body.Data.Total.Equal(decimal.NewFromInt(110)), body.Data.Total.String())
}

func TestQuoteRejections(t *testing.T) {
	r, active, retired := quoteRouter(t)

	tests := []struct {
		name   string
		query  string
		status int
		code   string
	}{
		{"bad service id", "service_id=nope", http.StatusBadRequest, string(apperror.KindInvalidArgument)},
		{"unknown service", "service_id=" + uuid.NewString(), http.StatusNotFound, string(apperror.KindNotFound)},
		{"inactive service", "service_id=" + retired.String(), http.StatusNotFound, string(apperror.KindNotFound)},
		{"unknown coupon", "service_id=" + active.String() + "&coupon_code=NOPE", http.StatusUnprocessableEntity, string(apperror.KindInvalidCoupon)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, "/pricing/quote?"+tt.query)
			assert.Equal(t, tt.status, w.Code)
			var body quoteBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestRegionFallsBackToDefault(t *testing.T) {
	r, _, _ := quoteRouter(t)

	w := get(r, "/pricing/regions/Atlantis")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data RegionalConfig `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, SaudiArabia, body.Data.Country)
	assert.Equal(t, "SAR", body.Data.Currency)
}
