package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(method ProviderType) PaymentRequest {
	return PaymentRequest{
		OrderID:        uuid.New(),
		CustomerID:     uuid.New(),
		Amount:         decimal.RequireFromString("115"),
		Currency:       "SAR",
		Method:         method,
		Source:         "tok_visa",
		IdempotencyKey: "key-1",
	}
}

func TestHTTPProviderSuccess(t *testing.T) {
	var got chargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chargeResponse{ID: "ch_123", Status: "succeeded"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderCard, srv.URL+"/", "sk_test", srv.Client(), nil)
	res, err := p.Process(context.Background(), request(ProviderCard))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ch_123", res.TransactionID)
	assert.Equal(t, ProviderCard, res.Provider)
	assert.Equal(t, "115.00", got.Amount)
	assert.Equal(t, "SAR", got.Currency)
}

func TestHTTPProviderDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(chargeResponse{Status: "declined", Message: "insufficient funds"})
	}))
	defer srv.Close()

	res, err := NewHTTPProvider(ProviderStcPay, srv.URL, "k", srv.Client(), nil).Process(context.Background(), request(ProviderStcPay))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient funds", res.Message)
}

func TestHTTPProviderServerErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(ProviderUrpay, srv.URL, "k", srv.Client(), nil).Process(context.Background(), request(ProviderUrpay))
	assert.Error(t, err)
}

func TestGatewayDispatch(t *testing.T) {
	g := New(nil, NewCashProvider())

	res, err := g.Process(context.Background(), request(ProviderCash))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "CASH-key-1", res.TransactionID)

	res, err = g.Process(context.Background(), request("bitcoin"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "unsupported")
	assert.False(t, g.Supports("bitcoin"))
	assert.True(t, g.Supports(ProviderCash))
}
