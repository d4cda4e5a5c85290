// Package gateway dispatches charges to payment providers.
// Providers never retry; a retried call is made safe by the idempotency key.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProviderType names a payment method.
type ProviderType string

const (
	ProviderCard   ProviderType = "card"
	ProviderStcPay ProviderType = "stc_pay"
	ProviderUrpay  ProviderType = "urpay"
	ProviderCash   ProviderType = "cash"
)

// PaymentRequest is one charge attempt.
type PaymentRequest struct {
	OrderID        uuid.UUID
	CustomerID     uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Method         ProviderType
	Source         string // card token or wallet account
	IdempotencyKey string
}

// PaymentResult is the provider's verdict on a charge.
type PaymentResult struct {
	Success       bool         `json:"success"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Message       string       `json:"message,omitempty"`
	Provider      ProviderType `json:"provider"`
	ProcessedAt   time.Time    `json:"processed_at"`
}

// Provider charges through one payment method.
type Provider interface {
	Type() ProviderType
	// Process returns a failed result for a decline and an error only when the outcome is unknown.
	Process(ctx context.Context, req PaymentRequest) (PaymentResult, error)
}

// Gateway routes a request to the provider registered for its method.
type Gateway struct {
	providers map[ProviderType]Provider
	logger    *zap.Logger
}

// New registers providers by their type. A later provider replaces an earlier one of the same type.
func New(logger *zap.Logger, providers ...Provider) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{providers: make(map[ProviderType]Provider, len(providers)), logger: logger}
	for _, p := range providers {
		g.providers[p.Type()] = p
	}
	return g
}

// Supports reports whether method has a provider.
func (g *Gateway) Supports(method ProviderType) bool {
	_, ok := g.providers[method]
	return ok
}

// Process charges req through its provider. An unknown method yields a failed result, not an error.
func (g *Gateway) Process(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	p, ok := g.providers[req.Method]
	if !ok {
		g.logger.Warn("unsupported payment method", zap.String("method", string(req.Method)))
		return PaymentResult{
			Success:     false,
			Message:     "unsupported payment method: " + string(req.Method),
			Provider:    req.Method,
			ProcessedAt: time.Now().UTC(),
		}, nil
	}
	res, err := p.Process(ctx, req)
	if err != nil {
		g.logger.Error("payment provider error",
			zap.String("method", string(req.Method)),
			zap.String("order_id", req.OrderID.String()),
			zap.Error(err),
		)
		return PaymentResult{}, err
	}
	g.logger.Info("payment processed",
		zap.String("method", string(req.Method)),
		zap.String("order_id", req.OrderID.String()),
		zap.Bool("success", res.Success),
		zap.String("transaction_id", res.TransactionID),
	)
	return res, nil
}

// CashProvider records payment collected on site by the service provider.
type CashProvider struct {
	now func() time.Time
}

// NewCashProvider creates the cash provider.
func NewCashProvider() *CashProvider { return &CashProvider{now: time.Now} }

// Type implements Provider.
func (*CashProvider) Type() ProviderType { return ProviderCash }

// Process always succeeds with a local reference. The idempotency key doubles as the reference
// so a replay records nothing new.
func (p *CashProvider) Process(_ context.Context, req PaymentRequest) (PaymentResult, error) {
	ref := req.IdempotencyKey
	if ref == "" {
		ref = uuid.New().String()
	}
	return PaymentResult{
		Success:       true,
		TransactionID: "CASH-" + ref,
		Message:       "collected in cash",
		Provider:      ProviderCash,
		ProcessedAt:   p.now().UTC(),
	}, nil
}
