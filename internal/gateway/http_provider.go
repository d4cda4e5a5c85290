package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type chargeRequest struct {
	Reference string `json:"reference"`
	Customer  string `json:"customer"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Source    string `json:"source,omitempty"`
}

type chargeResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HTTPProvider talks to a card network or regional wallet REST API.
// All three remote methods share the same charge contract: POST {base}/v1/charges.
type HTTPProvider struct {
	typ     ProviderType
	baseURL string
	apiKey  string
	hc      *http.Client
	logger  *zap.Logger
}

// NewHTTPProvider creates a remote provider. A nil client gets a 30 second timeout.
func NewHTTPProvider(typ ProviderType, baseURL, apiKey string, hc *http.Client, logger *zap.Logger) *HTTPProvider {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProvider{
		typ:     typ,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      hc,
		logger:  logger,
	}
}

// Type implements Provider.
func (p *HTTPProvider) Type() ProviderType { return p.typ }

// Process implements Provider. 4xx responses are declines; transport failures and 5xx are errors.
func (p *HTTPProvider) Process(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	reqBuff, err := json.Marshal(chargeRequest{
		Reference: req.OrderID.String(),
		Customer:  req.CustomerID.String(),
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		Source:    req.Source,
	})
	if err != nil {
		return PaymentResult{}, fmt.Errorf("marshal charge: %w", err)
	}
	url := fmt.Sprintf("%s/v1/charges", p.baseURL)

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBuff))
	if err != nil {
		return PaymentResult{}, fmt.Errorf("build %s request: %w", p.typ, err)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("Authorization", "Bearer "+p.apiKey)
	if req.IdempotencyKey != "" {
		hr.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	hresp, err := p.hc.Do(hr)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("%s charge: %w", p.typ, err)
	}
	defer hresp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(hresp.Body, 1<<20))
	if err != nil {
		return PaymentResult{}, fmt.Errorf("read %s response: %w", p.typ, err)
	}
	if hresp.StatusCode >= 500 {
		return PaymentResult{}, fmt.Errorf("%s charge: status %d: %s", p.typ, hresp.StatusCode, string(respBody))
	}

	var resp chargeResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &resp); err != nil {
			if hresp.StatusCode < 300 {
				return PaymentResult{}, fmt.Errorf("decode %s response: %w", p.typ, err)
			}
			resp.Message = string(respBody)
		}
	}

	res := PaymentResult{
		TransactionID: resp.ID,
		Message:       resp.Message,
		Provider:      p.typ,
		ProcessedAt:   time.Now().UTC(),
	}
	res.Success = hresp.StatusCode < 300 && resp.ID != "" && (resp.Status == "succeeded" || resp.Status == "captured")
	if !res.Success && res.Message == "" {
		res.Message = fmt.Sprintf("payment declined (%s)", strings.TrimSpace(resp.Status+" "+http.StatusText(hresp.StatusCode)))
	}
	if !res.Success {
		p.logger.Info("payment declined", zap.String("provider", string(p.typ)), zap.Int("status", hresp.StatusCode), zap.String("message", res.Message))
	}
	return res, nil
}
