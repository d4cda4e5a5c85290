package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is a bookable catalogue entry. Read-only for the engine.
type Service struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	BasePrice  decimal.Decimal `json:"base_price"`
	ProviderID *uuid.UUID      `json:"provider_id,omitempty"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
