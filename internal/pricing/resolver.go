package pricing

import (
	"github.com/shopspring/decimal"
)

// Breakdown is the regional price of one occurrence.
type Breakdown struct {
	Country     Country         `json:"country"`
	Currency    string          `json:"currency"`
	BasePrice   decimal.Decimal `json:"base_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

// Resolver is a pure lookup over the regional table. Safe for concurrent use.
type Resolver struct {
	fallback Country
}

// NewResolver returns a resolver that falls back to defaultCountry for unknown input.
// An unsupported defaultCountry falls back to SaudiArabia.
func NewResolver(defaultCountry string) *Resolver {
	c, ok := ParseCountry(defaultCountry)
	if !ok {
		c = SaudiArabia
	}
	return &Resolver{fallback: c}
}

// Default returns the fallback country.
func (r *Resolver) Default() Country { return r.fallback }

// Normalize maps free-form input to a supported country.
func (r *Resolver) Normalize(country string) Country {
	if c, ok := ParseCountry(country); ok {
		return c
	}
	return r.fallback
}

// ResolveConfig returns the regional config for country.
func (r *Resolver) ResolveConfig(country string) RegionalConfig {
	return regions[r.Normalize(country)]
}

// ComputeBreakdown prices basePrice in country.
// Tax is charged on the base price. The discount is capped so the total never drops below zero.
func (r *Resolver) ComputeBreakdown(basePrice decimal.Decimal, country string, discount, platformFee decimal.Decimal) Breakdown {
	cfg := r.ResolveConfig(country)

	base := basePrice.Round(2)
	fee := decimal.Max(decimal.Zero, platformFee).Round(2)
	tax := base.Mul(cfg.TaxRate).Round(2)
	gross := base.Add(tax).Add(fee)

	disc := decimal.Max(decimal.Zero, discount).Round(2)
	if disc.GreaterThan(gross) {
		disc = gross
	}
	total := decimal.Max(decimal.Zero, gross.Sub(disc))

	return Breakdown{
		Country:     cfg.Country,
		Currency:    cfg.Currency,
		BasePrice:   base,
		TaxRate:     cfg.TaxRate,
		TaxAmount:   tax,
		PlatformFee: fee,
		Discount:    disc,
		Total:       total,
	}
}
