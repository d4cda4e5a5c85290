// Package pricing maps a country to its regional configuration and computes price breakdowns.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Country is a supported market.
type Country string

const (
	SaudiArabia        Country = "SaudiArabia"
	UnitedArabEmirates Country = "UnitedArabEmirates"
	Egypt              Country = "Egypt"
	Kuwait             Country = "Kuwait"
	Qatar              Country = "Qatar"
	Bahrain            Country = "Bahrain"
	Oman               Country = "Oman"
	Jordan             Country = "Jordan"
)

// RegionalConfig is immutable reference data for one country.
type RegionalConfig struct {
	Country        Country         `json:"country"`
	Currency       string          `json:"currency"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	CurrencySymbol string          `json:"currency_symbol"`
	Locale         string          `json:"locale"`
}

var regions = map[Country]RegionalConfig{
	SaudiArabia:        {Country: SaudiArabia, Currency: "SAR", TaxRate: decimal.RequireFromString("0.15"), CurrencySymbol: "ر.س", Locale: "ar-SA"},
	UnitedArabEmirates: {Country: UnitedArabEmirates, Currency: "AED", TaxRate: decimal.RequireFromString("0.05"), CurrencySymbol: "د.إ", Locale: "ar-AE"},
	Egypt:              {Country: Egypt, Currency: "EGP", TaxRate: decimal.RequireFromString("0.14"), CurrencySymbol: "ج.م", Locale: "ar-EG"},
	Kuwait:             {Country: Kuwait, Currency: "KWD", TaxRate: decimal.Zero, CurrencySymbol: "د.ك", Locale: "ar-KW"},
	Qatar:              {Country: Qatar, Currency: "QAR", TaxRate: decimal.Zero, CurrencySymbol: "ر.ق", Locale: "ar-QA"},
	Bahrain:            {Country: Bahrain, Currency: "BHD", TaxRate: decimal.RequireFromString("0.10"), CurrencySymbol: "د.ب", Locale: "ar-BH"},
	Oman:               {Country: Oman, Currency: "OMR", TaxRate: decimal.RequireFromString("0.05"), CurrencySymbol: "ر.ع", Locale: "ar-OM"},
	Jordan:             {Country: Jordan, Currency: "JOD", TaxRate: decimal.RequireFromString("0.16"), CurrencySymbol: "د.ا", Locale: "ar-JO"},
}

var isoCodes = map[string]Country{
	"SA": SaudiArabia,
	"AE": UnitedArabEmirates,
	"EG": Egypt,
	"KW": Kuwait,
	"QA": Qatar,
	"BH": Bahrain,
	"OM": Oman,
	"JO": Jordan,
}

// Countries returns every supported country in a stable order.
func Countries() []Country {
	return []Country{SaudiArabia, UnitedArabEmirates, Egypt, Kuwait, Qatar, Bahrain, Oman, Jordan}
}

// ParseCountry accepts a country name (any case) or an ISO-3166 alpha-2 code.
func ParseCountry(s string) (Country, bool) {
	s = strings.TrimSpace(s)
	if c, ok := isoCodes[strings.ToUpper(s)]; ok {
		return c, true
	}
	for c := range regions {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}
