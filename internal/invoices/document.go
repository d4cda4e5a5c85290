package invoices

import (
	"encoding/json"
	"time"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/pricing"
	"github.com/homeserve/marketplace/pkg/storage"
)

// DocumentContentType is the media type of rendered invoice documents.
const DocumentContentType = "application/json"

// Document is the archived form of an invoice, with amounts formatted for display.
type Document struct {
	InvoiceNumber  string    `json:"invoice_number"`
	OrderID        string    `json:"order_id"`
	CustomerID     string    `json:"customer_id"`
	Country        string    `json:"country"`
	Locale         string    `json:"locale"`
	Currency       string    `json:"currency"`
	CurrencySymbol string    `json:"currency_symbol"`
	SubTotal       string    `json:"sub_total"`
	TaxRatePercent string    `json:"tax_rate_percent"`
	TaxAmount      string    `json:"tax_amount"`
	PlatformFee    string    `json:"platform_fee"`
	DiscountAmount string    `json:"discount_amount"`
	TotalAmount    string    `json:"total_amount"`
	PaidAmount     string    `json:"paid_amount"`
	Status         string    `json:"status"`
	DueDate        string    `json:"due_date"`
	IssuedAt       time.Time `json:"issued_at"`
}

// Render builds the archived document of inv.
func Render(r *pricing.Resolver, inv *models.Invoice) ([]byte, error) {
	region := r.ResolveConfig(inv.Country)
	doc := Document{
		InvoiceNumber:  inv.InvoiceNumber,
		OrderID:        inv.OrderID.String(),
		CustomerID:     inv.CustomerID.String(),
		Country:        inv.Country,
		Locale:         region.Locale,
		Currency:       inv.Currency,
		CurrencySymbol: region.CurrencySymbol,
		SubTotal:       inv.SubTotal.StringFixed(2),
		TaxRatePercent: inv.TaxRate.Shift(2).StringFixed(2),
		TaxAmount:      inv.TaxAmount.StringFixed(2),
		PlatformFee:    inv.PlatformFee.StringFixed(2),
		DiscountAmount: inv.DiscountAmount.StringFixed(2),
		TotalAmount:    inv.TotalAmount.StringFixed(2),
		PaidAmount:     inv.PaidAmount.StringFixed(2),
		Status:         string(inv.Status),
		DueDate:        inv.DueDate.Format("2006-01-02"),
		IssuedAt:       inv.CreatedAt.UTC(),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ArchiveKey is the object key of the archived document of inv.
func ArchiveKey(inv *models.Invoice) string {
	return storage.InvoiceKey(inv.InvoiceNumber, inv.CreatedAt, ".json")
}
