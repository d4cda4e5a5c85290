package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvoiceKey(t *testing.T) {
	issued := time.Date(2024, 3, 10, 23, 30, 0, 0, time.FixedZone("AST", 3*3600))
	assert.Equal(t, "invoices/2024/03/INV-20240310-000001.json", InvoiceKey("INV-20240310-000001", issued, ".json"))
	assert.Equal(t, "invoices/2024/03/evil.json", InvoiceKey("../../evil", issued, ".json"))
}

func TestPresignExpireDefault(t *testing.T) {
	assert.Equal(t, 15*time.Minute, (&S3{}).PresignExpire())
	assert.Equal(t, 5*time.Minute, (&S3{cfg: S3Config{PresignExpireMinutes: 5}}).PresignExpire())
}
