package models

import (
	"time"

	"github.com/google/uuid"
)

// ReceiptLine is the per-invoice breakdown of a receipt's allocation.
type ReceiptLine struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReceiptID    uuid.UUID `gorm:"column:receipt_id;type:uuid;not null;index"`
	InvoiceID    uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;index"`
	AppliedCents int64     `gorm:"column:applied_cents;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}
