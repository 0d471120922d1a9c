package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/enums"
)

// Invoice represents a single fee obligation issued to a student for one term.
type Invoice struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StudentID       uuid.UUID           `gorm:"column:student_id;type:uuid;not null;index"`
	Term            string              `gorm:"column:term;not null"`
	Description     *string             `gorm:"column:description"`
	AmountCents     int64               `gorm:"column:amount_cents;not null"`
	PaidAmountCents int64               `gorm:"column:paid_amount_cents;not null;default:0"`
	DueDate         time.Time           `gorm:"column:due_date;type:date;not null"`
	Status          enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'draft'"`
	PaidOn          *time.Time          `gorm:"column:paid_on"`
	TransactionID   *uuid.UUID          `gorm:"column:transaction_id;type:uuid"`
	IssuedAt        *time.Time          `gorm:"column:issued_at"`
	CancelledAt     *time.Time          `gorm:"column:cancelled_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// BalanceCents returns the amount still owed on the invoice.
func (i Invoice) BalanceCents() int64 {
	return i.AmountCents - i.PaidAmountCents
}
