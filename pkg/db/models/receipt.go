package models

import (
	"time"

	"github.com/google/uuid"
)

// Receipt records one payment transaction against a student's invoices.
// Its ID doubles as the transaction identifier stamped onto paid invoices.
type Receipt struct {
	ID             uuid.UUID     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StudentID      uuid.UUID     `gorm:"column:student_id;type:uuid;not null;index"`
	Method         string        `gorm:"column:method;not null"`
	AmountCents    int64         `gorm:"column:amount_cents;not null"`
	UnappliedCents int64         `gorm:"column:unapplied_cents;not null;default:0"`
	PaidOn         time.Time     `gorm:"column:paid_on;not null"`
	RecordedBy     uuid.UUID     `gorm:"column:recorded_by;type:uuid;not null"`
	Lines          []ReceiptLine `gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
}
