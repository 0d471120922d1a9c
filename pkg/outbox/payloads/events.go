package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/enums"
)

// PaymentLine is the per-invoice breakdown published with a payment event.
type PaymentLine struct {
	InvoiceID    uuid.UUID `json:"invoice_id"`
	AppliedCents int64     `json:"applied_cents"`
}

// PaymentRecordedEvent is emitted after a payment has been allocated.
type PaymentRecordedEvent struct {
	ReceiptID      uuid.UUID     `json:"receipt_id"`
	StudentID      uuid.UUID     `json:"student_id"`
	Method         string        `json:"method"`
	AmountCents    int64         `json:"amount_cents"`
	UnappliedCents int64         `json:"unapplied_cents"`
	PaidOn         time.Time     `json:"paid_on"`
	Lines          []PaymentLine `json:"lines"`
}

// InvoiceIssuedEvent signals a draft invoice became collectible.
type InvoiceIssuedEvent struct {
	InvoiceID   uuid.UUID `json:"invoice_id"`
	StudentID   uuid.UUID `json:"student_id"`
	Term        string    `json:"term"`
	AmountCents int64     `json:"amount_cents"`
	DueDate     time.Time `json:"due_date"`
	IssuedAt    time.Time `json:"issued_at"`
}

// InvoiceCancelledEvent is emitted when an invoice is withdrawn.
type InvoiceCancelledEvent struct {
	InvoiceID       uuid.UUID           `json:"invoice_id"`
	StudentID       uuid.UUID           `json:"student_id"`
	PreviousStatus  enums.InvoiceStatus `json:"previous_status"`
	PaidAmountCents int64               `json:"paid_amount_cents"`
	CancelledAt     time.Time           `json:"cancelled_at"`
}

// InvoiceOverdueEvent is emitted by the sweep when a due date lapses unpaid.
type InvoiceOverdueEvent struct {
	InvoiceID    uuid.UUID `json:"invoice_id"`
	StudentID    uuid.UUID `json:"student_id"`
	AmountCents  int64     `json:"amount_cents"`
	DueDate      time.Time `json:"due_date"`
	DetectedAt   time.Time `json:"detected_at"`
	BalanceCents int64     `json:"balance_cents"`
}
