package invoices

import (
	"time"

	"github.com/schooldesk/schooldesk-backend/pkg/enums"
)

// DeriveStatus computes an invoice's lifecycle status from its amounts and
// dates. It is the only place status is decided; callers persist the result
// after every paid-amount change so a stored status is never stale.
//
// Partial payment takes precedence over the due date: overdue is only
// reported for invoices with zero payment progress.
func DeriveStatus(amountCents, paidCents int64, dueDate time.Time, cancelled, issued bool, today time.Time) enums.InvoiceStatus {
	switch {
	case cancelled:
		return enums.InvoiceStatusCancelled
	case amountCents > 0 && paidCents >= amountCents:
		return enums.InvoiceStatusPaid
	case paidCents > 0:
		return enums.InvoiceStatusPartiallyPaid
	case !issued:
		return enums.InvoiceStatusDraft
	case dueDate.Before(truncateToDay(today)):
		return enums.InvoiceStatusOverdue
	default:
		return enums.InvoiceStatusIssued
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
