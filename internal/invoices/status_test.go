package invoices

import (
	"testing"
	"time"

	"github.com/schooldesk/schooldesk-backend/pkg/enums"
)

func TestDeriveStatus(t *testing.T) {
	today := time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)
	future := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	past := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		amount    int64
		paid      int64
		dueDate   time.Time
		cancelled bool
		issued    bool
		want      enums.InvoiceStatus
	}{
		{name: "cancelled wins over everything", amount: 10000, paid: 10000, dueDate: past, cancelled: true, issued: true, want: enums.InvoiceStatusCancelled},
		{name: "fully paid", amount: 10000, paid: 10000, dueDate: future, issued: true, want: enums.InvoiceStatusPaid},
		{name: "fully paid past due stays paid", amount: 10000, paid: 10000, dueDate: past, issued: true, want: enums.InvoiceStatusPaid},
		{name: "partial payment", amount: 10000, paid: 2500, dueDate: future, issued: true, want: enums.InvoiceStatusPartiallyPaid},
		{name: "partial payment past due stays partially paid", amount: 10000, paid: 2500, dueDate: past, issued: true, want: enums.InvoiceStatusPartiallyPaid},
		{name: "zero progress past due", amount: 10000, paid: 0, dueDate: past, issued: true, want: enums.InvoiceStatusOverdue},
		{name: "due today is not overdue", amount: 10000, paid: 0, dueDate: time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC), issued: true, want: enums.InvoiceStatusIssued},
		{name: "issued with future due date", amount: 10000, paid: 0, dueDate: future, issued: true, want: enums.InvoiceStatusIssued},
		{name: "never issued", amount: 10000, paid: 0, dueDate: future, want: enums.InvoiceStatusDraft},
		{name: "never issued past due stays draft", amount: 10000, paid: 0, dueDate: past, want: enums.InvoiceStatusDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.amount, tt.paid, tt.dueDate, tt.cancelled, tt.issued, today)
			if got != tt.want {
				t.Fatalf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}
