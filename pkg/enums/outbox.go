package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateInvoice OutboxAggregateType = "invoice"
	AggregateReceipt OutboxAggregateType = "receipt"
)

var aggregateTypes = []OutboxAggregateType{AggregateInvoice, AggregateReceipt}

func (a OutboxAggregateType) String() string { return string(a) }

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(aggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	parsed := OutboxAggregateType(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid aggregate type %q", value)
	}
	return parsed, nil
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventInvoiceIssued    OutboxEventType = "invoice_issued"
	EventInvoiceCancelled OutboxEventType = "invoice_cancelled"
	EventInvoiceOverdue   OutboxEventType = "invoice_overdue"
	EventPaymentRecorded  OutboxEventType = "payment_recorded"
)

var outboxEventTypes = []OutboxEventType{
	EventInvoiceIssued,
	EventInvoiceCancelled,
	EventInvoiceOverdue,
	EventPaymentRecorded,
}

func (e OutboxEventType) String() string { return string(e) }

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(outboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	parsed := OutboxEventType(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid event type %q", value)
	}
	return parsed, nil
}
