package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/schooldesk/schooldesk-backend/pkg/config"
	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, destination topic and
// payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported fee event to its descriptor. All fee
// events currently share one topic; the descriptor keeps the topic per event
// so future streams can split without touching the dispatcher.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.FeesTopic == "" {
		return nil, fmt.Errorf("fees topic is required")
	}

	entries := map[enums.OutboxEventType]EventDescriptor{}
	add := func(eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, factory func() interface{}) {
		entries[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  aggregate,
			Topic:          cfg.FeesTopic,
			PayloadFactory: factory,
		}
	}
	add(enums.EventPaymentRecorded, enums.AggregateReceipt, func() interface{} { return &payloads.PaymentRecordedEvent{} })
	add(enums.EventInvoiceIssued, enums.AggregateInvoice, func() interface{} { return &payloads.InvoiceIssuedEvent{} })
	add(enums.EventInvoiceCancelled, enums.AggregateInvoice, func() interface{} { return &payloads.InvoiceCancelledEvent{} })
	add(enums.EventInvoiceOverdue, enums.AggregateInvoice, func() interface{} { return &payloads.InvoiceOverdueEvent{} })

	return &EventRegistry{entries: entries}, nil
}

// Resolve validates the row and decodes its typed payload. Every failure here
// is non-retryable: a row that cannot decode today will not decode tomorrow.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

// NonRetryableError tells the dispatcher to dead-letter the row instead of
// retrying it.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}
