package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/config"
	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/payloads"
)

func feesRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{FeesTopic: "fees-topic"})
	if err != nil {
		t.Fatalf("NewEventRegistry: %v", err)
	}
	return reg
}

func envelopeWith(t *testing.T, payload any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestResolveDecodesPaymentRecorded(t *testing.T) {
	reg := feesRegistry(t)

	receiptID := uuid.New()
	invoiceID := uuid.New()
	event := models.OutboxEvent{
		EventType:     enums.EventPaymentRecorded,
		AggregateType: enums.AggregateReceipt,
		AggregateID:   receiptID,
		Payload: envelopeWith(t, payloads.PaymentRecordedEvent{
			ReceiptID:   receiptID,
			StudentID:   uuid.New(),
			AmountCents: 15000,
			PaidOn:      time.Now().UTC(),
			Lines:       []payloads.PaymentLine{{InvoiceID: invoiceID, AppliedCents: 15000}},
		}),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "fees-topic" {
		t.Fatalf("topic = %q, want fees-topic", resolved.Descriptor.Topic)
	}
	if resolved.Descriptor.EventType != enums.EventPaymentRecorded {
		t.Fatalf("event type = %s", resolved.Descriptor.EventType)
	}

	payload, ok := resolved.Payload.(*payloads.PaymentRecordedEvent)
	if !ok {
		t.Fatalf("payload type = %T, want *payloads.PaymentRecordedEvent", resolved.Payload)
	}
	if len(payload.Lines) != 1 || payload.Lines[0].InvoiceID != invoiceID {
		t.Fatalf("allocation lines = %+v", payload.Lines)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope metadata incomplete: %+v", resolved.Envelope)
	}
}

func TestResolveRejectsMalformedEvents(t *testing.T) {
	reg := feesRegistry(t)

	cases := []struct {
		name  string
		event models.OutboxEvent
	}{
		{
			name: "unknown event type",
			event: models.OutboxEvent{
				EventType:     enums.OutboxEventType("fee_waived"),
				AggregateType: enums.AggregateInvoice,
				AggregateID:   uuid.New(),
				Payload:       envelopeWith(t, map[string]string{"reason": "none"}),
			},
		},
		{
			name: "aggregate type mismatch",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentRecorded,
				AggregateType: enums.AggregateInvoice,
				AggregateID:   uuid.New(),
				Payload:       envelopeWith(t, payloads.PaymentRecordedEvent{}),
			},
		},
		{
			name: "missing aggregate id",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentRecorded,
				AggregateType: enums.AggregateReceipt,
				AggregateID:   uuid.Nil,
				Payload:       envelopeWith(t, payloads.PaymentRecordedEvent{}),
			},
		},
		{
			name: "null payload",
			event: models.OutboxEvent{
				EventType:     enums.EventInvoiceOverdue,
				AggregateType: enums.AggregateInvoice,
				AggregateID:   uuid.New(),
				Payload:       envelopeWith(t, nil),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Resolve(tc.event)
			if err == nil {
				t.Fatal("Resolve accepted a malformed event")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("error = %T (%v), want NonRetryableError", err, err)
			}
		})
	}
}
