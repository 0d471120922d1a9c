package fees

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
)

type stubProcessor struct {
	err       error
	eventType enums.OutboxEventType
	envelope  *outbox.PayloadEnvelope
}

func (s *stubProcessor) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	s.eventType = eventType
	s.envelope = &envelope
	return s.err
}

func newTestWorker(t *testing.T, consumer processor) *Service {
	t.Helper()
	svc := &Service{consumer: consumer, logg: testLogger()}
	return svc
}

func feeMessage(t *testing.T, envelope outbox.PayloadEnvelope, attributes map[string]string) *gcppubsub.Message {
	t.Helper()
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &gcppubsub.Message{ID: "msg-1", Data: data, Attributes: attributes}
}

func TestWorkerProcessRoutesDecodedEvent(t *testing.T) {
	consumer := &stubProcessor{}
	svc := newTestWorker(t, consumer)

	eventID := uuid.NewString()
	msg := feeMessage(t, outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC),
		Data:       json.RawMessage(`{}`),
	}, map[string]string{"event_type": "invoice_issued"})

	if res := svc.process(context.Background(), msg); res.nack {
		t.Fatal("expected ack on success")
	}
	if consumer.eventType != enums.EventInvoiceIssued {
		t.Fatalf("event type = %s", consumer.eventType)
	}
	if consumer.envelope == nil || consumer.envelope.EventID != eventID {
		t.Fatalf("envelope not forwarded: %+v", consumer.envelope)
	}
}

func TestWorkerAcksMalformedMessage(t *testing.T) {
	consumer := &stubProcessor{}
	svc := newTestWorker(t, consumer)

	msg := &gcppubsub.Message{ID: "msg-1", Data: []byte("{not json")}
	if res := svc.process(context.Background(), msg); res.nack {
		t.Fatal("malformed message must be acked, not redelivered")
	}
	if consumer.envelope != nil {
		t.Fatal("consumer must not see malformed messages")
	}
}

func TestWorkerAcksUnknownEventType(t *testing.T) {
	consumer := &stubProcessor{}
	svc := newTestWorker(t, consumer)

	msg := feeMessage(t, outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString()},
		map[string]string{"event_type": "mystery"})
	if res := svc.process(context.Background(), msg); res.nack {
		t.Fatal("unknown event type must be acked")
	}
	if consumer.envelope != nil {
		t.Fatal("consumer must not see unsupported events")
	}
}

func TestWorkerNacksOnProcessorError(t *testing.T) {
	consumer := &stubProcessor{err: errors.New("redis down")}
	svc := newTestWorker(t, consumer)

	msg := feeMessage(t, outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString()},
		map[string]string{"event_type": "payment_recorded"})
	if res := svc.process(context.Background(), msg); !res.nack {
		t.Fatal("processing failure must nack for redelivery")
	}
}

func TestDecodeMessageFallsBackToAttributeEventID(t *testing.T) {
	eventID := uuid.NewString()
	msg := feeMessage(t, outbox.PayloadEnvelope{Version: 1},
		map[string]string{"event_type": "invoice_overdue", "event_id": eventID})

	eventType, envelope, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if eventType != enums.EventInvoiceOverdue {
		t.Fatalf("event type = %s", eventType)
	}
	if envelope.EventID != eventID {
		t.Fatalf("event id = %q, want attribute fallback", envelope.EventID)
	}
}
