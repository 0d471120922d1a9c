package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schooldesk/schooldesk-backend/pkg/config"
	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/registry"
)

type memEventSource struct {
	pending   []models.OutboxEvent
	published []uuid.UUID
	retried   []uuid.UUID
	terminal  []uuid.UUID
}

func (m *memEventSource) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if len(m.pending) > limit {
		return m.pending[:limit], nil
	}
	out := m.pending
	m.pending = nil
	return out, nil
}

func (m *memEventSource) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	m.published = append(m.published, id)
	return nil
}

func (m *memEventSource) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	m.retried = append(m.retried, id)
	return nil
}

func (m *memEventSource) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	m.terminal = append(m.terminal, id)
	return nil
}

type memDLQ struct {
	entries []models.OutboxDLQ
}

func (m *memDLQ) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type noopStore struct{}

func (noopStore) Ping(context.Context) error { return nil }
func (noopStore) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type noopBroker struct{}

func (noopBroker) Ping(context.Context) error            { return nil }
func (noopBroker) Publisher(string) *gcppubsub.Publisher { return nil }

type staticResolver struct {
	topic string
	err   error
}

func (r staticResolver) Resolve(ev models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: r.topic},
	}, nil
}

type scriptedSender struct {
	errs  []error
	sent  int
	topic string
}

func (s *scriptedSender) Send(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	idx := s.sent
	s.sent++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	return "msg-id", nil
}

func feeEvent(eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateReceipt,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1}`),
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

func workerWith(t *testing.T, events *memEventSource, dlq *memDLQ, res resolver, sender *scriptedSender) *Worker {
	t.Helper()
	cfg := &config.Config{}
	cfg.Outbox.BatchSize = 10
	cfg.Outbox.MaxAttempts = 3
	cfg.Outbox.PollIntervalMS = 50

	w, err := NewWorker(WorkerParams{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:       noopStore{},
		PubSub:   noopBroker{},
		Events:   events,
		Registry: res,
		DLQ:      dlq,
		Sender: func(topic string) topicSender {
			sender.topic = topic
			return sender
		},
	})
	if err != nil {
		t.Fatalf("worker constructor failed: %v", err)
	}
	return w
}

func TestWorkerPublishesAndMarks(t *testing.T) {
	ev := feeEvent(enums.EventPaymentRecorded, 0)
	events := &memEventSource{pending: []models.OutboxEvent{ev}}
	dlq := &memDLQ{}
	sender := &scriptedSender{}
	w := workerWith(t, events, dlq, staticResolver{topic: "sd-fee-events"}, sender)

	drained, err := w.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if drained != 1 {
		t.Fatalf("expected 1 drained, got %d", drained)
	}
	if len(events.published) != 1 || events.published[0] != ev.ID {
		t.Fatalf("expected event marked published, got %v", events.published)
	}
	if sender.topic != "sd-fee-events" {
		t.Fatalf("unexpected topic %q", sender.topic)
	}
	if len(dlq.entries) != 0 {
		t.Fatal("expected empty dlq")
	}
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	first := feeEvent(enums.EventInvoiceIssued, 0)
	second := feeEvent(enums.EventPaymentRecorded, 0)
	events := &memEventSource{pending: []models.OutboxEvent{first, second}}
	dlq := &memDLQ{}
	sender := &scriptedSender{errs: []error{errors.New("unavailable"), nil}}
	w := workerWith(t, events, dlq, staticResolver{topic: "sd-fee-events"}, sender)

	if _, err := w.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(events.retried) != 1 || events.retried[0] != first.ID {
		t.Fatalf("expected first event retried, got %v", events.retried)
	}
	if len(events.published) != 1 || events.published[0] != second.ID {
		t.Fatalf("expected second event published, got %v", events.published)
	}
	if len(dlq.entries) != 0 {
		t.Fatal("transient failure must not dead-letter")
	}
}

func TestWorkerDeadLettersUnresolvableEvent(t *testing.T) {
	ev := feeEvent("bogus.event", 0)
	events := &memEventSource{pending: []models.OutboxEvent{ev}}
	dlq := &memDLQ{}
	sender := &scriptedSender{}
	res := staticResolver{err: registry.NewNonRetryableError(errors.New("unknown event type"))}
	w := workerWith(t, events, dlq, res, sender)

	if _, err := w.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected reason %s", entry.ErrorReason)
	}
	if entry.EventID != ev.ID {
		t.Fatal("dlq entry must reference the source event")
	}
	if len(events.terminal) != 1 {
		t.Fatal("expected event marked terminal")
	}
	if sender.sent != 0 {
		t.Fatal("unresolvable event must not reach the broker")
	}
}

func TestWorkerDeadLettersAfterAttemptBudget(t *testing.T) {
	ev := feeEvent(enums.EventInvoiceOverdue, 2)
	events := &memEventSource{pending: []models.OutboxEvent{ev}}
	dlq := &memDLQ{}
	sender := &scriptedSender{errs: []error{errors.New("still down")}}
	w := workerWith(t, events, dlq, staticResolver{topic: "sd-fee-events"}, sender)

	if _, err := w.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(events.retried) != 0 {
		t.Fatal("exhausted event must not be retried")
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", len(dlq.entries))
	}
	if dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected reason %s", dlq.entries[0].ErrorReason)
	}
}

func TestWorkerReportsIdleBatch(t *testing.T) {
	events := &memEventSource{}
	w := workerWith(t, events, &memDLQ{}, staticResolver{topic: "sd-fee-events"}, &scriptedSender{})

	drained, err := w.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if drained != 0 {
		t.Fatalf("expected idle batch, got %d", drained)
	}
}
