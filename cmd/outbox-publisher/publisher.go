package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
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

const (
	fallbackBatchSize = 50
	fallbackPollEvery = 500 * time.Millisecond
	fallbackAttempts  = 10
	publishDeadline   = 15 * time.Second
	backoffCeiling    = 10 * time.Second
	jitterSpread      = 250 * time.Millisecond
)

type store interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type broker interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventSource interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterSink interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicSender abstracts a single pub/sub topic so tests can swap the GCP
// client for an in-process fake.
type topicSender interface {
	Send(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

type senderFor func(topic string) topicSender

type WorkerParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       store
	PubSub   broker
	Events   eventSource
	Registry resolver
	DLQ      deadLetterSink
	Sender   senderFor
}

// Worker drains the outbox table and relays fee events to Pub/Sub. Rows that
// cannot ever publish, or that exhaust their retry budget, land in the DLQ
// table inside the same transaction that removes them from rotation.
type Worker struct {
	logg        *logger.Logger
	db          store
	pubsub      broker
	events      eventSource
	registry    resolver
	dlq         deadLetterSink
	sender      senderFor
	batchSize   int
	maxAttempts int
	pollEvery   time.Duration
}

func NewWorker(params WorkerParams) (*Worker, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Events == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	}

	w := &Worker{
		logg:        params.Logger,
		db:          params.DB,
		pubsub:      params.PubSub,
		events:      params.Events,
		registry:    params.Registry,
		dlq:         params.DLQ,
		sender:      params.Sender,
		batchSize:   params.Config.Outbox.BatchSize,
		maxAttempts: params.Config.Outbox.MaxAttempts,
		pollEvery:   time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if w.batchSize <= 0 {
		w.batchSize = fallbackBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = fallbackAttempts
	}
	if w.pollEvery <= 0 {
		w.pollEvery = fallbackPollEvery
	}
	if w.sender == nil {
		w.sender = func(topic string) topicSender {
			return gcpSender{pub: params.PubSub.Publisher(topic)}
		}
	}
	return w, nil
}

// Run polls until the context is canceled. A non-empty batch triggers an
// immediate re-poll; an empty one waits out the poll interval. Batch-level
// failures back off exponentially up to backoffCeiling.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.checkDeps(ctx); err != nil {
		return err
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			w.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		drained, err := w.drainOnce(ctx)
		switch {
		case err != nil:
			failures++
			w.logg.Error(ctx, "outbox batch failed", err)
			if err := idle(ctx, jittered(backoffFor(w.pollEvery, failures))); err != nil {
				return err
			}
		case drained > 0:
			failures = 0
		default:
			failures = 0
			if err := idle(ctx, jittered(w.pollEvery)); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) checkDeps(ctx context.Context) error {
	if err := w.db.Ping(ctx); err != nil {
		w.logg.Error(ctx, "database unreachable", err)
		return fmt.Errorf("database ping: %w", err)
	}
	if err := w.pubsub.Ping(ctx); err != nil {
		w.logg.Error(ctx, "pubsub unreachable", err)
		return fmt.Errorf("pubsub ping: %w", err)
	}
	return nil
}

// drainOnce claims one batch under row locks and walks it. Per-event publish
// failures are recorded on the row and do not abort the batch; only bookkeeping
// failures roll the whole transaction back.
func (w *Worker) drainOnce(ctx context.Context) (int, error) {
	drained := 0
	err := w.db.WithTx(ctx, func(tx *gorm.DB) error {
		batch, err := w.events.FetchUnpublishedForPublish(tx, w.batchSize, w.maxAttempts)
		if err != nil {
			return err
		}
		drained = len(batch)
		for _, ev := range batch {
			if err := w.relay(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	return drained, err
}

func (w *Worker) relay(ctx context.Context, tx *gorm.DB, ev models.OutboxEvent) error {
	resolved, err := w.registry.Resolve(ev)
	if err != nil {
		return w.deadLetter(ctx, tx, ev, enums.OutboxDLQReasonNonRetryable, err, "")
	}

	topic := resolved.Descriptor.Topic
	pubErr := w.send(ctx, topic, ev, resolved)
	if pubErr == nil {
		if err := w.events.MarkPublishedTx(tx, ev.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", ev.ID, err)
		}
		w.logg.Info(w.eventCtx(ctx, ev, topic, nil), "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return w.deadLetter(ctx, tx, ev, enums.OutboxDLQReasonNonRetryable, pubErr, topic)
	}
	if ev.AttemptCount+1 >= w.maxAttempts {
		wrapped := fmt.Errorf("max publish attempts reached: %w", pubErr)
		return w.deadLetter(ctx, tx, ev, enums.OutboxDLQReasonMaxAttempts, wrapped, topic)
	}

	w.logg.Warn(w.eventCtx(ctx, ev, topic, pubErr), "outbox publish failed, will retry")
	if err := w.events.MarkFailedTx(tx, ev.ID, pubErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", ev.ID, err)
	}
	return nil
}

func (w *Worker) send(ctx context.Context, topic string, ev models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	sender := w.sender(topic)
	if sender == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data: ev.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(ev.EventType),
			"aggregate_type": string(ev.AggregateType),
			"aggregate_id":   ev.AggregateID.String(),
			"created_at":     ev.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishDeadline)
	defer cancel()
	_, err := sender.Send(sendCtx, msg)
	return err
}

func (w *Worker) deadLetter(ctx context.Context, tx *gorm.DB, ev models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, topic string) error {
	logCtx := w.logg.WithField(w.eventCtx(ctx, ev, topic, cause), "dlq_reason", reason)
	w.logg.Warn(logCtx, "outbox event moved to dead letter queue")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       ev.ID,
		EventType:     ev.EventType,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Payload:       ev.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  ev.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := w.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", ev.ID, err)
	}
	if err := w.events.MarkTerminalTx(tx, ev.ID, cause, w.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", ev.ID, err)
	}
	return nil
}

func (w *Worker) eventCtx(ctx context.Context, ev models.OutboxEvent, topic string, cause error) context.Context {
	fields := map[string]any{
		"outbox_id":      ev.ID.String(),
		"event_type":     ev.EventType,
		"aggregate_type": ev.AggregateType,
		"aggregate_id":   ev.AggregateID.String(),
		"attempt_count":  ev.AttemptCount,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	return w.logg.WithFields(ctx, fields)
}

func idle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffFor(base time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= backoffCeiling {
			return backoffCeiling
		}
	}
	return d
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(jitterSpread)))
}

type gcpSender struct {
	pub *gcppubsub.Publisher
}

func (s gcpSender) Send(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	if s.pub == nil {
		return "", registry.NewNonRetryableError(errors.New("publisher not configured"))
	}
	return s.pub.Publish(ctx, msg).Get(ctx)
}
