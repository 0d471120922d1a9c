package fees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
)

type processor interface {
	Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error
}

// Service consumes fee events from Pub/Sub and feeds them to the consumer.
type Service struct {
	subscription *gcppubsub.Subscriber
	consumer     processor
	logg         *logger.Logger
}

func NewService(subscription *gcppubsub.Subscriber, consumer processor, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("fee events subscription is required")
	}
	if consumer == nil {
		return nil, errors.New("fee consumer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, consumer: consumer, logg: logg}, nil
}

type processResult struct {
	nack bool
}

// Run consumes messages until the context is cancelled. Malformed messages
// are acked so they do not clog the subscription; processing failures are
// nacked for redelivery.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	eventType, envelope, err := decodeMessage(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid fee event message")
		return processResult{}
	}

	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":    envelope.EventID,
		"event_type":  eventType,
		"occurred_at": envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	if err := s.consumer.Process(logCtx, eventType, envelope); err != nil {
		s.logg.Error(logCtx, "fee event processing failed", err)
		return processResult{nack: true}
	}
	return processResult{}
}

// decodeMessage unpacks the published outbox payload. The event id normally
// travels inside the stored envelope; the attribute is the fallback for
// messages published before envelopes carried it.
func decodeMessage(msg *gcppubsub.Message) (enums.OutboxEventType, outbox.PayloadEnvelope, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return "", envelope, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return "", envelope, fmt.Errorf("event_type: %w", err)
	}

	envelope.EventID = strings.TrimSpace(envelope.EventID)
	if envelope.EventID == "" {
		envelope.EventID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if envelope.EventID == "" {
		return "", envelope, errors.New("event_id missing")
	}

	return eventType, envelope, nil
}
