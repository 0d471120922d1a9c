package fees

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/money"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/payloads"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/registry"
)

const feesConsumerName = "fee-notices"

const noticeDateLayout = "2006-01-02"

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Notice is a guardian-facing message derived from a fee event.
type Notice struct {
	Kind      string
	StudentID uuid.UUID
	Subject   string
	Detail    string
}

// Notifier delivers notices to the school office channel.
type Notifier interface {
	Send(ctx context.Context, notice Notice) error
}

// NewDecoders registers the version 1 payload decoders for every fee event
// the notices consumer understands.
func NewDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventPaymentRecorded, 1, func(data json.RawMessage) (interface{}, error) {
		var payload payloads.PaymentRecordedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &payload, nil
	})
	decoders.Register(enums.EventInvoiceIssued, 1, func(data json.RawMessage) (interface{}, error) {
		var payload payloads.InvoiceIssuedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &payload, nil
	})
	decoders.Register(enums.EventInvoiceCancelled, 1, func(data json.RawMessage) (interface{}, error) {
		var payload payloads.InvoiceCancelledEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &payload, nil
	})
	decoders.Register(enums.EventInvoiceOverdue, 1, func(data json.RawMessage) (interface{}, error) {
		var payload payloads.InvoiceOverdueEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &payload, nil
	})
	return decoders
}

// Consumer turns fee events into notices while honoring Redis idempotency.
type Consumer struct {
	decoders *registry.DecoderRegistry
	manager  idempotencyChecker
	notifier Notifier
	logg     *logger.Logger
}

func NewConsumer(decoders *registry.DecoderRegistry, manager idempotencyChecker, notifier Notifier, logg *logger.Logger) (*Consumer, error) {
	if decoders == nil {
		return nil, fmt.Errorf("decoder registry required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{decoders: decoders, manager: manager, notifier: notifier, logg: logg}, nil
}

// Process claims the event, decodes its versioned payload and sends the
// matching notice. A failed send releases the claim so the redelivery can
// try again.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, feesConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	payload, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode fee event", err)
		_ = c.manager.Delete(ctx, feesConsumerName, eventID)
		return err
	}

	notice, err := buildNotice(eventType, payload)
	if err != nil {
		c.logg.Error(logCtx, "failed to build notice", err)
		_ = c.manager.Delete(ctx, feesConsumerName, eventID)
		return err
	}

	if err := c.notifier.Send(ctx, notice); err != nil {
		c.logg.Error(logCtx, "failed to send notice", err)
		_ = c.manager.Delete(ctx, feesConsumerName, eventID)
		return err
	}

	c.logg.Info(c.logg.WithStudentID(logCtx, notice.StudentID.String()), "fee notice sent")
	return nil
}

func buildNotice(eventType enums.OutboxEventType, payload interface{}) (Notice, error) {
	switch p := payload.(type) {
	case *payloads.PaymentRecordedEvent:
		detail := fmt.Sprintf("Payment of %s received via %s.", money.FormatCents(p.AmountCents), p.Method)
		if p.UnappliedCents > 0 {
			detail += fmt.Sprintf(" %s could not be applied and is held on account.", money.FormatCents(p.UnappliedCents))
		}
		return Notice{
			Kind:      "payment_receipt",
			StudentID: p.StudentID,
			Subject:   "Payment received",
			Detail:    detail,
		}, nil
	case *payloads.InvoiceIssuedEvent:
		return Notice{
			Kind:      "invoice_issued",
			StudentID: p.StudentID,
			Subject:   "New invoice for " + p.Term,
			Detail: fmt.Sprintf("An invoice of %s is due on %s.",
				money.FormatCents(p.AmountCents), p.DueDate.Format(noticeDateLayout)),
		}, nil
	case *payloads.InvoiceCancelledEvent:
		return Notice{
			Kind:      "invoice_cancelled",
			StudentID: p.StudentID,
			Subject:   "Invoice cancelled",
			Detail:    fmt.Sprintf("Invoice %s has been withdrawn and no longer needs payment.", p.InvoiceID),
		}, nil
	case *payloads.InvoiceOverdueEvent:
		return Notice{
			Kind:      "invoice_overdue",
			StudentID: p.StudentID,
			Subject:   "Invoice overdue",
			Detail: fmt.Sprintf("An outstanding balance of %s was due on %s.",
				money.FormatCents(p.BalanceCents), p.DueDate.Format(noticeDateLayout)),
		}, nil
	default:
		return Notice{}, fmt.Errorf("no notice template for %s", eventType)
	}
}

// LogNotifier writes notices to the service log. It stands in until the
// guardian messaging integration lands.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) (*LogNotifier, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &LogNotifier{logg: logg}, nil
}

func (n *LogNotifier) Send(ctx context.Context, notice Notice) error {
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"notice_kind": notice.Kind,
		"student_id":  notice.StudentID.String(),
		"subject":     notice.Subject,
		"detail":      notice.Detail,
	})
	n.logg.Info(logCtx, "fee notice")
	return nil
}
