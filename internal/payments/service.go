package payments

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schooldesk/schooldesk-backend/internal/invoices"
	"github.com/schooldesk/schooldesk-backend/internal/receipts"
	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/metrics"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service records payments against a student's outstanding invoices.
type Service interface {
	RecordPayment(ctx context.Context, input RecordPaymentInput) (*RecordPaymentResult, error)
}

// RecordPaymentInput is one payment to allocate across a student's invoices.
type RecordPaymentInput struct {
	StudentID   uuid.UUID
	AmountCents int64
	Method      string
	RecordedBy  uuid.UUID
	ActorRole   string
}

// RecordPaymentResult is the outcome of a successful allocation. Invoices
// holds the post-allocation state of every invoice the payment touched.
type RecordPaymentResult struct {
	Receipt        *models.Receipt
	Invoices       []models.Invoice
	UnappliedCents int64
}

type service struct {
	invoiceRepo invoices.Repository
	receiptRepo receipts.Repository
	tx          txRunner
	outbox      outboxPublisher
	locker      StudentLocker
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
	now         func() time.Time
}

// NewService wires a payment service with the required dependencies.
// Metrics may be nil.
func NewService(
	invoiceRepo invoices.Repository,
	receiptRepo receipts.Repository,
	tx txRunner,
	publisher outboxPublisher,
	locker StudentLocker,
	paymentMetrics *metrics.PaymentMetrics,
	logg *logger.Logger,
) (Service, error) {
	if invoiceRepo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if receiptRepo == nil {
		return nil, fmt.Errorf("receipt repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if locker == nil {
		return nil, fmt.Errorf("student locker required")
	}
	return &service{
		invoiceRepo: invoiceRepo,
		receiptRepo: receiptRepo,
		tx:          tx,
		outbox:      publisher,
		locker:      locker,
		metrics:     paymentMetrics,
		logg:        logg,
		now:         time.Now,
	}, nil
}

// RecordPayment allocates a payment oldest-due-first across the student's
// open invoices and writes a single receipt for the whole operation. The
// per-student lock serializes concurrent payments; the transaction makes
// the deltas, the receipt, and the outbox event atomic.
func (s *service) RecordPayment(ctx context.Context, input RecordPaymentInput) (*RecordPaymentResult, error) {
	if input.StudentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "payment amount must be positive")
	}
	if input.Method == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method required")
	}
	if input.RecordedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	release, err := s.locker.Acquire(ctx, input.StudentID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeConcurrency) {
			s.metrics.IncLockConflict()
			s.metrics.IncRecorded("lock_conflict")
		}
		return nil, err
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil && s.logg != nil {
			s.logg.Error(ctx, "failed to release student lock", releaseErr)
		}
	}()

	result, err := s.allocate(ctx, input)
	if err != nil {
		s.metrics.IncRecorded("error")
		return nil, err
	}

	s.metrics.IncRecorded("ok")
	s.metrics.AddAppliedCents(input.AmountCents - result.UnappliedCents)
	s.metrics.AddUnappliedCents(result.UnappliedCents)
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"student_id":       input.StudentID.String(),
			"receipt_id":       result.Receipt.ID.String(),
			"amount_cents":     input.AmountCents,
			"unapplied_cents":  result.UnappliedCents,
			"invoices_touched": len(result.Invoices),
		})
		s.logg.Info(logCtx, "payment recorded")
	}
	return result, nil
}

func (s *service) allocate(ctx context.Context, input RecordPaymentInput) (*RecordPaymentResult, error) {
	now := s.now().UTC()
	result := &RecordPaymentResult{}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invoiceRepo := s.invoiceRepo.WithTx(tx)

		all, err := invoiceRepo.ListByStudent(ctx, input.StudentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoices")
		}
		eligible := eligibleInvoices(all)
		if len(eligible) == 0 {
			return pkgerrors.New(pkgerrors.CodeNoOutstanding, "student has no outstanding invoices")
		}

		receipt := &models.Receipt{
			ID:          uuid.New(),
			StudentID:   input.StudentID,
			Method:      input.Method,
			AmountCents: input.AmountCents,
			PaidOn:      now,
			RecordedBy:  input.RecordedBy,
		}

		remaining := input.AmountCents
		var touched []models.Invoice
		var touchedIDs []uuid.UUID
		var lines []payloads.PaymentLine
		for _, invoice := range eligible {
			if remaining == 0 {
				break
			}
			applied := remaining
			if balance := invoice.BalanceCents(); balance < applied {
				applied = balance
			}
			if applied <= 0 {
				continue
			}

			updated, err := invoices.ApplyDeltaTx(ctx, invoiceRepo, invoice.ID, applied, now)
			if err != nil {
				return err
			}

			receipt.Lines = append(receipt.Lines, models.ReceiptLine{
				ReceiptID:    receipt.ID,
				InvoiceID:    invoice.ID,
				AppliedCents: applied,
			})
			lines = append(lines, payloads.PaymentLine{InvoiceID: invoice.ID, AppliedCents: applied})
			touched = append(touched, *updated)
			touchedIDs = append(touchedIDs, invoice.ID)
			remaining -= applied
		}

		receipt.UnappliedCents = remaining

		receiptRepo := s.receiptRepo.WithTx(tx)
		if err := receiptRepo.Create(ctx, receipt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create receipt")
		}
		if err := invoiceRepo.StampPayment(ctx, touchedIDs, receipt.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp invoices")
		}
		for i := range touched {
			txID := receipt.ID
			paidOn := now
			touched[i].TransactionID = &txID
			touched[i].PaidOn = &paidOn
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregateReceipt,
			AggregateID:   receipt.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: input.RecordedBy, Role: input.ActorRole},
			Data: payloads.PaymentRecordedEvent{
				ReceiptID:      receipt.ID,
				StudentID:      receipt.StudentID,
				Method:         receipt.Method,
				AmountCents:    receipt.AmountCents,
				UnappliedCents: receipt.UnappliedCents,
				PaidOn:         receipt.PaidOn,
				Lines:          lines,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result.Receipt = receipt
		result.Invoices = touched
		result.UnappliedCents = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// eligibleInvoices filters out terminal invoices and orders the rest
// oldest due date first, invoice id breaking ties, so allocation order is
// deterministic regardless of storage order.
func eligibleInvoices(all []models.Invoice) []models.Invoice {
	eligible := make([]models.Invoice, 0, len(all))
	for _, invoice := range all {
		if invoice.Status == enums.InvoiceStatusCancelled || invoice.Status == enums.InvoiceStatusPaid {
			continue
		}
		if invoice.BalanceCents() <= 0 {
			continue
		}
		eligible = append(eligible, invoice)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].DueDate.Equal(eligible[j].DueDate) {
			return eligible[i].DueDate.Before(eligible[j].DueDate)
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})
	return eligible
}
