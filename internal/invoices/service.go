package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service manages the invoice ledger: creation, the issue and cancel
// transitions, and paid-amount mutations.
type Service interface {
	Create(ctx context.Context, input CreateInvoiceInput) (*models.Invoice, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Invoice, error)
	Issue(ctx context.Context, input IssueInvoiceInput) (*models.Invoice, error)
	Cancel(ctx context.Context, input CancelInvoiceInput) (*models.Invoice, error)
	ApplyDelta(ctx context.Context, invoiceID uuid.UUID, deltaCents int64) (*models.Invoice, error)
}

// CreateInvoiceInput captures the fields a new invoice requires. When Issue
// is set the invoice skips the draft state and becomes collectible at once.
type CreateInvoiceInput struct {
	StudentID   uuid.UUID
	Term        string
	Description *string
	AmountCents int64
	DueDate     time.Time
	Issue       bool
	ActorUserID uuid.UUID
	ActorRole   string
}

type IssueInvoiceInput struct {
	InvoiceID   uuid.UUID
	ActorUserID uuid.UUID
	ActorRole   string
}

type CancelInvoiceInput struct {
	InvoiceID   uuid.UUID
	ActorUserID uuid.UUID
	ActorRole   string
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	now    func() time.Time
}

// NewService wires an invoice service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outbox, now: time.Now}, nil
}

func (s *service) Create(ctx context.Context, input CreateInvoiceInput) (*models.Invoice, error) {
	if input.StudentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	if input.Term == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "term required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "invoice amount must be positive")
	}
	if input.DueDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "due date required")
	}

	now := s.now().UTC()
	invoice := &models.Invoice{
		StudentID:   input.StudentID,
		Term:        input.Term,
		Description: input.Description,
		AmountCents: input.AmountCents,
		DueDate:     input.DueDate,
		Status:      enums.InvoiceStatusDraft,
	}
	if input.Issue {
		invoice.Status = enums.InvoiceStatusIssued
		invoice.IssuedAt = &now
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice")
		}
		if !input.Issue {
			return nil
		}
		return s.emitIssued(ctx, tx, invoice, now, input.ActorUserID, input.ActorRole)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	invoice, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvoiceNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Invoice, error) {
	if studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	invoices, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoices")
	}
	return invoices, nil
}

func (s *service) Issue(ctx context.Context, input IssueInvoiceInput) (*models.Invoice, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}

	now := s.now().UTC()
	var issued *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.MarkIssued(ctx, input.InvoiceID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "issue invoice")
		}
		if rows == 0 {
			invoice, err := repo.GetByID(ctx, input.InvoiceID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
			}
			switch {
			case invoice == nil:
				return pkgerrors.New(pkgerrors.CodeInvoiceNotFound, "invoice not found")
			case invoice.Status == enums.InvoiceStatusCancelled:
				return pkgerrors.New(pkgerrors.CodeInvoiceCancelled, "invoice is cancelled")
			default:
				return pkgerrors.New(pkgerrors.CodeStateConflict, "invoice already issued")
			}
		}

		invoice, err := repo.GetByID(ctx, input.InvoiceID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
		}
		issued = invoice
		return s.emitIssued(ctx, tx, invoice, now, input.ActorUserID, input.ActorRole)
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInvoiceInput) (*models.Invoice, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}

	now := s.now().UTC()
	var cancelled *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.GetByID(ctx, input.InvoiceID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
		}
		if invoice == nil {
			return pkgerrors.New(pkgerrors.CodeInvoiceNotFound, "invoice not found")
		}
		if invoice.Status == enums.InvoiceStatusCancelled {
			cancelled = invoice
			return nil
		}
		if invoice.Status == enums.InvoiceStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "paid invoice cannot be cancelled")
		}

		previous := invoice.Status
		rows, err := repo.MarkCancelled(ctx, invoice.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel invoice")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrency, "invoice changed concurrently")
		}

		invoice.Status = enums.InvoiceStatusCancelled
		invoice.CancelledAt = &now
		cancelled = invoice

		event := outbox.DomainEvent{
			EventType:     enums.EventInvoiceCancelled,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Version:       1,
			Actor:         buildActor(input.ActorUserID, input.ActorRole),
			Data: payloads.InvoiceCancelledEvent{
				InvoiceID:       invoice.ID,
				StudentID:       invoice.StudentID,
				PreviousStatus:  previous,
				PaidAmountCents: invoice.PaidAmountCents,
				CancelledAt:     now,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (s *service) ApplyDelta(ctx context.Context, invoiceID uuid.UUID, deltaCents int64) (*models.Invoice, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	if deltaCents == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidDelta, "delta must be nonzero")
	}

	var updated *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invoice, err := ApplyDeltaTx(ctx, s.repo.WithTx(tx), invoiceID, deltaCents, s.now().UTC())
		if err != nil {
			return err
		}
		updated = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ApplyDeltaTx applies a paid-amount delta through a transaction-bound
// repository, classifies a rejected write, and persists the re-derived
// status. It is shared with the payment allocator so both mutation paths
// keep stored statuses in step with the deriver.
func ApplyDeltaTx(ctx context.Context, repo Repository, invoiceID uuid.UUID, deltaCents int64, today time.Time) (*models.Invoice, error) {
	rows, err := repo.ApplyDelta(ctx, invoiceID, deltaCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply paid amount delta")
	}
	if rows == 0 {
		invoice, err := repo.GetByID(ctx, invoiceID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
		}
		switch {
		case invoice == nil:
			return nil, pkgerrors.New(pkgerrors.CodeInvoiceNotFound, "invoice not found")
		case invoice.Status == enums.InvoiceStatusCancelled:
			return nil, pkgerrors.New(pkgerrors.CodeInvoiceCancelled, "invoice is cancelled")
		default:
			return nil, pkgerrors.New(pkgerrors.CodeInvalidDelta, "delta would leave paid amount out of bounds")
		}
	}

	invoice, err := repo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvoiceNotFound, "invoice not found")
	}

	status := DeriveStatus(
		invoice.AmountCents,
		invoice.PaidAmountCents,
		invoice.DueDate,
		false,
		invoice.IssuedAt != nil || invoice.Status != enums.InvoiceStatusDraft,
		today,
	)
	if status != invoice.Status {
		if err := repo.UpdateStatus(ctx, invoice.ID, status); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist derived status")
		}
		invoice.Status = status
	}
	return invoice, nil
}

func (s *service) emitIssued(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, issuedAt time.Time, actorUserID uuid.UUID, actorRole string) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventInvoiceIssued,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		Version:       1,
		Actor:         buildActor(actorUserID, actorRole),
		Data: payloads.InvoiceIssuedEvent{
			InvoiceID:   invoice.ID,
			StudentID:   invoice.StudentID,
			Term:        invoice.Term,
			AmountCents: invoice.AmountCents,
			DueDate:     invoice.DueDate,
			IssuedAt:    issuedAt,
		},
	}
	return s.outbox.Emit(ctx, tx, event)
}

func buildActor(userID uuid.UUID, role string) *outbox.ActorRef {
	if userID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: userID, Role: role}
}
