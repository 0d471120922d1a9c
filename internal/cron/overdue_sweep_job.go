package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/schooldesk/schooldesk-backend/internal/invoices"
	"github.com/schooldesk/schooldesk-backend/pkg/enums"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox"
	"github.com/schooldesk/schooldesk-backend/pkg/outbox/payloads"
)

const defaultSweepBatchSize = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type overdueOutbox interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OverdueSweepJobParams configure the overdue sweep.
type OverdueSweepJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Invoices  invoices.Repository
	Outbox    overdueOutbox
	BatchSize int
}

// NewOverdueSweepJob builds the job that flips issued, unpaid invoices past
// their due date to overdue. Invoices with partial payment progress keep
// their partially paid status and are never touched by the sweep.
func NewOverdueSweepJob(params OverdueSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &overdueSweepJob{
		logg:      params.Logger,
		db:        params.DB,
		invoices:  params.Invoices,
		outbox:    params.Outbox,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type overdueSweepJob struct {
	logg      *logger.Logger
	db        txRunner
	invoices  invoices.Repository
	outbox    overdueOutbox
	batchSize int
	now       func() time.Time
}

func (j *overdueSweepJob) Name() string { return "overdue-sweep" }

func (j *overdueSweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var flipped int
	for {
		var batch int
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := j.invoices.WithTx(tx)
			candidates, err := repo.ListOverdueCandidates(ctx, today, j.batchSize)
			if err != nil {
				return fmt.Errorf("list overdue candidates: %w", err)
			}
			batch = len(candidates)

			for _, invoice := range candidates {
				if err := repo.UpdateStatus(ctx, invoice.ID, enums.InvoiceStatusOverdue); err != nil {
					return fmt.Errorf("mark invoice overdue: %w", err)
				}
				event := outbox.DomainEvent{
					EventType:     enums.EventInvoiceOverdue,
					AggregateType: enums.AggregateInvoice,
					AggregateID:   invoice.ID,
					Version:       1,
					Data: payloads.InvoiceOverdueEvent{
						InvoiceID:    invoice.ID,
						StudentID:    invoice.StudentID,
						AmountCents:  invoice.AmountCents,
						DueDate:      invoice.DueDate,
						DetectedAt:   now,
						BalanceCents: invoice.BalanceCents(),
					},
				}
				if err := j.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
					return fmt.Errorf("emit overdue event: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("overdue sweep: %w", err)
		}

		flipped += batch
		if batch < j.batchSize {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"as_of":            today,
		"invoices_flipped": flipped,
	})
	j.logg.Info(logCtx, "overdue sweep complete")
	return nil
}
