package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	"github.com/schooldesk/schooldesk-backend/pkg/enums"
)

// Repository is the ledger's persistence surface. ApplyDelta is the only
// primitive that mutates paid amounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Invoice, error)
	ApplyDelta(ctx context.Context, id uuid.UUID, deltaCents int64) (int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.InvoiceStatus) error
	MarkIssued(ctx context.Context, id uuid.UUID, issuedAt time.Time) (int64, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, cancelledAt time.Time) (int64, error)
	StampPayment(ctx context.Context, ids []uuid.UUID, transactionID uuid.UUID, paidOn time.Time) error
	ListOverdueCandidates(ctx context.Context, today time.Time, limit int) ([]models.Invoice, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("due_date ASC").
		Order("id ASC").
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ApplyDelta adds deltaCents to paid_amount_cents in a single conditional
// UPDATE. The guard keeps the result inside [0, amount_cents] and refuses
// cancelled invoices, so concurrent writers can never overdraw a balance.
// Returns the number of rows updated; zero means the guard rejected it.
func (r *repository) ApplyDelta(ctx context.Context, id uuid.UUID, deltaCents int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status <> ?", id, enums.InvoiceStatusCancelled).
		Where("paid_amount_cents + ? >= 0 AND paid_amount_cents + ? <= amount_cents", deltaCents, deltaCents).
		UpdateColumn("paid_amount_cents", gorm.Expr("paid_amount_cents + ?", deltaCents))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.InvoiceStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		UpdateColumn("status", status).Error
}

func (r *repository) MarkIssued(ctx context.Context, id uuid.UUID, issuedAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, enums.InvoiceStatusDraft).
		Updates(map[string]any{
			"status":    enums.InvoiceStatusIssued,
			"issued_at": issuedAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID, cancelledAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status <> ?", id, enums.InvoiceStatusCancelled).
		Updates(map[string]any{
			"status":       enums.InvoiceStatusCancelled,
			"cancelled_at": cancelledAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) StampPayment(ctx context.Context, ids []uuid.UUID, transactionID uuid.UUID, paidOn time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"paid_on":        paidOn,
			"transaction_id": transactionID,
		}).Error
}

func (r *repository) ListOverdueCandidates(ctx context.Context, today time.Time, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 500
	}
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND paid_amount_cents = 0 AND due_date < ?", enums.InvoiceStatusIssued, today).
		Order("due_date ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}
