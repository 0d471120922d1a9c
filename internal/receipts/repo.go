package receipts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
)

// Repository persists receipts and their allocation lines. Receipts are
// immutable once written, so there are no update methods.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, receipt *models.Receipt) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Receipt, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Receipt, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a receipt repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, receipt *models.Receipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

func (r *repository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Receipt, error) {
	var receipts []models.Receipt
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		Order("id ASC").
		Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}
