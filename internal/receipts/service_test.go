package receipts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
)

type fakeReceiptsRepo struct {
	receipts map[uuid.UUID]*models.Receipt
}

func newFakeReceiptsRepo(receipts ...*models.Receipt) *fakeReceiptsRepo {
	repo := &fakeReceiptsRepo{receipts: make(map[uuid.UUID]*models.Receipt)}
	for _, receipt := range receipts {
		repo.receipts[receipt.ID] = receipt
	}
	return repo
}

func (f *fakeReceiptsRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeReceiptsRepo) Create(ctx context.Context, receipt *models.Receipt) error {
	f.receipts[receipt.ID] = receipt
	return nil
}

func (f *fakeReceiptsRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Receipt, error) {
	receipt, ok := f.receipts[id]
	if !ok {
		return nil, nil
	}
	return receipt, nil
}

func (f *fakeReceiptsRepo) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Receipt, error) {
	var out []models.Receipt
	for _, receipt := range f.receipts {
		if receipt.StudentID == studentID {
			out = append(out, *receipt)
		}
	}
	return out, nil
}

func TestServiceGetByID(t *testing.T) {
	receipt := &models.Receipt{
		ID:          uuid.New(),
		StudentID:   uuid.New(),
		Method:      "card",
		AmountCents: 5000,
		PaidOn:      time.Now().UTC(),
		RecordedBy:  uuid.New(),
	}
	svc, err := NewService(newFakeReceiptsRepo(receipt))
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}

	got, err := svc.GetByID(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if got.ID != receipt.ID {
		t.Fatalf("receipt mismatch: expected %s got %s", receipt.ID, got.ID)
	}

	_, err = svc.GetByID(context.Background(), uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = svc.GetByID(context.Background(), uuid.Nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceListByStudent(t *testing.T) {
	studentID := uuid.New()
	receipt := &models.Receipt{
		ID:          uuid.New(),
		StudentID:   studentID,
		Method:      "cash",
		AmountCents: 2500,
		PaidOn:      time.Now().UTC(),
		RecordedBy:  uuid.New(),
	}
	svc, err := NewService(newFakeReceiptsRepo(receipt))
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}

	got, err := svc.ListByStudent(context.Background(), studentID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one receipt, got %d", len(got))
	}

	_, err = svc.ListByStudent(context.Background(), uuid.Nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
