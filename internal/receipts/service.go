package receipts

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/schooldesk/schooldesk-backend/pkg/db/models"
	pkgerrors "github.com/schooldesk/schooldesk-backend/pkg/errors"
)

// Service exposes read access to recorded receipts.
type Service interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Receipt, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Receipt, error)
}

type service struct {
	repo Repository
}

// NewService wires a receipt service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("receipt repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Receipt, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt id required")
	}
	receipt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load receipt")
	}
	if receipt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "receipt not found")
	}
	return receipt, nil
}

func (s *service) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Receipt, error) {
	if studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	receipts, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list receipts")
	}
	return receipts, nil
}
