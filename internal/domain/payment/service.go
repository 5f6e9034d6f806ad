package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/healthbook/healthbook/internal/platform/db"
)

var ErrPaymentNotFound = errors.New("payment not found")

// Service serves read access to payments for support and billing staff.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}
