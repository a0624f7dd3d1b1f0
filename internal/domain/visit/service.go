package visit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, v *Visit) error {
	if v.DoctorID == "" {
		return fmt.Errorf("doctor_id is required")
	}
	if v.Namespace == "" {
		v.Namespace = "core"
	}
	return s.repo.Create(ctx, v)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) LatestByDoctor(ctx context.Context, doctorID string) (*Visit, error) {
	return s.repo.LatestByDoctor(ctx, doctorID)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
