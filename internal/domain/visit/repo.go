package visit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Visit, int, error)
	LatestByDoctor(ctx context.Context, doctorID string) (*Visit, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
