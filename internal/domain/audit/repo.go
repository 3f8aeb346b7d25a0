package audit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	ListByResource(ctx context.Context, resource string, resourceID uuid.UUID, limit, offset int) ([]*Record, int, error)
}
