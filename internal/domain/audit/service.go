package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Recorder is the interface the domain services use to write audit records.
// Records are written through the repository, which joins any transaction
// already on the context.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Record(ctx context.Context, rec Record) error {
	return s.repo.Create(ctx, &rec)
}

func (s *Service) ListByResource(ctx context.Context, resource string, resourceID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByResource(ctx, resource, resourceID, limit, offset)
}

// Snapshot marshals a value for the old/new columns, returning nil when the
// value cannot be encoded rather than failing the surrounding transaction.
func Snapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
