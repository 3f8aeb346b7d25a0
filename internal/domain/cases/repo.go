package cases

import (
	"context"

	"github.com/google/uuid"
)

type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// LockByID loads the case row under FOR UPDATE. Callers must hold an
	// open transaction on the context; this is what serializes concurrent
	// writes on one case.
	LockByID(ctx context.Context, id uuid.UUID) (*Case, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Case, error)
	ListByPHW(ctx context.Context, phwID string, limit, offset int) ([]*Case, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	SetEscalation(ctx context.Context, c *Case) error
	ClearEscalationToken(ctx context.Context, id uuid.UUID) error
	SetSpecialist(ctx context.Context, id uuid.UUID, specialistID string) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type VitalsRepository interface {
	Create(ctx context.Context, v *VitalsRecord) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*VitalsRecord, error)
}

type MedicationRepository interface {
	Create(ctx context.Context, m *MedicationRecord) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*MedicationRecord, error)
}

type SymptomRepository interface {
	Create(ctx context.Context, s *SymptomRecord) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*SymptomRecord, error)
}

type AssessmentRepository interface {
	Create(ctx context.Context, a *Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error)
	LatestByCase(ctx context.Context, caseID uuid.UUID) (*Assessment, error)
	SetSBAR(ctx context.Context, id uuid.UUID, situation, background, assessment, recommendation string) error
}

type AdviceRepository interface {
	Create(ctx context.Context, a *Advice) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Advice, error)
}
