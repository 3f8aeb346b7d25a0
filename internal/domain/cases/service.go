package cases

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/audit"
	"github.com/careline/careline/internal/platform/bus"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/errs"
)

// Publisher delivers case events to the live-event bus. Satisfied by
// *bus.Hub; tests provide a recorder.
type Publisher interface {
	Publish(caseID string, event bus.Event)
}

// Actor identifies who performs an operation, for ownership checks and the
// audit trail.
type Actor struct {
	UserID    string
	Name      string
	Facility  string
	IPAddress string
	RequestID string
}

type Service struct {
	tx          db.TxRunner
	caseRepo    CaseRepository
	vitals      VitalsRepository
	medications MedicationRepository
	symptoms    SymptomRepository
	assessments AssessmentRepository
	advice      AdviceRepository
	auditor     audit.Recorder
	publisher   Publisher
}

func NewService(
	tx db.TxRunner,
	caseRepo CaseRepository,
	vitals VitalsRepository,
	medications MedicationRepository,
	symptoms SymptomRepository,
	assessments AssessmentRepository,
	advice AdviceRepository,
	auditor audit.Recorder,
	publisher Publisher,
) *Service {
	return &Service{
		tx:          tx,
		caseRepo:    caseRepo,
		vitals:      vitals,
		medications: medications,
		symptoms:    symptoms,
		assessments: assessments,
		advice:      advice,
		auditor:     auditor,
		publisher:   publisher,
	}
}

// Detail is the full case bundle returned by GET /cases/:id.
type Detail struct {
	Case        *Case               `json:"case"`
	Vitals      []*VitalsRecord     `json:"vitals"`
	Medications []*MedicationRecord `json:"medications"`
	Symptoms    []*SymptomRecord    `json:"symptoms"`
	Assessment  *Assessment         `json:"assessment,omitempty"`
	Advice      []*Advice           `json:"advice"`
}

func (s *Service) List(ctx context.Context, phwID string, limit, offset int) ([]*Case, int, error) {
	return s.caseRepo.ListByPHW(ctx, phwID, limit, offset)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, phwID string) (*Detail, error) {
	c, err := s.caseRepo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, errs.NotFound("case not found")
	}
	if err != nil {
		return nil, err
	}
	if c.PHWID != phwID {
		return nil, errs.Forbidden("not authorized for this case")
	}
	return s.loadDetail(ctx, c)
}

func (s *Service) loadDetail(ctx context.Context, c *Case) (*Detail, error) {
	vitals, err := s.vitals.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	meds, err := s.medications.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	symptoms, err := s.symptoms.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	assessment, err := s.assessments.LatestByCase(ctx, c.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	advice, err := s.advice.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Case:        c,
		Vitals:      vitals,
		Medications: meds,
		Symptoms:    symptoms,
		Assessment:  assessment,
		Advice:      advice,
	}, nil
}

// Close transitions a case to closed. Only the owning PHW may close; a live
// escalation token is revoked in the same transaction.
func (s *Service) Close(ctx context.Context, id uuid.UUID, actor Actor) error {
	return s.transition(ctx, id, actor, StatusClosed)
}

// Cancel marks a case cancelled. Terminal from any non-closed state.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor) error {
	return s.transition(ctx, id, actor, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, actor Actor, to Status) error {
	var from Status
	err := s.tx(ctx, func(ctx context.Context) error {
		c, err := s.caseRepo.LockByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return errs.NotFound("case not found")
		}
		if err != nil {
			return err
		}
		if c.PHWID != actor.UserID {
			return errs.Forbidden("not authorized for this case")
		}
		if !CanTransition(c.Status, to) {
			return errs.State(fmt.Sprintf("cannot move case from %s to %s", c.Status, to))
		}
		from = c.Status

		if err := s.caseRepo.UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		if c.EscalationTokenHash != nil {
			if err := s.caseRepo.ClearEscalationToken(ctx, id); err != nil {
				return err
			}
		}

		return s.auditor.Record(ctx, audit.Record{
			UserID:     actor.UserID,
			Action:     audit.ActionCaseTransition,
			Resource:   "case",
			ResourceID: &id,
			IPAddress:  optional(actor.IPAddress),
			RequestID:  optional(actor.RequestID),
			OldValues:  audit.Snapshot(map[string]string{"status": string(from)}),
			NewValues:  audit.Snapshot(map[string]string{"status": string(to)}),
		})
	})
	if err != nil {
		return err
	}

	s.publisher.Publish(id.String(), bus.Event{
		Type:   bus.EventStatusUpdate,
		Status: string(to),
	})
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
