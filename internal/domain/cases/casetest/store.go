// Package casetest provides in-memory repository implementations for
// service-level tests, mirroring the transactional semantics of the
// PostgreSQL repositories closely enough to exercise the state machine.
package casetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/audit"
	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/platform/bus"
)

// Store holds every table in memory behind one mutex; LockByID relies on
// the per-case serialization the callers' transactions provide, so the
// mutex only guards map access.
type Store struct {
	mu          sync.Mutex
	Cases       map[uuid.UUID]*cases.Case
	Vitals      map[uuid.UUID][]*cases.VitalsRecord
	Medications map[uuid.UUID][]*cases.MedicationRecord
	Symptoms    map[uuid.UUID][]*cases.SymptomRecord
	Assessments map[uuid.UUID][]*cases.Assessment
	Advice      map[uuid.UUID][]*cases.Advice
	AuditTrail  []audit.Record
	Events      []bus.Event
	caseLocks   sync.Map // case id -> *sync.Mutex, emulates row locks
}

func NewStore() *Store {
	return &Store{
		Cases:       make(map[uuid.UUID]*cases.Case),
		Vitals:      make(map[uuid.UUID][]*cases.VitalsRecord),
		Medications: make(map[uuid.UUID][]*cases.MedicationRecord),
		Symptoms:    make(map[uuid.UUID][]*cases.SymptomRecord),
		Assessments: make(map[uuid.UUID][]*cases.Assessment),
		Advice:      make(map[uuid.UUID][]*cases.Advice),
	}
}

// --- CaseRepository ---

type CaseRepo struct{ s *Store }

func (s *Store) CaseRepo() *CaseRepo { return &CaseRepo{s} }

func (r *CaseRepo) Create(_ context.Context, c *cases.Case) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	r.s.Cases[c.ID] = &cp
	return nil
}

func (r *CaseRepo) get(id uuid.UUID) (*cases.Case, error) {
	c, ok := r.s.Cases[id]
	if !ok || c.DeletedAt != nil {
		return nil, cases.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CaseRepo) GetByID(_ context.Context, id uuid.UUID) (*cases.Case, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id)
}

func (r *CaseRepo) LockByID(_ context.Context, id uuid.UUID) (*cases.Case, error) {
	// Row-lock emulation: serialize on a per-case mutex for the duration of
	// the map read. Real serialization across the whole transaction is the
	// database's job; tests that need it drive operations sequentially or
	// assert on the final aggregate state.
	lockAny, _ := r.s.caseLocks.LoadOrStore(id, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(id)
}

func (r *CaseRepo) GetByTokenHash(_ context.Context, tokenHash string) (*cases.Case, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.Cases {
		if c.DeletedAt == nil && c.EscalationTokenHash != nil && *c.EscalationTokenHash == tokenHash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, cases.ErrNotFound
}

func (r *CaseRepo) ListByPHW(_ context.Context, phwID string, limit, offset int) ([]*cases.Case, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*cases.Case
	for _, c := range r.s.Cases {
		if c.DeletedAt == nil && c.PHWID == phwID {
			cp := *c
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset > len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *CaseRepo) UpdateStatus(_ context.Context, id uuid.UUID, status cases.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Cases[id]
	if !ok || c.DeletedAt != nil {
		return cases.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CaseRepo) SetEscalation(_ context.Context, in *cases.Case) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Cases[in.ID]
	if !ok || c.DeletedAt != nil {
		return cases.ErrNotFound
	}
	c.Status = in.Status
	c.EscalationReason = in.EscalationReason
	c.EscalationTokenHash = in.EscalationTokenHash
	c.EscalationExpiresAt = in.EscalationExpiresAt
	c.SpecialistID = in.SpecialistID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CaseRepo) ClearEscalationToken(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Cases[id]
	if !ok {
		return cases.ErrNotFound
	}
	c.EscalationTokenHash = nil
	c.EscalationExpiresAt = nil
	return nil
}

func (r *CaseRepo) SetSpecialist(_ context.Context, id uuid.UUID, specialistID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Cases[id]
	if !ok {
		return cases.ErrNotFound
	}
	c.SpecialistID = &specialistID
	return nil
}

func (r *CaseRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Cases[id]
	if !ok {
		return cases.ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return nil
}

// --- VitalsRepository ---

type VitalsRepo struct{ s *Store }

func (s *Store) VitalsRepo() *VitalsRepo { return &VitalsRepo{s} }

func (r *VitalsRepo) Create(_ context.Context, v *cases.VitalsRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = time.Now().UTC()
	cp := *v
	r.s.Vitals[v.CaseID] = append([]*cases.VitalsRecord{&cp}, r.s.Vitals[v.CaseID]...)
	return nil
}

func (r *VitalsRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*cases.VitalsRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*cases.VitalsRecord{}, r.s.Vitals[caseID]...), nil
}

// --- MedicationRepository ---

type MedicationRepo struct{ s *Store }

func (s *Store) MedicationRepo() *MedicationRepo { return &MedicationRepo{s} }

func (r *MedicationRepo) Create(_ context.Context, m *cases.MedicationRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = uuid.New()
	cp := *m
	r.s.Medications[m.CaseID] = append(r.s.Medications[m.CaseID], &cp)
	return nil
}

func (r *MedicationRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*cases.MedicationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*cases.MedicationRecord{}, r.s.Medications[caseID]...), nil
}

// --- SymptomRepository ---

type SymptomRepo struct{ s *Store }

func (s *Store) SymptomRepo() *SymptomRepo { return &SymptomRepo{s} }

func (r *SymptomRepo) Create(_ context.Context, sym *cases.SymptomRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sym.ID = uuid.New()
	cp := *sym
	r.s.Symptoms[sym.CaseID] = append(r.s.Symptoms[sym.CaseID], &cp)
	return nil
}

func (r *SymptomRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*cases.SymptomRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*cases.SymptomRecord{}, r.s.Symptoms[caseID]...), nil
}

// --- AssessmentRepository ---

type AssessmentRepo struct{ s *Store }

func (s *Store) AssessmentRepo() *AssessmentRepo { return &AssessmentRepo{s} }

func (r *AssessmentRepo) Create(_ context.Context, a *cases.Assessment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	cp := *a
	r.s.Assessments[a.CaseID] = append([]*cases.Assessment{&cp}, r.s.Assessments[a.CaseID]...)
	return nil
}

func (r *AssessmentRepo) GetByID(_ context.Context, id uuid.UUID) (*cases.Assessment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, list := range r.s.Assessments {
		for _, a := range list {
			if a.ID == id {
				cp := *a
				return &cp, nil
			}
		}
	}
	return nil, cases.ErrNotFound
}

func (r *AssessmentRepo) LatestByCase(_ context.Context, caseID uuid.UUID) (*cases.Assessment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.s.Assessments[caseID]
	if len(list) == 0 {
		return nil, cases.ErrNotFound
	}
	cp := *list[0]
	return &cp, nil
}

func (r *AssessmentRepo) SetSBAR(_ context.Context, id uuid.UUID, situation, background, assessment, recommendation string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, list := range r.s.Assessments {
		for _, a := range list {
			if a.ID == id {
				a.SBARSituation = &situation
				a.SBARBackground = &background
				a.SBARAssessment = &assessment
				a.SBARRecommendation = &recommendation
				return nil
			}
		}
	}
	return cases.ErrNotFound
}

// --- AdviceRepository ---

type AdviceRepo struct{ s *Store }

func (s *Store) AdviceRepo() *AdviceRepo { return &AdviceRepo{s} }

func (r *AdviceRepo) Create(_ context.Context, a *cases.Advice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	cp := *a
	r.s.Advice[a.CaseID] = append(r.s.Advice[a.CaseID], &cp)
	return nil
}

func (r *AdviceRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*cases.Advice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*cases.Advice{}, r.s.Advice[caseID]...), nil
}

// --- audit.Recorder ---

type AuditRecorder struct{ s *Store }

func (s *Store) AuditRecorder() *AuditRecorder { return &AuditRecorder{s} }

func (r *AuditRecorder) Record(_ context.Context, rec audit.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now().UTC()
	r.s.AuditTrail = append(r.s.AuditTrail, rec)
	return nil
}

// --- cases.Publisher ---

type Publisher struct{ s *Store }

func (s *Store) Publisher() *Publisher { return &Publisher{s} }

func (p *Publisher) Publish(caseID string, event bus.Event) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	event.CaseID = caseID
	p.s.Events = append(p.s.Events, event)
}

// EventsOfType returns the recorded events matching the given type.
func (s *Store) EventsOfType(eventType string) []bus.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bus.Event
	for _, e := range s.Events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// AuditActions returns the recorded audit action verbs in order.
func (s *Store) AuditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.AuditTrail))
	for i, r := range s.AuditTrail {
		out[i] = r.Action
	}
	return out
}
