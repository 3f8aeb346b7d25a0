package triage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/audit"
	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/platform/bus"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/errs"
)

// Timeouts bound each analyzer task and the composite join.
type Timeouts struct {
	Rule      time.Duration
	Model     time.Duration
	Med       time.Duration
	Composite time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Rule <= 0 {
		t.Rule = 50 * time.Millisecond
	}
	if t.Model <= 0 {
		t.Model = 2 * time.Second
	}
	if t.Med <= 0 {
		t.Med = time.Second
	}
	if t.Composite <= 0 {
		t.Composite = 5 * time.Second
	}
	return t
}

type Service struct {
	tx          db.TxRunner
	registry    *Registry
	med         *MedEngine
	caseRepo    cases.CaseRepository
	vitals      cases.VitalsRepository
	medications cases.MedicationRepository
	symptoms    cases.SymptomRepository
	assessments cases.AssessmentRepository
	auditor     audit.Recorder
	publisher   cases.Publisher
	timeouts    Timeouts
	logger      zerolog.Logger
}

func NewService(
	tx db.TxRunner,
	registry *Registry,
	med *MedEngine,
	caseRepo cases.CaseRepository,
	vitals cases.VitalsRepository,
	medications cases.MedicationRepository,
	symptoms cases.SymptomRepository,
	assessments cases.AssessmentRepository,
	auditor audit.Recorder,
	publisher cases.Publisher,
	timeouts Timeouts,
	logger zerolog.Logger,
) *Service {
	return &Service{
		tx:          tx,
		registry:    registry,
		med:         med,
		caseRepo:    caseRepo,
		vitals:      vitals,
		medications: medications,
		symptoms:    symptoms,
		assessments: assessments,
		auditor:     auditor,
		publisher:   publisher,
		timeouts:    timeouts.withDefaults(),
		logger:      logger,
	}
}

type mlOut struct {
	result *MLResult
	err    error
}

// Analyze validates the intake, fans the three analyzers out concurrently,
// joins them under the composite deadline, persists the case and assessment
// in one transaction, and broadcasts the status change.
func (s *Service) Analyze(ctx context.Context, req *IntakeRequest, actor cases.Actor) (*AssessmentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Composite)
	defer cancel()

	rule, ml, med, err := s.runAnalyzers(ctx, req, actor)
	if err != nil {
		return nil, err
	}

	agg := Aggregate(rule, ml, med)
	if med.Warnings == nil {
		med.Warnings = []MedWarning{}
	}
	if rule.Reasons == nil {
		rule.Reasons = []string{}
	}

	modelVersion := s.registry.Version()
	if ml == nil {
		modelVersion = "unavailable"
	}

	var (
		caseID       string
		assessmentID string
		assessedAt   time.Time
	)

	err = s.tx(ctx, func(ctx context.Context) error {
		c := &cases.Case{
			PHWID:          actor.UserID,
			PHWName:        strPtr(actor.Name),
			Facility:       strPtr(actor.Facility),
			Status:         cases.StatusIntake,
			ChiefComplaint: req.ChiefComplaint,
			PatientAge:     req.Age,
			PatientSex:     req.Sex,
			Village:        req.Village,
			District:       req.District,
			Flags:          req.Flags,
		}
		if err := s.caseRepo.Create(ctx, c); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, audit.Record{
			UserID:     actor.UserID,
			Action:     audit.ActionCaseCreate,
			Resource:   "case",
			ResourceID: &c.ID,
			IPAddress:  strPtr(actor.IPAddress),
			RequestID:  strPtr(actor.RequestID),
			NewValues:  audit.Snapshot(map[string]string{"status": string(cases.StatusIntake)}),
		}); err != nil {
			return err
		}

		vitals := &cases.VitalsRecord{
			CaseID:          c.ID,
			RecordedBy:      actor.UserID,
			SystolicBP:      req.Vitals.SystolicBP,
			DiastolicBP:     req.Vitals.DiastolicBP,
			HeartRate:       req.Vitals.HeartRate,
			RespiratoryRate: req.Vitals.RespiratoryRate,
			SpO2:            req.Vitals.SpO2,
			Temperature:     req.Vitals.Temperature,
			BloodGlucose:    req.Vitals.BloodGlucose,
			WeightKg:        req.Vitals.WeightKg,
			GCSScore:        req.Vitals.GCSScore,
		}
		if err := s.vitals.Create(ctx, vitals); err != nil {
			return err
		}
		for _, m := range req.Medications {
			if err := s.medications.Create(ctx, &cases.MedicationRecord{
				CaseID:    c.ID,
				DrugName:  m.DrugName,
				Code:      m.Code,
				Dose:      m.Dose,
				Frequency: m.Frequency,
				Route:     m.Route,
			}); err != nil {
				return err
			}
		}
		for _, sym := range req.Symptoms {
			if err := s.symptoms.Create(ctx, &cases.SymptomRecord{
				CaseID:        c.ID,
				SymptomName:   sym.SymptomName,
				IsRedFlag:     sym.IsRedFlag,
				Severity:      sym.Severity,
				DurationHours: sym.DurationHours,
			}); err != nil {
				return err
			}
		}

		assessment := buildAssessment(c.ID, vitals.ID, rule, ml, med, agg, modelVersion)
		if err := s.assessments.Create(ctx, assessment); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, audit.Record{
			UserID:     actor.UserID,
			Action:     audit.ActionAssessmentWrite,
			Resource:   "assessment",
			ResourceID: &assessment.ID,
			IPAddress:  strPtr(actor.IPAddress),
			RequestID:  strPtr(actor.RequestID),
			NewValues: audit.Snapshot(map[string]interface{}{
				"final_risk_level": agg.FinalLevel,
				"final_risk_score": agg.FinalScore,
			}),
		}); err != nil {
			return err
		}

		if err := s.caseRepo.UpdateStatus(ctx, c.ID, cases.StatusAnalyzed); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, audit.Record{
			UserID:     actor.UserID,
			Action:     audit.ActionCaseTransition,
			Resource:   "case",
			ResourceID: &c.ID,
			IPAddress:  strPtr(actor.IPAddress),
			RequestID:  strPtr(actor.RequestID),
			OldValues:  audit.Snapshot(map[string]string{"status": string(cases.StatusIntake)}),
			NewValues:  audit.Snapshot(map[string]string{"status": string(cases.StatusAnalyzed)}),
		}); err != nil {
			return err
		}

		caseID = c.ID.String()
		assessmentID = assessment.ID.String()
		assessedAt = assessment.CreatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(caseID, bus.Event{
		Type:   bus.EventStatusUpdate,
		Status: string(cases.StatusAnalyzed),
	})

	if assessedAt.IsZero() {
		assessedAt = time.Now().UTC()
	}

	return &AssessmentResponse{
		AssessmentID:        assessmentID,
		CaseID:              caseID,
		FinalRiskLevel:      agg.FinalLevel,
		FinalRiskScore:      agg.FinalScore,
		RuleEngine:          rule,
		MLResult:            ml,
		MedWarnings:         med.Warnings,
		Recommendation:      agg.Recommendation,
		EscalationSuggested: agg.EscalationSuggested,
		ModelVersion:        modelVersion,
		AssessedAt:          assessedAt,
	}, nil
}

// runAnalyzers fans out the rule guardrail, the risk model, and the
// medication engine, each under its own budget. The rule guardrail is the
// safety floor: if it misses its budget the request fails. The other two
// degrade per the aggregator's failure model.
func (s *Service) runAnalyzers(ctx context.Context, req *IntakeRequest, actor cases.Actor) (RuleResult, *MLResult, MedResult, error) {
	ruleCh := make(chan RuleResult, 1)
	mlCh := make(chan mlOut, 1)
	medCh := make(chan MedResult, 1)

	go func() {
		ruleCh <- EvaluateRules(req.Vitals, req.Symptoms, req.Flags)
	}()
	go func() {
		result, err := Predict(s.registry, req.Vitals, req.Age, req.Sex, req.Flags, req.Symptoms)
		mlCh <- mlOut{result: result, err: err}
	}()
	go func() {
		medCh <- s.med.Evaluate(req.Medications, req.Symptoms, req.Flags)
	}()

	var rule RuleResult
	select {
	case rule = <-ruleCh:
	case <-time.After(s.timeouts.Rule):
		s.logger.Error().
			Str("request_id", actor.RequestID).
			Msg("rule guardrail missed its deadline")
		return RuleResult{}, nil, MedResult{}, errs.Unavailable("rule guardrail unavailable")
	case <-ctx.Done():
		return RuleResult{}, nil, MedResult{}, ctx.Err()
	}

	var ml *MLResult
	select {
	case out := <-mlCh:
		if out.err != nil {
			s.logger.Warn().
				Err(out.err).
				Str("request_id", actor.RequestID).
				Msg("risk model unavailable; continuing without ml_result")
		} else {
			ml = out.result
		}
	case <-time.After(s.timeouts.Model):
		s.logger.Warn().
			Str("request_id", actor.RequestID).
			Msg("risk model timed out; continuing without ml_result")
	case <-ctx.Done():
		return RuleResult{}, nil, MedResult{}, ctx.Err()
	}

	var med MedResult
	select {
	case med = <-medCh:
	case <-time.After(s.timeouts.Med):
		s.logger.Error().
			Str("request_id", actor.RequestID).
			Msg("medication engine timed out; producing warning-less assessment")
		med = MedResult{Failed: true}
	case <-ctx.Done():
		return RuleResult{}, nil, MedResult{}, ctx.Err()
	}

	return rule, ml, med, nil
}

func buildAssessment(caseID, vitalsID uuid.UUID, rule RuleResult, ml *MLResult, med MedResult, agg AggregateResult, modelVersion string) *cases.Assessment {
	a := &cases.Assessment{
		CaseID:              caseID,
		VitalsID:            vitalsID,
		RuleTriggered:       rule.Triggered,
		RuleReasons:         rule.Reasons,
		RuleOverrideML:      rule.OverrideML,
		MedOverrideTrig:     med.Override,
		FinalRiskLevel:      string(agg.FinalLevel),
		FinalRiskScore:      agg.FinalScore,
		Recommendation:      agg.Recommendation,
		EscalationSuggested: agg.EscalationSuggested,
		ModelVersion:        modelVersion,
	}
	if a.RuleReasons == nil {
		a.RuleReasons = []string{}
	}
	if rule.Triggered {
		level := string(rule.Level)
		a.RuleLevel = &level
	}
	if ml != nil {
		prob := ml.RiskProbability
		level := string(ml.RiskLevel)
		text := ml.ShapText
		a.MLRiskProbability = &prob
		a.MLRiskLevel = &level
		a.ShapText = &text
		a.ShapTopFeatures = marshalJSON(ml.ShapFeatures)
	}
	if len(med.Warnings) > 0 {
		a.MedWarnings = marshalJSON(med.Warnings)
	}
	return a
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func marshalJSON(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
