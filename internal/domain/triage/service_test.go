package triage

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/domain/cases/casetest"
	"github.com/careline/careline/internal/platform/bus"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/errs"
)

func newTestService(t *testing.T, store *casetest.Store, withModel bool) *Service {
	t.Helper()
	reg := NewRegistry()
	if withModel {
		reg = loadTestRegistry(t)
	}
	return NewService(
		db.PassthroughTxRunner(),
		reg,
		NewMedEngine(testInteractions()),
		store.CaseRepo(),
		store.VitalsRepo(),
		store.MedicationRepo(),
		store.SymptomRepo(),
		store.AssessmentRepo(),
		store.AuditRecorder(),
		store.Publisher(),
		Timeouts{},
		zerolog.Nop(),
	)
}

func phwActor() cases.Actor {
	return cases.Actor{UserID: "phw-1", Name: "Asha Devi", IPAddress: "10.0.0.1", RequestID: "req-1"}
}

func criticalIntake() *IntakeRequest {
	severe := "severe"
	return &IntakeRequest{
		Age: 45, Sex: "female",
		Flags: cases.VulnerabilityFlags{Diabetic: true, HeartDisease: true},
		Vitals: VitalsInput{
			SystolicBP: 85, DiastolicBP: 55, HeartRate: 118,
			RespiratoryRate: 26, SpO2: 91.5, Temperature: 38.8,
		},
		Symptoms: []SymptomInput{
			{SymptomName: "chest pain", IsRedFlag: true, Severity: &severe},
			{SymptomName: "difficulty breathing", IsRedFlag: true},
		},
		Medications:    []MedicationInput{{DrugName: "Atenolol"}},
		ChiefComplaint: "chest pain and trouble breathing since this morning",
	}
}

func benignIntake() *IntakeRequest {
	mild := "mild"
	hours := 2
	return &IntakeRequest{
		Age: 28, Sex: "male",
		Vitals: VitalsInput{
			SystolicBP: 122, DiastolicBP: 78, HeartRate: 72,
			RespiratoryRate: 16, SpO2: 98.0, Temperature: 36.9,
		},
		Symptoms:       []SymptomInput{{SymptomName: "mild headache", Severity: &mild, DurationHours: &hours}},
		ChiefComplaint: "headache since this morning, otherwise well",
	}
}

func TestAnalyze_CriticalRuleOverridesModel(t *testing.T) {
	store := casetest.NewStore()
	svc := newTestService(t, store, true)

	resp, err := svc.Analyze(context.Background(), criticalIntake(), phwActor())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if resp.FinalRiskLevel != LevelCritical {
		t.Errorf("final = %s, want critical", resp.FinalRiskLevel)
	}
	if !resp.RuleEngine.Triggered || !resp.RuleEngine.OverrideML {
		t.Errorf("rule engine = %+v, want triggered with override", resp.RuleEngine)
	}
	if !reasonsContain(resp.RuleEngine.Reasons, "severe hypotension") {
		t.Errorf("reasons %v missing hypotension finding", resp.RuleEngine.Reasons)
	}
	if len(resp.MedWarnings) != 1 {
		t.Fatalf("med warnings = %+v, want exactly one", resp.MedWarnings)
	}
	w := resp.MedWarnings[0]
	if w.Severity != SeveritySevere || !strings.Contains(w.Drug1, "Atenolol") {
		t.Errorf("unexpected warning: %+v", w)
	}
	if !resp.EscalationSuggested {
		t.Error("escalation must be suggested")
	}
	if resp.MLResult == nil {
		t.Error("model output must still be recorded for transparency")
	}

	// Persistence: case is analyzed, assessment stored, audit written.
	caseRow := store.Cases[mustParse(t, resp.CaseID)]
	if caseRow == nil || caseRow.Status != cases.StatusAnalyzed {
		t.Fatalf("case not transitioned to analyzed: %+v", caseRow)
	}
	if len(store.Assessments[caseRow.ID]) != 1 {
		t.Fatalf("expected one assessment, got %d", len(store.Assessments[caseRow.ID]))
	}
	stored := store.Assessments[caseRow.ID][0]
	if stored.FinalRiskLevel != string(LevelCritical) {
		t.Errorf("stored level = %s", stored.FinalRiskLevel)
	}

	actions := store.AuditActions()
	for _, want := range []string{"case.create", "assessment.write", "case.transition"} {
		if !containsString(actions, want) {
			t.Errorf("audit trail %v missing %s", actions, want)
		}
	}

	events := store.EventsOfType(bus.EventStatusUpdate)
	if len(events) != 1 || events[0].Status != string(cases.StatusAnalyzed) {
		t.Errorf("events = %+v, want one analyzed status update", events)
	}
}

func TestAnalyze_BenignIntake(t *testing.T) {
	store := casetest.NewStore()
	svc := newTestService(t, store, true)

	resp, err := svc.Analyze(context.Background(), benignIntake(), phwActor())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if resp.FinalRiskLevel != LevelLow {
		t.Errorf("final = %s, want low", resp.FinalRiskLevel)
	}
	if resp.RuleEngine.Triggered {
		t.Errorf("rule engine should not trigger: %+v", resp.RuleEngine)
	}
	if resp.MLResult == nil || resp.MLResult.RiskProbability >= 0.30 {
		t.Errorf("ml result = %+v, want probability < 0.30", resp.MLResult)
	}
	if resp.EscalationSuggested {
		t.Error("benign intake must not suggest escalation")
	}
	if len(resp.MedWarnings) != 0 {
		t.Errorf("med warnings = %+v, want none", resp.MedWarnings)
	}
}

func TestAnalyze_PregnancyHypertension(t *testing.T) {
	store := casetest.NewStore()
	svc := newTestService(t, store, true)

	severe := "severe"
	req := &IntakeRequest{
		Age: 32, Sex: "female",
		Flags: cases.VulnerabilityFlags{Pregnant: true},
		Vitals: VitalsInput{
			SystolicBP: 155, DiastolicBP: 100, HeartRate: 98,
			RespiratoryRate: 20, SpO2: 97.0, Temperature: 37.2,
		},
		Symptoms: []SymptomInput{
			{SymptomName: "severe headache", IsRedFlag: true, Severity: &severe},
			{SymptomName: "blurred vision", IsRedFlag: true, Severity: &severe},
		},
		ChiefComplaint: "severe headache and blurred vision in third trimester",
	}

	resp, err := svc.Analyze(context.Background(), req, phwActor())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if resp.FinalRiskLevel != LevelCritical {
		t.Errorf("final = %s, want critical", resp.FinalRiskLevel)
	}
	if !reasonsContain(resp.RuleEngine.Reasons, "pregnancy hypertension") {
		t.Errorf("reasons %v missing pregnancy hypertension", resp.RuleEngine.Reasons)
	}
}

func TestAnalyze_ModelAbsentStillSucceeds(t *testing.T) {
	store := casetest.NewStore()
	svc := newTestService(t, store, false)

	resp, err := svc.Analyze(context.Background(), benignIntake(), phwActor())
	if err != nil {
		t.Fatalf("analyze without model: %v", err)
	}
	if resp.MLResult != nil {
		t.Errorf("ml_result = %+v, want nil", resp.MLResult)
	}
	if resp.FinalRiskLevel != LevelLow {
		t.Errorf("final = %s, want low", resp.FinalRiskLevel)
	}
	if resp.ModelVersion != "unavailable" {
		t.Errorf("model_version = %s, want unavailable", resp.ModelVersion)
	}
}

func TestAnalyze_ValidationFailureHasNoSideEffects(t *testing.T) {
	store := casetest.NewStore()
	svc := newTestService(t, store, true)

	req := benignIntake()
	req.Vitals.SpO2 = 45.0 // below the declared floor

	_, err := svc.Analyze(context.Background(), req, phwActor())
	if err == nil {
		t.Fatal("expected validation error")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindValidation {
		t.Fatalf("err = %v, want validation kind", err)
	}
	if _, found := e.Fields["vitals.spo2"]; !found {
		t.Errorf("fields = %v, want vitals.spo2 named", e.Fields)
	}
	if len(store.Cases) != 0 || len(store.AuditTrail) != 0 || len(store.Events) != 0 {
		t.Error("validation failure must leave no side effects")
	}
}

func TestAnalyze_RecommendationIsDeterministic(t *testing.T) {
	first := analyzeOnce(t, criticalIntake())
	for i := 0; i < 3; i++ {
		again := analyzeOnce(t, criticalIntake())
		if first.Recommendation != again.Recommendation {
			t.Fatalf("recommendation differs:\n%q\n%q", first.Recommendation, again.Recommendation)
		}
	}
}

func analyzeOnce(t *testing.T, req *IntakeRequest) *AssessmentResponse {
	t.Helper()
	store := casetest.NewStore()
	svc := newTestService(t, store, true)
	resp, err := svc.Analyze(context.Background(), req, phwActor())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	return resp
}

func mustParse(t *testing.T, id string) uuid.UUID {
	t.Helper()
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", id, err)
	}
	return parsed
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
