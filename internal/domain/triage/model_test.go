package triage

import (
	"strings"
	"testing"

	"github.com/careline/careline/internal/platform/errs"
)

func validIntake() *IntakeRequest {
	return benignIntake()
}

func TestIntakeRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*IntakeRequest)
		wantField string
	}{
		{"age too high", func(r *IntakeRequest) { r.Age = 151 }, "age"},
		{"bad sex", func(r *IntakeRequest) { r.Sex = "unknown" }, "sex"},
		{"short complaint", func(r *IntakeRequest) { r.ChiefComplaint = "hmm" }, "chief_complaint"},
		{"pregnant male", func(r *IntakeRequest) { r.Sex = "male"; r.Flags.Pregnant = true }, "vulnerability_flags.pregnant"},
		{"sbp too low", func(r *IntakeRequest) { r.Vitals.SystolicBP = 30 }, "vitals.systolic_bp"},
		{"sbp too high", func(r *IntakeRequest) { r.Vitals.SystolicBP = 400 }, "vitals.systolic_bp"},
		{"dbp out of range", func(r *IntakeRequest) { r.Vitals.DiastolicBP = 10 }, "vitals.diastolic_bp"},
		{"dbp above sbp", func(r *IntakeRequest) { r.Vitals.DiastolicBP = 130 }, "vitals.diastolic_bp"},
		{"hr out of range", func(r *IntakeRequest) { r.Vitals.HeartRate = 10 }, "vitals.heart_rate"},
		{"rr out of range", func(r *IntakeRequest) { r.Vitals.RespiratoryRate = 90 }, "vitals.respiratory_rate"},
		{"spo2 below floor", func(r *IntakeRequest) { r.Vitals.SpO2 = 45 }, "vitals.spo2"},
		{"spo2 above ceiling", func(r *IntakeRequest) { r.Vitals.SpO2 = 101 }, "vitals.spo2"},
		{"temperature out of range", func(r *IntakeRequest) { r.Vitals.Temperature = 48 }, "vitals.temperature"},
		{"glucose out of range", func(r *IntakeRequest) { bg := 10; r.Vitals.BloodGlucose = &bg }, "vitals.blood_glucose_mgdl"},
		{"gcs out of range", func(r *IntakeRequest) { g := 2; r.Vitals.GCSScore = &g }, "vitals.gcs_score"},
		{"short drug name", func(r *IntakeRequest) { r.Medications = []MedicationInput{{DrugName: "x"}} }, "medications[0].drug_name"},
		{"bad severity", func(r *IntakeRequest) {
			bad := "catastrophic"
			r.Symptoms = []SymptomInput{{SymptomName: "cough", Severity: &bad}}
		}, "symptoms[0].severity"},
		{"negative duration", func(r *IntakeRequest) {
			d := -1
			r.Symptoms = []SymptomInput{{SymptomName: "cough", DurationHours: &d}}
		}, "symptoms[0].duration_hours"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validIntake()
			tt.modify(req)
			err := req.Validate()
			e, ok := errs.As(err)
			if !ok || e.Kind != errs.KindValidation {
				t.Fatalf("err = %v, want validation error", err)
			}
			if _, found := e.Fields[tt.wantField]; !found {
				t.Errorf("fields = %v, want %s named", e.Fields, tt.wantField)
			}
		})
	}
}

func TestIntakeRequest_ValidateAccepts(t *testing.T) {
	if err := validIntake().Validate(); err != nil {
		t.Fatalf("valid intake rejected: %v", err)
	}

	// Boundary values are inside the declared ranges.
	req := validIntake()
	req.Age = 150
	req.Vitals = VitalsInput{
		SystolicBP: 350, DiastolicBP: 250, HeartRate: 350,
		RespiratoryRate: 80, SpO2: 100.0, Temperature: 45.0,
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("boundary intake rejected: %v", err)
	}
}

func TestIntakeRequest_TooManyEntries(t *testing.T) {
	req := validIntake()
	for i := 0; i < 31; i++ {
		req.Medications = append(req.Medications, MedicationInput{DrugName: "paracetamol"})
	}
	err := req.Validate()
	e, ok := errs.As(err)
	if !ok || e.Fields["medications"] == "" {
		t.Fatalf("err = %v, want medications cap named", err)
	}
}

func TestVitals_DerivedValues(t *testing.T) {
	v := VitalsInput{SystolicBP: 100, DiastolicBP: 60, HeartRate: 110}
	if got := v.ShockIndex(); got != 1.1 {
		t.Errorf("shock index = %.2f, want 1.10", got)
	}
	if got := v.PulsePressure(); got != 40 {
		t.Errorf("pulse pressure = %d, want 40", got)
	}
}

func TestMaxLevel(t *testing.T) {
	if MaxLevel(LevelLow, LevelCritical) != LevelCritical {
		t.Error("critical must dominate")
	}
	if MaxLevel(LevelHigh, LevelModerate) != LevelHigh {
		t.Error("high must dominate moderate")
	}
	if MaxLevel(LevelNone, LevelLow) != LevelLow {
		t.Error("low must dominate none")
	}
}

func TestRecommendationTagsCoverEveryLevel(t *testing.T) {
	for _, level := range []RiskLevel{LevelLow, LevelModerate, LevelHigh, LevelCritical} {
		tag := levelTags[level]
		if tag == "" {
			t.Errorf("missing tag for %s", level)
		}
		if !strings.HasSuffix(tag, ".") {
			t.Errorf("tag for %s must be a sentence: %q", level, tag)
		}
	}
}
