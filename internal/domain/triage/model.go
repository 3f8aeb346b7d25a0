package triage

import (
	"fmt"
	"time"

	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/platform/errs"
)

// RiskLevel is the four-tier clinical risk classification.
type RiskLevel string

const (
	LevelNone     RiskLevel = "none"
	LevelLow      RiskLevel = "low"
	LevelModerate RiskLevel = "moderate"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

var levelRank = map[RiskLevel]int{
	LevelNone:     0,
	LevelLow:      1,
	LevelModerate: 2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// MaxLevel returns the more severe of two levels.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if levelRank[a] >= levelRank[b] {
		return a
	}
	return b
}

// VitalsInput carries one vitals snapshot. Absolute physiological limits are
// enforced before anything reaches the analyzers.
type VitalsInput struct {
	SystolicBP      int      `json:"systolic_bp"`
	DiastolicBP     int      `json:"diastolic_bp"`
	HeartRate       int      `json:"heart_rate"`
	RespiratoryRate int      `json:"respiratory_rate"`
	SpO2            float64  `json:"spo2"`
	Temperature     float64  `json:"temperature"`
	BloodGlucose    *int     `json:"blood_glucose_mgdl,omitempty"`
	WeightKg        *float64 `json:"weight_kg,omitempty"`
	GCSScore        *int     `json:"gcs_score,omitempty"`
}

// ShockIndex is heart rate over systolic pressure; > 1.0 suggests early shock.
func (v VitalsInput) ShockIndex() float64 {
	sbp := v.SystolicBP
	if sbp < 1 {
		sbp = 1
	}
	return float64(v.HeartRate) / float64(sbp)
}

func (v VitalsInput) PulsePressure() int {
	return v.SystolicBP - v.DiastolicBP
}

type MedicationInput struct {
	DrugName  string  `json:"drug_name"`
	Code      *string `json:"code,omitempty"`
	Dose      *string `json:"dose,omitempty"`
	Frequency *string `json:"frequency,omitempty"`
	Route     *string `json:"route,omitempty"`
}

type SymptomInput struct {
	SymptomName   string  `json:"symptom_name"`
	IsRedFlag     bool    `json:"is_red_flag"`
	Severity      *string `json:"severity,omitempty"`
	DurationHours *int    `json:"duration_hours,omitempty"`
}

// IntakeRequest is the POST /analyze/risk payload.
type IntakeRequest struct {
	Age            int                      `json:"age"`
	Sex            string                   `json:"sex"`
	Village        *string                  `json:"village,omitempty"`
	District       *string                  `json:"district,omitempty"`
	Flags          cases.VulnerabilityFlags `json:"vulnerability_flags"`
	Vitals         VitalsInput              `json:"vitals"`
	Medications    []MedicationInput        `json:"medications"`
	Symptoms       []SymptomInput           `json:"symptoms"`
	ChiefComplaint string                   `json:"chief_complaint"`
}

var validSeverities = map[string]bool{"mild": true, "moderate": true, "severe": true}

// Validate checks every field against its declared range. Out-of-range
// vitals never reach the analyzers.
func (r *IntakeRequest) Validate() error {
	fields := map[string]string{}

	if r.Age < 0 || r.Age > 150 {
		fields["age"] = "must be between 0 and 150"
	}
	switch r.Sex {
	case "male", "female", "other":
	default:
		fields["sex"] = "must be one of male, female, other"
	}
	if n := len(r.ChiefComplaint); n < 5 || n > 1000 {
		fields["chief_complaint"] = "must be between 5 and 1000 characters"
	}
	if r.Flags.Pregnant && r.Sex == "male" {
		fields["vulnerability_flags.pregnant"] = "cannot be set for male patients"
	}

	v := r.Vitals
	if v.SystolicBP < 40 || v.SystolicBP > 350 {
		fields["vitals.systolic_bp"] = "must be between 40 and 350 mmHg"
	}
	if v.DiastolicBP < 20 || v.DiastolicBP > 250 {
		fields["vitals.diastolic_bp"] = "must be between 20 and 250 mmHg"
	}
	if v.DiastolicBP >= v.SystolicBP && fields["vitals.systolic_bp"] == "" && fields["vitals.diastolic_bp"] == "" {
		fields["vitals.diastolic_bp"] = "must be less than systolic_bp"
	}
	if v.HeartRate < 20 || v.HeartRate > 350 {
		fields["vitals.heart_rate"] = "must be between 20 and 350 bpm"
	}
	if v.RespiratoryRate < 4 || v.RespiratoryRate > 80 {
		fields["vitals.respiratory_rate"] = "must be between 4 and 80 /min"
	}
	if v.SpO2 < 50.0 || v.SpO2 > 100.0 {
		fields["vitals.spo2"] = "must be between 50.0 and 100.0 %"
	}
	if v.Temperature < 30.0 || v.Temperature > 45.0 {
		fields["vitals.temperature"] = "must be between 30.0 and 45.0 °C"
	}
	if v.BloodGlucose != nil && (*v.BloodGlucose < 20 || *v.BloodGlucose > 1000) {
		fields["vitals.blood_glucose_mgdl"] = "must be between 20 and 1000 mg/dL"
	}
	if v.WeightKg != nil && (*v.WeightKg < 1 || *v.WeightKg > 300) {
		fields["vitals.weight_kg"] = "must be between 1 and 300 kg"
	}
	if v.GCSScore != nil && (*v.GCSScore < 3 || *v.GCSScore > 15) {
		fields["vitals.gcs_score"] = "must be between 3 and 15"
	}

	if len(r.Medications) > 30 {
		fields["medications"] = "at most 30 entries"
	}
	for i, m := range r.Medications {
		if n := len(m.DrugName); n < 2 || n > 200 {
			fields[fmt.Sprintf("medications[%d].drug_name", i)] = "must be between 2 and 200 characters"
		}
	}

	if len(r.Symptoms) > 30 {
		fields["symptoms"] = "at most 30 entries"
	}
	for i, s := range r.Symptoms {
		if len(s.SymptomName) < 2 {
			fields[fmt.Sprintf("symptoms[%d].symptom_name", i)] = "must be at least 2 characters"
		}
		if s.Severity != nil && !validSeverities[*s.Severity] {
			fields[fmt.Sprintf("symptoms[%d].severity", i)] = "must be one of mild, moderate, severe"
		}
		if s.DurationHours != nil && *s.DurationHours < 0 {
			fields[fmt.Sprintf("symptoms[%d].duration_hours", i)] = "must be >= 0"
		}
	}

	if len(fields) > 0 {
		return errs.Validation("intake payload failed validation", fields)
	}
	return nil
}

// RuleResult is the guardrail verdict.
type RuleResult struct {
	Triggered  bool      `json:"triggered"`
	Level      RiskLevel `json:"risk_level"`
	Reasons    []string  `json:"reasons"`
	OverrideML bool      `json:"override_ml"`
}

// SHAPFeature is one per-feature attribution for a single prediction.
type SHAPFeature struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"shap_value"`
	Label        string  `json:"label"`
}

// MLResult is the risk model output.
type MLResult struct {
	RiskProbability float64       `json:"risk_probability"`
	RiskLevel       RiskLevel     `json:"risk_level"`
	ShapFeatures    []SHAPFeature `json:"shap_features"`
	ShapText        string        `json:"shap_text"`
}

// Warning categories emitted by the medication engine.
const (
	WarningDrugDrug      = "drug_drug"
	WarningDrugCondition = "drug_condition"
	WarningDrugSymptom   = "drug_symptom"
)

// Medication warning severities, least to most severe.
const (
	SeverityMild            = "mild"
	SeverityModerate        = "moderate"
	SeveritySevere          = "severe"
	SeverityContraindicated = "contraindicated"
)

// MedWarning is one medication safety finding.
type MedWarning struct {
	Drug1             string  `json:"drug1"`
	Drug2             *string `json:"drug2,omitempty"`
	Type              string  `json:"type"`
	Severity          string  `json:"severity"`
	Message           string  `json:"message"`
	ActionRequired    bool    `json:"action_required"`
	OverrideTriggered bool    `json:"override_triggered"`
}

// MedResult is the medication engine output joined by the aggregator.
type MedResult struct {
	Warnings []MedWarning
	Override bool
	// Failed marks the engine as unavailable; the aggregator produces a
	// warning-less assessment. The analyze service logs the diagnostic.
	Failed bool
}

// AssessmentResponse is the POST /analyze/risk response body.
type AssessmentResponse struct {
	AssessmentID        string       `json:"assessment_id"`
	CaseID              string       `json:"case_id"`
	FinalRiskLevel      RiskLevel    `json:"final_risk_level"`
	FinalRiskScore      float64      `json:"final_risk_score"`
	RuleEngine          RuleResult   `json:"rule_engine"`
	MLResult            *MLResult    `json:"ml_result"`
	MedWarnings         []MedWarning `json:"med_warnings"`
	Recommendation      string       `json:"recommendation"`
	EscalationSuggested bool         `json:"escalation_suggested"`
	ModelVersion        string       `json:"model_version"`
	AssessedAt          time.Time    `json:"assessed_at"`
}
