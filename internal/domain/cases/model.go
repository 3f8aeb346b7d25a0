package cases

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the case lifecycle state.
type Status string

const (
	StatusIntake              Status = "intake"
	StatusAnalyzed            Status = "analyzed"
	StatusEscalated           Status = "escalated"
	StatusSpecialistReviewing Status = "specialist_reviewing"
	StatusAdvised             Status = "advised"
	StatusClosed              Status = "closed"
	StatusCancelled           Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusIntake:              0,
	StatusAnalyzed:            1,
	StatusEscalated:           2,
	StatusSpecialistReviewing: 3,
	StatusAdvised:             4,
	StatusClosed:              5,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a case may move from one status to another.
// Transitions are monotonic along the lifecycle; cancelled is terminal from
// any non-closed state. Escalated and advised permit self-transitions: a
// re-mint replaces the previous escalation token, and every further advice
// submission keeps the case advised.
func CanTransition(from, to Status) bool {
	if from == StatusCancelled {
		return false
	}
	if to == StatusCancelled {
		return from != StatusClosed
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if toRank > fromRank {
		return true
	}
	return to == from && (to == StatusEscalated || to == StatusAdvised)
}

// VulnerabilityFlags mark patient groups that change clinical thresholds.
type VulnerabilityFlags struct {
	Pregnant          bool `json:"pregnant"`
	Diabetic          bool `json:"diabetic"`
	Elderly           bool `json:"elderly"`
	HeartDisease      bool `json:"heart_disease"`
	Immunocompromised bool `json:"immunocompromised"`
}

// Case maps to the cases table. The patient snapshot is captured at intake
// and never mutated.
type Case struct {
	ID                  uuid.UUID          `db:"id" json:"id"`
	PHWID               string             `db:"phw_id" json:"phw_id"`
	PHWName             *string            `db:"phw_name" json:"phw_name,omitempty"`
	Facility            *string            `db:"facility" json:"facility,omitempty"`
	SpecialistID        *string            `db:"specialist_id" json:"specialist_id,omitempty"`
	Status              Status             `db:"status" json:"status"`
	ChiefComplaint      string             `db:"chief_complaint" json:"chief_complaint"`
	EscalationReason    *string            `db:"escalation_reason" json:"escalation_reason,omitempty"`
	EscalationTokenHash *string            `db:"escalation_token_hash" json:"-"`
	EscalationExpiresAt *time.Time         `db:"escalation_expires_at" json:"escalation_expires_at,omitempty"`
	PatientAge          int                `db:"patient_age" json:"patient_age"`
	PatientSex          string             `db:"patient_sex" json:"patient_sex"`
	Village             *string            `db:"village" json:"village,omitempty"`
	District            *string            `db:"district" json:"district,omitempty"`
	Flags               VulnerabilityFlags `db:"vulnerability_flags" json:"vulnerability_flags"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
	DeletedAt           *time.Time         `db:"deleted_at" json:"-"`
}

// HasLiveToken reports whether the case currently holds an unexpired
// escalation token.
func (c *Case) HasLiveToken(now time.Time) bool {
	return c.EscalationTokenHash != nil &&
		c.EscalationExpiresAt != nil &&
		now.Before(*c.EscalationExpiresAt)
}

// VitalsRecord maps to the case_vitals table. Immutable once recorded.
type VitalsRecord struct {
	ID              uuid.UUID `db:"id" json:"id"`
	CaseID          uuid.UUID `db:"case_id" json:"case_id"`
	RecordedBy      string    `db:"recorded_by" json:"recorded_by"`
	SystolicBP      int       `db:"systolic_bp" json:"systolic_bp"`
	DiastolicBP     int       `db:"diastolic_bp" json:"diastolic_bp"`
	HeartRate       int       `db:"heart_rate" json:"heart_rate"`
	RespiratoryRate int       `db:"respiratory_rate" json:"respiratory_rate"`
	SpO2            float64   `db:"spo2" json:"spo2"`
	Temperature     float64   `db:"temperature" json:"temperature"`
	BloodGlucose    *int      `db:"blood_glucose_mgdl" json:"blood_glucose_mgdl,omitempty"`
	WeightKg        *float64  `db:"weight_kg" json:"weight_kg,omitempty"`
	GCSScore        *int      `db:"gcs_score" json:"gcs_score,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// MedicationRecord maps to the case_medications table.
type MedicationRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CaseID    uuid.UUID `db:"case_id" json:"case_id"`
	DrugName  string    `db:"drug_name" json:"drug_name"`
	Code      *string   `db:"code" json:"code,omitempty"`
	Dose      *string   `db:"dose" json:"dose,omitempty"`
	Frequency *string   `db:"frequency" json:"frequency,omitempty"`
	Route     *string   `db:"route" json:"route,omitempty"`
}

// SymptomRecord maps to the case_symptoms table.
type SymptomRecord struct {
	ID            uuid.UUID `db:"id" json:"id"`
	CaseID        uuid.UUID `db:"case_id" json:"case_id"`
	SymptomName   string    `db:"symptom_name" json:"symptom_name"`
	IsRedFlag     bool      `db:"is_red_flag" json:"is_red_flag"`
	Severity      *string   `db:"severity" json:"severity,omitempty"`
	DurationHours *int      `db:"duration_hours" json:"duration_hours,omitempty"`
}

// Assessment maps to the risk_assessments table. Immutable apart from the
// SBAR fields, which are filled once on escalation.
type Assessment struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	CaseID              uuid.UUID       `db:"case_id" json:"case_id"`
	VitalsID            uuid.UUID       `db:"vitals_id" json:"vitals_id"`
	RuleTriggered       bool            `db:"rule_triggered" json:"rule_triggered"`
	RuleLevel           *string         `db:"rule_level" json:"rule_level,omitempty"`
	RuleReasons         []string        `db:"rule_reasons" json:"rule_reasons"`
	RuleOverrideML      bool            `db:"rule_override_ml" json:"rule_override_ml"`
	MLRiskProbability   *float64        `db:"ml_risk_probability" json:"ml_risk_probability,omitempty"`
	MLRiskLevel         *string         `db:"ml_risk_level" json:"ml_risk_level,omitempty"`
	ShapTopFeatures     json.RawMessage `db:"shap_top_features" json:"shap_top_features,omitempty"`
	ShapText            *string         `db:"shap_text" json:"shap_text,omitempty"`
	MedWarnings         json.RawMessage `db:"med_warnings" json:"med_warnings,omitempty"`
	MedOverrideTrig     bool            `db:"med_override_triggered" json:"med_override_triggered"`
	FinalRiskLevel      string          `db:"final_risk_level" json:"final_risk_level"`
	FinalRiskScore      float64         `db:"final_risk_score" json:"final_risk_score"`
	Recommendation      string          `db:"recommendation" json:"recommendation"`
	EscalationSuggested bool            `db:"escalation_suggested" json:"escalation_suggested"`
	ModelVersion        string          `db:"model_version" json:"model_version"`
	SBARSituation       *string         `db:"sbar_situation" json:"sbar_situation,omitempty"`
	SBARBackground      *string         `db:"sbar_background" json:"sbar_background,omitempty"`
	SBARAssessment      *string         `db:"sbar_assessment" json:"sbar_assessment,omitempty"`
	SBARRecommendation  *string         `db:"sbar_recommendation" json:"sbar_recommendation,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"assessed_at"`
}

// Advice maps to the specialist_advice table. Append-only; the latest row
// is authoritative.
type Advice struct {
	ID                uuid.UUID `db:"id" json:"id"`
	CaseID            uuid.UUID `db:"case_id" json:"case_id"`
	AssessmentID      uuid.UUID `db:"risk_assessment_id" json:"risk_assessment_id"`
	SpecialistID      string    `db:"specialist_id" json:"specialist_id"`
	AdviceType        string    `db:"advice_type" json:"advice_type"`
	Notes             *string   `db:"notes" json:"notes,omitempty"`
	MedicationsAdvise []string  `db:"medications_advised" json:"medications_advised"`
	Investigations    []string  `db:"investigations" json:"investigations"`
	FollowUpHours     *int      `db:"follow_up_hours" json:"follow_up_hours,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Advice types a specialist may submit.
var ValidAdviceTypes = map[string]bool{
	"urgent_referral": true,
	"observe_2h":      true,
	"manage_locally":  true,
	"start_iv_fluids": true,
	"admit":           true,
	"custom":          true,
}

// AdviceAllowed reports whether advice rows may be appended at this status.
func AdviceAllowed(s Status) bool {
	return s == StatusEscalated || s == StatusSpecialistReviewing || s == StatusAdvised
}
