package escalation

import (
	"time"

	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/platform/errs"
)

// EscalateRequest is the POST /escalate payload.
type EscalateRequest struct {
	CaseID           string  `json:"case_id"`
	EscalationReason string  `json:"escalation_reason"`
	SpecialistID     *string `json:"specialist_id,omitempty"`
}

func (r *EscalateRequest) Validate() error {
	fields := map[string]string{}
	if r.CaseID == "" {
		fields["case_id"] = "is required"
	}
	if len(r.EscalationReason) < 10 {
		fields["escalation_reason"] = "must be at least 10 characters"
	}
	if len(fields) > 0 {
		return errs.Validation("escalation payload failed validation", fields)
	}
	return nil
}

// EscalateResponse is the POST /escalate response body.
type EscalateResponse struct {
	CaseID              string    `json:"case_id"`
	SpecialistMagicLink string    `json:"specialist_magic_link"`
	SBAR                SBAR      `json:"sbar"`
	EscalatedAt         time.Time `json:"escalated_at"`
}

// AdviceRequest is the POST /specialist/advice payload, authenticated by
// escalation token.
type AdviceRequest struct {
	CaseID             string   `json:"case_id"`
	AdviceType         string   `json:"advice_type"`
	Notes              *string  `json:"notes,omitempty"`
	MedicationsAdvised []string `json:"medications_advised"`
	Investigations     []string `json:"investigations"`
	FollowUpHours      *int     `json:"follow_up_hours,omitempty"`
}

func (r *AdviceRequest) Validate() error {
	fields := map[string]string{}
	if r.CaseID == "" {
		fields["case_id"] = "is required"
	}
	if !cases.ValidAdviceTypes[r.AdviceType] {
		fields["advice_type"] = "must be one of urgent_referral, observe_2h, manage_locally, start_iv_fluids, admit, custom"
	}
	if r.FollowUpHours != nil && (*r.FollowUpHours < 1 || *r.FollowUpHours > 720) {
		fields["follow_up_hours"] = "must be between 1 and 720"
	}
	if len(fields) > 0 {
		return errs.Validation("advice payload failed validation", fields)
	}
	return nil
}

// PatientSummary is the demographics block of the portal bundle.
type PatientSummary struct {
	Age      int                      `json:"age"`
	Sex      string                   `json:"sex"`
	Village  *string                  `json:"village,omitempty"`
	District *string                  `json:"district,omitempty"`
	Flags    cases.VulnerabilityFlags `json:"vulnerability_flags"`
}

// PortalBundle is the full case package returned to the specialist.
type PortalBundle struct {
	CaseID           string                    `json:"case_id"`
	Status           string                    `json:"status"`
	ChiefComplaint   string                    `json:"chief_complaint"`
	EscalationReason *string                   `json:"escalation_reason,omitempty"`
	PatientSummary   PatientSummary            `json:"patient_summary"`
	Vitals           *cases.VitalsRecord       `json:"vitals,omitempty"`
	Symptoms         []*cases.SymptomRecord    `json:"symptoms"`
	Medications      []*cases.MedicationRecord `json:"medications"`
	Assessment       *cases.Assessment         `json:"risk_assessment,omitempty"`
	SBAR             SBAR                      `json:"sbar"`
	PHWName          string                    `json:"phw_name"`
	Facility         string                    `json:"facility"`
	EscalatedAt      *time.Time                `json:"escalated_at,omitempty"`
}
