package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/cases"
)

// SBAR is the four-field structured handover.
type SBAR struct {
	Situation      string `json:"situation"`
	Background     string `json:"background"`
	Assessment     string `json:"assessment"`
	Recommendation string `json:"recommendation"`
}

// SBARInput is everything the generator needs from the case.
type SBARInput struct {
	Case             *cases.Case
	Vitals           *cases.VitalsRecord
	Assessment       *cases.Assessment
	Symptoms         []*cases.SymptomRecord
	Medications      []*cases.MedicationRecord
	EscalationReason string
}

// SBARGenerator produces the handover. It may delegate to an external text
// service; on any failure or timeout the deterministic fallback template is
// used, so escalation is never blocked on a third party.
type SBARGenerator struct {
	serviceURL string
	timeout    time.Duration
	client     *http.Client
	logger     zerolog.Logger
}

func NewSBARGenerator(serviceURL string, timeout time.Duration, logger zerolog.Logger) *SBARGenerator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SBARGenerator{
		serviceURL: serviceURL,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Generate never fails: any external error degrades to the fallback.
func (g *SBARGenerator) Generate(ctx context.Context, input SBARInput) SBAR {
	if g.serviceURL == "" {
		return fallbackSBAR(input)
	}

	sbar, err := g.callService(ctx, input)
	if err != nil {
		g.logger.Warn().Err(err).
			Str("case_id", input.Case.ID.String()).
			Msg("handover text service failed; using fallback template")
		return fallbackSBAR(input)
	}
	return sbar
}

type sbarServiceRequest struct {
	PatientAge       int                       `json:"patient_age"`
	PatientSex       string                    `json:"patient_sex"`
	Flags            cases.VulnerabilityFlags  `json:"vulnerability_flags"`
	ChiefComplaint   string                    `json:"chief_complaint"`
	EscalationReason string                    `json:"escalation_reason"`
	Vitals           *cases.VitalsRecord       `json:"vitals"`
	Symptoms         []*cases.SymptomRecord    `json:"symptoms"`
	Medications      []*cases.MedicationRecord `json:"medications"`
	Assessment       *cases.Assessment         `json:"assessment"`
}

func (g *SBARGenerator) callService(ctx context.Context, input SBARInput) (SBAR, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payload, err := json.Marshal(sbarServiceRequest{
		PatientAge:       input.Case.PatientAge,
		PatientSex:       input.Case.PatientSex,
		Flags:            input.Case.Flags,
		ChiefComplaint:   input.Case.ChiefComplaint,
		EscalationReason: input.EscalationReason,
		Vitals:           input.Vitals,
		Symptoms:         input.Symptoms,
		Medications:      input.Medications,
		Assessment:       input.Assessment,
	})
	if err != nil {
		return SBAR{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.serviceURL, bytes.NewReader(payload))
	if err != nil {
		return SBAR{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return SBAR{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SBAR{}, fmt.Errorf("handover service returned status %d", resp.StatusCode)
	}

	var sbar SBAR
	if err := json.NewDecoder(resp.Body).Decode(&sbar); err != nil {
		return SBAR{}, err
	}
	if sbar.Situation == "" || sbar.Recommendation == "" {
		return SBAR{}, fmt.Errorf("handover service returned incomplete SBAR")
	}
	return sbar, nil
}

// fallbackSBAR is the deterministic template: the same case state always
// yields the same handover text.
func fallbackSBAR(input SBARInput) SBAR {
	c := input.Case
	a := input.Assessment
	v := input.Vitals

	level := strings.ToUpper(a.FinalRiskLevel)
	reasons := "decision engine assessment"
	if len(a.RuleReasons) > 0 {
		reasons = strings.Join(a.RuleReasons, "; ")
	}

	situation := fmt.Sprintf(
		"A %d-year-old %s patient presenting with %s has been escalated at risk level %s. Reason for escalation: %s.",
		c.PatientAge, c.PatientSex, c.ChiefComplaint, level, input.EscalationReason)
	if v != nil {
		situation = fmt.Sprintf(
			"A %d-year-old %s patient presenting with %s has been escalated at risk level %s. SpO2 %.1f%%, BP %d/%d mmHg. Reason for escalation: %s.",
			c.PatientAge, c.PatientSex, c.ChiefComplaint, level,
			v.SpO2, v.SystolicBP, v.DiastolicBP, input.EscalationReason)
	}

	background := fmt.Sprintf("Risk assessment score: %.0f%%. Triggered findings: %s.",
		a.FinalRiskScore*100, reasons)
	if v != nil {
		background = fmt.Sprintf(
			"HR %d bpm, RR %d/min, Temp %.1f°C. Risk assessment score: %.0f%%. Triggered findings: %s.",
			v.HeartRate, v.RespiratoryRate, v.Temperature, a.FinalRiskScore*100, reasons)
	}

	assessment := fmt.Sprintf("Hybrid decision engine classified the case as %s risk.", level)
	if a.RuleTriggered && a.RuleOverrideML {
		assessment += " Rule guardrail override applied."
	}
	if a.MLRiskProbability != nil {
		assessment += fmt.Sprintf(" Model risk probability: %.0f%%.", *a.MLRiskProbability*100)
	}
	if a.ShapText != nil && *a.ShapText != "" {
		assessment += " " + *a.ShapText
	}

	recommendation := fmt.Sprintf(
		"Specialist review required. Assess vitals trend, consider investigations, and advise on the management plan. Case marked %s priority.",
		level)

	return SBAR{
		Situation:      situation,
		Background:     background,
		Assessment:     assessment,
		Recommendation: recommendation,
	}
}
