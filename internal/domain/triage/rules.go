package triage

import (
	"fmt"
	"strings"

	"github.com/careline/careline/internal/domain/cases"
)

// EvaluateRules is the deterministic safety guardrail. It is a total
// function over its inputs: no I/O, no clock, no randomness. Thresholds are
// evaluated independently; the result level is the worst candidate across
// every triggered rule, and reasons keep the evaluation order so the first
// reason is always the most severe band's first hit.
func EvaluateRules(v VitalsInput, symptoms []SymptomInput, flags cases.VulnerabilityFlags) RuleResult {
	result := RuleResult{Level: LevelNone}

	trigger := func(level RiskLevel, reason string) {
		result.Triggered = true
		result.Level = MaxLevel(result.Level, level)
		result.Reasons = append(result.Reasons, reason)
	}

	// Critical thresholds.
	if v.SpO2 < 90.0 {
		trigger(LevelCritical, fmt.Sprintf("severe oxygen desaturation: SpO2 = %.1f%% (< 90.0%%)", v.SpO2))
	}
	if v.SystolicBP < 90 {
		trigger(LevelCritical, fmt.Sprintf("severe hypotension: systolic BP = %d mmHg (< 90)", v.SystolicBP))
	}
	if v.SystolicBP > 220 {
		trigger(LevelCritical, fmt.Sprintf("hypertensive crisis: systolic BP = %d mmHg (> 220)", v.SystolicBP))
	}
	if v.RespiratoryRate < 8 {
		trigger(LevelCritical, fmt.Sprintf("respiratory depression: RR = %d/min (< 8)", v.RespiratoryRate))
	}
	if v.RespiratoryRate > 30 {
		trigger(LevelCritical, fmt.Sprintf("severe respiratory distress: RR = %d/min (> 30)", v.RespiratoryRate))
	}
	if v.HeartRate < 40 {
		trigger(LevelCritical, fmt.Sprintf("severe bradycardia: HR = %d bpm (< 40)", v.HeartRate))
	}
	if v.HeartRate > 130 {
		trigger(LevelCritical, fmt.Sprintf("severe tachycardia: HR = %d bpm (> 130)", v.HeartRate))
	}
	if v.Temperature < 35.0 {
		trigger(LevelCritical, fmt.Sprintf("hypothermia: temperature = %.1f°C (< 35.0°C)", v.Temperature))
	}
	if v.Temperature > 39.5 {
		trigger(LevelCritical, fmt.Sprintf("hyperpyrexia: temperature = %.1f°C (> 39.5°C)", v.Temperature))
	}
	if v.GCSScore != nil && *v.GCSScore < 13 {
		trigger(LevelCritical, fmt.Sprintf("altered consciousness: GCS = %d (< 13)", *v.GCSScore))
	}
	for _, s := range symptoms {
		if s.IsRedFlag {
			trigger(LevelCritical, fmt.Sprintf("red-flag symptom reported: %q", s.SymptomName))
		}
	}
	if flags.Pregnant && v.SystolicBP >= 140 && v.DiastolicBP >= 90 {
		trigger(LevelCritical, fmt.Sprintf("pregnancy hypertension (possible preeclampsia): BP %d/%d mmHg", v.SystolicBP, v.DiastolicBP))
	}

	// High thresholds.
	if v.HeartRate > 120 && v.HeartRate <= 130 {
		trigger(LevelHigh, fmt.Sprintf("significant tachycardia: HR = %d bpm (> 120)", v.HeartRate))
	}
	if v.SpO2 >= 90.0 && v.SpO2 < 94.0 {
		trigger(LevelHigh, fmt.Sprintf("low oxygen saturation: SpO2 = %.1f%%", v.SpO2))
	}
	if v.Temperature > 38.5 && v.Temperature <= 39.5 {
		trigger(LevelHigh, fmt.Sprintf("high fever: temperature = %.1f°C", v.Temperature))
	}

	// Moderate thresholds.
	if flags.Immunocompromised && v.Temperature >= 38.0 && v.Temperature <= 38.5 {
		trigger(LevelModerate, fmt.Sprintf("immunocompromised patient with fever: temperature = %.1f°C", v.Temperature))
	}
	if v.BloodGlucose != nil {
		if *v.BloodGlucose < 54 {
			trigger(LevelModerate, fmt.Sprintf("hypoglycaemia: blood glucose = %d mg/dL (< 54)", *v.BloodGlucose))
		}
		if *v.BloodGlucose > 400 {
			trigger(LevelModerate, fmt.Sprintf("severe hyperglycaemia: blood glucose = %d mg/dL (> 400)", *v.BloodGlucose))
		}
	}
	if si := v.ShockIndex(); si > 1.0 && v.SystolicBP >= 90 && v.HeartRate <= 130 {
		trigger(LevelModerate, fmt.Sprintf("elevated shock index: %.2f (HR/SBP)", si))
	}

	if result.Level == LevelCritical {
		result.OverrideML = true
	}
	return result
}

// symptomMatches reports whether any symptom name contains any keyword.
// Matching is case-insensitive substring, following the drug engine.
func symptomMatches(symptoms []SymptomInput, keywords ...string) bool {
	for _, s := range symptoms {
		name := strings.ToLower(s.SymptomName)
		for _, kw := range keywords {
			if strings.Contains(name, kw) {
				return true
			}
		}
	}
	return false
}
