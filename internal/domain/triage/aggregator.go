package triage

import (
	"strings"
)

// AggregateResult is the fused assessment the three analyzers produce.
type AggregateResult struct {
	FinalLevel          RiskLevel
	FinalScore          float64
	EscalationSuggested bool
	Recommendation      string
}

var defaultScores = map[RiskLevel]float64{
	LevelCritical: 1.0,
	LevelHigh:     0.70,
	LevelModerate: 0.45,
	LevelLow:      0.15,
}

// Aggregate applies the override precedence: rule-critical beats the model,
// a medication override floors the level at high, otherwise the model
// decides, falling back to the worst of the rule level and low. The model's
// probability and attributions stay on the assessment even when suppressed
// from level selection.
func Aggregate(rule RuleResult, ml *MLResult, med MedResult) AggregateResult {
	var final RiskLevel
	switch {
	case rule.Level == LevelCritical:
		final = LevelCritical
	case med.Override:
		final = LevelHigh
		if ml != nil {
			final = MaxLevel(ml.RiskLevel, LevelHigh)
		}
	case ml != nil:
		final = ml.RiskLevel
	default:
		final = LevelLow
		if rule.Triggered {
			final = MaxLevel(rule.Level, LevelLow)
		}
	}

	score := defaultScores[final]
	if ml != nil {
		score = ml.RiskProbability
	}

	return AggregateResult{
		FinalLevel:          final,
		FinalScore:          score,
		EscalationSuggested: final == LevelHigh || final == LevelCritical || med.Override,
		Recommendation:      Recommendation(final, rule.Reasons, ml, med.Warnings),
	}
}

var levelTags = map[RiskLevel]string{
	LevelCritical: "CRITICAL: immediate escalation required.",
	LevelHigh:     "URGENT: escalation to specialist strongly recommended.",
	LevelModerate: "CAUTION: close monitoring required; consider specialist consultation.",
	LevelLow:      "LOW RISK: manage at PHC level with standard protocols.",
}

// Recommendation composes the clinician-facing text. Template-driven so the
// same assessment fields always yield byte-identical output: level tag,
// first rule reason, model interpretation, then each medication warning
// prefixed by its severity, in the engine's sorted order.
func Recommendation(level RiskLevel, ruleReasons []string, ml *MLResult, warnings []MedWarning) string {
	parts := []string{levelTags[level]}

	if len(ruleReasons) > 0 {
		parts = append(parts, "Finding: "+ruleReasons[0]+".")
	}
	if ml != nil && ml.ShapText != "" {
		parts = append(parts, "Model interpretation: "+ml.ShapText)
	}
	for _, w := range warnings {
		parts = append(parts, "["+strings.ToUpper(w.Severity)+"] "+w.Message)
	}

	return strings.Join(parts, " ")
}
