package triage

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/careline/careline/internal/domain/cases"
)

// featureValues extracts the engineered feature vector. Extraction is
// deterministic: same intake, same vector.
func featureValues(v VitalsInput, age int, sex string, flags cases.VulnerabilityFlags, symptoms []SymptomInput) map[string]float64 {
	bg := 100.0
	if v.BloodGlucose != nil {
		bg = float64(*v.BloodGlucose)
	}
	weight := 60.0
	if v.WeightKg != nil {
		weight = *v.WeightKg
	}
	sexEncoded := 0.0
	if sex != "male" {
		sexEncoded = 1.0
	}
	redFlags := 0
	for _, s := range symptoms {
		if s.IsRedFlag {
			redFlags++
		}
	}

	return map[string]float64{
		"spo2":                      v.SpO2,
		"systolic_bp":               float64(v.SystolicBP),
		"diastolic_bp":              float64(v.DiastolicBP),
		"heart_rate":                float64(v.HeartRate),
		"respiratory_rate":          float64(v.RespiratoryRate),
		"temperature":               v.Temperature,
		"blood_glucose":             bg,
		"age_years":                 float64(age),
		"sex_encoded":               sexEncoded,
		"is_pregnant":               boolFeature(flags.Pregnant),
		"is_diabetic":               boolFeature(flags.Diabetic),
		"has_heart_disease":         boolFeature(flags.HeartDisease),
		"is_immunocompromised":      boolFeature(flags.Immunocompromised),
		"weight_ratio":              weight / 60.0,
		"shock_index":               v.ShockIndex(),
		"pulse_pressure":            float64(v.PulsePressure()),
		"has_chest_pain":            symptomFeature(symptoms, "chest pain", "chest tightness"),
		"has_altered_consciousness": symptomFeature(symptoms, "unconscious", "confused", "confusion", "altered"),
		"has_breathing_difficulty":  symptomFeature(symptoms, "breathing", "breathless", "dyspnoea"),
		"has_severe_headache":       symptomFeature(symptoms, "headache"),
		"has_bleeding":              symptomFeature(symptoms, "bleeding", "hemorrhage", "blood"),
		"red_flag_count":            float64(redFlags),
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func symptomFeature(symptoms []SymptomInput, keywords ...string) float64 {
	if symptomMatches(symptoms, keywords...) {
		return 1.0
	}
	return 0.0
}

// LevelFromProbability maps a calibrated probability to a risk tier.
func LevelFromProbability(p float64) RiskLevel {
	switch {
	case p >= 0.80:
		return LevelCritical
	case p >= 0.55:
		return LevelHigh
	case p >= 0.30:
		return LevelModerate
	default:
		return LevelLow
	}
}

// Predict runs the loaded model over the intake. The per-feature logit
// terms are the attributions; the top five by absolute contribution are
// reported with the prediction.
func Predict(reg *Registry, v VitalsInput, age int, sex string, flags cases.VulnerabilityFlags, symptoms []SymptomInput) (*MLResult, error) {
	artifact := reg.Artifact()
	if artifact == nil {
		return nil, ErrModelUnavailable
	}

	values := featureValues(v, age, sex, flags, symptoms)

	type term struct {
		feature      ArtifactFeature
		value        float64
		contribution float64
	}

	terms := make([]term, 0, len(artifact.Features))
	logit := artifact.Bias
	for _, f := range artifact.Features {
		value, ok := values[f.Name]
		if !ok {
			continue
		}
		var c float64
		switch f.Mode {
		case modeAbove:
			c = f.Weight * math.Max(0, value-f.Center)
		case modeBelow:
			c = f.Weight * math.Max(0, f.Center-value)
		case modeLinear:
			c = f.Weight * (value - f.Center)
		case modeFlag:
			c = f.Weight * value
		}
		logit += c
		terms = append(terms, term{feature: f, value: value, contribution: c})
	}

	probability := 1.0 / (1.0 + math.Exp(-logit))
	probability = math.Round(probability*1000) / 1000
	level := LevelFromProbability(probability)

	// Top five by absolute contribution; artifact order breaks ties so the
	// ranking is stable.
	sort.SliceStable(terms, func(i, j int) bool {
		return math.Abs(terms[i].contribution) > math.Abs(terms[j].contribution)
	})
	k := 5
	if len(terms) < k {
		k = len(terms)
	}

	top := make([]SHAPFeature, 0, k)
	for _, t := range terms[:k] {
		direction := "+"
		if t.contribution < 0 {
			direction = "-"
		}
		top = append(top, SHAPFeature{
			Feature:      t.feature.Name,
			Value:        math.Round(t.value*10000) / 10000,
			Contribution: math.Round(t.contribution*10000) / 10000,
			Label:        fmt.Sprintf("%s = %.1f (impact %s%.3f)", t.feature.Label, t.value, direction, math.Abs(t.contribution)),
		})
	}

	return &MLResult{
		RiskProbability: probability,
		RiskLevel:       level,
		ShapFeatures:    top,
		ShapText:        shapText(top, level),
	}, nil
}

var featurePhrases = map[string]string{
	"spo2":                      "oxygen desaturation",
	"shock_index":               "shock indicators (elevated HR relative to BP)",
	"respiratory_rate":          "rapid breathing",
	"heart_rate":                "rapid heart rate",
	"temperature":               "abnormal temperature",
	"has_altered_consciousness": "altered level of consciousness",
	"has_chest_pain":            "chest pain",
	"has_breathing_difficulty":  "breathing difficulty",
	"has_bleeding":              "reported bleeding",
	"is_immunocompromised":      "immunocompromised state",
	"is_pregnant":               "pregnancy-related risk",
	"is_diabetic":               "diabetes",
	"has_heart_disease":         "known heart disease",
	"red_flag_count":            "red-flag symptom burden",
}

var levelPhrases = map[RiskLevel]string{
	LevelCritical: "suggest critical deterioration requiring immediate intervention",
	LevelHigh:     "indicate high risk - escalation strongly recommended",
	LevelModerate: "suggest moderate risk - close monitoring required",
	LevelLow:      "suggest lower risk - standard care appropriate",
}

// shapText joins the top two attributions into one clinician-readable
// sentence.
func shapText(features []SHAPFeature, level RiskLevel) string {
	if len(features) == 0 {
		return "Insufficient data to generate clinical interpretation."
	}

	text := "Primary driver: " + featurePhrase(features[0])
	if len(features) > 1 {
		text += " combined with " + featurePhrase(features[1])
	}
	return text + " " + levelPhrases[level] + "."
}

func featurePhrase(f SHAPFeature) string {
	if f.Feature == "systolic_bp" {
		if f.Value < 100 {
			return "low blood pressure"
		}
		return "elevated blood pressure"
	}
	if f.Feature == "age_years" {
		if f.Value < 40 {
			return "younger age"
		}
		return "older age"
	}
	if phrase, ok := featurePhrases[f.Feature]; ok {
		return phrase
	}
	return strings.ReplaceAll(f.Feature, "_", " ")
}
