package triage

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/careline/careline/internal/domain/cases"
)

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "..", "model", "risk_model.json"))
	if err != nil {
		t.Fatalf("read model artifact: %v", err)
	}
	reg := NewRegistry()
	if err := reg.LoadBytes(data); err != nil {
		t.Fatalf("load model artifact: %v", err)
	}
	return reg
}

func TestRegistry_LoadAndClose(t *testing.T) {
	reg := loadTestRegistry(t)
	if !reg.Ready() {
		t.Fatal("registry must be ready after load")
	}
	if reg.Version() == "" {
		t.Error("expected a version")
	}
	reg.Close()
	if reg.Ready() {
		t.Error("registry must not be ready after close")
	}
}

func TestRegistry_RejectsCorruptArtifact(t *testing.T) {
	reg := NewRegistry()
	if err := reg.LoadBytes([]byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
	if err := reg.LoadBytes([]byte(`{"version":"x","bias":0,"features":[{"name":"a","mode":"bogus"}]}`)); err == nil {
		t.Error("expected mode validation error")
	}
	if reg.Ready() {
		t.Error("registry must stay unavailable after failed loads")
	}
}

func TestRegistry_MissingFile(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing artifact")
	}
	if reg.Ready() {
		t.Error("registry must stay unavailable")
	}
}

func TestPredict_UnavailableWithoutArtifact(t *testing.T) {
	reg := NewRegistry()
	_, err := Predict(reg, normalVitals(), 30, "male", cases.VulnerabilityFlags{}, nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
}

func TestPredict_BenignIntakeIsLow(t *testing.T) {
	// Scenario: 28-year-old male, normal vitals, a mild headache.
	reg := loadTestRegistry(t)
	v := VitalsInput{
		SystolicBP: 122, DiastolicBP: 78, HeartRate: 72,
		RespiratoryRate: 16, SpO2: 98.0, Temperature: 36.9,
	}
	symptoms := []SymptomInput{{SymptomName: "mild headache"}}

	result, err := Predict(reg, v, 28, "male", cases.VulnerabilityFlags{}, symptoms)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if result.RiskProbability >= 0.30 {
		t.Errorf("probability = %.3f, want < 0.30", result.RiskProbability)
	}
	if result.RiskLevel != LevelLow {
		t.Errorf("level = %s, want low", result.RiskLevel)
	}
	if len(result.ShapFeatures) != 5 {
		t.Errorf("shap features = %d, want 5", len(result.ShapFeatures))
	}
	if result.ShapText == "" {
		t.Error("expected a shap_text sentence")
	}
}

func TestPredict_SickPatientScoresHigher(t *testing.T) {
	reg := loadTestRegistry(t)
	sick := VitalsInput{
		SystolicBP: 85, DiastolicBP: 55, HeartRate: 118,
		RespiratoryRate: 26, SpO2: 91.5, Temperature: 38.8,
	}
	symptoms := []SymptomInput{
		{SymptomName: "chest pain", IsRedFlag: true},
		{SymptomName: "difficulty breathing", IsRedFlag: true},
	}
	flags := cases.VulnerabilityFlags{Diabetic: true, HeartDisease: true}

	sickResult, err := Predict(reg, sick, 45, "female", flags, symptoms)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	wellResult, err := Predict(reg, normalVitals(), 28, "male", cases.VulnerabilityFlags{}, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	if sickResult.RiskProbability <= wellResult.RiskProbability {
		t.Errorf("sick %.3f should exceed well %.3f", sickResult.RiskProbability, wellResult.RiskProbability)
	}
	if sickResult.RiskLevel != LevelCritical && sickResult.RiskLevel != LevelHigh {
		t.Errorf("level = %s, want high or critical", sickResult.RiskLevel)
	}
}

func TestPredict_TopFeaturesOrderedByAbsContribution(t *testing.T) {
	reg := loadTestRegistry(t)
	v := VitalsInput{
		SystolicBP: 85, DiastolicBP: 55, HeartRate: 118,
		RespiratoryRate: 26, SpO2: 91.5, Temperature: 38.8,
	}
	result, err := Predict(reg, v, 45, "female", cases.VulnerabilityFlags{}, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i := 1; i < len(result.ShapFeatures); i++ {
		prev := math.Abs(result.ShapFeatures[i-1].Contribution)
		cur := math.Abs(result.ShapFeatures[i].Contribution)
		if cur > prev {
			t.Fatalf("attributions not monotone at %d: %+v", i, result.ShapFeatures)
		}
	}
}

func TestPredict_Deterministic(t *testing.T) {
	reg := loadTestRegistry(t)
	v := VitalsInput{
		SystolicBP: 105, DiastolicBP: 70, HeartRate: 95,
		RespiratoryRate: 22, SpO2: 94.5, Temperature: 37.8,
	}
	symptoms := []SymptomInput{{SymptomName: "chest tightness"}}

	first, err := Predict(reg, v, 52, "male", cases.VulnerabilityFlags{Diabetic: true}, symptoms)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Predict(reg, v, 52, "male", cases.VulnerabilityFlags{Diabetic: true}, symptoms)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("prediction changed between runs:\n%+v\n%+v", first, again)
		}
	}
}

func TestLevelFromProbability(t *testing.T) {
	tests := []struct {
		p    float64
		want RiskLevel
	}{
		{0.0, LevelLow},
		{0.29, LevelLow},
		{0.30, LevelModerate},
		{0.54, LevelModerate},
		{0.55, LevelHigh},
		{0.79, LevelHigh},
		{0.80, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelFromProbability(tt.p); got != tt.want {
			t.Errorf("LevelFromProbability(%.2f) = %s, want %s", tt.p, got, tt.want)
		}
	}
}
