package triage

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/cases"
)

// Interaction maps to the drug_interactions reference table.
type Interaction struct {
	ID       uuid.UUID `db:"id" json:"id"`
	DrugA    string    `db:"drug_a" json:"drug_a"`
	DrugB    string    `db:"drug_b" json:"drug_b"`
	Severity string    `db:"severity" json:"severity"`
	Message  string    `db:"message" json:"message"`
	Active   bool      `db:"active" json:"active"`
}

// InteractionRepository loads the drug interaction reference. The table is
// read once at process start into the engine's in-memory index.
type InteractionRepository interface {
	ListActive(ctx context.Context) ([]*Interaction, error)
}

var severityRank = map[string]int{
	SeverityMild:            1,
	SeverityModerate:        2,
	SeveritySevere:          3,
	SeverityContraindicated: 4,
}

// minimum trigram similarity accepted when an exact drug-name match fails
const fuzzyThreshold = 0.45

type conditionRule struct {
	drugKeywords []string
	applies      func(cases.VulnerabilityFlags) bool
	severity     string
	message      string
}

type symptomRule struct {
	drugKeywords    []string
	symptomKeywords []string
	severity        string
	message         string
	// dangerPattern marks a named pattern that forces escalation even
	// beyond what its severity implies.
	dangerPattern bool
}

var conditionRules = []conditionRule{
	{
		drugKeywords: []string{"ibuprofen", "diclofenac", "naproxen", "indomethacin", "aspirin"},
		applies:      func(f cases.VulnerabilityFlags) bool { return f.HeartDisease },
		severity:     SeveritySevere,
		message:      "NSAID with cardiovascular disease: increased MI/HF risk. Use paracetamol instead.",
	},
	{
		drugKeywords: []string{"warfarin", "heparin", "apixaban", "rivaroxaban"},
		applies:      func(f cases.VulnerabilityFlags) bool { return f.Pregnant },
		severity:     SeveritySevere,
		message:      "Anticoagulant in pregnancy: teratogenic and haemorrhage risk. Specialist review required.",
	},
}

var symptomRules = []symptomRule{
	{
		drugKeywords:    []string{"warfarin", "heparin", "apixaban", "rivaroxaban", "clopidogrel"},
		symptomKeywords: []string{"head injury", "head trauma", "fall", "bleeding", "blood"},
		severity:        SeveritySevere,
		message:         "Anticoagulant/antiplatelet with head injury or bleeding: high risk of intracranial hemorrhage. Immediate escalation required.",
		dangerPattern:   true,
	},
	{
		drugKeywords:    []string{"atenolol", "metoprolol", "propranolol", "bisoprolol", "carvedilol"},
		symptomKeywords: []string{"bradycardia", "slow heart", "dizziness", "syncope", "fainted"},
		severity:        SeverityModerate,
		message:         "Beta-blocker with bradycardia symptoms: monitor heart rate. Consider dose reduction.",
	},
	{
		drugKeywords:    []string{"atenolol", "metoprolol", "propranolol", "bisoprolol", "carvedilol"},
		symptomKeywords: []string{"difficulty breathing", "breathless", "wheez", "shortness of breath"},
		severity:        SeveritySevere,
		message:         "Beta-blocker with respiratory distress: possible bronchospasm. Review necessity urgently.",
	},
	{
		drugKeywords:    []string{"insulin", "glibenclamide", "glipizide", "gliclazide"},
		symptomKeywords: []string{"unconscious", "confusion", "seizure", "sweating", "shaking"},
		severity:        SeveritySevere,
		message:         "Insulin/sulfonylurea with altered consciousness: severe hypoglycaemia likely. Give IV dextrose immediately.",
		dangerPattern:   true,
	},
	{
		drugKeywords:    []string{"prednisolone", "dexamethasone", "methylprednisolone", "tacrolimus", "cyclosporine", "azathioprine"},
		symptomKeywords: []string{"fever", "infection", "sepsis"},
		severity:        SeveritySevere,
		message:         "Immunosuppressant with fever: serious infection or sepsis must be excluded urgently.",
		dangerPattern:   true,
	},
	{
		drugKeywords:    []string{"lithium"},
		symptomKeywords: []string{"tremor", "confusion", "diarrhea", "diarrhoea", "vomiting"},
		severity:        SeveritySevere,
		message:         "Lithium with GI or neurological symptoms: possible lithium toxicity. Check serum levels urgently.",
		dangerPattern:   true,
	},
	{
		drugKeywords:    []string{"methotrexate"},
		symptomKeywords: []string{"mouth ulcer", "stomatitis", "breathlessness", "cough"},
		severity:        SeveritySevere,
		message:         "Methotrexate with respiratory or oral symptoms: possible methotrexate pneumonitis or toxicity.",
		dangerPattern:   true,
	},
}

// MedEngine detects drug-drug, drug-condition, and drug-symptom danger
// patterns against the reference loaded at startup.
type MedEngine struct {
	pairs     map[string]*Interaction // "a|b" with a <= b, normalized
	knownDrug []string                // distinct names for fuzzy matching
}

// NewMedEngine indexes the interaction reference.
func NewMedEngine(interactions []*Interaction) *MedEngine {
	e := &MedEngine{pairs: make(map[string]*Interaction, len(interactions))}
	seen := map[string]struct{}{}
	for _, it := range interactions {
		if !it.Active {
			continue
		}
		a, b := normalizeDrug(it.DrugA), normalizeDrug(it.DrugB)
		e.pairs[pairKey(a, b)] = it
		for _, name := range []string{a, b} {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				e.knownDrug = append(e.knownDrug, name)
			}
		}
	}
	sort.Strings(e.knownDrug)
	return e
}

// LoadMedEngine reads the active interaction reference and builds the engine.
func LoadMedEngine(ctx context.Context, repo InteractionRepository) (*MedEngine, error) {
	interactions, err := repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return NewMedEngine(interactions), nil
}

func normalizeDrug(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// canonical resolves an entered drug name to a reference name, exact first,
// then by trigram similarity.
func (e *MedEngine) canonical(name string) string {
	n := normalizeDrug(name)
	for _, known := range e.knownDrug {
		if known == n {
			return known
		}
	}
	best := ""
	bestScore := fuzzyThreshold
	for _, known := range e.knownDrug {
		if score := trigramSimilarity(n, known); score >= bestScore {
			best = known
			bestScore = score
		}
	}
	if best != "" {
		return best
	}
	return n
}

// Evaluate runs the three pattern families. Override is true iff any
// warning carries override_triggered.
func (e *MedEngine) Evaluate(meds []MedicationInput, symptoms []SymptomInput, flags cases.VulnerabilityFlags) MedResult {
	var warnings []MedWarning

	warnings = append(warnings, e.checkPairs(meds)...)
	warnings = append(warnings, checkConditions(meds, flags)...)
	warnings = append(warnings, checkSymptomPatterns(meds, symptoms)...)
	warnings = append(warnings, checkImmunocompromisedFever(symptoms, flags)...)

	SortWarnings(warnings)

	result := MedResult{Warnings: warnings}
	for _, w := range warnings {
		if w.OverrideTriggered {
			result.Override = true
		}
	}
	return result
}

func (e *MedEngine) checkPairs(meds []MedicationInput) []MedWarning {
	var warnings []MedWarning
	resolved := make([]string, len(meds))
	for i, m := range meds {
		resolved[i] = e.canonical(m.DrugName)
	}
	for i := 0; i < len(meds); i++ {
		for j := i + 1; j < len(meds); j++ {
			it, ok := e.pairs[pairKey(resolved[i], resolved[j])]
			if !ok {
				continue
			}
			drug2 := meds[j].DrugName
			warnings = append(warnings, MedWarning{
				Drug1:             meds[i].DrugName,
				Drug2:             &drug2,
				Type:              WarningDrugDrug,
				Severity:          it.Severity,
				Message:           it.Message,
				ActionRequired:    severityRank[it.Severity] >= severityRank[SeveritySevere],
				OverrideTriggered: severityRank[it.Severity] >= severityRank[SeveritySevere],
			})
		}
	}
	return warnings
}

func checkConditions(meds []MedicationInput, flags cases.VulnerabilityFlags) []MedWarning {
	var warnings []MedWarning
	for _, rule := range conditionRules {
		if !rule.applies(flags) {
			continue
		}
		for _, m := range meds {
			if !drugMatches(m.DrugName, rule.drugKeywords) {
				continue
			}
			warnings = append(warnings, MedWarning{
				Drug1:             m.DrugName,
				Type:              WarningDrugCondition,
				Severity:          rule.severity,
				Message:           rule.message,
				ActionRequired:    severityRank[rule.severity] >= severityRank[SeveritySevere],
				OverrideTriggered: severityRank[rule.severity] >= severityRank[SeveritySevere],
			})
		}
	}
	return warnings
}

func checkSymptomPatterns(meds []MedicationInput, symptoms []SymptomInput) []MedWarning {
	var warnings []MedWarning
	for _, rule := range symptomRules {
		if !symptomMatches(symptoms, rule.symptomKeywords...) {
			continue
		}
		var matched []string
		for _, m := range meds {
			if drugMatches(m.DrugName, rule.drugKeywords) {
				matched = append(matched, m.DrugName)
			}
		}
		if len(matched) == 0 {
			continue
		}
		override := rule.dangerPattern || severityRank[rule.severity] >= severityRank[SeveritySevere]
		warnings = append(warnings, MedWarning{
			Drug1:             strings.Join(matched, ", "),
			Type:              WarningDrugSymptom,
			Severity:          rule.severity,
			Message:           rule.message,
			ActionRequired:    true,
			OverrideTriggered: override,
		})
	}
	return warnings
}

func checkImmunocompromisedFever(symptoms []SymptomInput, flags cases.VulnerabilityFlags) []MedWarning {
	if !flags.Immunocompromised || !symptomMatches(symptoms, "fever", "temperature") {
		return nil
	}
	return []MedWarning{{
		Drug1:             "immunosuppressant therapy",
		Type:              WarningDrugCondition,
		Severity:          SeveritySevere,
		Message:           "Immunocompromised patient with fever: sepsis must be excluded. Urgent blood cultures and antibiotics.",
		ActionRequired:    true,
		OverrideTriggered: true,
	}}
}

func drugMatches(name string, keywords []string) bool {
	n := normalizeDrug(name)
	for _, kw := range keywords {
		if strings.Contains(n, kw) {
			return true
		}
	}
	return false
}

var typeOrder = map[string]int{
	WarningDrugDrug:      0,
	WarningDrugCondition: 1,
	WarningDrugSymptom:   2,
}

// SortWarnings orders warnings for deterministic output: most severe first,
// then drug-drug before drug-condition before drug-symptom, then
// alphabetically on drug1 and drug2.
func SortWarnings(warnings []MedWarning) {
	sort.SliceStable(warnings, func(i, j int) bool {
		a, b := warnings[i], warnings[j]
		if severityRank[a.Severity] != severityRank[b.Severity] {
			return severityRank[a.Severity] > severityRank[b.Severity]
		}
		if typeOrder[a.Type] != typeOrder[b.Type] {
			return typeOrder[a.Type] < typeOrder[b.Type]
		}
		if a.Drug1 != b.Drug1 {
			return a.Drug1 < b.Drug1
		}
		return derefDrug(a.Drug2) < derefDrug(b.Drug2)
	})
}

func derefDrug(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
