package evaluation

import "github.com/neprocare/neprocare/internal/domain/rules"

// Decision marks how a matched diagnosis is presented.
type Decision string

const (
	DecisionPrimary  Decision = "primary"
	DecisionConsider Decision = "consider"
)

// DiagnosisMatch is one matched scoring rule. Derived and ephemeral: it is
// recomputed on every evaluation and never persisted on its own.
type DiagnosisMatch struct {
	ID                 string     `json:"id"`
	Label              string     `json:"label"`
	Type               rules.Kind `json:"type"`
	MutexGroup         string     `json:"mutexGroup,omitempty"`
	Score              float64    `json:"score"`
	Priority           float64    `json:"priority"`
	Satisfied          int        `json:"satisfied"`
	MinSatisfied       int        `json:"minSatisfied"`
	Decision           Decision   `json:"decision"`
	DoctorReason       string     `json:"doctorReason,omitempty"`
	PatientExplanation string     `json:"patientExplanation,omitempty"`
	RecommendedTests   []string   `json:"recommendedTests,omitempty"`
	SuggestedMedicines []string   `json:"suggestedMedicines,omitempty"`
	FollowUpAdvice     string     `json:"followUpAdvice,omitempty"`
}

// FlagHit is a fired alert rule.
type FlagHit struct {
	ID               string   `json:"id"`
	Label            string   `json:"label"`
	Severity         string   `json:"severity"`
	DoctorReason     string   `json:"doctorReason,omitempty"`
	RecommendedTests []string `json:"recommendedTests,omitempty"`
}

// CheckFailure reasons.
const (
	FailNonNumeric = "non-numeric"
	FailBelowMin   = "below-min"
	FailAboveMax   = "above-max"
)

// CheckFailure is one failing plausibility check inside a validator hit.
type CheckFailure struct {
	Path   string  `json:"path"`
	Reason string  `json:"reason"`
	Value  any     `json:"value"`
	Bound  float64 `json:"bound,omitempty"`
}

// ValidatorHit is a validator rule with at least one failing check.
type ValidatorHit struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	DoctorReason string         `json:"doctorReason,omitempty"`
	Failures     []CheckFailure `json:"failures"`
	Message      string         `json:"message"`
}

// FieldRef addresses one record leaf referenced by some rule but absent from
// the evaluated record.
type FieldRef struct {
	Section string `json:"section"`
	Field   string `json:"field"`
}

// Result is the complete output of one evaluation pass.
type Result struct {
	Primary       []DiagnosisMatch `json:"primary"`
	Consider      []DiagnosisMatch `json:"consider"`
	Flags         []FlagHit        `json:"flags"`
	Validators    []ValidatorHit   `json:"validators"`
	MissingFields []FieldRef       `json:"missingFields"`
}

// Orders is the deduplicated union of follow-up orders across diagnoses.
type Orders struct {
	Tests     []string `json:"tests"`
	Medicines []string `json:"medicines"`
}
