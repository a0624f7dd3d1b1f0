// Package rules holds the diagnostic rule model, the compiler that turns
// spreadsheet-authored rows into a validated rule set, and the versioned
// store that serves compiled rule sets to the evaluation engines.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind discriminates the rule union.
type Kind string

const (
	KindSingle    Kind = "single"
	KindMulti     Kind = "multi"
	KindFlag      Kind = "flag"
	KindValidator Kind = "validator"
)

// Valid reports whether k is one of the four known rule kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSingle, KindMulti, KindFlag, KindValidator:
		return true
	}
	return false
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq  Operator = "=="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpLt  Operator = "<"
	OpGte Operator = ">="
	OpLte Operator = "<="
	OpIn  Operator = "in"
)

// Condition addresses one patient-record leaf and compares it to a value.
// Weight contributes to a diagnosis rule's score when the condition holds;
// nil means "use the engine default". An explicit zero is kept: the condition
// then counts toward satisfaction without scoring.
type Condition struct {
	Section  string   `json:"section"`
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	Weight   *float64 `json:"weight,omitempty"`
}

// Address returns the dotted record address the condition reads.
func (c Condition) Address() string {
	return c.Section + "." + c.Field
}

// Check is a plausibility-range check used by validator rules. A nil bound
// means that side is unconstrained.
type Check struct {
	Path string   `json:"path"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// Bounded reports whether the check constrains at least one side.
func (c Check) Bounded() bool {
	return c.Min != nil || c.Max != nil
}

// Rule is one compiled diagnostic rule. Conditions is set for single, multi
// and flag rules; Checks is set for validator rules.
type Rule struct {
	ID                 string      `json:"id"`
	Label              string      `json:"label"`
	Type               Kind        `json:"type"`
	MutexGroup         string      `json:"mutexGroup,omitempty"`
	Priority           float64     `json:"priority"`
	BaseScore          float64     `json:"baseScore"`
	MinSatisfied       int         `json:"minSatisfied"`
	Severity           string      `json:"severity,omitempty"`
	Active             bool        `json:"active"`
	Namespace          string      `json:"namespace"`
	Tags               []string    `json:"tags,omitempty"`
	DoctorReason       string      `json:"doctorReason,omitempty"`
	PatientExplanation string      `json:"patientExplanation,omitempty"`
	RecommendedTests   []string    `json:"recommendedTests,omitempty"`
	SuggestedMedicines []string    `json:"suggestedMedicines,omitempty"`
	FollowUpAdvice     string      `json:"followUpAdvice,omitempty"`
	Conditions         []Condition `json:"conditions,omitempty"`
	Checks             []Check     `json:"checks,omitempty"`
}

// CompiledRuleSet is the immutable published artifact for one namespace.
// Rules are sorted by priority descending, label ascending.
type CompiledRuleSet struct {
	Namespace   string    `json:"namespace"`
	GeneratedAt time.Time `json:"generatedAt"`
	Rules       []Rule    `json:"rules"`
}

// sortRules orders rules by priority descending, tie-broken by label
// ascending. The ordering is part of the artifact contract: engines walk the
// set in this order and downstream output ordering depends on it.
func sortRules(list []Rule) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return strings.Compare(list[i].Label, list[j].Label) < 0
	})
}

// CompileError reports a fatal rule-compilation failure. A single bad row
// fails the whole batch: a partial rule set is never published.
type CompileError struct {
	RuleID string
	Reason string
}

func (e *CompileError) Error() string {
	if e.RuleID == "" {
		return "compile rules: " + e.Reason
	}
	return fmt.Sprintf("compile rule %q: %s", e.RuleID, e.Reason)
}
