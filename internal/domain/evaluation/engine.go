package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/neprocare/neprocare/internal/domain/rules"
)

// Scoring policy constants. These are fixed product behavior, not tunables:
// tests pin them.
const (
	// DefaultConditionWeight is the score contribution of a satisfied
	// condition that does not declare its own weight.
	DefaultConditionWeight = 0.2
	// ConsiderPenalty is the flat score demotion applied to mutex-group
	// losers, keeping them visible but clearly subordinate.
	ConsiderPenalty = 0.15
)

// Evaluate runs every rule in the set against the record and returns ranked
// diagnoses, fired flags, validator failures and the missing-field report.
// It never fails: bad data always degrades to "unsatisfied" or "missing".
func Evaluate(record PatientRecord, ruleSet *rules.CompiledRuleSet) *Result {
	res := &Result{
		Primary:       []DiagnosisMatch{},
		Consider:      []DiagnosisMatch{},
		Flags:         []FlagHit{},
		Validators:    []ValidatorHit{},
		MissingFields: []FieldRef{},
	}
	if ruleSet == nil {
		return res
	}

	missing := newMissingSet()
	var matched []DiagnosisMatch

	for _, r := range ruleSet.Rules {
		switch r.Type {
		case rules.KindSingle, rules.KindMulti:
			if m, ok := scoreRule(record, r, missing); ok {
				matched = append(matched, m)
			}
		case rules.KindFlag:
			if hit, ok := evalFlag(record, r, missing); ok {
				res.Flags = append(res.Flags, hit)
			}
		case rules.KindValidator:
			if hit, ok := evalValidator(record, r); ok {
				res.Validators = append(res.Validators, hit)
			}
		}
	}

	res.Primary, res.Consider = resolveMutex(matched)
	res.MissingFields = missing.refs
	return res
}

// scoreRule evaluates every condition of a scoring rule. There is no
// short-circuit: the score and satisfied count must reflect full evidence
// even when the rule misses its threshold, because near-misses feed the
// missing-fields prompt.
func scoreRule(record PatientRecord, r rules.Rule, missing *missingSet) (DiagnosisMatch, bool) {
	score := r.BaseScore
	satisfied := 0

	for _, cond := range r.Conditions {
		v, ok := record.Lookup(cond.Section, cond.Field)
		if !present(v, ok) {
			missing.add(cond.Section, cond.Field)
			continue
		}
		if Satisfies(cond.Operator, v, cond.Value) {
			satisfied++
			w := DefaultConditionWeight
			if cond.Weight != nil {
				w = *cond.Weight
			}
			score += w
		}
	}

	if satisfied < r.MinSatisfied {
		return DiagnosisMatch{}, false
	}

	return DiagnosisMatch{
		ID:                 r.ID,
		Label:              r.Label,
		Type:               r.Type,
		MutexGroup:         r.MutexGroup,
		Score:              clamp01(score),
		Priority:           r.Priority,
		Satisfied:          satisfied,
		MinSatisfied:       r.MinSatisfied,
		DoctorReason:       r.DoctorReason,
		PatientExplanation: r.PatientExplanation,
		RecommendedTests:   r.RecommendedTests,
		SuggestedMedicines: r.SuggestedMedicines,
		FollowUpAdvice:     r.FollowUpAdvice,
	}, true
}

// evalFlag fires only when every condition holds. Partial satisfaction never
// fires a flag; that is what separates flags from scoring rules.
func evalFlag(record PatientRecord, r rules.Rule, missing *missingSet) (FlagHit, bool) {
	all := true
	for _, cond := range r.Conditions {
		v, ok := record.Lookup(cond.Section, cond.Field)
		if !present(v, ok) {
			missing.add(cond.Section, cond.Field)
			all = false
			continue
		}
		if !Satisfies(cond.Operator, v, cond.Value) {
			all = false
		}
	}
	if !all {
		return FlagHit{}, false
	}
	return FlagHit{
		ID:               r.ID,
		Label:            r.Label,
		Severity:         r.Severity,
		DoctorReason:     r.DoctorReason,
		RecommendedTests: r.RecommendedTests,
	}, true
}

// evalValidator checks each plausibility range. A missing value skips the
// check entirely: absence is not implausibility. A present value that is not
// numeric is its own failure reason, distinct from out-of-range.
func evalValidator(record PatientRecord, r rules.Rule) (ValidatorHit, bool) {
	var failures []CheckFailure
	for _, chk := range r.Checks {
		v, ok := record.LookupPath(chk.Path)
		if !present(v, ok) {
			continue
		}
		n, numeric := numericValue(v)
		if !numeric {
			failures = append(failures, CheckFailure{Path: chk.Path, Reason: FailNonNumeric, Value: v})
			continue
		}
		if chk.Min != nil && n < *chk.Min {
			failures = append(failures, CheckFailure{Path: chk.Path, Reason: FailBelowMin, Value: v, Bound: *chk.Min})
		}
		if chk.Max != nil && n > *chk.Max {
			failures = append(failures, CheckFailure{Path: chk.Path, Reason: FailAboveMax, Value: v, Bound: *chk.Max})
		}
	}
	if len(failures) == 0 {
		return ValidatorHit{}, false
	}
	return ValidatorHit{
		ID:           r.ID,
		Label:        r.Label,
		DoctorReason: r.DoctorReason,
		Failures:     failures,
		Message:      validatorMessage(r.Label, failures),
	}, true
}

func validatorMessage(label string, failures []CheckFailure) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		switch f.Reason {
		case FailBelowMin:
			parts[i] = fmt.Sprintf("%s=%v is below %v", f.Path, f.Value, f.Bound)
		case FailAboveMax:
			parts[i] = fmt.Sprintf("%s=%v is above %v", f.Path, f.Value, f.Bound)
		default:
			parts[i] = fmt.Sprintf("%s=%v is not numeric", f.Path, f.Value)
		}
	}
	return label + ": " + strings.Join(parts, "; ")
}

// resolveMutex splits matched rules into primary and consider lists. Rules
// without a mutex group are their own singleton group and always promote to
// primary. Within a group of two or more, the best match by score then
// priority wins; the rest demote to consider with a flat penalty, floored at
// zero.
func resolveMutex(matched []DiagnosisMatch) (primary, consider []DiagnosisMatch) {
	primary = []DiagnosisMatch{}
	consider = []DiagnosisMatch{}

	groups := make(map[string][]int)
	order := []string{}
	for i, m := range matched {
		if m.MutexGroup == "" {
			matched[i].Decision = DecisionPrimary
			primary = append(primary, matched[i])
			continue
		}
		if _, seen := groups[m.MutexGroup]; !seen {
			order = append(order, m.MutexGroup)
		}
		groups[m.MutexGroup] = append(groups[m.MutexGroup], i)
	}

	for _, g := range order {
		idxs := groups[g]
		sort.SliceStable(idxs, func(a, b int) bool {
			ma, mb := matched[idxs[a]], matched[idxs[b]]
			if ma.Score != mb.Score {
				return ma.Score > mb.Score
			}
			return ma.Priority > mb.Priority
		})
		for rank, i := range idxs {
			m := matched[i]
			if rank == 0 {
				m.Decision = DecisionPrimary
				primary = append(primary, m)
				continue
			}
			m.Decision = DecisionConsider
			m.Score = clamp01(m.Score - ConsiderPenalty)
			consider = append(consider, m)
		}
	}

	sort.SliceStable(primary, func(a, b int) bool {
		if primary[a].Score != primary[b].Score {
			return primary[a].Score > primary[b].Score
		}
		return primary[a].Priority > primary[b].Priority
	})
	return primary, consider
}

// CollectOrders merges recommended tests and medicines across a diagnosis
// list, deduplicated in first-seen order.
func CollectOrders(matches []DiagnosisMatch) Orders {
	orders := Orders{Tests: []string{}, Medicines: []string{}}
	seenTest := map[string]bool{}
	seenMed := map[string]bool{}
	for _, m := range matches {
		for _, t := range m.RecommendedTests {
			if !seenTest[t] {
				seenTest[t] = true
				orders.Tests = append(orders.Tests, t)
			}
		}
		for _, med := range m.SuggestedMedicines {
			if !seenMed[med] {
				seenMed[med] = true
				orders.Medicines = append(orders.Medicines, med)
			}
		}
	}
	return orders
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// missingSet accumulates missing record addresses, deduplicated by
// section.field, preserving first-seen order.
type missingSet struct {
	seen map[string]bool
	refs []FieldRef
}

func newMissingSet() *missingSet {
	return &missingSet{seen: map[string]bool{}, refs: []FieldRef{}}
}

func (m *missingSet) add(section, field string) {
	key := section + "." + field
	if m.seen[key] {
		return
	}
	m.seen[key] = true
	m.refs = append(m.refs, FieldRef{Section: section, Field: field})
}
