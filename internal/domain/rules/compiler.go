package rules

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one raw authored rule row: column header to raw cell value.
type Row map[string]string

// ReadRows parses CSV input into rows. The first record is the header row;
// cells beyond the header width are dropped, short records are tolerated.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rule rows: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := Row{}
		for i, h := range headers {
			if h == "" || i >= len(rec) {
				continue
			}
			row[h] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Compile turns raw rows into a validated CompiledRuleSet. Rows with an empty
// id are silently skipped; any duplicate id, missing label, unknown type or
// missing/unparseable required conditions/checks column fails the whole
// batch. The caller must treat a compile error as "keep the previous
// artifact".
func Compile(rows []Row, namespace string) (*CompiledRuleSet, error) {
	list := make([]Rule, 0, len(rows))
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		if strings.TrimSpace(row["id"]) == "" {
			continue
		}
		r, err := normalizeRow(row, namespace)
		if err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, &CompileError{RuleID: r.ID, Reason: "duplicate id"}
		}
		seen[r.ID] = true
		list = append(list, r)
	}

	sortRules(list)
	return &CompiledRuleSet{
		Namespace:   namespace,
		GeneratedAt: time.Now().UTC(),
		Rules:       list,
	}, nil
}

func normalizeRow(row Row, namespace string) (Rule, error) {
	r := Rule{
		ID:                 strings.TrimSpace(row["id"]),
		Label:              strings.TrimSpace(row["label"]),
		Type:               Kind(strings.TrimSpace(row["type"])),
		MutexGroup:         strings.TrimSpace(row["mutexGroup"]),
		Priority:           numberOr(row["priority"], 0),
		BaseScore:          numberOr(row["baseScore"], 0),
		Severity:           strings.TrimSpace(row["severity"]),
		Active:             !strings.EqualFold(strings.TrimSpace(row["active"]), "false"),
		Namespace:          strings.TrimSpace(row["namespace"]),
		Tags:               splitCSV(row["tags"]),
		DoctorReason:       row["doctorReason"],
		PatientExplanation: row["patientExplanation"],
		RecommendedTests:   splitCSV(row["recommendedTests"]),
		SuggestedMedicines: splitCSV(row["suggestedMedicines"]),
		FollowUpAdvice:     row["followUpAdvice"],
	}
	if r.Type == "" {
		r.Type = KindMulti
	}
	if r.Namespace == "" {
		r.Namespace = namespace
	}
	if r.Label == "" {
		return Rule{}, &CompileError{RuleID: r.ID, Reason: "missing label"}
	}
	if !r.Type.Valid() {
		return Rule{}, &CompileError{RuleID: r.ID, Reason: fmt.Sprintf("unknown type %q", r.Type)}
	}

	switch r.Type {
	case KindValidator:
		checks, err := parseJSONColumn[[]Check](row["checksJSON"])
		if err != nil {
			return Rule{}, &CompileError{RuleID: r.ID, Reason: "invalid checksJSON: " + err.Error()}
		}
		if len(checks) == 0 {
			return Rule{}, &CompileError{RuleID: r.ID, Reason: "checksJSON is required for validator rules"}
		}
		for _, c := range checks {
			if !c.Bounded() {
				return Rule{}, &CompileError{RuleID: r.ID, Reason: fmt.Sprintf("check %q has neither min nor max", c.Path)}
			}
		}
		r.Checks = checks

	default:
		conds, err := parseJSONColumn[[]Condition](row["conditionsJSON"])
		if err != nil {
			return Rule{}, &CompileError{RuleID: r.ID, Reason: "invalid conditionsJSON: " + err.Error()}
		}
		if len(conds) == 0 {
			return Rule{}, &CompileError{RuleID: r.ID, Reason: fmt.Sprintf("conditionsJSON is required for %s rules", r.Type)}
		}
		r.Conditions = conds
		r.MinSatisfied = minSatisfiedFor(r.Type, row["minSatisfied"], len(conds))
		if r.Type == KindFlag && r.Severity == "" {
			r.Severity = "info"
		}
	}

	return r, nil
}

// minSatisfiedFor resolves the satisfaction threshold: the authored value when
// parseable, otherwise 1 for single rules and ceil(n/2) for multi rules.
// Flag rules always require every condition and ignore the column.
func minSatisfiedFor(kind Kind, raw string, n int) int {
	if kind == KindFlag {
		return n
	}
	if v, ok := tryParseNumber(raw); ok {
		return int(v)
	}
	if kind == KindMulti {
		return (n + 1) / 2
	}
	return 1
}

// tryParseNumber is the single explicit string-to-number coercion used at the
// compile boundary. It rejects empty strings, NaN and infinities.
func tryParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func numberOr(raw string, def float64) float64 {
	if v, ok := tryParseNumber(raw); ok {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseJSONColumn[T any](raw string) (T, error) {
	var zero T
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return zero, err
	}
	return v, nil
}
