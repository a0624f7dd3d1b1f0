package rules

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// ── ReadRows ──

func TestReadRows_ParsesHeaderAndRows(t *testing.T) {
	csv := "id,label,type\n" +
		"ckd3,CKD Stage 3,multi\n" +
		"anemia,Anemia,single\n"

	rows, err := ReadRows(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["id"] != "ckd3" || rows[0]["label"] != "CKD Stage 3" {
		t.Errorf("unexpected first row: %v", rows[0])
	}
	if rows[1]["type"] != "single" {
		t.Errorf("expected type 'single', got %q", rows[1]["type"])
	}
}

func TestReadRows_ToleratesRaggedRecords(t *testing.T) {
	csv := "id,label,type\n" +
		"r1,Short row\n" +
		"r2,Long row,multi,extra-cell\n"

	rows, err := ReadRows(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if _, ok := rows[0]["type"]; ok {
		t.Error("short record should not have a 'type' cell")
	}
	if rows[1]["type"] != "multi" {
		t.Errorf("expected type 'multi', got %q", rows[1]["type"])
	}
}

func TestReadRows_HeaderOnly(t *testing.T) {
	rows, err := ReadRows(strings.NewReader("id,label,type\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != nil {
		t.Errorf("expected nil rows for header-only input, got %v", rows)
	}
}

// ── Compile ──

func condJSON(t *testing.T, conds []Condition) string {
	t.Helper()
	b, err := json.Marshal(conds)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func validRow(id string) Row {
	return Row{
		"id":             id,
		"label":          "Rule " + id,
		"type":           "multi",
		"conditionsJSON": `[{"section":"labs","field":"egfr","operator":"<","value":60}]`,
	}
}

func TestCompile_SkipsEmptyIDRows(t *testing.T) {
	rows := []Row{
		{"id": "", "label": "ignored"},
		{"id": "   ", "label": "also ignored"},
		validRow("r1"),
	}

	rs, err := Compile(rows, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rs.Rules))
	}
	if rs.Rules[0].ID != "r1" {
		t.Errorf("expected rule r1, got %q", rs.Rules[0].ID)
	}
}

func TestCompile_DuplicateIDFailsBatch(t *testing.T) {
	rows := []Row{validRow("dup"), validRow("dup")}

	_, err := Compile(rows, "core")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if ce.RuleID != "dup" {
		t.Errorf("expected rule id 'dup', got %q", ce.RuleID)
	}
	if !strings.Contains(ce.Reason, "duplicate") {
		t.Errorf("expected duplicate reason, got %q", ce.Reason)
	}
}

func TestCompile_MissingLabelFailsBatch(t *testing.T) {
	row := validRow("r1")
	row["label"] = ""

	_, err := Compile([]Row{row}, "core")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if !strings.Contains(ce.Reason, "label") {
		t.Errorf("expected label reason, got %q", ce.Reason)
	}
}

func TestCompile_UnknownTypeFailsBatch(t *testing.T) {
	row := validRow("r1")
	row["type"] = "composite"

	_, err := Compile([]Row{row}, "core")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if !strings.Contains(ce.Reason, "composite") {
		t.Errorf("expected unknown-type reason naming the type, got %q", ce.Reason)
	}
}

func TestCompile_TypeDefaultsToMulti(t *testing.T) {
	row := validRow("r1")
	delete(row, "type")

	rs, err := Compile([]Row{row}, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Rules[0].Type != KindMulti {
		t.Errorf("expected default type multi, got %q", rs.Rules[0].Type)
	}
}

func TestCompile_ActiveFlag(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"", true},
		{"true", true},
		{"yes", true}, // anything but a literal false stays active
		{"0", true},
		{"false", false},
		{"FALSE", false},
		{" False ", false},
	}
	for _, tt := range tests {
		row := validRow("r1")
		row["active"] = tt.raw
		rs, err := Compile([]Row{row}, "core")
		if err != nil {
			t.Fatalf("active=%q: unexpected error: %v", tt.raw, err)
		}
		if rs.Rules[0].Active != tt.want {
			t.Errorf("active=%q: expected %v, got %v", tt.raw, tt.want, rs.Rules[0].Active)
		}
	}
}

func TestCompile_NamespaceDefaultsFromBatch(t *testing.T) {
	row := validRow("r1")
	rs, err := Compile([]Row{row}, "renal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Namespace != "renal" {
		t.Errorf("expected set namespace 'renal', got %q", rs.Namespace)
	}
	if rs.Rules[0].Namespace != "renal" {
		t.Errorf("expected rule namespace 'renal', got %q", rs.Rules[0].Namespace)
	}

	row2 := validRow("r2")
	row2["namespace"] = "cardio"
	rs2, err := Compile([]Row{row2}, "renal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs2.Rules[0].Namespace != "cardio" {
		t.Errorf("authored namespace should win, got %q", rs2.Rules[0].Namespace)
	}
}

func TestCompile_MinSatisfiedDefaults(t *testing.T) {
	threeConds := condJSON(t, []Condition{
		{Section: "labs", Field: "egfr", Operator: OpLt, Value: 60.0},
		{Section: "labs", Field: "creatinine", Operator: OpGt, Value: 1.5},
		{Section: "symptoms", Field: "fatigue", Operator: OpEq, Value: "Yes"},
	})

	tests := []struct {
		name string
		kind string
		raw  string
		want int
	}{
		{"single defaults to 1", "single", "", 1},
		{"multi defaults to ceil(n/2)", "multi", "", 2},
		{"flag requires all", "flag", "", 3},
		{"flag ignores authored value", "flag", "1", 3},
		{"authored value wins", "multi", "3", 3},
		{"unparseable falls back", "multi", "half", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := Row{
				"id":             "r1",
				"label":          "Rule",
				"type":           tt.kind,
				"minSatisfied":   tt.raw,
				"conditionsJSON": threeConds,
			}
			rs, err := Compile([]Row{row}, "core")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rs.Rules[0].MinSatisfied != tt.want {
				t.Errorf("expected minSatisfied=%d, got %d", tt.want, rs.Rules[0].MinSatisfied)
			}
		})
	}
}

func TestCompile_FlagSeverityDefaultsToInfo(t *testing.T) {
	row := Row{
		"id":             "hyperk",
		"label":          "Hyperkalemia",
		"type":           "flag",
		"conditionsJSON": `[{"section":"labs","field":"k","operator":">","value":5.5}]`,
	}
	rs, err := Compile([]Row{row}, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Rules[0].Severity != "info" {
		t.Errorf("expected default severity 'info', got %q", rs.Rules[0].Severity)
	}

	row["severity"] = "critical"
	rs, err = Compile([]Row{row}, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Rules[0].Severity != "critical" {
		t.Errorf("authored severity should win, got %q", rs.Rules[0].Severity)
	}
}

func TestCompile_MissingConditionsFailsBatch(t *testing.T) {
	row := Row{"id": "r1", "label": "Rule", "type": "multi"}
	_, err := Compile([]Row{row}, "core")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
}

func TestCompile_InvalidConditionsJSONFailsBatch(t *testing.T) {
	row := validRow("r1")
	row["conditionsJSON"] = `{not json`
	_, err := Compile([]Row{row}, "core")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if !strings.Contains(ce.Reason, "conditionsJSON") {
		t.Errorf("expected conditionsJSON reason, got %q", ce.Reason)
	}
}

func TestCompile_ValidatorRequiresBoundedChecks(t *testing.T) {
	row := Row{
		"id":    "plaus",
		"label": "Plausibility",
		"type":  "validator",
	}
	if _, err := Compile([]Row{row}, "core"); err == nil {
		t.Fatal("expected error for validator without checks")
	}

	row["checksJSON"] = `[{"path":"labs.k"}]`
	if _, err := Compile([]Row{row}, "core"); err == nil {
		t.Fatal("expected error for unbounded check")
	}

	row["checksJSON"] = `[{"path":"labs.k","min":1.5,"max":7.5}]`
	rs, err := Compile([]Row{row}, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chk := rs.Rules[0].Checks[0]
	if chk.Path != "labs.k" || *chk.Min != 1.5 || *chk.Max != 7.5 {
		t.Errorf("unexpected check: %+v", chk)
	}
}

func TestCompile_ConditionWeightZeroIsPreserved(t *testing.T) {
	row := validRow("r1")
	row["conditionsJSON"] = `[{"section":"labs","field":"egfr","operator":"<","value":60,"weight":0}]`

	rs, err := Compile([]Row{row}, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := rs.Rules[0].Conditions[0].Weight
	if w == nil {
		t.Fatal("explicit zero weight must not decode as unset")
	}
	if *w != 0 {
		t.Errorf("expected weight 0, got %v", *w)
	}

	row["conditionsJSON"] = `[{"section":"labs","field":"egfr","operator":"<","value":60}]`
	rs, err = Compile([]Row{row}, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Rules[0].Conditions[0].Weight != nil {
		t.Error("omitted weight must decode as nil")
	}
}

func TestCompile_SortsByPriorityDescLabelAsc(t *testing.T) {
	mk := func(id, label string, priority string) Row {
		r := validRow(id)
		r["label"] = label
		r["priority"] = priority
		return r
	}
	rows := []Row{
		mk("c", "Zeta", "1"),
		mk("a", "Alpha", "5"),
		mk("b", "Beta", "1"),
	}

	rs, err := Compile(rows, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{rs.Rules[0].ID, rs.Rules[1].ID, rs.Rules[2].ID}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestCompile_ListColumnsSplitAndTrim(t *testing.T) {
	row := validRow("r1")
	row["tags"] = " renal , chronic ,"
	row["recommendedTests"] = "eGFR, Urine ACR"
	row["suggestedMedicines"] = ""

	rs, err := Compile([]Row{row}, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := rs.Rules[0]
	if len(r.Tags) != 2 || r.Tags[0] != "renal" || r.Tags[1] != "chronic" {
		t.Errorf("unexpected tags: %v", r.Tags)
	}
	if len(r.RecommendedTests) != 2 || r.RecommendedTests[1] != "Urine ACR" {
		t.Errorf("unexpected tests: %v", r.RecommendedTests)
	}
	if r.SuggestedMedicines != nil {
		t.Errorf("expected nil medicines, got %v", r.SuggestedMedicines)
	}
}

func TestCompile_RoundTripThroughJSON(t *testing.T) {
	rows := []Row{
		validRow("r1"),
		{
			"id":         "plaus",
			"label":      "Plausibility",
			"type":       "validator",
			"checksJSON": `[{"path":"labs.k","min":1.5,"max":7.5}]`,
		},
	}
	rs, err := Compile(rows, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, err := json.Marshal(rs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded CompiledRuleSet
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Namespace != rs.Namespace {
		t.Errorf("namespace lost in round trip")
	}
	if len(decoded.Rules) != len(rs.Rules) {
		t.Fatalf("rule count changed: %d vs %d", len(decoded.Rules), len(rs.Rules))
	}
	for i := range rs.Rules {
		if decoded.Rules[i].ID != rs.Rules[i].ID || decoded.Rules[i].Type != rs.Rules[i].Type {
			t.Errorf("rule %d changed in round trip", i)
		}
	}
}

// ── tryParseNumber ──

func TestTryParseNumber(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{" 3.5 ", 3.5, true},
		{"-1", -1, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
	}
	for _, tt := range tests {
		got, ok := tryParseNumber(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("tryParseNumber(%q) = (%v, %v), want (%v, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
