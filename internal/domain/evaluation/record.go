// Package evaluation runs a compiled rule set against one patient encounter
// record. Evaluation is pure and total: malformed or missing record data
// degrades to "condition unsatisfied" or "field reported missing", never to
// an error.
package evaluation

import "strings"

// PatientRecord maps section name (labs, vitals, symptoms, history, imaging,
// advanced, info) to field name to value. Values are numbers, strings or
// boolean-like "Yes"/"No" strings. The record is read-only here; building it
// is the caller's job.
type PatientRecord map[string]map[string]any

// Lookup returns the value at section.field. The second return is false when
// the section or field is absent. Absence is never an error: the uniform
// "missing data is not an error" semantics every engine relies on live here.
func (r PatientRecord) Lookup(section, field string) (any, bool) {
	sec, ok := r[section]
	if !ok {
		return nil, false
	}
	v, ok := sec[field]
	return v, ok
}

// LookupPath resolves a dotted path ("labs.k"). Paths without exactly one dot
// resolve to nothing.
func (r PatientRecord) LookupPath(path string) (any, bool) {
	section, field, ok := strings.Cut(path, ".")
	if !ok || section == "" || field == "" {
		return nil, false
	}
	return r.Lookup(section, field)
}

// present reports whether a looked-up value counts as authored data. An empty
// string means the form field was left blank.
func present(v any, ok bool) bool {
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}
