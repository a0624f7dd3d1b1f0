package evaluation

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/neprocare/neprocare/internal/domain/rules"
)

// Satisfies evaluates one operator against an actual record value and an
// expected rule value. It is total: no input combination errors, and any
// ambiguity resolves to false. A missing actual value never satisfies any
// operator.
func Satisfies(op rules.Operator, actual, expected any) bool {
	if actual == nil {
		return false
	}

	switch op {
	case rules.OpEq:
		return equal(actual, expected)
	case rules.OpNeq:
		return !equal(actual, expected)
	case rules.OpGt, rules.OpLt, rules.OpGte, rules.OpLte:
		a, ok := numericValue(actual)
		if !ok {
			return false
		}
		b, ok := tryParseNumber(expected)
		if !ok {
			return false
		}
		switch op {
		case rules.OpGt:
			return a > b
		case rules.OpLt:
			return a < b
		case rules.OpGte:
			return a >= b
		default:
			return a <= b
		}
	case rules.OpIn:
		return membership(actual, expected)
	}
	return false
}

// equal is strict: values of different shapes are unequal ("Yes" != true,
// 5 != "5"). Numbers compare numerically across int/float representations
// since JSON decoding and hand-built records produce both.
func equal(a, b any) bool {
	if an, aok := numericValue(a); aok {
		bn, bok := numericValue(b)
		return bok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// membership implements the "in" operator: an array expected value is a
// membership test, a comma-separated string is split and trimmed first (a
// tolerance for loosely authored rules), anything else is false.
func membership(actual, expected any) bool {
	switch exp := expected.(type) {
	case []any:
		for _, e := range exp {
			if equal(actual, e) {
				return true
			}
		}
	case []string:
		for _, e := range exp {
			if equal(actual, e) {
				return true
			}
		}
	case string:
		for _, token := range strings.Split(exp, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if s, ok := actual.(string); ok && s == token {
				return true
			}
			if a, aok := numericValue(actual); aok {
				if t, tok := tryParseNumber(token); tok && a == t {
					return true
				}
			}
		}
	}
	return false
}

// numericValue returns the float64 view of an actual record value. Only
// genuine numeric types qualify; numeric strings do not (the record builder
// already coerced what it could).
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// tryParseNumber accepts numeric types and numeric strings, for expected rule
// values authored as text.
func tryParseNumber(v any) (float64, bool) {
	if f, ok := numericValue(v); ok {
		return f, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
