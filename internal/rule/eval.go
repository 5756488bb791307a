package rule

import (
	"strings"
)

// Known field selectors for condition validation. These mirror the
// dot-addressable profile view; unrecognized selectors are rejected at rule
// construction, not discovered at evaluation time.
var knownFields = map[string]bool{
	"id":                            true,
	"email":                         true,
	"first_name":                    true,
	"last_name":                     true,
	"cohort":                        true,
	"lifetime_spend":                true,
	"active":                        true,
	"signed_up_at":                  true,
	"last_active_at":                true,
	"preferences.categories":        true,
	"preferences.price_sensitivity": true,
	"preferences.contact_cadence":   true,
}

func knownField(path string) bool {
	return knownFields[path]
}

// Evaluate applies a rule's condition list to a dot-addressable field view.
// It is pure and total: a missing field compares as its zero value and never
// produces an error. Combinators compose left to right; an absent combinator
// defaults to AND.
func Evaluate(conditions []Condition, fields map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}

	result := evalOne(conditions[0], fields)
	for i := 1; i < len(conditions); i++ {
		next := evalOne(conditions[i], fields)
		if conditions[i-1].Combinator == CombinatorOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

func evalOne(c Condition, fields map[string]any) bool {
	value, _ := resolve(c.Field, fields)
	return compare(c.Operator, value, c.Value)
}

// resolve walks a dotted path through nested maps. Missing segments report
// found=false; the caller treats the value as the zero of whatever the
// comparison needs.
func resolve(path string, fields map[string]any) (any, bool) {
	current := any(fields)
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// compare applies the operator to value against target. A nil value (missing
// field) coerces to "" / 0 / false as the operator requires.
func compare(op Operator, value, target any) bool {
	switch op {
	case OpEquals:
		return compareEqual(value, target)
	case OpNotEquals:
		return !compareEqual(value, target)
	case OpGreaterThan:
		return compareNumeric(value, target) > 0
	case OpLessThan:
		return compareNumeric(value, target) < 0
	case OpContains:
		return compareContains(value, target)
	case OpNotContains:
		return !compareContains(value, target)
	default:
		return false
	}
}

// compareEqual performs equality with numeric type coercion, so int literals
// from YAML match float64 profile fields.
func compareEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	if a == nil {
		a = zeroLike(b)
	}
	return a == b
}

// compareNumeric performs three-way numeric comparison (-1/0/1).
// Returns 0 for incomparable types.
func compareNumeric(a, b any) int {
	na, nb, ok := asNumbers(a, b)
	if !ok {
		return 0
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

// compareContains checks substring membership for strings and element
// membership for slices.
func compareContains(value, target any) bool {
	switch v := value.(type) {
	case string:
		t, ok := target.(string)
		if !ok {
			return false
		}
		return strings.Contains(v, t)
	case []string:
		for _, elem := range v {
			if compareEqual(elem, target) {
				return true
			}
		}
		return false
	case []any:
		for _, elem := range v {
			if compareEqual(elem, target) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

// toFloat64 converts numeric types to float64. nil counts as numeric zero so
// missing fields compare as 0.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// zeroLike returns the zero value matching the target's type.
func zeroLike(target any) any {
	switch target.(type) {
	case string:
		return ""
	case bool:
		return false
	default:
		return nil
	}
}
