package rule

import "testing"

func fields() map[string]any {
	return map[string]any{
		"email":          "ada@example.com",
		"first_name":     "Ada",
		"cohort":         "new-users",
		"lifetime_spend": 125.50,
		"active":         true,
		"preferences": map[string]any{
			"categories":        []string{"books", "tools"},
			"price_sensitivity": "low",
		},
	}
}

func TestEvaluateEmptyConditions(t *testing.T) {
	t.Parallel()
	if !Evaluate(nil, fields()) {
		t.Fatal("empty condition list should match")
	}
}

func TestEvaluateOperators(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals string", Condition{Field: "cohort", Operator: OpEquals, Value: "new-users"}, true},
		{"equals mismatch", Condition{Field: "cohort", Operator: OpEquals, Value: "vip"}, false},
		{"not_equals", Condition{Field: "cohort", Operator: OpNotEquals, Value: "vip"}, true},
		{"equals bool", Condition{Field: "active", Operator: OpEquals, Value: true}, true},
		{"greater_than", Condition{Field: "lifetime_spend", Operator: OpGreaterThan, Value: 100}, true},
		{"greater_than false", Condition{Field: "lifetime_spend", Operator: OpGreaterThan, Value: 200}, false},
		{"less_than", Condition{Field: "lifetime_spend", Operator: OpLessThan, Value: 200}, true},
		{"contains substring", Condition{Field: "email", Operator: OpContains, Value: "@example"}, true},
		{"contains slice element", Condition{Field: "preferences.categories", Operator: OpContains, Value: "books"}, true},
		{"not_contains", Condition{Field: "preferences.categories", Operator: OpNotContains, Value: "cars"}, true},
		{"nested equals", Condition{Field: "preferences.price_sensitivity", Operator: OpEquals, Value: "low"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate([]Condition{tc.cond}, fields())
			if got != tc.want {
				t.Fatalf("Evaluate(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestEvaluateMissingFieldIsZero(t *testing.T) {
	t.Parallel()

	// A missing field compares as "" / 0 / false, never an error.
	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"missing equals empty string", Condition{Field: "last_name", Operator: OpEquals, Value: ""}, true},
		{"present field unaffected", Condition{Field: "lifetime_spend", Operator: OpEquals, Value: 0}, false},
		{"missing numeric zero", Condition{Field: "signed_up_at", Operator: OpEquals, Value: 0}, true},
		{"missing less_than", Condition{Field: "last_active_at", Operator: OpLessThan, Value: 10}, true},
		{"type mismatch no match", Condition{Field: "id", Operator: OpEquals, Value: false}, false},
		{"missing contains", Condition{Field: "last_name", Operator: OpContains, Value: "x"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate([]Condition{tc.cond}, map[string]any{
				"lifetime_spend": 125.50,
				"id":             "u1",
			})
			if got != tc.want {
				t.Fatalf("Evaluate(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestEvaluateCombinators(t *testing.T) {
	t.Parallel()

	// Default combinator is AND.
	and := []Condition{
		{Field: "cohort", Operator: OpEquals, Value: "new-users"},
		{Field: "active", Operator: OpEquals, Value: true},
	}
	if !Evaluate(and, fields()) {
		t.Fatal("both conditions hold, expected match")
	}

	and[1].Value = false
	if Evaluate(and, fields()) {
		t.Fatal("second condition fails under AND, expected no match")
	}

	// Explicit OR rescues a failing first condition.
	or := []Condition{
		{Field: "cohort", Operator: OpEquals, Value: "vip", Combinator: CombinatorOr},
		{Field: "active", Operator: OpEquals, Value: true},
	}
	if !Evaluate(or, fields()) {
		t.Fatal("OR with passing second condition should match")
	}
}

func TestEvaluateLeftToRight(t *testing.T) {
	t.Parallel()

	// (false OR true) AND false => false; left-to-right, no precedence.
	conds := []Condition{
		{Field: "cohort", Operator: OpEquals, Value: "vip", Combinator: CombinatorOr},
		{Field: "active", Operator: OpEquals, Value: true, Combinator: CombinatorAnd},
		{Field: "first_name", Operator: OpEquals, Value: "Grace"},
	}
	if Evaluate(conds, fields()) {
		t.Fatal("trailing AND false should fail the chain")
	}
}

func TestEvaluateNumericCoercion(t *testing.T) {
	t.Parallel()

	// Int literals from YAML must compare against float64 fields.
	cond := Condition{Field: "lifetime_spend", Operator: OpEquals, Value: 125.50}
	if !Evaluate([]Condition{cond}, fields()) {
		t.Fatal("float equality failed")
	}

	cond = Condition{Field: "lifetime_spend", Operator: OpGreaterThan, Value: int64(125)}
	if !Evaluate([]Condition{cond}, fields()) {
		t.Fatal("int64 literal comparison failed")
	}
}
