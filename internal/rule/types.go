package rule

import "fmt"

// TriggerKind identifies what causes a rule to be matched.
type TriggerKind string

const (
	TriggerSignup             TriggerKind = "signup"
	TriggerFirstPurchase      TriggerKind = "first_purchase"
	TriggerCartAbandonment    TriggerKind = "cart_abandonment"
	TriggerInactivity         TriggerKind = "inactivity"
	TriggerPurchaseCompletion TriggerKind = "purchase_completion"
	TriggerScheduled          TriggerKind = "scheduled"
	TriggerBirthday           TriggerKind = "birthday"
)

var validTriggers = map[TriggerKind]bool{
	TriggerSignup:             true,
	TriggerFirstPurchase:      true,
	TriggerCartAbandonment:    true,
	TriggerInactivity:         true,
	TriggerPurchaseCompletion: true,
	TriggerScheduled:          true,
	TriggerBirthday:           true,
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

var validOperators = map[Operator]bool{
	OpEquals:      true,
	OpNotEquals:   true,
	OpGreaterThan: true,
	OpLessThan:    true,
	OpContains:    true,
	OpNotContains: true,
}

// Combinator joins a condition with the one that follows it.
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// Condition compares a dot-addressable profile field against a literal.
type Condition struct {
	Field      string     `yaml:"field" json:"field"`
	Operator   Operator   `yaml:"operator" json:"operator"`
	Value      any        `yaml:"value" json:"value"`
	Combinator Combinator `yaml:"combinator,omitempty" json:"combinator,omitempty"`
}

// ActionKind identifies what an action does when its rule fires.
type ActionKind string

const (
	ActionSendMessage ActionKind = "send_message"
	ActionSetCohort   ActionKind = "set_cohort"
	ActionWait        ActionKind = "wait"
	ActionUpdateField ActionKind = "update_field"
)

var validActions = map[ActionKind]bool{
	ActionSendMessage: true,
	ActionSetCohort:   true,
	ActionWait:        true,
	ActionUpdateField: true,
}

// Action is one step in a rule's ordered action list. DelayMinutes is
// relative to the moment the rule fired.
type Action struct {
	Kind         ActionKind     `yaml:"kind" json:"kind"`
	Params       map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	DelayMinutes int            `yaml:"delay_minutes,omitempty" json:"delay_minutes,omitempty"`
}

// Cadence is the declared schedule of a scheduled-trigger rule.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Rule is the unit of automation configuration: a trigger, a target cohort,
// conditions, and an ordered action list. Only Active mutates after
// registration.
type Rule struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Trigger     TriggerKind `yaml:"trigger" json:"trigger"`
	Cohort      string      `yaml:"cohort,omitempty" json:"cohort,omitempty"`
	Conditions  []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions     []Action    `yaml:"actions,omitempty" json:"actions,omitempty"`
	Priority    int         `yaml:"priority,omitempty" json:"priority,omitempty"`
	Active      bool        `yaml:"active" json:"active"`
	Cadence     Cadence     `yaml:"cadence,omitempty" json:"cadence,omitempty"`
}

// Validate checks a rule at construction time. Field selectors, operators,
// trigger and action kinds must all be recognized; delays must be
// non-negative.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if !validTriggers[r.Trigger] {
		return fmt.Errorf("rule %q: unknown trigger kind %q", r.ID, r.Trigger)
	}
	if r.Trigger == TriggerScheduled {
		switch r.Cadence {
		case CadenceDaily, CadenceWeekly, CadenceMonthly:
		default:
			return fmt.Errorf("rule %q: scheduled trigger requires cadence daily, weekly or monthly (got %q)", r.ID, r.Cadence)
		}
	}
	for i, c := range r.Conditions {
		if !knownField(c.Field) {
			return fmt.Errorf("rule %q: conditions[%d]: unknown field %q", r.ID, i, c.Field)
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("rule %q: conditions[%d]: unknown operator %q", r.ID, i, c.Operator)
		}
		if c.Combinator != "" && c.Combinator != CombinatorAnd && c.Combinator != CombinatorOr {
			return fmt.Errorf("rule %q: conditions[%d]: unknown combinator %q", r.ID, i, c.Combinator)
		}
	}
	for i, a := range r.Actions {
		if !validActions[a.Kind] {
			return fmt.Errorf("rule %q: actions[%d]: unknown action kind %q", r.ID, i, a.Kind)
		}
		if a.DelayMinutes < 0 {
			return fmt.Errorf("rule %q: actions[%d]: delay_minutes must be >= 0", r.ID, i)
		}
		switch a.Kind {
		case ActionSendMessage:
			if s, _ := a.Params["template"].(string); s == "" {
				return fmt.Errorf("rule %q: actions[%d]: send_message requires params.template", r.ID, i)
			}
		case ActionSetCohort:
			if s, _ := a.Params["cohort"].(string); s == "" {
				return fmt.Errorf("rule %q: actions[%d]: set_cohort requires params.cohort", r.ID, i)
			}
		case ActionUpdateField:
			if s, _ := a.Params["field"].(string); s == "" {
				return fmt.Errorf("rule %q: actions[%d]: update_field requires params.field", r.ID, i)
			}
		}
	}
	return nil
}
