// Package assignment provides the rule-based lead routing bounded context:
// ordered, organization-scoped rules evaluated first-match-wins, with a
// persisted round-robin fallback over active agents.
package assignment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Trigger says which ingestion event a rule applies to.
type Trigger string

const (
	TriggerOnCreate       Trigger = "on_create"
	TriggerOnUpdate       Trigger = "on_update"
	TriggerOnStatusChange Trigger = "on_status_change"
)

// ParseTrigger validates a raw trigger string.
func ParseTrigger(raw string) (Trigger, bool) {
	switch Trigger(raw) {
	case TriggerOnCreate, TriggerOnUpdate, TriggerOnStatusChange:
		return Trigger(raw), true
	}
	return "", false
}

// ActionType says what a matching rule does with the lead.
type ActionType string

const (
	ActionAgent      ActionType = "agent"
	ActionTeam       ActionType = "team"
	ActionRoundRobin ActionType = "round_robin"
)

// Condition is one field comparison. All of a rule's conditions must hold.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Allowed condition operators. String comparisons are case-insensitive except
// eq_cs; numeric operators coerce both sides and fail closed on non-numeric
// input.
const (
	OpEq          = "eq"
	OpEqCaseSense = "eq_cs"
	OpNeq         = "neq"
	OpContains    = "contains"
	OpIn          = "in"
	OpGt          = "gt"
	OpGte         = "gte"
	OpLt          = "lt"
	OpLte         = "lte"
)

var knownOperators = map[string]struct{}{
	OpEq: {}, OpEqCaseSense: {}, OpNeq: {}, OpContains: {}, OpIn: {},
	OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
}

// Validate rejects malformed conditions at write time, so rule evaluation
// never has to guess what a condition meant.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field must not be empty")
	}
	if _, ok := knownOperators[c.Operator]; !ok {
		return fmt.Errorf("unknown condition operator %q", c.Operator)
	}
	return nil
}

// Rule is one organization-scoped assignment rule.
type Rule struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Trigger        Trigger
	Conditions     []Condition
	ActionType     ActionType
	ActionAgentID  *uuid.UUID
	ActionTeamID   *uuid.UUID
	Priority       int
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks a rule's configuration before it is written.
func (r Rule) Validate() error {
	if _, ok := ParseTrigger(string(r.Trigger)); !ok {
		return fmt.Errorf("unknown trigger %q", r.Trigger)
	}
	switch r.ActionType {
	case ActionAgent:
		if r.ActionAgentID == nil {
			return fmt.Errorf("agent action requires an agent id")
		}
	case ActionTeam:
		if r.ActionTeamID == nil {
			return fmt.Errorf("team action requires a team id")
		}
	case ActionRoundRobin:
	default:
		return fmt.Errorf("unknown action type %q", r.ActionType)
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// SkippedRule records a rule that could not be evaluated. One bad rule must
// not block assignment, so evaluation continues past it with a warning.
type SkippedRule struct {
	RuleID uuid.UUID
	Reason string
}

// EvaluateRules walks the rules in the given order (priority ascending,
// creation order breaking ties) and returns the first whose conditions all
// hold against the lead's fields. Pure decision logic; no I/O.
func EvaluateRules(rules []Rule, fields map[string]string) (*Rule, []SkippedRule) {
	var skipped []SkippedRule

	for i := range rules {
		rule := &rules[i]
		match, err := ruleMatches(rule, fields)
		if err != nil {
			skipped = append(skipped, SkippedRule{RuleID: rule.ID, Reason: err.Error()})
			continue
		}
		if match {
			return rule, skipped
		}
	}
	return nil, skipped
}

func ruleMatches(rule *Rule, fields map[string]string) (bool, error) {
	for _, cond := range rule.Conditions {
		if err := cond.Validate(); err != nil {
			return false, err
		}
		if !conditionHolds(cond, fields) {
			return false, nil
		}
	}
	return true, nil
}

func conditionHolds(cond Condition, fields map[string]string) bool {
	actual, ok := fields[cond.Field]
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpEq:
		return strings.EqualFold(actual, cond.Value)
	case OpEqCaseSense:
		return actual == cond.Value
	case OpNeq:
		return !strings.EqualFold(actual, cond.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value))
	case OpIn:
		for _, candidate := range strings.Split(cond.Value, ",") {
			if strings.EqualFold(actual, strings.TrimSpace(candidate)) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		return numericHolds(cond.Operator, actual, cond.Value)
	}
	return false
}

// numericHolds fails closed: non-numeric input means the condition does not
// match, it never aborts evaluation.
func numericHolds(op, actual, expected string) bool {
	a, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return false
	}
	switch op {
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	}
	return false
}
