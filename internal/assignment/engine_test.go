package assignment

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"leadrouter_backend/platform/logger"
)

func rule(name string, priority int, action ActionType, conds ...Condition) Rule {
	return Rule{
		ID:         uuid.New(),
		Name:       name,
		Trigger:    TriggerOnCreate,
		Conditions: conds,
		ActionType: action,
		Priority:   priority,
		Enabled:    true,
	}
}

func TestEvaluateRulesFirstMatchWins(t *testing.T) {
	first := rule("meta", 1, ActionRoundRobin, Condition{Field: "source", Operator: OpEq, Value: "meta_ads"})
	second := rule("any", 2, ActionRoundRobin)

	matched, skipped := EvaluateRules([]Rule{first, second}, map[string]string{"source": "meta_ads"})
	if matched == nil || matched.ID != first.ID {
		t.Fatalf("expected first rule to win, got %v", matched)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped rules, got %d", len(skipped))
	}
}

func TestEvaluateRulesPriorityOrderChangesWinner(t *testing.T) {
	a := rule("a", 1, ActionRoundRobin, Condition{Field: "source", Operator: OpEq, Value: "meta_ads"})
	b := rule("b", 2, ActionRoundRobin, Condition{Field: "source", Operator: OpEq, Value: "meta_ads"})

	matched, _ := EvaluateRules([]Rule{a, b}, map[string]string{"source": "meta_ads"})
	if matched.ID != a.ID {
		t.Fatalf("expected rule a to win at priority 1")
	}

	// Same rules in swapped evaluation order produce the other winner.
	matched, _ = EvaluateRules([]Rule{b, a}, map[string]string{"source": "meta_ads"})
	if matched.ID != b.ID {
		t.Fatalf("expected rule b to win after priority swap")
	}
}

func TestEvaluateRulesOperators(t *testing.T) {
	fields := map[string]string{
		"source": "Meta_Ads",
		"email":  "lead@example.com",
		"budget": "50000",
		"city":   "Mumbai",
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq case-insensitive", Condition{Field: "source", Operator: OpEq, Value: "meta_ads"}, true},
		{"eq_cs respects case", Condition{Field: "source", Operator: OpEqCaseSense, Value: "meta_ads"}, false},
		{"neq", Condition{Field: "city", Operator: OpNeq, Value: "Delhi"}, true},
		{"contains", Condition{Field: "email", Operator: OpContains, Value: "@EXAMPLE"}, true},
		{"in matches list member", Condition{Field: "city", Operator: OpIn, Value: "Delhi, Mumbai, Pune"}, true},
		{"in misses", Condition{Field: "city", Operator: OpIn, Value: "Delhi,Pune"}, false},
		{"gt numeric", Condition{Field: "budget", Operator: OpGt, Value: "10000"}, true},
		{"lte numeric", Condition{Field: "budget", Operator: OpLte, Value: "50000"}, true},
		{"gt non-numeric actual fails closed", Condition{Field: "city", Operator: OpGt, Value: "10"}, false},
		{"gt non-numeric expected fails closed", Condition{Field: "budget", Operator: OpGt, Value: "lots"}, false},
		{"missing field never matches", Condition{Field: "country", Operator: OpEq, Value: "IN"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rule("r", 1, ActionRoundRobin, tt.cond)
			matched, _ := EvaluateRules([]Rule{r}, fields)
			if got := matched != nil; got != tt.want {
				t.Errorf("condition %+v: matched=%v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestEvaluateRulesSkipsMalformedRule(t *testing.T) {
	bad := rule("bad", 1, ActionRoundRobin, Condition{Field: "source", Operator: "between", Value: "x"})
	good := rule("good", 2, ActionRoundRobin, Condition{Field: "source", Operator: OpEq, Value: "manual"})

	matched, skipped := EvaluateRules([]Rule{bad, good}, map[string]string{"source": "manual"})
	if matched == nil || matched.ID != good.ID {
		t.Fatalf("expected evaluation to continue past the malformed rule")
	}
	if len(skipped) != 1 || skipped[0].RuleID != bad.ID {
		t.Fatalf("expected the malformed rule to be reported as skipped, got %v", skipped)
	}
}

func TestEvaluateRulesAllConditionsMustHold(t *testing.T) {
	r := rule("both", 1, ActionRoundRobin,
		Condition{Field: "source", Operator: OpEq, Value: "manual"},
		Condition{Field: "city", Operator: OpEq, Value: "Pune"},
	)
	matched, _ := EvaluateRules([]Rule{r}, map[string]string{"source": "manual", "city": "Mumbai"})
	if matched != nil {
		t.Fatalf("rule matched with only one of two conditions holding")
	}
}

type fakeRuleSource struct {
	rules []Rule
}

func (f *fakeRuleSource) ListEnabled(_ context.Context, _ uuid.UUID, _ Trigger) ([]Rule, error) {
	return f.rules, nil
}

type fakePicker struct {
	next    uuid.UUID
	empty   bool
	touched []uuid.UUID
	picks   int
}

func (f *fakePicker) PickRoundRobin(_ context.Context, _ uuid.UUID) (uuid.UUID, error) {
	if f.empty {
		return uuid.Nil, ErrNotFound
	}
	f.picks++
	return f.next, nil
}

func (f *fakePicker) TouchAgent(_ context.Context, _ uuid.UUID, agentID uuid.UUID) error {
	f.touched = append(f.touched, agentID)
	return nil
}

func testEngine(rules []Rule, picker *fakePicker) *Engine {
	return NewEngine(&fakeRuleSource{rules: rules}, picker, logger.New("test"))
}

func TestAssignRuleActionAgent(t *testing.T) {
	agentID := uuid.New()
	r := rule("direct", 1, ActionAgent, Condition{Field: "source", Operator: OpEq, Value: "manual"})
	r.ActionAgentID = &agentID
	picker := &fakePicker{}

	decision, err := testEngine([]Rule{r}, picker).Assign(
		context.Background(), uuid.New(), TriggerOnCreate, map[string]string{"source": "manual"})
	if err != nil {
		t.Fatal(err)
	}
	if decision.AgentID == nil || *decision.AgentID != agentID {
		t.Fatalf("expected direct agent assignment, got %+v", decision)
	}
	if decision.Reason != ReasonRule || decision.RuleID == nil || *decision.RuleID != r.ID {
		t.Fatalf("expected rule attribution, got %+v", decision)
	}
	if len(picker.touched) != 1 || picker.touched[0] != agentID {
		t.Fatalf("direct assignment must bump the rotation pointer")
	}
}

func TestAssignFallsBackToRoundRobin(t *testing.T) {
	agentID := uuid.New()
	picker := &fakePicker{next: agentID}

	decision, err := testEngine(nil, picker).Assign(
		context.Background(), uuid.New(), TriggerOnCreate, map[string]string{"source": "manual"})
	if err != nil {
		t.Fatal(err)
	}
	if decision.AgentID == nil || *decision.AgentID != agentID {
		t.Fatalf("expected round-robin agent, got %+v", decision)
	}
	if decision.Reason != ReasonRoundRobin || decision.RuleID != nil {
		t.Fatalf("expected round_robin reason without rule attribution, got %+v", decision)
	}
}

func TestAssignUnassignedWhenNoActiveAgents(t *testing.T) {
	picker := &fakePicker{empty: true}

	decision, err := testEngine(nil, picker).Assign(
		context.Background(), uuid.New(), TriggerOnCreate, nil)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Reason != ReasonUnassigned || decision.AgentID != nil || decision.TeamID != nil {
		t.Fatalf("expected unassigned decision, got %+v", decision)
	}
}

func TestAssignRoundRobinRuleKeepsAttribution(t *testing.T) {
	agentID := uuid.New()
	r := rule("rr", 1, ActionRoundRobin, Condition{Field: "source", Operator: OpEq, Value: "manual"})
	picker := &fakePicker{next: agentID}

	decision, err := testEngine([]Rule{r}, picker).Assign(
		context.Background(), uuid.New(), TriggerOnCreate, map[string]string{"source": "manual"})
	if err != nil {
		t.Fatal(err)
	}
	if decision.RuleID == nil || *decision.RuleID != r.ID || decision.Reason != ReasonRule {
		t.Fatalf("round-robin action from a rule must attribute the rule, got %+v", decision)
	}
	if picker.picks != 1 {
		t.Fatalf("expected one rotation pick, got %d", picker.picks)
	}
}
