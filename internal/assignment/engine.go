package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"leadrouter_backend/platform/logger"
)

// Decision is the outcome of evaluating a lead against an organization's
// rules. Exactly one of AgentID and TeamID is set unless Reason is
// "unassigned".
type Decision struct {
	AgentID *uuid.UUID
	TeamID  *uuid.UUID
	RuleID  *uuid.UUID
	Reason  string
}

// Decision reasons, recorded on the lead's assignment for auditability.
const (
	ReasonRule       = "rule"
	ReasonRoundRobin = "round_robin"
	ReasonUnassigned = "unassigned"
)

// RuleSource loads the enabled rules for one trigger in evaluation order.
type RuleSource interface {
	ListEnabled(ctx context.Context, orgID uuid.UUID, trigger Trigger) ([]Rule, error)
}

// AgentPicker claims the next agent in the round-robin rotation and bumps
// rotation state for direct assignments.
type AgentPicker interface {
	PickRoundRobin(ctx context.Context, orgID uuid.UUID) (uuid.UUID, error)
	TouchAgent(ctx context.Context, orgID, agentID uuid.UUID) error
}

// Engine decides where a lead goes. Rule evaluation itself is pure; the
// engine adds rule loading and rotation state on top.
type Engine struct {
	rules  RuleSource
	agents AgentPicker
	log    *logger.Logger
}

func NewEngine(rules RuleSource, agents AgentPicker, log *logger.Logger) *Engine {
	return &Engine{rules: rules, agents: agents, log: log}
}

// Assign evaluates the organization's rules for the trigger against the
// lead's fields and resolves the winning action to a concrete decision.
// No match falls back to round-robin over active agents; no active agents
// leaves the lead unassigned rather than failing the ingest.
func (e *Engine) Assign(ctx context.Context, orgID uuid.UUID, trigger Trigger, fields map[string]string) (Decision, error) {
	return e.assign(ctx, orgID, trigger, fields, true)
}

// AssignByRule is Assign without the round-robin fallback: only an explicit
// rule match moves ownership. Used for re-evaluation triggers where no match
// must mean "keep the current owner", not "rotate".
func (e *Engine) AssignByRule(ctx context.Context, orgID uuid.UUID, trigger Trigger, fields map[string]string) (Decision, error) {
	return e.assign(ctx, orgID, trigger, fields, false)
}

func (e *Engine) assign(ctx context.Context, orgID uuid.UUID, trigger Trigger, fields map[string]string, fallback bool) (Decision, error) {
	rules, err := e.rules.ListEnabled(ctx, orgID, trigger)
	if err != nil {
		return Decision{}, fmt.Errorf("load rules: %w", err)
	}

	matched, skipped := EvaluateRules(rules, fields)
	for _, s := range skipped {
		e.log.RuleSkipped(s.RuleID.String(), orgID.String(), s.Reason)
	}

	if matched == nil {
		if !fallback {
			return Decision{Reason: ReasonUnassigned}, nil
		}
		return e.roundRobin(ctx, orgID, nil)
	}

	switch matched.ActionType {
	case ActionAgent:
		if err := e.agents.TouchAgent(ctx, orgID, *matched.ActionAgentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Target agent deactivated since the rule was written.
				e.log.RuleSkipped(matched.ID.String(), orgID.String(), "action agent inactive or missing")
				if !fallback {
					return Decision{Reason: ReasonUnassigned}, nil
				}
				return e.roundRobin(ctx, orgID, nil)
			}
			return Decision{}, err
		}
		return Decision{AgentID: matched.ActionAgentID, RuleID: &matched.ID, Reason: ReasonRule}, nil
	case ActionTeam:
		return Decision{TeamID: matched.ActionTeamID, RuleID: &matched.ID, Reason: ReasonRule}, nil
	case ActionRoundRobin:
		return e.roundRobin(ctx, orgID, &matched.ID)
	}
	return Decision{}, fmt.Errorf("rule %s: unknown action type %q", matched.ID, matched.ActionType)
}

func (e *Engine) roundRobin(ctx context.Context, orgID uuid.UUID, ruleID *uuid.UUID) (Decision, error) {
	agentID, err := e.agents.PickRoundRobin(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return Decision{RuleID: ruleID, Reason: ReasonUnassigned}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	reason := ReasonRoundRobin
	if ruleID != nil {
		reason = ReasonRule
	}
	return Decision{AgentID: &agentID, RuleID: ruleID, Reason: reason}, nil
}
