package ingest

import (
	"context"
	"fmt"

	"leadrouter_backend/internal/assignment"
	"leadrouter_backend/internal/events"
)

// RegisterHandlers subscribes the gateway to the domain events it reacts to.
func (g *Gateway) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadStatusChanged{}.EventName(), events.HandlerFunc(g.handleLeadStatusChanged))
}

// handleLeadStatusChanged re-runs assignment rules with the status-change
// trigger, so a lead can move between agents as it advances through the
// pipeline. An unassigned decision keeps the current owner.
func (g *Gateway) handleLeadStatusChanged(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadStatusChanged)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	lead, err := g.store.GetByID(ctx, e.LeadID, e.OrganizationID)
	if err != nil {
		return fmt.Errorf("load lead for reassignment: %w", err)
	}

	// Rules only: the round-robin fallback is for fresh intake, and no match
	// must keep the current owner.
	decision, err := g.assigner.AssignByRule(ctx, e.OrganizationID, assignment.TriggerOnStatusChange, RuleFields(lead))
	if err != nil {
		return fmt.Errorf("reassign on status change: %w", err)
	}
	if decision.AgentID == nil && decision.TeamID == nil {
		return nil
	}

	if err := g.store.UpdateAssignment(ctx, lead.ID, e.OrganizationID, decision.AgentID, decision.TeamID); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	g.bus.Publish(ctx, events.LeadAssigned{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         lead.ID,
		OrganizationID: e.OrganizationID,
		AgentID:        decision.AgentID,
		TeamID:         decision.TeamID,
		RuleID:         decision.RuleID,
		Reason:         decision.Reason,
	})
	return nil
}
