// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadrouter_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Ingestion Events
// =============================================================================

// LeadCreated is published when ingestion persists a genuinely new lead.
type LeadCreated struct {
	BaseEvent
	LeadID         uuid.UUID  `json:"leadId"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	Source         string     `json:"source"`
	Status         string     `json:"status"`
	AssignedAgent  *uuid.UUID `json:"assignedAgentId,omitempty"`
	AssignedTeam   *uuid.UUID `json:"assignedTeamId,omitempty"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadUpdated is published when ingestion merges a payload into an existing lead.
type LeadUpdated struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	Source         string    `json:"source"`
	Changed        bool      `json:"changed"`
}

func (e LeadUpdated) EventName() string { return "leads.lead.updated" }

// LeadAssigned is published when the assignment engine sets an owner.
type LeadAssigned struct {
	BaseEvent
	LeadID         uuid.UUID  `json:"leadId"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	AgentID        *uuid.UUID `json:"agentId,omitempty"`
	TeamID         *uuid.UUID `json:"teamId,omitempty"`
	RuleID         *uuid.UUID `json:"ruleId,omitempty"`
	Reason         string     `json:"reason"`
}

func (e LeadAssigned) EventName() string { return "leads.lead.assigned" }

// LeadStatusChanged is published after a successful state machine transition.
type LeadStatusChanged struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	FromStatus     string    `json:"fromStatus"`
	ToStatus       string    `json:"toStatus"`
	Cause          string    `json:"cause"`
}

func (e LeadStatusChanged) EventName() string { return "leads.lead.status_changed" }

// =============================================================================
// Call Orchestration Events
// =============================================================================

// CallCompleted is published after a call-completion webhook is applied.
type CallCompleted struct {
	BaseEvent
	CallEventID    uuid.UUID `json:"callEventId"`
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	Outcome        string    `json:"outcome"`
	Sentiment      string    `json:"sentiment,omitempty"`
}

func (e CallCompleted) EventName() string { return "calls.call.completed" }

// FollowUpRequested is published when the orchestrator schedules a retry call.
type FollowUpRequested struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	DelaySeconds   int       `json:"delaySeconds"`
}

func (e FollowUpRequested) EventName() string { return "calls.follow_up.requested" }
