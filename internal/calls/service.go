package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadrouter_backend/internal/events"
	"leadrouter_backend/internal/leads/domain"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/logger"
)

// CompletionPayload is the decoded shape of a voice-provider completion
// webhook. The provider event ID doubles as the idempotency key.
type CompletionPayload struct {
	EventID         string     `json:"event_id"`
	ConversationID  string     `json:"conversation_id"`
	LeadID          *uuid.UUID `json:"lead_id"`
	OrganizationID  *uuid.UUID `json:"organization_id"`
	Source          string     `json:"source"`
	ExternalID      string     `json:"external_id"`
	Outcome         string     `json:"outcome"`
	Sentiment       string     `json:"sentiment"`
	DurationSeconds int        `json:"duration_seconds"`
	TranscriptURL   string     `json:"transcript_url"`
}

// IdempotencyKey returns the provider-issued key: the explicit event ID when
// present, else the conversation ID.
func (p CompletionPayload) IdempotencyKey() string {
	if p.EventID != "" {
		return p.EventID
	}
	return p.ConversationID
}

// EventStore is the persistence surface the orchestrator needs.
type EventStore interface {
	InsertCallEvent(ctx context.Context, ev CallEvent) (CallEvent, bool, error)
	ResolveLead(ctx context.Context, ref LeadRef) (leadID, orgID uuid.UUID, err error)
	GetOutcomeMappings(ctx context.Context, orgID uuid.UUID) ([]OutcomeMapping, error)
	RecordFailure(ctx context.Context, f Failure) error
}

// StatusTransitioner advances a lead through its pipeline. The leads service
// implements it, including the retry-once-on-conflict discipline.
type StatusTransitioner interface {
	Transition(ctx context.Context, orgID, leadID uuid.UUID, target, cause string, reopen bool) (domain.Transition, error)
}

// FollowUpScheduler enqueues a delayed retry call. The orchestrator only
// decides and requests the delay; it never waits it out itself.
type FollowUpScheduler interface {
	ScheduleFollowUp(ctx context.Context, orgID, leadID uuid.UUID, delay time.Duration) error
}

// Orchestrator applies one completion webhook: record the event exactly once,
// map the outcome to a status transition, and request any follow-up.
type Orchestrator struct {
	store     EventStore
	leads     StatusTransitioner
	scheduler FollowUpScheduler
	bus       events.Bus
	log       *logger.Logger
}

func NewOrchestrator(store EventStore, leads StatusTransitioner, scheduler FollowUpScheduler, bus events.Bus, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		leads:     leads,
		scheduler: scheduler,
		bus:       bus,
		log:       log,
	}
}

// HandleCompletion processes one webhook delivery. Every failure path records
// an operator-visible failure and returns nil: the HTTP layer always acks, so
// errors here must never leak back to the provider.
func (o *Orchestrator) HandleCompletion(ctx context.Context, provider string, payload CompletionPayload, raw []byte) error {
	key := payload.IdempotencyKey()
	if key == "" {
		o.fail(ctx, nil, provider, "", "payload carries no idempotency key", raw)
		return nil
	}
	if strings.TrimSpace(payload.Outcome) == "" {
		o.fail(ctx, nil, provider, key, "payload carries no outcome", raw)
		return nil
	}

	leadID, orgID, err := o.store.ResolveLead(ctx, LeadRef{
		LeadID:         payload.LeadID,
		OrganizationID: payload.OrganizationID,
		Source:         payload.Source,
		ExternalID:     payload.ExternalID,
	})
	if err != nil {
		reason := "unknown lead reference"
		if !errors.Is(err, ErrLeadNotFound) {
			reason = fmt.Sprintf("lead resolution failed: %v", err)
		}
		o.fail(ctx, nil, provider, key, reason, raw)
		return nil
	}

	event, inserted, err := o.store.InsertCallEvent(ctx, CallEvent{
		OrganizationID:  orgID,
		LeadID:          leadID,
		Provider:        provider,
		ProviderEventID: key,
		Outcome:         payload.Outcome,
		Sentiment:       payload.Sentiment,
		DurationSeconds: payload.DurationSeconds,
		TranscriptURL:   payload.TranscriptURL,
		Payload:         raw,
	})
	if err != nil {
		o.fail(ctx, &orgID, provider, key, fmt.Sprintf("persist call event: %v", err), raw)
		return nil
	}
	if !inserted {
		// Replay of an already-applied delivery. Ack and do nothing.
		o.log.Info("call event replay ignored",
			"provider", provider, "event_key", key, "lead_id", leadID.String())
		return nil
	}

	o.bus.Publish(ctx, events.CallCompleted{
		BaseEvent:      events.NewBaseEvent(),
		CallEventID:    event.ID,
		LeadID:         leadID,
		OrganizationID: orgID,
		Outcome:        payload.Outcome,
		Sentiment:      payload.Sentiment,
	})

	mappings, err := o.store.GetOutcomeMappings(ctx, orgID)
	if err != nil {
		o.fail(ctx, &orgID, provider, key, fmt.Sprintf("load outcome mappings: %v", err), raw)
		return nil
	}
	mapping, found := matchMapping(mappings, payload.Outcome, payload.Sentiment)
	if !found {
		// Unmapped outcome: the event itself is the whole effect.
		return nil
	}

	if mapping.TargetStatus != "" {
		cause := "call:" + payload.Outcome
		if _, err := o.leads.Transition(ctx, orgID, leadID, mapping.TargetStatus, cause, false); err != nil {
			// A terminal lead or a no-op target is expected traffic, not an
			// incident. Conflicts are logged; everything else is surfaced.
			if apperr.Is(err, apperr.KindConflict) {
				o.log.Info("call outcome did not change lead status",
					"lead_id", leadID.String(), "target", mapping.TargetStatus, "reason", err.Error())
			} else {
				o.fail(ctx, &orgID, provider, key, fmt.Sprintf("status transition: %v", err), raw)
			}
		}
	}

	if mapping.FollowUpDelaySeconds != nil && *mapping.FollowUpDelaySeconds > 0 {
		delay := time.Duration(*mapping.FollowUpDelaySeconds) * time.Second
		if err := o.scheduler.ScheduleFollowUp(ctx, orgID, leadID, delay); err != nil {
			o.fail(ctx, &orgID, provider, key, fmt.Sprintf("schedule follow-up: %v", err), raw)
		} else {
			o.bus.Publish(ctx, events.FollowUpRequested{
				BaseEvent:      events.NewBaseEvent(),
				LeadID:         leadID,
				OrganizationID: orgID,
				DelaySeconds:   *mapping.FollowUpDelaySeconds,
			})
		}
	}
	return nil
}

// matchMapping prefers an exact (outcome, sentiment) row over an
// outcome-only row. Outcome and sentiment compare case-insensitively.
func matchMapping(mappings []OutcomeMapping, outcome, sentiment string) (OutcomeMapping, bool) {
	var fallback *OutcomeMapping
	for i := range mappings {
		m := &mappings[i]
		if !strings.EqualFold(m.Outcome, outcome) {
			continue
		}
		if strings.EqualFold(m.Sentiment, sentiment) && m.Sentiment != "" {
			return *m, true
		}
		if m.Sentiment == "" && fallback == nil {
			fallback = m
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return OutcomeMapping{}, false
}

func (o *Orchestrator) fail(ctx context.Context, orgID *uuid.UUID, provider, key, reason string, raw []byte) {
	o.log.WebhookFailure(provider, key, errors.New(reason))
	f := Failure{
		OrganizationID: orgID,
		Provider:       provider,
		EventKey:       key,
		Reason:         reason,
		Payload:        compactJSON(raw),
	}
	if err := o.store.RecordFailure(ctx, f); err != nil {
		o.log.DatabaseError("record webhook failure", err)
	}
}

// compactJSON keeps the failure row's payload column valid jsonb even when
// the raw body was not JSON.
func compactJSON(raw []byte) []byte {
	if json.Valid(raw) {
		return raw
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return quoted
}
