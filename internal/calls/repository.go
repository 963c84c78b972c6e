// Package calls provides the post-call orchestration bounded context: it
// consumes voice-provider completion webhooks, records immutable call events,
// derives lead status transitions, and requests follow-up calls.
package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadrouter_backend/internal/leads/domain"
)

var ErrLeadNotFound = errors.New("calls: lead not found")

// CallEvent is the immutable record of one completion webhook. (provider,
// provider_event_id) is unique; replays never produce a second row.
type CallEvent struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	LeadID          uuid.UUID
	Provider        string
	ProviderEventID string
	Outcome         string
	Sentiment       string
	DurationSeconds int
	TranscriptURL   string
	Payload         []byte
	CreatedAt       time.Time
}

// OutcomeMapping maps a call outcome (optionally qualified by sentiment) to
// a target lead status and an optional follow-up delay.
type OutcomeMapping struct {
	ID                   uuid.UUID
	OrganizationID       uuid.UUID
	Outcome              string
	Sentiment            string
	TargetStatus         string
	FollowUpDelaySeconds *int
	CreatedAt            time.Time
}

// Failure is an operator-visible webhook-path failure. The provider always
// gets a 200; these rows are where the errors go instead.
type Failure struct {
	ID             uuid.UUID
	OrganizationID *uuid.UUID
	Provider       string
	EventKey       string
	Reason         string
	Payload        []byte
	CreatedAt      time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertCallEvent persists a call event exactly once per idempotency key.
// The unique constraint does the replay detection atomically: a conflicting
// insert returns no row, and inserted reports false.
func (r *Repository) InsertCallEvent(ctx context.Context, ev CallEvent) (CallEvent, bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO call_events (
			organization_id, lead_id, provider, provider_event_id,
			outcome, sentiment, duration_seconds, transcript_url, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
		RETURNING id, created_at`,
		ev.OrganizationID, ev.LeadID, ev.Provider, ev.ProviderEventID,
		ev.Outcome, ev.Sentiment, ev.DurationSeconds, ev.TranscriptURL, ev.Payload,
	).Scan(&ev.ID, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallEvent{}, false, nil
	}
	if err != nil {
		return CallEvent{}, false, fmt.Errorf("insert call event: %w", err)
	}
	return ev, true, nil
}

// EventsForLead returns a lead's call history, oldest first.
func (r *Repository) EventsForLead(ctx context.Context, orgID, leadID uuid.UUID) ([]CallEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, lead_id, provider, provider_event_id,
			outcome, sentiment, duration_seconds, transcript_url, payload, created_at
		FROM call_events
		WHERE organization_id = $1 AND lead_id = $2
		ORDER BY created_at ASC`,
		orgID, leadID)
	if err != nil {
		return nil, fmt.Errorf("list call events: %w", err)
	}
	defer rows.Close()

	var out []CallEvent
	for rows.Next() {
		var ev CallEvent
		if err := rows.Scan(
			&ev.ID, &ev.OrganizationID, &ev.LeadID, &ev.Provider, &ev.ProviderEventID,
			&ev.Outcome, &ev.Sentiment, &ev.DurationSeconds, &ev.TranscriptURL,
			&ev.Payload, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LeadRef locates a lead either directly or by its external reference and
// returns the identifiers the orchestrator needs. OrganizationID, when the
// payload carries it, scopes the lookup: external IDs are only unique per
// (organization, source), so an unscoped match could land on another
// tenant's lead.
type LeadRef struct {
	LeadID         *uuid.UUID
	OrganizationID *uuid.UUID
	Source         string
	ExternalID     string
}

// ResolveLead finds the lead a webhook refers to. Soft-deleted leads are
// treated as unknown, as is any lead outside the referenced organization.
func (r *Repository) ResolveLead(ctx context.Context, ref LeadRef) (leadID, orgID uuid.UUID, err error) {
	var row pgx.Row
	switch {
	case ref.LeadID != nil:
		row = r.pool.QueryRow(ctx, `
			SELECT id, organization_id FROM leads
			WHERE id = $1 AND deleted_at IS NULL`,
			*ref.LeadID)
	case ref.Source != "" && ref.ExternalID != "" && ref.OrganizationID != nil:
		row = r.pool.QueryRow(ctx, `
			SELECT id, organization_id FROM leads
			WHERE organization_id = $1 AND source = $2 AND external_id = $3 AND deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT 1`,
			*ref.OrganizationID, ref.Source, ref.ExternalID)
	case ref.Source != "" && ref.ExternalID != "":
		row = r.pool.QueryRow(ctx, `
			SELECT id, organization_id FROM leads
			WHERE source = $1 AND external_id = $2 AND deleted_at IS NULL
			ORDER BY created_at DESC
			LIMIT 1`,
			ref.Source, ref.ExternalID)
	default:
		return uuid.Nil, uuid.Nil, ErrLeadNotFound
	}

	if err := row.Scan(&leadID, &orgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, uuid.Nil, ErrLeadNotFound
		}
		return uuid.Nil, uuid.Nil, fmt.Errorf("resolve lead: %w", err)
	}
	if ref.OrganizationID != nil && orgID != *ref.OrganizationID {
		return uuid.Nil, uuid.Nil, ErrLeadNotFound
	}
	return leadID, orgID, nil
}

// defaultMappings apply when an organization has not configured its own
// outcome table. Aligned with the default pipeline statuses.
var defaultMappings = []OutcomeMapping{
	{Outcome: "answered", Sentiment: "positive", TargetStatus: domain.DefaultStatusInterested},
	{Outcome: "answered", Sentiment: "negative", TargetStatus: domain.DefaultStatusNotInterested},
	{Outcome: "no_answer", FollowUpDelaySeconds: intPtr(4 * 60 * 60)},
	{Outcome: "voicemail", FollowUpDelaySeconds: intPtr(4 * 60 * 60)},
}

func intPtr(v int) *int { return &v }

// GetOutcomeMappings returns the organization's configured mappings, falling
// back to the defaults when none exist.
func (r *Repository) GetOutcomeMappings(ctx context.Context, orgID uuid.UUID) ([]OutcomeMapping, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, outcome, sentiment, target_status,
			follow_up_delay_seconds, created_at
		FROM outcome_mappings
		WHERE organization_id = $1
		ORDER BY outcome, sentiment`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list outcome mappings: %w", err)
	}
	defer rows.Close()

	var out []OutcomeMapping
	for rows.Next() {
		var m OutcomeMapping
		if err := rows.Scan(
			&m.ID, &m.OrganizationID, &m.Outcome, &m.Sentiment,
			&m.TargetStatus, &m.FollowUpDelaySeconds, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return append([]OutcomeMapping(nil), defaultMappings...), nil
	}
	return out, nil
}

// ReplaceOutcomeMappings swaps the organization's mapping table atomically.
func (r *Repository) ReplaceOutcomeMappings(ctx context.Context, orgID uuid.UUID, mappings []OutcomeMapping) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM outcome_mappings WHERE organization_id = $1`, orgID); err != nil {
		return fmt.Errorf("clear outcome mappings: %w", err)
	}
	for _, m := range mappings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO outcome_mappings (
				organization_id, outcome, sentiment, target_status, follow_up_delay_seconds
			) VALUES ($1, $2, $3, $4, $5)`,
			orgID, m.Outcome, m.Sentiment, m.TargetStatus, m.FollowUpDelaySeconds,
		); err != nil {
			return fmt.Errorf("insert outcome mapping: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RecordFailure appends an operator-visible failure row. Recording failures
// is itself best-effort; the caller has nothing better to do with an error.
func (r *Repository) RecordFailure(ctx context.Context, f Failure) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_webhook_failures (organization_id, provider, event_key, reason, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		f.OrganizationID, f.Provider, f.EventKey, f.Reason, f.Payload)
	if err != nil {
		return fmt.Errorf("record webhook failure: %w", err)
	}
	return nil
}

// ListFailures returns recent failures, newest first.
func (r *Repository) ListFailures(ctx context.Context, orgID uuid.UUID, limit int) ([]Failure, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, provider, event_key, reason, payload, created_at
		FROM call_webhook_failures
		WHERE organization_id = $1 OR organization_id IS NULL
		ORDER BY created_at DESC
		LIMIT $2`,
		orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.OrganizationID, &f.Provider, &f.EventKey, &f.Reason, &f.Payload, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
