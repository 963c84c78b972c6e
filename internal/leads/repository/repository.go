// Package repository provides data access for leads and their status audit
// trail. All identity-critical writes (create-or-merge, status transitions)
// are single atomic statements or short transactions so that concurrent
// ingestions and webhooks cannot observe partial state.
package repository

import (
	"context"
	"errors"
	"time"

	"leadrouter_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("lead not found")
	// ErrStatusConflict means the conditional status write observed a
	// different current status than expected; callers re-read and retry.
	ErrStatusConflict = errors.New("lead status changed concurrently")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	Source          domain.Source
	ExternalID      *string
	Name            string
	Phone           string
	Email           string
	Extra           map[string]string
	Status          string
	AssignedAgentID *uuid.UUID
	AssignedTeamID  *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const leadColumns = `id, organization_id, source, external_id, name, phone, email, extra, status,
	assigned_agent_id, assigned_team_id, created_at, updated_at`

func scanLead(row pgx.Row, lead *Lead) error {
	return row.Scan(
		&lead.ID, &lead.OrganizationID, &lead.Source, &lead.ExternalID,
		&lead.Name, &lead.Phone, &lead.Email, &lead.Extra, &lead.Status,
		&lead.AssignedAgentID, &lead.AssignedTeamID, &lead.CreatedAt, &lead.UpdatedAt,
	)
}

type UpsertParams struct {
	OrganizationID uuid.UUID
	Source         domain.Source
	ExternalID     string
	Name           string
	Phone          string
	Email          string
	Extra          map[string]string
	Raw            []byte
	EntryStatus    string
}

// mergeSet is the shared merge discipline: an incoming empty value never
// overwrites a populated one, extras accumulate, and updated_at only moves
// when a merged field actually differs (which is how callers learn whether a
// re-ingest was a no-op).
const mergeSet = `
	name  = CASE WHEN EXCLUDED.name  <> '' THEN EXCLUDED.name  ELSE leads.name  END,
	phone = CASE WHEN EXCLUDED.phone <> '' THEN EXCLUDED.phone ELSE leads.phone END,
	email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE leads.email END,
	extra = leads.extra || EXCLUDED.extra,
	raw_payload = COALESCE(EXCLUDED.raw_payload, leads.raw_payload),
	updated_at = CASE WHEN
		(CASE WHEN EXCLUDED.name  <> '' THEN EXCLUDED.name  ELSE leads.name  END,
		 CASE WHEN EXCLUDED.phone <> '' THEN EXCLUDED.phone ELSE leads.phone END,
		 CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE leads.email END,
		 leads.extra || EXCLUDED.extra)
		IS DISTINCT FROM (leads.name, leads.phone, leads.email, leads.extra)
		THEN now() ELSE leads.updated_at END`

// UpsertByExternalID atomically creates or merges a lead keyed by
// (organization, source, external_id). Exactly one row can ever exist for
// that key; concurrent ingestions serialize on the unique index.
func (r *Repository) UpsertByExternalID(ctx context.Context, p UpsertParams) (Lead, bool, bool, error) {
	var (
		lead     Lead
		inserted bool
		changed  bool
	)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leads (organization_id, source, external_id, name, phone, email, extra, raw_payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (organization_id, source, external_id) WHERE external_id IS NOT NULL
		DO UPDATE SET `+mergeSet+`
		RETURNING `+leadColumns+`, (xmax = 0), (updated_at = now())
	`,
		p.OrganizationID, p.Source, p.ExternalID, p.Name, p.Phone, p.Email, p.Extra, p.Raw, p.EntryStatus,
	).Scan(
		&lead.ID, &lead.OrganizationID, &lead.Source, &lead.ExternalID,
		&lead.Name, &lead.Phone, &lead.Email, &lead.Extra, &lead.Status,
		&lead.AssignedAgentID, &lead.AssignedTeamID, &lead.CreatedAt, &lead.UpdatedAt,
		&inserted, &changed,
	)
	if err != nil {
		return Lead{}, false, false, err
	}
	return lead, inserted, changed, nil
}

type FingerprintParams struct {
	OrganizationID uuid.UUID
	Fingerprint    string
	Lookback       time.Duration
	Input          UpsertParams
}

// ResolveByFingerprint handles leads that arrive without an external ID.
// The whole match-then-create-or-merge runs in one transaction holding a
// per-fingerprint advisory lock, so two near-simultaneous submissions for the
// same phone/email cannot both decide "no match".
//
// Matching is exact normalized-phone equality, then case-insensitive email
// equality, bounded by the look-back window. Name similarity is deliberately
// never a match signal.
func (r *Repository) ResolveByFingerprint(ctx context.Context, p FingerprintParams) (Lead, bool, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Lead{}, false, false, err
	}
	defer tx.Rollback(ctx)

	lockKey := p.OrganizationID.String() + "/" + p.Fingerprint
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return Lead{}, false, false, err
	}

	cutoff := time.Now().Add(-p.Lookback)
	matchID, err := findFingerprintMatch(ctx, tx, p.OrganizationID, p.Input.Phone, p.Input.Email, cutoff)
	if err != nil {
		return Lead{}, false, false, err
	}

	var (
		lead    Lead
		changed bool
		created bool
	)

	if matchID != uuid.Nil {
		err = tx.QueryRow(ctx, `
			UPDATE leads SET `+mergeUpdateSet+`
			WHERE leads.id = $1
			RETURNING `+leadColumns+`, (updated_at = now())
		`, matchID, p.Input.Name, p.Input.Phone, p.Input.Email, p.Input.Extra, p.Input.Raw).Scan(
			&lead.ID, &lead.OrganizationID, &lead.Source, &lead.ExternalID,
			&lead.Name, &lead.Phone, &lead.Email, &lead.Extra, &lead.Status,
			&lead.AssignedAgentID, &lead.AssignedTeamID, &lead.CreatedAt, &lead.UpdatedAt,
			&changed,
		)
	} else {
		created = true
		changed = true
		var externalID any
		if p.Input.ExternalID != "" {
			externalID = p.Input.ExternalID
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO leads (organization_id, source, external_id, name, phone, email, extra, raw_payload, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+leadColumns,
			p.Input.OrganizationID, p.Input.Source, externalID,
			p.Input.Name, p.Input.Phone, p.Input.Email, p.Input.Extra, p.Input.Raw, p.Input.EntryStatus,
		).Scan(
			&lead.ID, &lead.OrganizationID, &lead.Source, &lead.ExternalID,
			&lead.Name, &lead.Phone, &lead.Email, &lead.Extra, &lead.Status,
			&lead.AssignedAgentID, &lead.AssignedTeamID, &lead.CreatedAt, &lead.UpdatedAt,
		)
	}
	if err != nil {
		return Lead{}, false, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Lead{}, false, false, err
	}
	return lead, created, changed, nil
}

// mergeUpdateSet mirrors mergeSet for a plain UPDATE, where the incoming
// values are bind parameters instead of an EXCLUDED row.
const mergeUpdateSet = `
	name  = CASE WHEN $2 <> '' THEN $2 ELSE leads.name  END,
	phone = CASE WHEN $3 <> '' THEN $3 ELSE leads.phone END,
	email = CASE WHEN $4 <> '' THEN $4 ELSE leads.email END,
	extra = leads.extra || $5,
	raw_payload = COALESCE($6, leads.raw_payload),
	updated_at = CASE WHEN
		(CASE WHEN $2 <> '' THEN $2 ELSE leads.name  END,
		 CASE WHEN $3 <> '' THEN $3 ELSE leads.phone END,
		 CASE WHEN $4 <> '' THEN $4 ELSE leads.email END,
		 leads.extra || $5)
		IS DISTINCT FROM (leads.name, leads.phone, leads.email, leads.extra)
		THEN now() ELSE leads.updated_at END`

func findFingerprintMatch(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, phone, email string, cutoff time.Time) (uuid.UUID, error) {
	var id uuid.UUID

	if phone != "" {
		err := tx.QueryRow(ctx, `
			SELECT id FROM leads
			WHERE organization_id = $1 AND phone = $2 AND deleted_at IS NULL AND created_at >= $3
			ORDER BY created_at DESC LIMIT 1
		`, orgID, phone, cutoff).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, err
		}
	}

	if email != "" {
		err := tx.QueryRow(ctx, `
			SELECT id FROM leads
			WHERE organization_id = $1 AND lower(email) = lower($2) AND deleted_at IS NULL AND created_at >= $3
			ORDER BY created_at DESC LIMIT 1
		`, orgID, email, cutoff).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, err
		}
	}

	return uuid.Nil, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (Lead, error) {
	var lead Lead
	err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, organizationID), &lead)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// GetByExternalRef resolves a lead by its per-source external identifier.
func (r *Repository) GetByExternalRef(ctx context.Context, organizationID uuid.UUID, source domain.Source, externalID string) (Lead, error) {
	var lead Lead
	err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE organization_id = $1 AND source = $2 AND external_id = $3 AND deleted_at IS NULL
	`, organizationID, source, externalID), &lead)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// UpdateAssignment persists the owner decided by the assignment engine.
func (r *Repository) UpdateAssignment(ctx context.Context, leadID, organizationID uuid.UUID, agentID, teamID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET assigned_agent_id = $3, assigned_team_id = $4, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, leadID, organizationID, agentID, teamID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus applies a planned transition with a conditional write:
// the update only lands if the lead is still in the expected current status,
// and the audit entry is written in the same transaction. A concurrent racing
// write surfaces as ErrStatusConflict.
func (r *Repository) TransitionStatus(ctx context.Context, leadID, organizationID uuid.UUID, tr domain.Transition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE leads SET status = $1, updated_at = now()
		WHERE id = $2 AND organization_id = $3 AND status = $4 AND deleted_at IS NULL
	`, tr.To, leadID, organizationID, tr.From)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL)
		`, leadID, organizationID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO lead_status_audit (lead_id, organization_id, from_status, to_status, cause)
		VALUES ($1, $2, $3, $4, $5)
	`, leadID, organizationID, tr.From, tr.To, tr.Cause); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AuditEntry is one row of a lead's status history.
type AuditEntry struct {
	FromStatus string
	ToStatus   string
	Cause      string
	CreatedAt  time.Time
}

// StatusHistory returns the lead's audit trail, oldest first.
func (r *Repository) StatusHistory(ctx context.Context, leadID, organizationID uuid.UUID) ([]AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT from_status, to_status, cause, created_at
		FROM lead_status_audit
		WHERE lead_id = $1 AND organization_id = $2
		ORDER BY created_at ASC, id ASC
	`, leadID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.FromStatus, &e.ToStatus, &e.Cause, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Deactivate soft-deletes a lead. Leads are never hard-deleted.
func (r *Repository) Deactivate(ctx context.Context, leadID, organizationID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, leadID, organizationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
