package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a rule, agent, or team does not exist within
// the caller's organization.
var ErrNotFound = errors.New("assignment: not found")

// Agent is a routable member of an organization. last_assigned_at backs the
// round-robin rotation.
type Agent struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	TeamID         *uuid.UUID
	Name           string
	Email          string
	IsActive       bool
	LastAssignedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Team is a named group of agents used as a rule action target.
type Team struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	CreatedAt      time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `id, organization_id, name, trigger_kind, conditions,
	action_type, action_agent_id, action_team_id, priority, enabled,
	created_at, updated_at`

// ListEnabled returns the enabled rules for a trigger in evaluation order:
// priority ascending, creation time breaking ties.
func (r *Repository) ListEnabled(ctx context.Context, orgID uuid.UUID, trigger Trigger) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM assignment_rules
		WHERE organization_id = $1 AND trigger_kind = $2 AND enabled
		ORDER BY priority ASC, created_at ASC`,
		orgID, trigger)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListRules returns every rule of an organization regardless of state.
func (r *Repository) ListRules(ctx context.Context, orgID uuid.UUID) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM assignment_rules
		WHERE organization_id = $1
		ORDER BY priority ASC, created_at ASC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func scanRules(rows pgx.Rows) ([]Rule, error) {
	var out []Rule
	for rows.Next() {
		var rule Rule
		var conditions []byte
		if err := rows.Scan(
			&rule.ID, &rule.OrganizationID, &rule.Name, &rule.Trigger,
			&conditions, &rule.ActionType, &rule.ActionAgentID,
			&rule.ActionTeamID, &rule.Priority, &rule.Enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
				return nil, fmt.Errorf("decode rule %s conditions: %w", rule.ID, err)
			}
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return Rule{}, fmt.Errorf("encode conditions: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO assignment_rules (
			organization_id, name, trigger_kind, conditions,
			action_type, action_agent_id, action_team_id, priority, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		rule.OrganizationID, rule.Name, rule.Trigger, conditions,
		rule.ActionType, rule.ActionAgentID, rule.ActionTeamID,
		rule.Priority, rule.Enabled)
	if err := row.Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return Rule{}, fmt.Errorf("encode conditions: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE assignment_rules SET
			name = $3, trigger_kind = $4, conditions = $5,
			action_type = $6, action_agent_id = $7, action_team_id = $8,
			priority = $9, enabled = $10, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING created_at, updated_at`,
		rule.ID, rule.OrganizationID, rule.Name, rule.Trigger, conditions,
		rule.ActionType, rule.ActionAgentID, rule.ActionTeamID,
		rule.Priority, rule.Enabled)
	if err := row.Scan(&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrNotFound
		}
		return Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) DeleteRule(ctx context.Context, orgID, ruleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM assignment_rules WHERE id = $1 AND organization_id = $2`,
		ruleID, orgID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const agentColumns = `id, organization_id, team_id, name, email, is_active,
	last_assigned_at, created_at, updated_at`

// PickRoundRobin atomically claims the active agent that has gone longest
// without an assignment. SKIP LOCKED keeps concurrent pickers from serializing
// on the same row, so two simultaneous ingests get two different agents.
// Returns ErrNotFound when the organization has no active agents.
func (r *Repository) PickRoundRobin(ctx context.Context, orgID uuid.UUID) (uuid.UUID, error) {
	var agentID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		UPDATE agents SET last_assigned_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM agents
			WHERE organization_id = $1 AND is_active
			ORDER BY last_assigned_at ASC NULLS FIRST, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		orgID).Scan(&agentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("pick round robin agent: %w", err)
	}
	return agentID, nil
}

// TouchAgent bumps an agent's rotation pointer after a direct rule
// assignment, so explicit assignments count against the rotation too.
func (r *Repository) TouchAgent(ctx context.Context, orgID, agentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE agents SET last_assigned_at = now(), updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND is_active`,
		agentID, orgID)
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListAgents(ctx context.Context, orgID uuid.UUID) ([]Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE organization_id = $1
		ORDER BY created_at ASC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(
			&a.ID, &a.OrganizationID, &a.TeamID, &a.Name, &a.Email,
			&a.IsActive, &a.LastAssignedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) CreateAgent(ctx context.Context, a Agent) (Agent, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO agents (organization_id, team_id, name, email, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		a.OrganizationID, a.TeamID, a.Name, a.Email, a.IsActive)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	return a, nil
}

func (r *Repository) UpdateAgent(ctx context.Context, a Agent) (Agent, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE agents SET
			team_id = $3, name = $4, email = $5, is_active = $6, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING last_assigned_at, created_at, updated_at`,
		a.ID, a.OrganizationID, a.TeamID, a.Name, a.Email, a.IsActive)
	if err := row.Scan(&a.LastAssignedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, fmt.Errorf("update agent: %w", err)
	}
	return a, nil
}

func (r *Repository) ListTeams(ctx context.Context, orgID uuid.UUID) ([]Team, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, name, created_at
		FROM teams
		WHERE organization_id = $1
		ORDER BY created_at ASC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var out []Team
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) CreateTeam(ctx context.Context, t Team) (Team, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO teams (organization_id, name)
		VALUES ($1, $2)
		RETURNING id, created_at`,
		t.OrganizationID, t.Name)
	if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
		return Team{}, fmt.Errorf("insert team: %w", err)
	}
	return t, nil
}
