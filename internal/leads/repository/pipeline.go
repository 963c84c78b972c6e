package repository

import (
	"context"

	"leadrouter_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// GetPipeline loads the organization's status pipeline configuration.
// Organizations without explicit configuration get the default pipeline.
func (r *Repository) GetPipeline(ctx context.Context, organizationID uuid.UUID) (domain.Pipeline, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, position, is_terminal, is_entry
		FROM pipeline_statuses
		WHERE organization_id = $1
		ORDER BY position ASC
	`, organizationID)
	if err != nil {
		return domain.Pipeline{}, err
	}
	defer rows.Close()

	var pipeline domain.Pipeline
	for rows.Next() {
		var s domain.StatusDef
		if err := rows.Scan(&s.Name, &s.Position, &s.Terminal, &s.Entry); err != nil {
			return domain.Pipeline{}, err
		}
		pipeline.Statuses = append(pipeline.Statuses, s)
	}
	if rows.Err() != nil {
		return domain.Pipeline{}, rows.Err()
	}

	if len(pipeline.Statuses) == 0 {
		return domain.DefaultPipeline(), nil
	}
	return pipeline, nil
}

// ReplacePipeline swaps the organization's pipeline configuration in one
// transaction. Callers validate the pipeline before writing.
func (r *Repository) ReplacePipeline(ctx context.Context, organizationID uuid.UUID, pipeline domain.Pipeline) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM pipeline_statuses WHERE organization_id = $1`, organizationID); err != nil {
		return err
	}

	for _, s := range pipeline.Statuses {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pipeline_statuses (organization_id, name, position, is_terminal, is_entry)
			VALUES ($1, $2, $3, $4, $5)
		`, organizationID, s.Name, s.Position, s.Terminal, s.Entry); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
