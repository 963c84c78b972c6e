// Package leads owns the persisted lead lifecycle: status transitions over
// the organization's configured pipeline, audit history, and pipeline
// administration.
package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"leadrouter_backend/internal/events"
	"leadrouter_backend/internal/leads/domain"
	"leadrouter_backend/internal/leads/repository"
	"leadrouter_backend/platform/apperr"
)

// Store is the persistence surface the service needs.
type Store interface {
	GetByID(ctx context.Context, id, organizationID uuid.UUID) (repository.Lead, error)
	GetPipeline(ctx context.Context, organizationID uuid.UUID) (domain.Pipeline, error)
	ReplacePipeline(ctx context.Context, organizationID uuid.UUID, pipeline domain.Pipeline) error
	TransitionStatus(ctx context.Context, leadID, organizationID uuid.UUID, tr domain.Transition) error
	StatusHistory(ctx context.Context, leadID, organizationID uuid.UUID) ([]repository.AuditEntry, error)
	Deactivate(ctx context.Context, leadID, organizationID uuid.UUID) error
}

// Service coordinates state machine checks with conditional persistence.
type Service struct {
	store Store
	bus   events.Bus
}

func NewService(store Store, bus events.Bus) *Service {
	return &Service{store: store, bus: bus}
}

// transitionRetries bounds the re-read-and-retry on a concurrent status write.
const transitionRetries = 1

// Transition moves a lead to the target status. The write is conditional on
// the status observed at plan time; losing that race re-reads and retries
// once before giving up with a conflict.
func (s *Service) Transition(ctx context.Context, orgID, leadID uuid.UUID, target, cause string, reopen bool) (domain.Transition, error) {
	pipeline, err := s.store.GetPipeline(ctx, orgID)
	if err != nil {
		return domain.Transition{}, fmt.Errorf("load pipeline: %w", err)
	}

	for attempt := 0; ; attempt++ {
		lead, err := s.store.GetByID(ctx, leadID, orgID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Transition{}, apperr.NotFound("lead not found")
			}
			return domain.Transition{}, fmt.Errorf("load lead: %w", err)
		}

		tr, err := pipeline.PlanTransition(lead.Status, target, cause, reopen)
		if err != nil {
			return domain.Transition{}, err
		}

		err = s.store.TransitionStatus(ctx, leadID, orgID, tr)
		if err == nil {
			s.bus.Publish(ctx, events.LeadStatusChanged{
				BaseEvent:      events.NewBaseEvent(),
				LeadID:         leadID,
				OrganizationID: orgID,
				FromStatus:     tr.From,
				ToStatus:       tr.To,
				Cause:          tr.Cause,
			})
			return tr, nil
		}
		if errors.Is(err, repository.ErrStatusConflict) && attempt < transitionRetries {
			continue
		}
		if errors.Is(err, repository.ErrStatusConflict) {
			return domain.Transition{}, apperr.Conflict("lead status changed concurrently")
		}
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Transition{}, apperr.NotFound("lead not found")
		}
		return domain.Transition{}, fmt.Errorf("transition status: %w", err)
	}
}

func (s *Service) Get(ctx context.Context, orgID, leadID uuid.UUID) (repository.Lead, error) {
	lead, err := s.store.GetByID(ctx, leadID, orgID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Lead{}, apperr.NotFound("lead not found")
	}
	return lead, err
}

func (s *Service) History(ctx context.Context, orgID, leadID uuid.UUID) ([]repository.AuditEntry, error) {
	return s.store.StatusHistory(ctx, leadID, orgID)
}

func (s *Service) Deactivate(ctx context.Context, orgID, leadID uuid.UUID) error {
	err := s.store.Deactivate(ctx, leadID, orgID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("lead not found")
	}
	return err
}

func (s *Service) Pipeline(ctx context.Context, orgID uuid.UUID) (domain.Pipeline, error) {
	return s.store.GetPipeline(ctx, orgID)
}

// ReplacePipeline validates and installs an organization's status pipeline.
func (s *Service) ReplacePipeline(ctx context.Context, orgID uuid.UUID, pipeline domain.Pipeline) error {
	if err := pipeline.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}
	return s.store.ReplacePipeline(ctx, orgID, pipeline)
}
