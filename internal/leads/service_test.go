package leads

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"leadrouter_backend/internal/events"
	"leadrouter_backend/internal/leads/domain"
	"leadrouter_backend/internal/leads/repository"
	"leadrouter_backend/platform/apperr"
)

// fakeStore serves one lead and can lose the conditional write a configured
// number of times before letting it through.
type fakeStore struct {
	lead         repository.Lead
	conflicts    int
	applied      []domain.Transition
	concurrentTo string
	pipeline     domain.Pipeline
}

func (f *fakeStore) GetByID(context.Context, uuid.UUID, uuid.UUID) (repository.Lead, error) {
	return f.lead, nil
}

func (f *fakeStore) GetPipeline(context.Context, uuid.UUID) (domain.Pipeline, error) {
	return f.pipeline, nil
}

func (f *fakeStore) ReplacePipeline(context.Context, uuid.UUID, domain.Pipeline) error {
	return nil
}

func (f *fakeStore) TransitionStatus(_ context.Context, _, _ uuid.UUID, tr domain.Transition) error {
	if f.conflicts > 0 {
		f.conflicts--
		// Another writer moved the lead before our conditional update landed.
		if f.concurrentTo != "" {
			f.lead.Status = f.concurrentTo
		}
		return repository.ErrStatusConflict
	}
	f.applied = append(f.applied, tr)
	f.lead.Status = tr.To
	return nil
}

func (f *fakeStore) StatusHistory(context.Context, uuid.UUID, uuid.UUID) ([]repository.AuditEntry, error) {
	return nil, nil
}

func (f *fakeStore) Deactivate(context.Context, uuid.UUID, uuid.UUID) error { return nil }

type silentBus struct{}

func (silentBus) Publish(context.Context, events.Event)           {}
func (silentBus) PublishSync(context.Context, events.Event) error { return nil }
func (silentBus) Subscribe(string, events.Handler)                {}

func testStore(status string) *fakeStore {
	return &fakeStore{
		lead: repository.Lead{
			ID:             uuid.New(),
			OrganizationID: uuid.New(),
			Status:         status,
		},
		pipeline: domain.DefaultPipeline(),
	}
}

func TestTransitionAppliesAndReportsAudit(t *testing.T) {
	store := testStore(domain.DefaultStatusNew)
	svc := NewService(store, silentBus{})

	tr, err := svc.Transition(context.Background(), store.lead.OrganizationID, store.lead.ID, "Contacted", "manual", false)
	if err != nil {
		t.Fatal(err)
	}
	if tr.From != domain.DefaultStatusNew || tr.To != "Contacted" {
		t.Fatalf("unexpected transition %+v", tr)
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected one persisted transition, got %d", len(store.applied))
	}
}

func TestTransitionRetriesOnceOnConcurrentWrite(t *testing.T) {
	store := testStore(domain.DefaultStatusNew)
	store.conflicts = 1
	store.concurrentTo = "Contacted"
	svc := NewService(store, silentBus{})

	tr, err := svc.Transition(context.Background(), store.lead.OrganizationID, store.lead.ID, domain.DefaultStatusInterested, "manual", false)
	if err != nil {
		t.Fatal(err)
	}
	// The retry re-reads, so the audit trail records the true predecessor.
	if tr.From != "Contacted" {
		t.Fatalf("retry must plan from the re-read status, got from=%q", tr.From)
	}
	if len(store.applied) != 1 {
		t.Fatalf("expected one persisted transition, got %d", len(store.applied))
	}
}

func TestTransitionGivesUpAfterRetry(t *testing.T) {
	store := testStore(domain.DefaultStatusNew)
	store.conflicts = 2
	svc := NewService(store, silentBus{})

	_, err := svc.Transition(context.Background(), store.lead.OrganizationID, store.lead.ID, "Contacted", "manual", false)
	if err == nil {
		t.Fatal("expected conflict after exhausting the retry")
	}
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want conflict", apperr.GetKind(err))
	}
}

func TestTransitionSurfacesPlanErrors(t *testing.T) {
	store := testStore("DealClosed")
	svc := NewService(store, silentBus{})

	_, err := svc.Transition(context.Background(), store.lead.OrganizationID, store.lead.ID, domain.DefaultStatusNew, "call:answered", false)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("terminal status without reopen should conflict, got %v", err)
	}

	if _, err := svc.Transition(context.Background(), store.lead.OrganizationID, store.lead.ID, domain.DefaultStatusNew, "manual", true); err != nil {
		t.Fatalf("explicit reopen rejected: %v", err)
	}
}
