package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadrouter_backend/internal/assignment"
	"leadrouter_backend/internal/events"
	"leadrouter_backend/internal/leads/domain"
	leadrepo "leadrouter_backend/internal/leads/repository"
	"leadrouter_backend/platform/logger"
)

// fakeLeadStore reproduces the repository's merge semantics in memory.
type fakeLeadStore struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*leadrepo.Lead
}

func newFakeLeadStore() *fakeLeadStore {
	return &fakeLeadStore{leads: make(map[uuid.UUID]*leadrepo.Lead)}
}

func (s *fakeLeadStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

func merge(lead *leadrepo.Lead, p leadrepo.UpsertParams) bool {
	changed := false
	if p.Name != "" && p.Name != lead.Name {
		lead.Name = p.Name
		changed = true
	}
	if p.Phone != "" && p.Phone != lead.Phone {
		lead.Phone = p.Phone
		changed = true
	}
	if p.Email != "" && p.Email != lead.Email {
		lead.Email = p.Email
		changed = true
	}
	for k, v := range p.Extra {
		if lead.Extra[k] != v {
			lead.Extra[k] = v
			changed = true
		}
	}
	if changed {
		lead.UpdatedAt = time.Now()
	}
	return changed
}

func (s *fakeLeadStore) create(p leadrepo.UpsertParams) *leadrepo.Lead {
	lead := &leadrepo.Lead{
		ID:             uuid.New(),
		OrganizationID: p.OrganizationID,
		Source:         p.Source,
		Name:           p.Name,
		Phone:          p.Phone,
		Email:          p.Email,
		Extra:          map[string]string{},
		Status:         p.EntryStatus,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if p.ExternalID != "" {
		id := p.ExternalID
		lead.ExternalID = &id
	}
	for k, v := range p.Extra {
		lead.Extra[k] = v
	}
	s.leads[lead.ID] = lead
	return lead
}

func (s *fakeLeadStore) UpsertByExternalID(_ context.Context, p leadrepo.UpsertParams) (leadrepo.Lead, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lead := range s.leads {
		if lead.OrganizationID == p.OrganizationID && lead.Source == p.Source &&
			lead.ExternalID != nil && *lead.ExternalID == p.ExternalID {
			changed := merge(lead, p)
			return *lead, false, changed, nil
		}
	}
	lead := s.create(p)
	return *lead, true, true, nil
}

func (s *fakeLeadStore) ResolveByFingerprint(_ context.Context, p leadrepo.FingerprintParams) (leadrepo.Lead, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := p.Input
	for _, lead := range s.leads {
		if lead.OrganizationID != p.OrganizationID {
			continue
		}
		if (in.Phone != "" && lead.Phone == in.Phone) ||
			(in.Email != "" && lead.Email == in.Email) {
			changed := merge(lead, in)
			return *lead, false, changed, nil
		}
	}
	lead := s.create(in)
	return *lead, true, true, nil
}

func (s *fakeLeadStore) GetByID(_ context.Context, id, orgID uuid.UUID) (leadrepo.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok || lead.OrganizationID != orgID {
		return leadrepo.Lead{}, leadrepo.ErrNotFound
	}
	return *lead, nil
}

func (s *fakeLeadStore) UpdateAssignment(_ context.Context, leadID, orgID uuid.UUID, agentID, teamID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[leadID]
	if !ok || lead.OrganizationID != orgID {
		return leadrepo.ErrNotFound
	}
	lead.AssignedAgentID = agentID
	lead.AssignedTeamID = teamID
	return nil
}

func (s *fakeLeadStore) GetPipeline(context.Context, uuid.UUID) (domain.Pipeline, error) {
	return domain.DefaultPipeline(), nil
}

// fakeAssigner records which path the gateway took. Assign is the
// fallback-enabled path; AssignByRule is rules only. With rotate set,
// every fallback call picks a fresh agent, the way a live round-robin
// rotation would.
type fakeAssigner struct {
	mu           sync.Mutex
	decision     assignment.Decision
	ruleDecision assignment.Decision
	rotate       bool
	triggers     []assignment.Trigger
	modes        []string
}

func (f *fakeAssigner) Assign(_ context.Context, _ uuid.UUID, trigger assignment.Trigger, _ map[string]string) (assignment.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	f.modes = append(f.modes, "fallback")
	if f.rotate {
		id := uuid.New()
		return assignment.Decision{AgentID: &id, Reason: assignment.ReasonRoundRobin}, nil
	}
	return f.decision, nil
}

func (f *fakeAssigner) AssignByRule(_ context.Context, _ uuid.UUID, trigger assignment.Trigger, _ map[string]string) (assignment.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	f.modes = append(f.modes, "rules")
	return f.ruleDecision, nil
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventName())
	}
	return out
}

func testGateway(store LeadStore, assigner Assigner, bus events.Bus) *Gateway {
	return NewGateway(store, assigner, NewNormalizer("IN"), bus, logger.New("test"), Options{
		DedupeLookback: 90 * 24 * time.Hour,
		BatchWorkers:   2,
	})
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func TestIngestCreatesAssignsAndPublishes(t *testing.T) {
	store := newFakeLeadStore()
	agentID := uuid.New()
	assigner := &fakeAssigner{decision: assignment.Decision{
		AgentID: &agentID, Reason: assignment.ReasonRoundRobin,
	}}
	bus := &recordingBus{}
	g := testGateway(store, assigner, bus)
	orgID := uuid.New()

	result, err := g.Ingest(context.Background(), orgID, domain.SourceMetaAds, map[string]any{
		"leadgen_id": "m-1",
		"name":       "Neha Singh",
		"phone":      "+919876543210",
	}, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}

	if !result.Created || result.Outcome() != "created" {
		t.Fatalf("expected created outcome, got %+v", result)
	}
	if result.Lead.Status != domain.DefaultStatusNew {
		t.Errorf("status = %q, want entry status", result.Lead.Status)
	}
	if result.Lead.AssignedAgentID == nil || *result.Lead.AssignedAgentID != agentID {
		t.Errorf("expected agent assignment applied, got %+v", result.Lead.AssignedAgentID)
	}

	names := bus.names()
	if !contains(names, "leads.lead.created") || !contains(names, "leads.lead.assigned") {
		t.Errorf("expected created+assigned events, got %v", names)
	}
}

func TestIngestIdempotentByExternalID(t *testing.T) {
	store := newFakeLeadStore()
	assigner := &fakeAssigner{decision: assignment.Decision{Reason: assignment.ReasonUnassigned}}
	bus := &recordingBus{}
	g := testGateway(store, assigner, bus)
	orgID := uuid.New()

	payload := map[string]any{
		"external_id": "crm-7",
		"name":        "Asha Verma",
		"email":       "asha@example.com",
	}

	first, err := g.Ingest(context.Background(), orgID, domain.SourceExternalCRM, payload, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Ingest(context.Background(), orgID, domain.SourceExternalCRM, payload, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}

	if !first.Created {
		t.Fatal("first ingest should create")
	}
	if second.Created {
		t.Fatal("second ingest must not create")
	}
	if second.Outcome() != "updated" || second.Changed {
		t.Fatalf("identical re-ingest must report updated with changed=false, got %q changed=%v",
			second.Outcome(), second.Changed)
	}
	if second.Lead.ID != first.Lead.ID {
		t.Fatal("re-ingest resolved to a different lead")
	}
	if store.count() != 1 {
		t.Fatalf("expected exactly one lead, got %d", store.count())
	}

	// Triggers: create for the first, update for the second.
	if len(assigner.triggers) != 2 ||
		assigner.triggers[0] != assignment.TriggerOnCreate ||
		assigner.triggers[1] != assignment.TriggerOnUpdate {
		t.Fatalf("unexpected trigger sequence %v", assigner.triggers)
	}
}

func TestIdenticalReingestKeepsOwner(t *testing.T) {
	store := newFakeLeadStore()
	assigner := &fakeAssigner{rotate: true}
	g := testGateway(store, assigner, &recordingBus{})
	orgID := uuid.New()

	payload := map[string]any{
		"external_id": "crm-9",
		"name":        "Meera Iyer",
		"phone":       "+919876500000",
	}

	first, err := g.Ingest(context.Background(), orgID, domain.SourceExternalCRM, payload, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if first.Lead.AssignedAgentID == nil {
		t.Fatal("first ingest should assign via the fallback")
	}
	owner := *first.Lead.AssignedAgentID

	second, err := g.Ingest(context.Background(), orgID, domain.SourceExternalCRM, payload, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}

	if second.Lead.AssignedAgentID == nil || *second.Lead.AssignedAgentID != owner {
		t.Fatalf("identical re-ingest rotated the owner: %v -> %v", owner, second.Lead.AssignedAgentID)
	}
	// The owned lead's re-ingest must go through the rules-only path so the
	// rotation state is never touched.
	if len(assigner.modes) != 2 || assigner.modes[0] != "fallback" || assigner.modes[1] != "rules" {
		t.Fatalf("unexpected assignment paths %v", assigner.modes)
	}
}

func TestIngestMergesByPhoneFingerprint(t *testing.T) {
	store := newFakeLeadStore()
	assigner := &fakeAssigner{decision: assignment.Decision{Reason: assignment.ReasonUnassigned}}
	g := testGateway(store, assigner, &recordingBus{})
	orgID := uuid.New()

	first, err := g.Ingest(context.Background(), orgID, domain.SourceManual, map[string]any{
		"name":  "Ravi Kumar",
		"phone": "+919876543210",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Same person, different source, extra email this time.
	second, err := g.Ingest(context.Background(), orgID, domain.SourceGoogleAds, map[string]any{
		"name":  "Ravi Kumar",
		"phone": "098765 43210",
		"email": "ravi@example.com",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if second.Created {
		t.Fatal("same normalized phone must merge, not create")
	}
	if second.Lead.ID != first.Lead.ID {
		t.Fatal("fingerprint match resolved to a different lead")
	}
	if !second.Changed {
		t.Fatal("merge added an email, changed should be true")
	}
	if second.Lead.Email != "ravi@example.com" {
		t.Errorf("merged email = %q", second.Lead.Email)
	}
	if store.count() != 1 {
		t.Fatalf("expected one lead, got %d", store.count())
	}
}

func TestIngestBatchReportsPerItemOutcomes(t *testing.T) {
	store := newFakeLeadStore()
	assigner := &fakeAssigner{decision: assignment.Decision{Reason: assignment.ReasonUnassigned}}
	g := testGateway(store, assigner, &recordingBus{})
	orgID := uuid.New()

	items := []BatchItem{
		{Source: domain.SourceManual, Payload: map[string]any{"phone": "+919876543210", "name": "One"}},
		{Source: domain.SourceManual, Payload: map[string]any{"name": "No Contact"}},
		{Source: domain.SourceManual, Payload: map[string]any{"email": "three@example.com", "name": "Three"}},
	}

	outcomes, err := g.IngestBatch(context.Background(), orgID, items)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Fatalf("valid items must succeed: %v, %v", outcomes[0].Err, outcomes[2].Err)
	}
	if outcomes[1].Err == nil {
		t.Fatal("contactless item must fail without aborting the batch")
	}
	if store.count() != 2 {
		t.Fatalf("expected 2 leads from the valid items, got %d", store.count())
	}
}

func TestIngestBatchRejectsOversized(t *testing.T) {
	g := testGateway(newFakeLeadStore(), &fakeAssigner{}, &recordingBus{})

	items := make([]BatchItem, MaxBatchSize+1)
	for i := range items {
		items[i] = BatchItem{
			Source:  domain.SourceManual,
			Payload: map[string]any{"phone": fmt.Sprintf("+9198765432%02d", i)},
		}
	}

	if _, err := g.IngestBatch(context.Background(), uuid.New(), items); err == nil {
		t.Fatal("expected oversized batch to be rejected whole")
	}
}
