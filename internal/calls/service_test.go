package calls

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadrouter_backend/internal/events"
	"leadrouter_backend/internal/leads/domain"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/logger"
)

// fakeEventStore holds events keyed by (provider, event key) to reproduce the
// unique-constraint replay behavior.
type fakeEventStore struct {
	mu       sync.Mutex
	leadID   uuid.UUID
	orgID    uuid.UUID
	events   map[string]CallEvent
	mappings []OutcomeMapping
	failures []Failure
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		leadID:   uuid.New(),
		orgID:    uuid.New(),
		events:   make(map[string]CallEvent),
		mappings: append([]OutcomeMapping(nil), defaultMappings...),
	}
}

func (s *fakeEventStore) InsertCallEvent(_ context.Context, ev CallEvent) (CallEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ev.Provider + "/" + ev.ProviderEventID
	if _, ok := s.events[key]; ok {
		return CallEvent{}, false, nil
	}
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now()
	s.events[key] = ev
	return ev, true, nil
}

func (s *fakeEventStore) ResolveLead(_ context.Context, ref LeadRef) (uuid.UUID, uuid.UUID, error) {
	// An org hint scopes the lookup the way the repository query does.
	if ref.OrganizationID != nil && *ref.OrganizationID != s.orgID {
		return uuid.Nil, uuid.Nil, ErrLeadNotFound
	}
	if ref.LeadID != nil && *ref.LeadID == s.leadID {
		return s.leadID, s.orgID, nil
	}
	if ref.Source == "meta_ads" && ref.ExternalID == "m-1" {
		return s.leadID, s.orgID, nil
	}
	return uuid.Nil, uuid.Nil, ErrLeadNotFound
}

func (s *fakeEventStore) GetOutcomeMappings(context.Context, uuid.UUID) ([]OutcomeMapping, error) {
	return s.mappings, nil
}

func (s *fakeEventStore) RecordFailure(_ context.Context, f Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return nil
}

type transitionCall struct {
	target string
	cause  string
	reopen bool
}

type fakeTransitioner struct {
	mu    sync.Mutex
	calls []transitionCall
	err   error
}

func (f *fakeTransitioner) Transition(_ context.Context, _, _ uuid.UUID, target, cause string, reopen bool) (domain.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transitionCall{target, cause, reopen})
	if f.err != nil {
		return domain.Transition{}, f.err
	}
	return domain.Transition{To: target, Cause: cause}, nil
}

type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeScheduler) ScheduleFollowUp(_ context.Context, _, _ uuid.UUID, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, delay)
	return nil
}

type nopBus struct{}

func (nopBus) Publish(context.Context, events.Event)          {}
func (nopBus) PublishSync(context.Context, events.Event) error { return nil }
func (nopBus) Subscribe(string, events.Handler)               {}

func newTestOrchestrator(store *fakeEventStore, leads *fakeTransitioner, sched *fakeScheduler) *Orchestrator {
	return NewOrchestrator(store, leads, sched, nopBus{}, logger.New("test"))
}

func TestCompletionMapsAnsweredPositiveToInterested(t *testing.T) {
	store := newFakeEventStore()
	leads := &fakeTransitioner{}
	sched := &fakeScheduler{}
	o := newTestOrchestrator(store, leads, sched)

	payload := CompletionPayload{
		EventID:   "ev-1",
		LeadID:    &store.leadID,
		Outcome:   "answered",
		Sentiment: "positive",
	}
	if err := o.HandleCompletion(context.Background(), "elevenlabs", payload, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	if len(leads.calls) != 1 {
		t.Fatalf("expected one transition, got %d", len(leads.calls))
	}
	call := leads.calls[0]
	if call.target != domain.DefaultStatusInterested {
		t.Errorf("target = %q, want %q", call.target, domain.DefaultStatusInterested)
	}
	if call.cause != "call:answered" {
		t.Errorf("cause = %q", call.cause)
	}
	if call.reopen {
		t.Error("call-driven transitions must never reopen terminal leads")
	}
	if len(sched.delays) != 0 {
		t.Error("answered call must not schedule a follow-up")
	}
	if len(store.failures) != 0 {
		t.Errorf("unexpected failures recorded: %+v", store.failures)
	}
}

func TestCompletionReplayIsIgnored(t *testing.T) {
	store := newFakeEventStore()
	leads := &fakeTransitioner{}
	sched := &fakeScheduler{}
	o := newTestOrchestrator(store, leads, sched)

	payload := CompletionPayload{
		EventID:   "ev-dup",
		LeadID:    &store.leadID,
		Outcome:   "answered",
		Sentiment: "positive",
	}
	for i := 0; i < 2; i++ {
		if err := o.HandleCompletion(context.Background(), "elevenlabs", payload, []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}

	if len(store.events) != 1 {
		t.Fatalf("expected one stored event, got %d", len(store.events))
	}
	if len(leads.calls) != 1 {
		t.Fatalf("replay must not transition again, got %d transitions", len(leads.calls))
	}
	if len(store.failures) != 0 {
		t.Errorf("replay is not a failure: %+v", store.failures)
	}
}

func TestCompletionNoAnswerSchedulesFollowUp(t *testing.T) {
	store := newFakeEventStore()
	leads := &fakeTransitioner{}
	sched := &fakeScheduler{}
	o := newTestOrchestrator(store, leads, sched)

	payload := CompletionPayload{
		ConversationID: "conv-9",
		Source:         "meta_ads",
		ExternalID:     "m-1",
		Outcome:        "no_answer",
	}
	if err := o.HandleCompletion(context.Background(), "elevenlabs", payload, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	if len(leads.calls) != 0 {
		t.Fatalf("no_answer has no target status, got transitions %+v", leads.calls)
	}
	if len(sched.delays) != 1 || sched.delays[0] != 4*time.Hour {
		t.Fatalf("expected one 4h follow-up, got %v", sched.delays)
	}
}

func TestCompletionUnknownLeadRecordsFailure(t *testing.T) {
	store := newFakeEventStore()
	o := newTestOrchestrator(store, &fakeTransitioner{}, &fakeScheduler{})

	other := uuid.New()
	payload := CompletionPayload{
		EventID: "ev-2",
		LeadID:  &other,
		Outcome: "answered",
	}
	if err := o.HandleCompletion(context.Background(), "elevenlabs", payload, []byte(`{"x":1}`)); err != nil {
		t.Fatal("failure paths must still ack:", err)
	}

	if len(store.failures) != 1 {
		t.Fatalf("expected one recorded failure, got %d", len(store.failures))
	}
	f := store.failures[0]
	if f.EventKey != "ev-2" {
		t.Errorf("event key = %q", f.EventKey)
	}
	if f.OrganizationID != nil {
		t.Error("org is unknown when the lead cannot be resolved")
	}
	if len(store.events) != 0 {
		t.Error("no event row for an unresolvable lead")
	}
}

func TestCompletionExternalRefScopedToOrganization(t *testing.T) {
	store := newFakeEventStore()
	leads := &fakeTransitioner{}
	o := newTestOrchestrator(store, leads, &fakeScheduler{})

	// Another tenant's webhook carries the same (source, external_id) pair.
	otherOrg := uuid.New()
	payload := CompletionPayload{
		EventID:        "ev-x",
		OrganizationID: &otherOrg,
		Source:         "meta_ads",
		ExternalID:     "m-1",
		Outcome:        "answered",
		Sentiment:      "positive",
	}
	if err := o.HandleCompletion(context.Background(), "elevenlabs", payload, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	if len(store.events) != 0 || len(leads.calls) != 0 {
		t.Fatal("a foreign organization's reference must not touch this org's lead")
	}
	if len(store.failures) != 1 {
		t.Fatalf("expected one recorded failure, got %d", len(store.failures))
	}

	// The same reference with the right organization resolves normally.
	payload.OrganizationID = &store.orgID
	payload.EventID = "ev-y"
	if err := o.HandleCompletion(context.Background(), "elevenlabs", payload, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if len(store.events) != 1 || len(leads.calls) != 1 {
		t.Fatalf("scoped reference should resolve: events=%d transitions=%d", len(store.events), len(leads.calls))
	}
}

func TestCompletionMissingKeyRecordsFailure(t *testing.T) {
	store := newFakeEventStore()
	o := newTestOrchestrator(store, &fakeTransitioner{}, &fakeScheduler{})

	if err := o.HandleCompletion(context.Background(), "elevenlabs", CompletionPayload{Outcome: "answered"}, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if len(store.failures) != 1 {
		t.Fatalf("expected one recorded failure, got %d", len(store.failures))
	}
}

func TestCompletionTerminalConflictIsNotAFailure(t *testing.T) {
	store := newFakeEventStore()
	leads := &fakeTransitioner{err: apperr.Conflict("lead is in terminal status DealClosed; reopen required")}
	o := newTestOrchestrator(store, leads, &fakeScheduler{})

	payload := CompletionPayload{
		EventID:   "ev-3",
		LeadID:    &store.leadID,
		Outcome:   "answered",
		Sentiment: "negative",
	}
	if err := o.HandleCompletion(context.Background(), "elevenlabs", payload, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if len(store.failures) != 0 {
		t.Errorf("conflict on a terminal lead is expected traffic: %+v", store.failures)
	}
}

func TestMatchMappingPrefersSentimentQualified(t *testing.T) {
	mappings := []OutcomeMapping{
		{Outcome: "answered", TargetStatus: "Contacted"},
		{Outcome: "answered", Sentiment: "positive", TargetStatus: "Interested"},
	}

	m, ok := matchMapping(mappings, "Answered", "POSITIVE")
	if !ok || m.TargetStatus != "Interested" {
		t.Fatalf("want sentiment-qualified match, got %+v ok=%v", m, ok)
	}

	m, ok = matchMapping(mappings, "answered", "neutral")
	if !ok || m.TargetStatus != "Contacted" {
		t.Fatalf("want outcome-only fallback, got %+v ok=%v", m, ok)
	}

	if _, ok := matchMapping(mappings, "busy", ""); ok {
		t.Fatal("unmapped outcome must not match")
	}
}
