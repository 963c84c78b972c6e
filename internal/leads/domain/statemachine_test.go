package domain

import (
	"testing"

	"leadrouter_backend/platform/apperr"
)

func TestPlanTransitionAllowsNonTerminalMoves(t *testing.T) {
	p := DefaultPipeline()

	tr, err := p.PlanTransition(DefaultStatusNew, "Contacted", "manual", false)
	if err != nil {
		t.Fatal(err)
	}
	if tr.From != DefaultStatusNew || tr.To != "Contacted" || tr.Cause != "manual" {
		t.Fatalf("unexpected transition %+v", tr)
	}
	if tr.At.IsZero() {
		t.Error("transition timestamp not set")
	}

	// Backwards moves between non-terminal statuses are allowed too.
	if _, err := p.PlanTransition("AppointmentBooked", "Contacted", "manual", false); err != nil {
		t.Fatalf("backwards move rejected: %v", err)
	}
}

func TestPlanTransitionRejectsUnknownTarget(t *testing.T) {
	p := DefaultPipeline()

	_, err := p.PlanTransition(DefaultStatusNew, "Bogus", "manual", false)
	if err == nil {
		t.Fatal("expected error for unknown target")
	}
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("kind = %v, want validation", apperr.GetKind(err))
	}
}

func TestPlanTransitionSameStatusConflicts(t *testing.T) {
	p := DefaultPipeline()

	_, err := p.PlanTransition("Contacted", "Contacted", "manual", false)
	if err == nil {
		t.Fatal("expected conflict for no-op transition")
	}
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want conflict", apperr.GetKind(err))
	}
}

func TestPlanTransitionTerminalRequiresReopen(t *testing.T) {
	p := DefaultPipeline()

	_, err := p.PlanTransition("DealClosed", DefaultStatusNew, "call:answered", false)
	if err == nil {
		t.Fatal("terminal status must not move without reopen")
	}
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want conflict", apperr.GetKind(err))
	}

	tr, err := p.PlanTransition("DealClosed", DefaultStatusNew, "manual", true)
	if err != nil {
		t.Fatalf("reopen rejected: %v", err)
	}
	if !tr.Reopen {
		t.Error("reopen flag not carried on the transition")
	}
}

func TestPipelineValidate(t *testing.T) {
	cases := []struct {
		name    string
		p       Pipeline
		wantErr bool
	}{
		{"default is valid", DefaultPipeline(), false},
		{"empty", Pipeline{}, true},
		{"no entry", Pipeline{Statuses: []StatusDef{{Name: "A"}, {Name: "B"}}}, true},
		{"two entries", Pipeline{Statuses: []StatusDef{{Name: "A", Entry: true}, {Name: "B", Entry: true}}}, true},
		{"terminal entry", Pipeline{Statuses: []StatusDef{{Name: "A", Entry: true, Terminal: true}}}, true},
		{"duplicate name", Pipeline{Statuses: []StatusDef{{Name: "A", Entry: true}, {Name: "A"}}}, true},
		{"unnamed status", Pipeline{Statuses: []StatusDef{{Name: "A", Entry: true}, {Name: ""}}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEntryStatusFallsBackToFirst(t *testing.T) {
	p := Pipeline{Statuses: []StatusDef{{Name: "Open"}, {Name: "Closed", Terminal: true}}}
	if got := p.EntryStatus(); got != "Open" {
		t.Fatalf("EntryStatus() = %q, want first status", got)
	}
	if got := DefaultPipeline().EntryStatus(); got != DefaultStatusNew {
		t.Fatalf("default entry = %q", got)
	}
}
