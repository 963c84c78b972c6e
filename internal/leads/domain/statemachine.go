package domain

import (
	"time"

	"leadrouter_backend/platform/apperr"
)

// Transition describes one status change to apply and audit.
type Transition struct {
	From   string
	To     string
	Cause  string
	Reopen bool
	At     time.Time
}

// PlanTransition validates a requested status change against the pipeline and
// returns the transition to apply. It is pure decision logic; persisting the
// change (and its audit entry) is the repository's job.
//
// Rules: any non-terminal status may move to any other configured status.
// Terminal statuses only move when the caller sets the explicit reopen flag.
func (p Pipeline) PlanTransition(current, target, cause string, reopen bool) (Transition, error) {
	if !p.Has(target) {
		return Transition{}, apperr.Validation("unknown target status: " + target).WithOp("leads.transition")
	}

	if current == target {
		return Transition{}, apperr.Conflict("lead is already in status " + target).WithOp("leads.transition")
	}

	if p.IsTerminal(current) && !reopen {
		return Transition{}, apperr.Conflict("lead is in terminal status " + current + "; reopen required").WithOp("leads.transition")
	}

	return Transition{
		From:   current,
		To:     target,
		Cause:  cause,
		Reopen: reopen,
		At:     time.Now(),
	}, nil
}
