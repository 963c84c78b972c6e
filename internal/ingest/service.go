package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"leadrouter_backend/internal/assignment"
	"leadrouter_backend/internal/events"
	"leadrouter_backend/internal/leads/domain"
	leadrepo "leadrouter_backend/internal/leads/repository"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/logger"
)

// MaxBatchSize bounds one batch request. Larger submissions are rejected
// whole before any item is processed.
const MaxBatchSize = 50

// LeadStore is the persistence surface the gateway needs. The concrete
// implementation is the leads repository.
type LeadStore interface {
	UpsertByExternalID(ctx context.Context, p leadrepo.UpsertParams) (leadrepo.Lead, bool, bool, error)
	ResolveByFingerprint(ctx context.Context, p leadrepo.FingerprintParams) (leadrepo.Lead, bool, bool, error)
	GetByID(ctx context.Context, id, organizationID uuid.UUID) (leadrepo.Lead, error)
	UpdateAssignment(ctx context.Context, leadID, organizationID uuid.UUID, agentID, teamID *uuid.UUID) error
	GetPipeline(ctx context.Context, organizationID uuid.UUID) (domain.Pipeline, error)
}

// Assigner decides lead ownership. The concrete implementation is the
// assignment engine.
type Assigner interface {
	Assign(ctx context.Context, orgID uuid.UUID, trigger assignment.Trigger, fields map[string]string) (assignment.Decision, error)
	AssignByRule(ctx context.Context, orgID uuid.UUID, trigger assignment.Trigger, fields map[string]string) (assignment.Decision, error)
}

// Options carries the tunables the gateway reads from configuration.
type Options struct {
	DedupeLookback time.Duration
	BatchWorkers   int
}

// Gateway is the ingestion service: normalize, deduplicate, assign, publish.
type Gateway struct {
	store      LeadStore
	assigner   Assigner
	normalizer *Normalizer
	bus        events.Bus
	log        *logger.Logger
	opts       Options
}

func NewGateway(store LeadStore, assigner Assigner, normalizer *Normalizer, bus events.Bus, log *logger.Logger, opts Options) *Gateway {
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = 4
	}
	return &Gateway{
		store:      store,
		assigner:   assigner,
		normalizer: normalizer,
		bus:        bus,
		log:        log,
		opts:       opts,
	}
}

// Result reports what one ingestion did.
type Result struct {
	Lead    leadrepo.Lead
	Created bool
	// Changed is false when a re-ingest merged to an identical record.
	Changed  bool
	Decision assignment.Decision
}

// Outcome labels for logs and batch responses. A re-ingest is always
// "updated"; Changed distinguishes a real merge from a no-op.
func (r Result) Outcome() string {
	if r.Created {
		return "created"
	}
	return "updated"
}

// Ingest runs the full intake flow for one payload. Identical re-submissions
// converge on the same lead and report "updated" with Changed false rather
// than erroring.
func (g *Gateway) Ingest(ctx context.Context, orgID uuid.UUID, source domain.Source, payload map[string]any, raw []byte) (Result, error) {
	input, err := g.normalizer.Normalize(source, payload, raw)
	if err != nil {
		g.log.IngestEvent(string(source), "rejected", "", orgID.String())
		return Result{}, err
	}
	return g.ingestCanonical(ctx, orgID, input)
}

func (g *Gateway) ingestCanonical(ctx context.Context, orgID uuid.UUID, input domain.CanonicalInput) (Result, error) {
	pipeline, err := g.store.GetPipeline(ctx, orgID)
	if err != nil {
		return Result{}, fmt.Errorf("load pipeline: %w", err)
	}

	params := leadrepo.UpsertParams{
		OrganizationID: orgID,
		Source:         input.Source,
		ExternalID:     input.ExternalID,
		Name:           input.Name,
		Phone:          input.Phone,
		Email:          input.Email,
		Extra:          input.Extra,
		Raw:            input.Raw,
		EntryStatus:    pipeline.EntryStatus(),
	}

	var (
		lead     leadrepo.Lead
		inserted bool
		changed  bool
	)
	if input.ExternalID != "" {
		lead, inserted, changed, err = g.store.UpsertByExternalID(ctx, params)
	} else {
		lead, inserted, changed, err = g.store.ResolveByFingerprint(ctx, leadrepo.FingerprintParams{
			OrganizationID: orgID,
			Fingerprint:    input.Fingerprint(),
			Lookback:       g.opts.DedupeLookback,
			Input:          params,
		})
	}
	if err != nil {
		g.log.DatabaseError("ingest lead", err)
		return Result{}, apperr.Wrap(apperr.KindInternal, "failed to persist lead", err)
	}

	result := Result{Lead: lead, Created: inserted, Changed: changed}

	trigger := assignment.TriggerOnUpdate
	if inserted {
		trigger = assignment.TriggerOnCreate
	}

	// The round-robin fallback only runs for leads that have no owner yet.
	// On a re-ingest of an owned lead, only an explicit rule match may move
	// it; otherwise the current owner keeps the lead, so an identical
	// payload never rotates ownership.
	var decision assignment.Decision
	if inserted || (lead.AssignedAgentID == nil && lead.AssignedTeamID == nil) {
		decision, err = g.assigner.Assign(ctx, orgID, trigger, RuleFields(lead))
	} else {
		decision, err = g.assigner.AssignByRule(ctx, orgID, trigger, RuleFields(lead))
	}
	if err != nil {
		// Assignment trouble must not lose the lead; it stays unassigned
		// and can be picked up by a later trigger.
		g.log.Error("assignment failed", "lead_id", lead.ID.String(), "error", err.Error())
		decision = assignment.Decision{Reason: assignment.ReasonUnassigned}
	}
	result.Decision = decision

	if decision.AgentID != nil || decision.TeamID != nil {
		if err := g.store.UpdateAssignment(ctx, lead.ID, orgID, decision.AgentID, decision.TeamID); err != nil {
			g.log.DatabaseError("update assignment", err)
		} else {
			result.Lead.AssignedAgentID = decision.AgentID
			result.Lead.AssignedTeamID = decision.TeamID
			g.bus.Publish(ctx, events.LeadAssigned{
				BaseEvent:      events.NewBaseEvent(),
				LeadID:         lead.ID,
				OrganizationID: orgID,
				AgentID:        decision.AgentID,
				TeamID:         decision.TeamID,
				RuleID:         decision.RuleID,
				Reason:         decision.Reason,
			})
		}
	}

	if inserted {
		g.bus.Publish(ctx, events.LeadCreated{
			BaseEvent:      events.NewBaseEvent(),
			LeadID:         lead.ID,
			OrganizationID: orgID,
			Source:         string(lead.Source),
			Status:         lead.Status,
			AssignedAgent:  result.Lead.AssignedAgentID,
			AssignedTeam:   result.Lead.AssignedTeamID,
		})
	} else {
		g.bus.Publish(ctx, events.LeadUpdated{
			BaseEvent:      events.NewBaseEvent(),
			LeadID:         lead.ID,
			OrganizationID: orgID,
			Source:         string(lead.Source),
			Changed:        changed,
		})
	}

	g.log.IngestEvent(string(input.Source), result.Outcome(), lead.ID.String(), orgID.String())
	return result, nil
}

// BatchItem is one entry of a batch submission.
type BatchItem struct {
	Source  domain.Source
	Payload map[string]any
	Raw     []byte
}

// ItemOutcome reports one batch entry's result. Err is set only for that
// entry; other entries proceed regardless.
type ItemOutcome struct {
	Index  int
	Result Result
	Err    error
}

// IngestBatch processes up to MaxBatchSize payloads with bounded concurrency.
// Per-item failures never abort the batch; every entry gets an outcome at its
// submission index.
func (g *Gateway) IngestBatch(ctx context.Context, orgID uuid.UUID, items []BatchItem) ([]ItemOutcome, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("batch must contain at least one lead")
	}
	if len(items) > MaxBatchSize {
		return nil, apperr.Validation(fmt.Sprintf("batch exceeds maximum of %d leads", MaxBatchSize))
	}

	outcomes := make([]ItemOutcome, len(items))
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(g.opts.BatchWorkers)

	for i, item := range items {
		grp.Go(func() error {
			result, err := g.Ingest(grpCtx, orgID, item.Source, item.Payload, item.Raw)
			outcomes[i] = ItemOutcome{Index: i, Result: result, Err: err}
			// Item errors are reported per entry, never from the group.
			return nil
		})
	}
	// The group never returns an error; Wait only fences the goroutines.
	_ = grp.Wait()
	return outcomes, nil
}

// RuleFields projects a persisted lead into the flat field map that
// assignment conditions evaluate against. Extra keys sit alongside the
// canonical fields; canonical names win on collision.
func RuleFields(lead leadrepo.Lead) map[string]string {
	fields := make(map[string]string, len(lead.Extra)+5)
	for k, v := range lead.Extra {
		fields[k] = v
	}
	fields["source"] = string(lead.Source)
	fields["status"] = lead.Status
	fields["name"] = lead.Name
	fields["phone"] = lead.Phone
	fields["email"] = lead.Email
	return fields
}
