package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadrouter_backend/internal/calls"
	"leadrouter_backend/internal/leads/repository"
	"leadrouter_backend/platform/logger"
)

// Worker consumes scheduled tasks. Follow-up call tasks re-check the lead at
// fire time: a lead that went terminal or lost its phone since scheduling is
// skipped, not dialed.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	repo   *repository.Repository
	dialer calls.Dialer
	log    *logger.Logger
}

func NewWorker(opts Options, pool *pgxpool.Pool, dialer calls.Dialer, log *logger.Logger) (*Worker, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(opts.RedisURL, opts.TLSInsecure)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			opts.queueName(): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		repo:   repository.New(pool),
		dialer: dialer,
		log:    log,
	}

	mux.HandleFunc(TaskFollowUpCall, w.handleFollowUpCall)

	return w, nil
}

func (w *Worker) handleFollowUpCall(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseFollowUpCallPayload(task)
	if err != nil {
		return err
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return err
	}
	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return err
	}

	lead, err := w.repo.GetByID(ctx, leadID, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			w.log.Info("follow-up skipped, lead gone", "lead_id", payload.LeadID)
			return nil
		}
		return err
	}
	if lead.Phone == "" {
		w.log.Info("follow-up skipped, lead has no phone", "lead_id", payload.LeadID)
		return nil
	}

	pipeline, err := w.repo.GetPipeline(ctx, orgID)
	if err != nil {
		return err
	}
	if pipeline.IsTerminal(lead.Status) {
		w.log.Info("follow-up skipped, lead is terminal",
			"lead_id", payload.LeadID, "status", lead.Status)
		return nil
	}

	if err := w.dialer.Dial(ctx, calls.FollowUpCall{
		OrganizationID: orgID,
		LeadID:         leadID,
	}); err != nil {
		// Returning the error lets asynq retry with backoff.
		return fmt.Errorf("dial follow-up for lead %s: %w", payload.LeadID, err)
	}

	w.log.Info("follow-up call requested", "lead_id", payload.LeadID, "org_id", payload.OrganizationID)
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
