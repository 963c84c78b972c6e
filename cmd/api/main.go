package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"leadrouter_backend/internal/assignment"
	"leadrouter_backend/internal/calls"
	"leadrouter_backend/internal/config"
	"leadrouter_backend/internal/events"
	apphttp "leadrouter_backend/internal/http"
	"leadrouter_backend/internal/http/router"
	"leadrouter_backend/internal/ingest"
	"leadrouter_backend/internal/leads"
	leadrepo "leadrouter_backend/internal/leads/repository"
	"leadrouter_backend/internal/scheduler"
	"leadrouter_backend/migrations"
	"leadrouter_backend/platform/db"
	"leadrouter_backend/platform/logger"
	"leadrouter_backend/platform/validator"

	"github.com/google/uuid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg.DatabaseURL, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	followUps, closeScheduler := initFollowUpScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	leadRepo := leadrepo.New(pool)
	leadService := leads.NewService(leadRepo, eventBus)
	leadsModule := leads.NewModule(leads.NewHandler(leadService, val))

	assignmentModule := assignment.NewModule(pool, val, log)

	normalizer := ingest.NewNormalizer(cfg.PhoneRegion)
	gateway := ingest.NewGateway(leadRepo, assignmentModule.Engine(), normalizer, eventBus, log, ingest.Options{
		DedupeLookback: cfg.DedupeLookback,
		BatchWorkers:   cfg.BatchWorkers,
	})
	gateway.RegisterHandlers(eventBus)
	keyRepo := ingest.NewKeyRepository(pool)
	ingestModule := ingest.NewModule(ingest.NewHandler(gateway, keyRepo, val), keyRepo)

	callsRepo := calls.NewRepository(pool)
	orchestrator := calls.NewOrchestrator(callsRepo, leadService, followUps, eventBus, log)
	callsModule := calls.NewModule(calls.NewHandler(orchestrator, callsRepo, val, log, cfg.WebhookDeadline))

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:       cfg,
		CORSAllowAll: cfg.CORSAllowAll,
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       log,
		Health:       db.NewPoolAdapter(pool),
		EventBus:     eventBus,
		Modules: []apphttp.Module{
			ingestModule,
			leadsModule,
			assignmentModule,
			callsModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// disabledScheduler stands in when REDIS_URL is not configured. Follow-up
// requests then land in the webhook failure log instead of vanishing.
type disabledScheduler struct{}

func (disabledScheduler) ScheduleFollowUp(context.Context, uuid.UUID, uuid.UUID, time.Duration) error {
	return errors.New("follow-up scheduler disabled: REDIS_URL not configured")
}

func initFollowUpScheduler(cfg *config.Config, log *logger.Logger) (calls.FollowUpScheduler, func()) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; follow-up scheduling disabled")
		return disabledScheduler{}, nil
	}

	client, err := scheduler.NewClient(scheduler.Options{
		RedisURL:    cfg.RedisURL,
		TLSInsecure: cfg.RedisTLSSkip,
		Queue:       cfg.AsynqQueue,
	})
	if err != nil {
		log.Error("failed to initialize follow-up scheduler client", "error", err)
		return disabledScheduler{}, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
