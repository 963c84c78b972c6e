package assignment

import (
	"github.com/jackc/pgx/v5/pgxpool"

	httpx "leadrouter_backend/internal/http"
	"leadrouter_backend/platform/logger"
	"leadrouter_backend/platform/validator"
)

// Module wires the assignment bounded context: the rule engine used by
// ingestion plus the admin CRUD surface for rules, agents, and teams.
type Module struct {
	engine  *Engine
	handler *Handler
}

func NewModule(pool *pgxpool.Pool, validate *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	return &Module{
		engine:  NewEngine(repo, repo, log),
		handler: NewHandler(repo, validate),
	}
}

func (m *Module) Name() string { return "assignment" }

// Engine exposes the decision engine to the ingestion and calls modules.
func (m *Module) Engine() *Engine { return m.engine }

func (m *Module) RegisterRoutes(rc *httpx.RouterContext) {
	rules := rc.Admin.Group("/assignment-rules")
	{
		rules.GET("", m.handler.ListRules)
		rules.POST("", m.handler.CreateRule)
		rules.PUT("/:id", m.handler.UpdateRule)
		rules.DELETE("/:id", m.handler.DeleteRule)
	}

	agents := rc.Admin.Group("/agents")
	{
		agents.GET("", m.handler.ListAgents)
		agents.POST("", m.handler.CreateAgent)
		agents.PUT("/:id", m.handler.UpdateAgent)
	}

	teams := rc.Admin.Group("/teams")
	{
		teams.GET("", m.handler.ListTeams)
		teams.POST("", m.handler.CreateTeam)
	}
}
