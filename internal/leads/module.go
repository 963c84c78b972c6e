package leads

import (
	httpx "leadrouter_backend/internal/http"
)

// Module wires the lead lifecycle admin surface.
type Module struct {
	handler *Handler
}

func NewModule(handler *Handler) *Module {
	return &Module{handler: handler}
}

func (m *Module) Name() string { return "leads" }

func (m *Module) RegisterRoutes(rc *httpx.RouterContext) {
	admin := rc.Admin.Group("/leads")
	{
		admin.GET("/:id", m.handler.GetLead)
		admin.POST("/:id/status", m.handler.TransitionLead)
		admin.GET("/:id/history", m.handler.LeadHistory)
		admin.DELETE("/:id", m.handler.DeactivateLead)
	}

	pipeline := rc.Admin.Group("/pipeline")
	{
		pipeline.GET("", m.handler.GetPipeline)
		pipeline.PUT("", m.handler.PutPipeline)
	}
}
