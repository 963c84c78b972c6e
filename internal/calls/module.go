package calls

import (
	httpx "leadrouter_backend/internal/http"
)

// Module wires the post-call orchestration bounded context.
type Module struct {
	handler *Handler
}

func NewModule(handler *Handler) *Module {
	return &Module{handler: handler}
}

func (m *Module) Name() string { return "calls" }

func (m *Module) RegisterRoutes(rc *httpx.RouterContext) {
	webhook := rc.V1.Group("/webhook")
	{
		webhook.POST("/elevenlabs", m.handler.CompletionWebhook)
	}

	rc.Admin.GET("/call-failures", m.handler.ListFailures)
	rc.Admin.GET("/leads/:id/calls", m.handler.LeadCallHistory)

	mappings := rc.Admin.Group("/outcome-mappings")
	{
		mappings.GET("", m.handler.GetOutcomeMappings)
		mappings.PUT("", m.handler.PutOutcomeMappings)
	}
}
