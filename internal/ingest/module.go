package ingest

import (
	httpx "leadrouter_backend/internal/http"
)

// Module wires the ingestion bounded context: the API-key-authenticated
// intake endpoints plus the admin key management surface.
type Module struct {
	handler *Handler
	keys    *KeyRepository
}

func NewModule(handler *Handler, keys *KeyRepository) *Module {
	return &Module{handler: handler, keys: keys}
}

func (m *Module) Name() string { return "ingest" }

func (m *Module) RegisterRoutes(rc *httpx.RouterContext) {
	intake := rc.V1.Group("/ingest")
	intake.Use(rc.IngestRateLimiter.RateLimit())
	{
		intake.GET("/sources", m.handler.ListSources)

		authed := intake.Group("")
		authed.Use(APIKeyAuth(m.keys))
		{
			authed.POST("/leads", m.handler.IngestLead)
			authed.POST("/leads/batch", m.handler.IngestBatch)
		}
	}

	keys := rc.Admin.Group("/ingest-keys")
	{
		keys.GET("", m.handler.ListKeys)
		keys.POST("", m.handler.CreateKey)
		keys.DELETE("/:id", m.handler.RevokeKey)
	}
}
