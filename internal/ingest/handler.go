package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadrouter_backend/internal/leads/domain"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/httpkit"
	"leadrouter_backend/platform/validator"
)

// Handler exposes the intake endpoints and the admin API key surface.
type Handler struct {
	gateway  *Gateway
	keys     *KeyRepository
	validate *validator.Validator
}

func NewHandler(gateway *Gateway, keys *KeyRepository, validate *validator.Validator) *Handler {
	return &Handler{gateway: gateway, keys: keys, validate: validate}
}

type ingestRequest struct {
	Source  string          `json:"source" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type ingestResponse struct {
	Result  string    `json:"result"`
	LeadID  uuid.UUID `json:"lead_id"`
	Changed bool      `json:"changed"`
}

func (h *Handler) decodeItem(req ingestRequest) (domain.Source, map[string]any, error) {
	source, ok := domain.ParseSource(req.Source)
	if !ok {
		return "", nil, apperr.Validation("unknown source: " + req.Source)
	}
	var payload map[string]any
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return "", nil, apperr.Validation("payload must be a JSON object")
	}
	return source, payload, nil
}

// IngestLead handles a single lead submission.
func (h *Handler) IngestLead(c *gin.Context) {
	orgID, ok := CallerOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}
	source, payload, err := h.decodeItem(req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	result, err := h.gateway.Ingest(c.Request.Context(), orgID, source, payload, req.Payload)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httpkit.JSON(c, status, ingestResponse{
		Result:  result.Outcome(),
		LeadID:  result.Lead.ID,
		Changed: result.Changed,
	})
}

type batchRequest struct {
	Leads []ingestRequest `json:"leads" validate:"required,min=1,max=50,dive"`
}

type batchItemResponse struct {
	Index   int        `json:"index"`
	Result  string     `json:"result"`
	LeadID  *uuid.UUID `json:"lead_id,omitempty"`
	Changed bool       `json:"changed"`
	Error   string     `json:"error,omitempty"`
}

// IngestBatch handles up to MaxBatchSize leads in one request. The response
// always carries one outcome per submitted item, in submission order.
func (h *Handler) IngestBatch(c *gin.Context) {
	orgID, ok := CallerOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	items := make([]BatchItem, 0, len(req.Leads))
	decodeErrs := make(map[int]error, len(req.Leads))
	for i, entry := range req.Leads {
		source, payload, err := h.decodeItem(entry)
		if err != nil {
			decodeErrs[i] = err
			items = append(items, BatchItem{})
			continue
		}
		items = append(items, BatchItem{Source: source, Payload: payload, Raw: entry.Payload})
	}

	outcomes, err := h.gateway.IngestBatch(c.Request.Context(), orgID, items)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	resp := make([]batchItemResponse, len(outcomes))
	for i, outcome := range outcomes {
		item := batchItemResponse{Index: i}
		if decodeErr, bad := decodeErrs[i]; bad {
			item.Result = "error"
			item.Error = decodeErr.Error()
		} else if outcome.Err != nil {
			item.Result = "error"
			item.Error = outcome.Err.Error()
		} else {
			id := outcome.Result.Lead.ID
			item.Result = outcome.Result.Outcome()
			item.LeadID = &id
			item.Changed = outcome.Result.Changed
		}
		resp[i] = item
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"outcomes": resp})
}

// ListSources returns the enumerated lead sources.
func (h *Handler) ListSources(c *gin.Context) {
	httpkit.JSON(c, http.StatusOK, gin.H{"sources": domain.KnownSources()})
}

type createKeyRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// CreateKey mints a new ingest API key. The plaintext appears in this
// response only.
func (h *Handler) CreateKey(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to generate key", err))
		return
	}
	key, err := h.keys.Create(c.Request.Context(), orgID, req.Name, hash, prefix)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to store key", err))
		return
	}
	httpkit.JSON(c, http.StatusCreated, gin.H{
		"id":         key.ID,
		"name":       key.Name,
		"key":        plaintext,
		"key_prefix": key.KeyPrefix,
	})
}

func (h *Handler) ListKeys(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	keys, err := h.keys.ListByOrganization(c.Request.Context(), orgID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to list keys", err))
		return
	}
	type keyView struct {
		ID        uuid.UUID `json:"id"`
		Name      string    `json:"name"`
		KeyPrefix string    `json:"key_prefix"`
		IsActive  bool      `json:"is_active"`
	}
	out := make([]keyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyView{ID: k.ID, Name: k.Name, KeyPrefix: k.KeyPrefix, IsActive: k.IsActive})
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"keys": out})
}

func (h *Handler) RevokeKey(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid key id"))
		return
	}
	if err := h.keys.Revoke(c.Request.Context(), keyID, orgID); err != nil {
		if err == ErrAPIKeyNotFound {
			httpkit.HandleError(c, apperr.NotFound("key not found"))
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to revoke key", err))
		return
	}
	c.Status(http.StatusNoContent)
}
