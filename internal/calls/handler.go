package calls

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/httpkit"
	"leadrouter_backend/platform/logger"
	"leadrouter_backend/platform/validator"
)

const providerElevenLabs = "elevenlabs"

// maxWebhookBody bounds how much of a webhook body is read.
const maxWebhookBody = 1 << 20

// Handler exposes the provider webhook plus the admin surface for outcome
// mappings and failure review.
type Handler struct {
	orchestrator *Orchestrator
	repo         *Repository
	validate     *validator.Validator
	log          *logger.Logger
	// deadline bounds webhook processing; the ack goes out regardless.
	deadline time.Duration
}

func NewHandler(orchestrator *Orchestrator, repo *Repository, validate *validator.Validator, log *logger.Logger, deadline time.Duration) *Handler {
	if deadline <= 0 {
		deadline = 3 * time.Second
	}
	return &Handler{
		orchestrator: orchestrator,
		repo:         repo,
		validate:     validate,
		log:          log,
		deadline:     deadline,
	}
}

// CompletionWebhook receives the provider's call-completion delivery. The
// response is 200 no matter what happens internally; a non-200 would only
// trigger the provider's retry storm, and the idempotency key already makes
// retries safe.
func (h *Handler) CompletionWebhook(c *gin.Context) {
	ack := func() { c.JSON(http.StatusOK, gin.H{"status": "received"}) }

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.log.WebhookFailure(providerElevenLabs, "", err)
		ack()
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deadline)
	defer cancel()

	var payload CompletionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.orchestrator.fail(ctx, nil, providerElevenLabs, "", "body is not valid JSON", raw)
		ack()
		return
	}

	if err := h.orchestrator.HandleCompletion(ctx, providerElevenLabs, payload, raw); err != nil {
		// HandleCompletion records its own failures; this is belt and braces.
		h.log.WebhookFailure(providerElevenLabs, payload.IdempotencyKey(), err)
	}
	ack()
}

// ListFailures returns recent webhook-path failures for operator review.
func (h *Handler) ListFailures(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	failures, err := h.repo.ListFailures(c.Request.Context(), orgID, limit)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to list failures", err))
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"failures": failures})
}

type mappingDTO struct {
	Outcome              string `json:"outcome" validate:"required,max=100"`
	Sentiment            string `json:"sentiment" validate:"max=100"`
	TargetStatus         string `json:"target_status" validate:"max=100"`
	FollowUpDelaySeconds *int   `json:"follow_up_delay_seconds" validate:"omitempty,min=1"`
}

type mappingsRequest struct {
	Mappings []mappingDTO `json:"mappings" validate:"required,dive"`
}

func (h *Handler) GetOutcomeMappings(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	mappings, err := h.repo.GetOutcomeMappings(c.Request.Context(), orgID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to load mappings", err))
		return
	}
	out := make([]mappingDTO, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, mappingDTO{
			Outcome:              m.Outcome,
			Sentiment:            m.Sentiment,
			TargetStatus:         m.TargetStatus,
			FollowUpDelaySeconds: m.FollowUpDelaySeconds,
		})
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"mappings": out})
}

// PutOutcomeMappings replaces the organization's outcome table.
func (h *Handler) PutOutcomeMappings(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	var req mappingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	mappings := make([]OutcomeMapping, 0, len(req.Mappings))
	for _, m := range req.Mappings {
		mappings = append(mappings, OutcomeMapping{
			OrganizationID:       orgID,
			Outcome:              m.Outcome,
			Sentiment:            m.Sentiment,
			TargetStatus:         m.TargetStatus,
			FollowUpDelaySeconds: m.FollowUpDelaySeconds,
		})
	}
	if err := h.repo.ReplaceOutcomeMappings(c.Request.Context(), orgID, mappings); err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to replace mappings", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// LeadCallHistory lists a lead's call events.
func (h *Handler) LeadCallHistory(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid lead id"))
		return
	}
	eventsList, err := h.repo.EventsForLead(c.Request.Context(), orgID, leadID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to list call events", err))
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"events": eventsList})
}
