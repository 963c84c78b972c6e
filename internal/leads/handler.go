package leads

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadrouter_backend/internal/leads/domain"
	"leadrouter_backend/internal/leads/repository"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/httpkit"
	"leadrouter_backend/platform/validator"
)

// Handler exposes the admin lead surface: read, status transition, history,
// deactivation, and pipeline configuration.
type Handler struct {
	service  *Service
	validate *validator.Validator
}

func NewHandler(service *Service, validate *validator.Validator) *Handler {
	return &Handler{service: service, validate: validate}
}

func adminScope(c *gin.Context) (orgID, resourceID uuid.UUID, ok bool) {
	orgID, found := httpkit.GetOrgID(c)
	if !found {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return uuid.Nil, uuid.Nil, false
	}
	resourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid id"))
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, resourceID, true
}

type leadView struct {
	ID              uuid.UUID         `json:"id"`
	Source          string            `json:"source"`
	ExternalID      *string           `json:"external_id,omitempty"`
	Name            string            `json:"name"`
	Phone           string            `json:"phone"`
	Email           string            `json:"email"`
	Extra           map[string]string `json:"extra,omitempty"`
	Status          string            `json:"status"`
	AssignedAgentID *uuid.UUID        `json:"assigned_agent_id,omitempty"`
	AssignedTeamID  *uuid.UUID        `json:"assigned_team_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toLeadView(l repository.Lead) leadView {
	return leadView{
		ID:              l.ID,
		Source:          string(l.Source),
		ExternalID:      l.ExternalID,
		Name:            l.Name,
		Phone:           l.Phone,
		Email:           l.Email,
		Extra:           l.Extra,
		Status:          l.Status,
		AssignedAgentID: l.AssignedAgentID,
		AssignedTeamID:  l.AssignedTeamID,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

func (h *Handler) GetLead(c *gin.Context) {
	orgID, leadID, ok := adminScope(c)
	if !ok {
		return
	}
	lead, err := h.service.Get(c.Request.Context(), orgID, leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, toLeadView(lead))
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
	Cause  string `json:"cause" validate:"max=500"`
	Reopen bool   `json:"reopen"`
}

// TransitionLead moves a lead to a new pipeline status. Leaving a terminal
// status requires reopen=true.
func (h *Handler) TransitionLead(c *gin.Context) {
	orgID, leadID, ok := adminScope(c)
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	cause := req.Cause
	if cause == "" {
		cause = "manual"
	}
	tr, err := h.service.Transition(c.Request.Context(), orgID, leadID, req.Status, cause, req.Reopen)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{
		"from":     tr.From,
		"to":       tr.To,
		"cause":    tr.Cause,
		"reopened": tr.Reopen,
	})
}

func (h *Handler) LeadHistory(c *gin.Context) {
	orgID, leadID, ok := adminScope(c)
	if !ok {
		return
	}
	entries, err := h.service.History(c.Request.Context(), orgID, leadID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to load history", err))
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"history": entries})
}

func (h *Handler) DeactivateLead(c *gin.Context) {
	orgID, leadID, ok := adminScope(c)
	if !ok {
		return
	}
	if err := h.service.Deactivate(c.Request.Context(), orgID, leadID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type pipelineStatusDTO struct {
	Name     string `json:"name" validate:"required,max=100"`
	Terminal bool   `json:"terminal"`
	Entry    bool   `json:"entry"`
}

type pipelineRequest struct {
	Statuses []pipelineStatusDTO `json:"statuses" validate:"required,min=2,dive"`
}

func (h *Handler) GetPipeline(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	pipeline, err := h.service.Pipeline(c.Request.Context(), orgID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to load pipeline", err))
		return
	}
	out := make([]pipelineStatusDTO, 0, len(pipeline.Statuses))
	for _, s := range pipeline.Statuses {
		out = append(out, pipelineStatusDTO{Name: s.Name, Terminal: s.Terminal, Entry: s.Entry})
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"statuses": out})
}

// PutPipeline replaces the organization's status pipeline. Position follows
// submission order.
func (h *Handler) PutPipeline(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	var req pipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	pipeline := domain.Pipeline{}
	for i, s := range req.Statuses {
		pipeline.Statuses = append(pipeline.Statuses, domain.StatusDef{
			Name:     s.Name,
			Position: i,
			Terminal: s.Terminal,
			Entry:    s.Entry,
		})
	}
	if err := h.service.ReplacePipeline(c.Request.Context(), orgID, pipeline); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
