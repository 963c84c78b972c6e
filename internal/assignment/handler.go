package assignment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/httpkit"
	"leadrouter_backend/platform/validator"
)

// Handler exposes the admin CRUD surface for rules, agents, and teams.
type Handler struct {
	repo     *Repository
	validate *validator.Validator
}

func NewHandler(repo *Repository, validate *validator.Validator) *Handler {
	return &Handler{repo: repo, validate: validate}
}

type conditionDTO struct {
	Field    string `json:"field" validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    string `json:"value"`
}

type ruleRequest struct {
	Name       string         `json:"name" validate:"required,max=200"`
	Trigger    string         `json:"trigger" validate:"required"`
	Conditions []conditionDTO `json:"conditions"`
	ActionType string         `json:"action_type" validate:"required"`
	AgentID    *uuid.UUID     `json:"agent_id"`
	TeamID     *uuid.UUID     `json:"team_id"`
	Priority   int            `json:"priority"`
	Enabled    *bool          `json:"enabled"`
}

type ruleResponse struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	Trigger    string         `json:"trigger"`
	Conditions []conditionDTO `json:"conditions"`
	ActionType string         `json:"action_type"`
	AgentID    *uuid.UUID     `json:"agent_id,omitempty"`
	TeamID     *uuid.UUID     `json:"team_id,omitempty"`
	Priority   int            `json:"priority"`
	Enabled    bool           `json:"enabled"`
}

func toRuleResponse(r Rule) ruleResponse {
	conds := make([]conditionDTO, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		conds = append(conds, conditionDTO{Field: c.Field, Operator: c.Operator, Value: c.Value})
	}
	return ruleResponse{
		ID:         r.ID,
		Name:       r.Name,
		Trigger:    string(r.Trigger),
		Conditions: conds,
		ActionType: string(r.ActionType),
		AgentID:    r.ActionAgentID,
		TeamID:     r.ActionTeamID,
		Priority:   r.Priority,
		Enabled:    r.Enabled,
	}
}

func (h *Handler) ruleFromRequest(c *gin.Context, orgID uuid.UUID) (Rule, bool) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return Rule{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return Rule{}, false
	}

	rule := Rule{
		OrganizationID: orgID,
		Name:           req.Name,
		Trigger:        Trigger(req.Trigger),
		ActionType:     ActionType(req.ActionType),
		ActionAgentID:  req.AgentID,
		ActionTeamID:   req.TeamID,
		Priority:       req.Priority,
		Enabled:        req.Enabled == nil || *req.Enabled,
	}
	for _, cond := range req.Conditions {
		rule.Conditions = append(rule.Conditions, Condition{
			Field:    cond.Field,
			Operator: cond.Operator,
			Value:    cond.Value,
		})
	}
	if err := rule.Validate(); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return Rule{}, false
	}
	return rule, true
}

func (h *Handler) ListRules(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	rules, err := h.repo.ListRules(c.Request.Context(), orgID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to list rules", err))
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRuleResponse(r))
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"rules": out})
}

func (h *Handler) CreateRule(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	rule, ok := h.ruleFromRequest(c, orgID)
	if !ok {
		return
	}
	created, err := h.repo.CreateRule(c.Request.Context(), rule)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to create rule", err))
		return
	}
	httpkit.JSON(c, http.StatusCreated, toRuleResponse(created))
}

func (h *Handler) UpdateRule(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid rule id"))
		return
	}
	rule, ok := h.ruleFromRequest(c, orgID)
	if !ok {
		return
	}
	rule.ID = ruleID
	updated, err := h.repo.UpdateRule(c.Request.Context(), rule)
	if err != nil {
		if err == ErrNotFound {
			httpkit.HandleError(c, apperr.NotFound("rule not found"))
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to update rule", err))
		return
	}
	httpkit.JSON(c, http.StatusOK, toRuleResponse(updated))
}

func (h *Handler) DeleteRule(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid rule id"))
		return
	}
	if err := h.repo.DeleteRule(c.Request.Context(), orgID, ruleID); err != nil {
		if err == ErrNotFound {
			httpkit.HandleError(c, apperr.NotFound("rule not found"))
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to delete rule", err))
		return
	}
	c.Status(http.StatusNoContent)
}

type agentRequest struct {
	Name     string     `json:"name" validate:"required,max=200"`
	Email    string     `json:"email" validate:"required,email"`
	TeamID   *uuid.UUID `json:"team_id"`
	IsActive *bool      `json:"is_active"`
}

type agentResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	TeamID         *uuid.UUID `json:"team_id,omitempty"`
	IsActive       bool       `json:"is_active"`
	LastAssignedAt *string    `json:"last_assigned_at,omitempty"`
}

func toAgentResponse(a Agent) agentResponse {
	out := agentResponse{
		ID:       a.ID,
		Name:     a.Name,
		Email:    a.Email,
		TeamID:   a.TeamID,
		IsActive: a.IsActive,
	}
	if a.LastAssignedAt != nil {
		s := a.LastAssignedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		out.LastAssignedAt = &s
	}
	return out
}

func (h *Handler) ListAgents(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	agents, err := h.repo.ListAgents(c.Request.Context(), orgID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to list agents", err))
		return
	}
	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentResponse(a))
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"agents": out})
}

func (h *Handler) CreateAgent(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}
	agent := Agent{
		OrganizationID: orgID,
		TeamID:         req.TeamID,
		Name:           req.Name,
		Email:          req.Email,
		IsActive:       req.IsActive == nil || *req.IsActive,
	}
	created, err := h.repo.CreateAgent(c.Request.Context(), agent)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to create agent", err))
		return
	}
	httpkit.JSON(c, http.StatusCreated, toAgentResponse(created))
}

func (h *Handler) UpdateAgent(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	agentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid agent id"))
		return
	}
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}
	agent := Agent{
		ID:             agentID,
		OrganizationID: orgID,
		TeamID:         req.TeamID,
		Name:           req.Name,
		Email:          req.Email,
		IsActive:       req.IsActive == nil || *req.IsActive,
	}
	updated, err := h.repo.UpdateAgent(c.Request.Context(), agent)
	if err != nil {
		if err == ErrNotFound {
			httpkit.HandleError(c, apperr.NotFound("agent not found"))
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to update agent", err))
		return
	}
	httpkit.JSON(c, http.StatusOK, toAgentResponse(updated))
}

type teamRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (h *Handler) ListTeams(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	teams, err := h.repo.ListTeams(c.Request.Context(), orgID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to list teams", err))
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"teams": teams})
}

func (h *Handler) CreateTeam(c *gin.Context) {
	orgID, ok := httpkit.GetOrgID(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing organization context"))
		return
	}
	var req teamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}
	created, err := h.repo.CreateTeam(c.Request.Context(), Team{OrganizationID: orgID, Name: req.Name})
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to create team", err))
		return
	}
	httpkit.JSON(c, http.StatusCreated, created)
}
