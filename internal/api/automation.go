package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"whatsapp-inbox/internal/apperr"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type AutomationHandler struct {
	Repo *repository.Repository
}

func NewAutomationHandler(repo *repository.Repository) *AutomationHandler {
	return &AutomationHandler{Repo: repo}
}

// GetRules returns all automation rules
func (h *AutomationHandler) GetRules(c *gin.Context) {
	rules, err := h.Repo.ListRules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if rules == nil {
		rules = []models.AutomationRule{}
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule creates a new automation rule. Rules without a tenant belong
// to the first admin.
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req struct {
		UserID     string          `json:"user_id"`
		Name       string          `json:"name" binding:"required"`
		Type       string          `json:"type" binding:"required"`
		Priority   int             `json:"priority"`
		Conditions json.RawMessage `json:"conditions" binding:"required"`
		Actions    json.RawMessage `json:"actions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Caller("create rule", err))
		return
	}

	ctx := c.Request.Context()
	if req.UserID == "" {
		admin, err := h.Repo.FirstAdmin(ctx)
		if err != nil {
			respondError(c, apperr.Caller("create rule", errors.Wrap(err, "no user_id and no admin user")))
			return
		}
		req.UserID = admin.ID
	}

	rule := models.AutomationRule{
		UserID:     req.UserID,
		Name:       req.Name,
		Type:       req.Type,
		Enabled:    true,
		Priority:   req.Priority,
		Conditions: string(req.Conditions),
		Actions:    string(req.Actions),
	}
	if err := h.Repo.CreateRule(ctx, &rule); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": rule.ID, "message": "Rule created successfully"})
}

// UpdateRule updates an existing automation rule
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}

	var req struct {
		Name       string          `json:"name"`
		Type       string          `json:"type"`
		Priority   *int            `json:"priority"`
		Conditions json.RawMessage `json:"conditions"`
		Actions    json.RawMessage `json:"actions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Caller("update rule", err))
		return
	}

	updateData := map[string]any{}
	if req.Name != "" {
		updateData["name"] = req.Name
	}
	if req.Type != "" {
		updateData["type"] = req.Type
	}
	if req.Priority != nil {
		updateData["priority"] = *req.Priority
	}
	if len(req.Conditions) > 0 {
		updateData["conditions"] = string(req.Conditions)
	}
	if len(req.Actions) > 0 {
		updateData["actions"] = string(req.Actions)
	}
	if len(updateData) == 0 {
		respondError(c, apperr.Caller("update rule", errors.New("nothing to update")))
		return
	}

	h.applyRuleUpdate(c, id, updateData, "Rule updated successfully")
}

// ToggleRule enables or disables a rule
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Caller("toggle rule", err))
		return
	}

	h.applyRuleUpdate(c, id, map[string]any{"enabled": req.Enabled}, "Rule toggled successfully")
}

func (h *AutomationHandler) applyRuleUpdate(c *gin.Context, id uint, fields map[string]any, message string) {
	n, err := h.Repo.UpdateRule(c.Request.Context(), id, fields)
	if err != nil {
		respondError(c, err)
		return
	}
	if n == 0 {
		respondError(c, apperr.Miss("update rule", "rule %d not found", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// DeleteRule deletes an automation rule
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}

	n, err := h.Repo.DeleteRule(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if n == 0 {
		respondError(c, apperr.Miss("delete rule", "rule %d not found", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

// GetLogs returns automation execution logs
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	logs, err := h.Repo.ListAutomationLogs(c.Request.Context(), listLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if logs == nil {
		logs = []models.AutomationLog{}
	}
	c.JSON(http.StatusOK, logs)
}

// GetAnalytics returns automation analytics
func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	stats, err := h.Repo.AutomationStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func ruleID(c *gin.Context) (uint, bool) {
	id, err := cast.ToUintE(c.Param("id"))
	if err != nil || id == 0 {
		respondError(c, apperr.Caller("rule id", errors.Errorf("invalid rule id %q", c.Param("id"))))
		return 0, false
	}
	return id, true
}

func listLimit(c *gin.Context) int {
	limit := cast.ToInt(c.DefaultQuery("limit", "0"))
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
