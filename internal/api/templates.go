package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/apperr"
	"whatsapp-inbox/internal/metasync"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/whatsapp"
)

// TemplateService is the reconciler surface exposed to operators.
type TemplateService interface {
	SyncFromMeta(ctx context.Context) metasync.SyncResult
	CompareWithMeta(ctx context.Context) (*metasync.Comparison, error)
	RefreshTemplateStatus(ctx context.Context, templateID string) (*models.WabaTemplate, error)
	CreateTemplate(ctx context.Context, accountID string, req whatsapp.TemplateRequest) (*models.WabaTemplate, error)
	DeleteTemplate(ctx context.Context, templateID string) error
	ListTemplates(ctx context.Context, accountID string) ([]models.WabaTemplate, error)
}

type TemplateHandler struct {
	Service TemplateService
}

func NewTemplateHandler(service TemplateService) *TemplateHandler {
	return &TemplateHandler{Service: service}
}

// respondError maps an error kind to its HTTP status.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *TemplateHandler) Sync(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.SyncFromMeta(c.Request.Context()))
}

func (h *TemplateHandler) Compare(c *gin.Context) {
	cmp, err := h.Service.CompareWithMeta(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (h *TemplateHandler) Refresh(c *gin.Context) {
	tmpl, err := h.Service.RefreshTemplateStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.Service.ListTemplates(c.Request.Context(), c.Query("waba_account_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if templates == nil {
		templates = []models.WabaTemplate{}
	}
	c.JSON(http.StatusOK, templates)
}

type CreateTemplateRequest struct {
	WabaAccountID string          `json:"waba_account_id"`
	Name          string          `json:"name" binding:"required"`
	Language      string          `json:"language" binding:"required"`
	Category      string          `json:"category" binding:"required"`
	Components    json.RawMessage `json:"components"`
}

func (h *TemplateHandler) Create(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Caller("create template", errors.Wrap(err, "invalid request")))
		return
	}

	tmpl, err := h.Service.CreateTemplate(c.Request.Context(), req.WabaAccountID, whatsapp.TemplateRequest{
		Name:       req.Name,
		Language:   req.Language,
		Category:   req.Category,
		Components: req.Components,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.Service.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Template deleted successfully"})
}
