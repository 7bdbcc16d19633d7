package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repository"
)

// DashboardHandler serves read-only operator views of the inbox.
type DashboardHandler struct {
	Repo *repository.Repository
}

func NewDashboardHandler(repo *repository.Repository) *DashboardHandler {
	return &DashboardHandler{Repo: repo}
}

func (h *DashboardHandler) GetMessages(c *gin.Context) {
	messages, err := h.Repo.ListMessages(c.Request.Context(), c.Query("contact_id"), listLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// GetDeadLetters lists inbound messages that failed processing.
func (h *DashboardHandler) GetDeadLetters(c *gin.Context) {
	letters, err := h.Repo.ListDeadLetters(c.Request.Context(), listLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if letters == nil {
		letters = []models.DeadLetter{}
	}
	c.JSON(http.StatusOK, letters)
}
