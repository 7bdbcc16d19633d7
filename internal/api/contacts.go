package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"whatsapp-inbox/internal/apperr"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repository"
)

type ContactHandler struct {
	Repo *repository.Repository
}

func NewContactHandler(repo *repository.Repository) *ContactHandler {
	return &ContactHandler{Repo: repo}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	contacts, err := h.Repo.ListContacts(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	// Return empty array instead of null
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

type UpdateContactRequest struct {
	Name *string  `json:"name"`
	Tags []string `json:"tags"`
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Caller("update contact", err))
		return
	}

	fields := map[string]any{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Tags != nil {
		tags, err := json.Marshal(req.Tags)
		if err != nil {
			respondError(c, apperr.Caller("update contact", err))
			return
		}
		fields["tags"] = string(tags)
	}
	if len(fields) == 0 {
		respondError(c, apperr.Caller("update contact", errors.New("nothing to update")))
		return
	}

	n, err := h.Repo.UpdateContact(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		respondError(c, err)
		return
	}
	if n == 0 {
		respondError(c, apperr.Miss("update contact", "contact %s not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Contact updated"})
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	contacts, err := h.Repo.ListContacts(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"Phone Number", "Name", "Tags", "Last Message At", "Created At"})
	for _, contact := range contacts {
		name := ""
		if contact.Name != nil {
			name = *contact.Name
		}
		lastMessage := ""
		if contact.LastMessageAt != nil {
			lastMessage = contact.LastMessageAt.UTC().Format(time.RFC3339)
		}
		w.Write([]string{contact.PhoneNumber, name, contact.Tags, lastMessage, contact.CreatedAt.UTC().Format(time.RFC3339)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}
