package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/inbound"
	"whatsapp-inbox/pkg/models"
)

const signatureHeader = "X-Hub-Signature-256"

// Processor handles the two event kinds a WhatsApp webhook carries.
type Processor interface {
	ProcessIncomingMessage(ctx context.Context, msg models.InboundMessage, contacts []models.ContactProfile, meta models.Metadata) inbound.Result
	ProcessStatusUpdate(ctx context.Context, update models.StatusUpdate) inbound.Result
}

type Handler struct {
	Config    *config.Config
	Processor Processor
}

func NewHandler(cfg *config.Config, processor Processor) *Handler {
	return &Handler{
		Config:    cfg,
		Processor: processor,
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "" && token != "" {
		if mode == "subscribe" && token == h.Config.VerifyToken {
			zap.L().Info("Webhook verified successfully")
			c.String(http.StatusOK, challenge)
		} else {
			zap.L().Warn("Webhook verification rejected", zap.String("mode", mode))
			c.Status(http.StatusForbidden)
		}
	} else {
		c.Status(http.StatusBadRequest)
	}
}

// HandleMessage acknowledges every decodable payload with 200. Per-event
// failures are handled by the processor and never change the response.
func (h *Handler) HandleMessage(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		zap.L().Warn("Failed to read webhook body", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	if h.Config.AppSecret != "" && !validSignature(h.Config.AppSecret, body, c.GetHeader(signatureHeader)) {
		zap.L().Warn("Webhook signature validation failed")
		c.Status(http.StatusForbidden)
		return
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		zap.L().Warn("Error decoding webhook payload", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	// processing outlives a provider that hangs up early
	h.dispatch(context.WithoutCancel(c.Request.Context()), &payload)
	c.Status(http.StatusOK)
}

func (h *Handler) dispatch(ctx context.Context, payload *models.WebhookPayload) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Panic while dispatching webhook", zap.Any("panic", r))
		}
	}()

	counts := map[inbound.Outcome]int{}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			for _, msg := range value.Messages {
				res := h.Processor.ProcessIncomingMessage(ctx, msg, value.Contacts, value.Metadata)
				counts[res.Outcome]++
			}
			for _, status := range value.Statuses {
				res := h.Processor.ProcessStatusUpdate(ctx, status)
				counts[res.Outcome]++
			}
		}
	}

	if len(counts) > 0 {
		fields := make([]zap.Field, 0, len(counts))
		for outcome, n := range counts {
			fields = append(fields, zap.Int(string(outcome), n))
		}
		zap.L().Debug("Webhook processed", fields...)
	}
}

// validSignature checks a "sha256=<hex>" header against the HMAC of body.
func validSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
