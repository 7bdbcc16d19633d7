// Package automation evaluates tenant auto-reply rules against stored
// inbound messages.
package automation

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repository"
)

// Sender sends a text message and returns the provider message id.
type Sender interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
}

type Engine struct {
	repo   *repository.Repository
	sender Sender
	now    func() time.Time
}

func NewEngine(repo *repository.Repository, sender Sender) *Engine {
	return &Engine{repo: repo, sender: sender, now: func() time.Time { return time.Now().UTC() }}
}

// Condition represents a rule condition
type Condition struct {
	Type     string `json:"type"`     // keyword, message_type, contact_tag
	Operator string `json:"operator"` // equals, contains, starts_with, regex
	Value    string `json:"value"`
}

// Action represents an automation action
type Action struct {
	Type   string         `json:"type"`   // send_message, add_tag
	Params map[string]any `json:"params"` // action-specific parameters
}

// Evaluate runs the tenant's enabled rules by priority. The first rule whose
// conditions all match executes its actions; the rest are skipped.
func (e *Engine) Evaluate(ctx context.Context, phone *models.PhoneNumber, contact *models.Contact, msg *models.Message) error {
	if msg.Direction != models.DirectionInbound {
		return nil
	}

	rules, err := e.repo.ListEnabledRules(ctx, msg.UserID)
	if err != nil {
		return err
	}

	text := messageText(msg)
	for _, rule := range rules {
		var conditions []Condition
		if err := json.Unmarshal([]byte(rule.Conditions), &conditions); err != nil {
			zap.L().Warn("Invalid automation conditions", zap.Uint("rule_id", rule.ID), zap.Error(err))
			continue
		}
		if !e.matches(conditions, contact, msg.Type, text) {
			continue
		}

		zap.L().Info("Automation rule matched",
			zap.String("rule", rule.Name), zap.String("contact", contact.PhoneNumber))

		entry := &models.AutomationLog{
			RuleID:      rule.ID,
			ContactID:   contact.ID,
			TriggerType: rule.Type,
			ActionTaken: "action_executed",
			Success:     true,
		}
		runErr := e.executeActions(ctx, rule.Actions, phone, contact, text)
		if runErr != nil {
			entry.ActionTaken = "action_failed"
			entry.Success = false
			entry.ErrorMessage = runErr.Error()
		}
		if err := e.repo.CreateAutomationLog(ctx, entry); err != nil {
			zap.L().Warn("Failed to write automation log", zap.Uint("rule_id", rule.ID), zap.Error(err))
		}
		return errors.Wrapf(runErr, "rule %q", rule.Name)
	}
	return nil
}

func (e *Engine) matches(conditions []Condition, contact *models.Contact, msgType models.MessageType, text string) bool {
	for _, cond := range conditions {
		if !e.matchCondition(cond, contact, msgType, text) {
			return false
		}
	}
	return true
}

func (e *Engine) matchCondition(cond Condition, contact *models.Contact, msgType models.MessageType, text string) bool {
	switch cond.Type {
	case "keyword":
		return matchKeyword(text, cond.Operator, cond.Value)
	case "message_type":
		return strings.EqualFold(cond.Value, string(msgType))
	case "contact_tag":
		for _, t := range decodeTags(contact.Tags) {
			if t == cond.Value {
				return true
			}
		}
		return false
	default:
		zap.L().Warn("Unknown condition type", zap.String("type", cond.Type))
		return false
	}
}

func matchKeyword(message, operator, value string) bool {
	message = strings.ToLower(strings.TrimSpace(message))
	value = strings.ToLower(value)

	switch operator {
	case "equals":
		return message == value
	case "contains":
		return strings.Contains(message, value)
	case "starts_with":
		return strings.HasPrefix(message, value)
	case "regex":
		re, err := regexp.Compile(value)
		if err != nil {
			zap.L().Warn("Invalid keyword regex", zap.String("pattern", value), zap.Error(err))
			return false
		}
		return re.MatchString(message)
	default:
		return false
	}
}

func (e *Engine) executeActions(ctx context.Context, actionsJSON string, phone *models.PhoneNumber, contact *models.Contact, text string) error {
	var actions []Action
	if err := json.Unmarshal([]byte(actionsJSON), &actions); err != nil {
		return errors.Wrap(err, "decode actions")
	}

	for _, action := range actions {
		switch action.Type {
		case "send_message":
			body, ok := action.Params["message"].(string)
			if !ok || body == "" {
				continue
			}
			body = strings.ReplaceAll(body, "{{contact_name}}", contactName(contact))
			body = strings.ReplaceAll(body, "{{message}}", text)
			if err := e.reply(ctx, phone, contact, body); err != nil {
				return err
			}
		case "add_tag":
			tag, ok := action.Params["tag"].(string)
			if !ok || tag == "" {
				continue
			}
			if err := e.addTag(ctx, contact, tag); err != nil {
				return err
			}
		default:
			zap.L().Warn("Unknown action type", zap.String("type", action.Type))
		}
	}
	return nil
}

// reply sends body and records it as an outbound message so delivery
// receipts can find it.
func (e *Engine) reply(ctx context.Context, phone *models.PhoneNumber, contact *models.Contact, body string) error {
	wamid, err := e.sender.SendText(ctx, phone.PhoneNumberID, contact.PhoneNumber, body)
	if err != nil {
		return errors.Wrap(err, "send auto-reply")
	}

	content, err := json.Marshal(map[string]string{"text": body})
	if err != nil {
		return errors.Wrap(err, "encode auto-reply")
	}
	return e.repo.CreateMessage(ctx, &models.Message{
		UserID:            contact.UserID,
		ContactID:         contact.ID,
		PhoneNumberID:     &phone.ID,
		ProviderMessageID: &wamid,
		Type:              models.MessageTypeText,
		Content:           content,
		Direction:         models.DirectionOutbound,
		Status:            models.StatusSent,
		Timestamp:         e.now(),
	})
}

func (e *Engine) addTag(ctx context.Context, contact *models.Contact, tag string) error {
	tags := decodeTags(contact.Tags)
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	tags = append(tags, tag)

	encoded, err := json.Marshal(tags)
	if err != nil {
		return errors.Wrap(err, "encode tags")
	}
	if err := e.repo.UpdateContactTags(ctx, contact.ID, string(encoded)); err != nil {
		return err
	}
	contact.Tags = string(encoded)
	return nil
}

func decodeTags(raw string) []string {
	var tags []string
	if raw == "" {
		return tags
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

func contactName(c *models.Contact) string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	return c.PhoneNumber
}

// messageText extracts the text keyword conditions match against.
func messageText(msg *models.Message) string {
	var content struct {
		Text    string `json:"text"`
		Title   string `json:"title"`
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		return ""
	}
	switch {
	case content.Text != "":
		return content.Text
	case content.Title != "":
		return content.Title
	default:
		return content.Caption
	}
}
