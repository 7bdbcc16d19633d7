// Package repository is the persistence gateway. Single-row writes are atomic;
// multi-row sequences that must commit together go through Transaction.
package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whatsapp-inbox/internal/models"
)

// ErrNotFound is returned by Find* methods when no row matches.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert hits a unique index.
var ErrDuplicate = errors.New("record already exists")

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn against a repository bound to a single transaction.
// Returning an error from fn rolls back every write fn made.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) first(ctx context.Context, dest any, query string, args ...any) error {
	err := r.db.WithContext(ctx).Where(query, args...).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Tenants ---

// FirstAdmin returns the oldest admin-role user.
func (r *Repository) FirstAdmin(ctx context.Context) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("role = ?", models.RoleAdmin).
		Order("created_at ASC").
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find admin user")
	}
	return &user, nil
}

// --- Phone numbers ---

func (r *Repository) FindPhoneNumber(ctx context.Context, providerID string) (*models.PhoneNumber, error) {
	var pn models.PhoneNumber
	if err := r.first(ctx, &pn, "phone_number_id = ?", providerID); err != nil {
		return nil, err
	}
	return &pn, nil
}

func (r *Repository) CreatePhoneNumber(ctx context.Context, pn *models.PhoneNumber) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(pn).Error, "create phone number")
}

func (r *Repository) AssignPhoneNumber(ctx context.Context, id, userID string) error {
	err := r.db.WithContext(ctx).Model(&models.PhoneNumber{}).
		Where("id = ?", id).
		Update("user_id", userID).Error
	return errors.Wrap(err, "assign phone number")
}

// --- Contacts ---

func (r *Repository) FindContact(ctx context.Context, userID, phone string) (*models.Contact, error) {
	var c models.Contact
	if err := r.first(ctx, &c, "user_id = ? AND phone_number = ?", userID, phone); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertContact creates the (tenant, phone) contact when missing and fills
// in the name only if none is stored yet.
func (r *Repository) UpsertContact(ctx context.Context, userID, phone string, name *string) (*models.Contact, error) {
	candidate := models.Contact{UserID: userID, PhoneNumber: phone, Name: name, Tags: "[]"}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "phone_number"}},
			DoNothing: true,
		}).
		Create(&candidate).Error
	if err != nil {
		return nil, errors.Wrap(err, "upsert contact")
	}

	contact, err := r.FindContact(ctx, userID, phone)
	if err != nil {
		return nil, errors.Wrap(err, "reload contact")
	}

	if name != nil && *name != "" && (contact.Name == nil || *contact.Name == "") {
		if err := r.db.WithContext(ctx).Model(contact).Update("name", *name).Error; err != nil {
			return nil, errors.Wrap(err, "backfill contact name")
		}
		contact.Name = name
	}
	return contact, nil
}

func (r *Repository) TouchContact(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", id).
		Update("last_message_at", at).Error
	return errors.Wrap(err, "touch contact")
}

// ListContacts returns contacts by most recent activity. An empty userID
// lists every tenant.
func (r *Repository) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	q := r.db.WithContext(ctx).Order("last_message_at DESC").Order("created_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var contacts []models.Contact
	err := q.Find(&contacts).Error
	return contacts, errors.Wrap(err, "list contacts")
}

func (r *Repository) UpdateContact(ctx context.Context, id string, fields map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Contact{}).Where("id = ?", id).Updates(fields)
	return res.RowsAffected, errors.Wrap(res.Error, "update contact")
}

func (r *Repository) UpdateContactTags(ctx context.Context, id, tags string) error {
	err := r.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", id).
		Update("tags", tags).Error
	return errors.Wrap(err, "update contact tags")
}

// --- Messages ---

func (r *Repository) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("provider_message_id = ?", providerMessageID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check message")
	}
	return count > 0, nil
}

// CreateMessage inserts msg. A provider message id that is already stored
// yields ErrDuplicate.
func (r *Repository) CreateMessage(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Create(msg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "create message")
}

func (r *Repository) FindOutboundMessage(ctx context.Context, providerMessageID string) (*models.Message, error) {
	var msg models.Message
	err := r.first(ctx, &msg, "provider_message_id = ? AND direction = ?", providerMessageID, models.DirectionOutbound)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *Repository) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": at}).Error
	return errors.Wrap(err, "update message status")
}

// ListMessages returns the newest messages first, optionally for one contact.
func (r *Repository) ListMessages(ctx context.Context, contactID string, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Order("timestamp DESC").Limit(limit)
	if contactID != "" {
		q = q.Where("contact_id = ?", contactID)
	}
	var messages []models.Message
	err := q.Find(&messages).Error
	return messages, errors.Wrap(err, "list messages")
}

func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	var letters []models.DeadLetter
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&letters).Error
	return letters, errors.Wrap(err, "list dead letters")
}

func (r *Repository) CreateDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(dl).Error, "create dead letter")
}

// --- WhatsApp Business Accounts ---

func (r *Repository) FindWabaAccount(ctx context.Context, id string) (*models.WabaAccount, error) {
	var acc models.WabaAccount
	if err := r.first(ctx, &acc, "id = ?", id); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *Repository) CreateWabaAccount(ctx context.Context, acc *models.WabaAccount) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(acc).Error, "create waba account")
}

func (r *Repository) UpdateWabaAccount(ctx context.Context, acc *models.WabaAccount) error {
	return errors.Wrap(r.db.WithContext(ctx).Save(acc).Error, "update waba account")
}

func (r *Repository) ListWabaAccounts(ctx context.Context) ([]models.WabaAccount, error) {
	var accounts []models.WabaAccount
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&accounts).Error
	return accounts, errors.Wrap(err, "list waba accounts")
}

// --- Templates ---

func (r *Repository) FindTemplate(ctx context.Context, id string) (*models.WabaTemplate, error) {
	var tmpl models.WabaTemplate
	if err := r.first(ctx, &tmpl, "id = ?", id); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (r *Repository) CreateTemplate(ctx context.Context, tmpl *models.WabaTemplate) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(tmpl).Error, "create template")
}

func (r *Repository) SaveTemplate(ctx context.Context, tmpl *models.WabaTemplate) error {
	return errors.Wrap(r.db.WithContext(ctx).Save(tmpl).Error, "save template")
}

// DeleteTemplatesByName removes every language variant of a template.
func (r *Repository) DeleteTemplatesByName(ctx context.Context, accountID, name string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("waba_account_id = ? AND name = ?", accountID, name).
		Delete(&models.WabaTemplate{})
	return res.RowsAffected, errors.Wrap(res.Error, "delete templates")
}

// ListTemplates returns templates of one account, or of every account when
// accountID is empty.
func (r *Repository) ListTemplates(ctx context.Context, accountID string) ([]models.WabaTemplate, error) {
	q := r.db.WithContext(ctx).Order("name ASC")
	if accountID != "" {
		q = q.Where("waba_account_id = ?", accountID)
	}
	var templates []models.WabaTemplate
	err := q.Find(&templates).Error
	return templates, errors.Wrap(err, "list templates")
}

// --- Automation ---

func (r *Repository) ListEnabledRules(ctx context.Context, userID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", userID, true).
		Order("priority DESC").
		Find(&rules).Error
	return rules, errors.Wrap(err, "list automation rules")
}

func (r *Repository) ListRules(ctx context.Context) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := r.db.WithContext(ctx).Order("priority DESC").Order("created_at DESC").Find(&rules).Error
	return rules, errors.Wrap(err, "list automation rules")
}

func (r *Repository) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(rule).Error, "create automation rule")
}

// UpdateRule applies fields to one rule and reports how many rows matched.
func (r *Repository) UpdateRule(ctx context.Context, id uint, fields map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(fields)
	return res.RowsAffected, errors.Wrap(res.Error, "update automation rule")
}

func (r *Repository) DeleteRule(ctx context.Context, id uint) (int64, error) {
	res := r.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	return res.RowsAffected, errors.Wrap(res.Error, "delete automation rule")
}

func (r *Repository) CreateAutomationLog(ctx context.Context, entry *models.AutomationLog) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(entry).Error, "create automation log")
}

func (r *Repository) ListAutomationLogs(ctx context.Context, limit int) ([]models.AutomationLog, error) {
	var logs []models.AutomationLog
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, errors.Wrap(err, "list automation logs")
}

// AutomationStats counts rules and their executions.
type AutomationStats struct {
	TotalRules      int64 `json:"total_rules"`
	ActiveRules     int64 `json:"active_rules"`
	TotalExecutions int64 `json:"total_executions"`
	SuccessfulExecs int64 `json:"successful_executions"`
	FailedExecs     int64 `json:"failed_executions"`
}

func (r *Repository) AutomationStats(ctx context.Context) (*AutomationStats, error) {
	var stats AutomationStats
	db := r.db.WithContext(ctx)
	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.TotalRules, db.Model(&models.AutomationRule{})},
		{&stats.ActiveRules, db.Model(&models.AutomationRule{}).Where("enabled = ?", true)},
		{&stats.TotalExecutions, db.Model(&models.AutomationLog{})},
		{&stats.SuccessfulExecs, db.Model(&models.AutomationLog{}).Where("success = ?", true)},
		{&stats.FailedExecs, db.Model(&models.AutomationLog{}).Where("success = ?", false)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, errors.Wrap(err, "automation stats")
		}
	}
	return &stats, nil
}
