package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleUser  UserRole = "USER"
)

type VerificationStatus string

const (
	VerificationNotVerified VerificationStatus = "NOT_VERIFIED"
	VerificationPending     VerificationStatus = "PENDING"
	VerificationVerified    VerificationStatus = "VERIFIED"
	VerificationFailed      VerificationStatus = "FAILED"
)

type MessageType string

const (
	MessageTypeText        MessageType = "TEXT"
	MessageTypeImage       MessageType = "IMAGE"
	MessageTypeDocument    MessageType = "DOCUMENT"
	MessageTypeAudio       MessageType = "AUDIO"
	MessageTypeVideo       MessageType = "VIDEO"
	MessageTypeLocation    MessageType = "LOCATION"
	MessageTypeContact     MessageType = "CONTACT"
	MessageTypeInteractive MessageType = "INTERACTIVE"
	MessageTypeUnsupported MessageType = "UNSUPPORTED"
)

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

type TemplateStatus string

const (
	TemplatePending  TemplateStatus = "PENDING"
	TemplateApproved TemplateStatus = "APPROVED"
	TemplateRejected TemplateStatus = "REJECTED"
	TemplateDisabled TemplateStatus = "DISABLED"
)

type TemplateCategory string

const (
	CategoryMarketing      TemplateCategory = "MARKETING"
	CategoryUtility        TemplateCategory = "UTILITY"
	CategoryAuthentication TemplateCategory = "AUTHENTICATION"
)

type OwnershipType string

const (
	OwnershipOwned  OwnershipType = "OWNED"
	OwnershipShared OwnershipType = "SHARED"
)

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// User is a tenant of the platform. Admin users receive auto-provisioned
// phone numbers and synced accounts.
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Role      UserRole  `gorm:"type:varchar(20);index;default:'USER'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(*gorm.DB) error {
	newID(&u.ID)
	return nil
}

// PhoneNumber is a tenant-owned WhatsApp sending endpoint.
type PhoneNumber struct {
	ID                 string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID             *string            `gorm:"type:varchar(36);index" json:"user_id"`
	PhoneNumberID      string             `gorm:"type:varchar(64);not null;uniqueIndex" json:"phone_number_id"` // provider-assigned
	DisplayPhoneNumber string             `gorm:"type:varchar(32)" json:"display_phone_number"`
	DisplayName        string             `gorm:"type:varchar(255)" json:"display_name"`
	VerificationStatus VerificationStatus `gorm:"type:varchar(20);default:'NOT_VERIFIED'" json:"verification_status"`
	VerifiedAt         *time.Time         `json:"verified_at"`
	CreatedAt          time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PhoneNumber) TableName() string {
	return "phone_numbers"
}

func (p *PhoneNumber) BeforeCreate(*gorm.DB) error {
	newID(&p.ID)
	return nil
}

// Contact is a counterparty known to a tenant, unique per (tenant, phone).
type Contact struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_contact_tenant_phone,priority:1" json:"user_id"`
	PhoneNumber   string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_contact_tenant_phone,priority:2" json:"phone_number"`
	Name          *string    `gorm:"type:varchar(255)" json:"name"`
	Tags          string     `gorm:"type:text" json:"tags"` // JSON array
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}

// Message is a single inbound or outbound communication. Content holds the
// JSON form of the type-specific payload.
type Message struct {
	ID                string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID            string         `gorm:"type:varchar(36);not null;index" json:"user_id"`
	ContactID         string         `gorm:"type:varchar(36);not null;index" json:"contact_id"`
	PhoneNumberID     *string        `gorm:"type:varchar(36);index" json:"phone_number_id"`
	ProviderMessageID *string        `gorm:"type:varchar(255);uniqueIndex" json:"provider_message_id"`
	Type              MessageType    `gorm:"type:varchar(20);not null" json:"type"`
	Content           datatypes.JSON `json:"content"`
	Direction         Direction      `gorm:"type:varchar(10);not null;index" json:"direction"`
	Status            MessageStatus  `gorm:"type:varchar(20);not null" json:"status"`
	Timestamp         time.Time      `gorm:"not null" json:"timestamp"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	newID(&m.ID)
	return nil
}

// WabaAccount is keyed by the provider's account id.
type WabaAccount struct {
	ID                       string        `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name                     string        `gorm:"type:varchar(255)" json:"name"`
	OwnershipType            OwnershipType `gorm:"type:varchar(20);default:'OWNED'" json:"ownership_type"`
	TimezoneID               string        `gorm:"type:varchar(16)" json:"timezone_id"`
	MessageTemplateNamespace string        `gorm:"type:varchar(255)" json:"message_template_namespace"`
	UserID                   *string       `gorm:"type:varchar(36);index" json:"user_id"`
	CreatedAt                time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WabaAccount) TableName() string {
	return "waba_accounts"
}

// WabaTemplate mirrors a provider template, keyed by the provider's template id.
type WabaTemplate struct {
	ID             string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	WabaAccountID  string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_template_account_name_lang,priority:1" json:"waba_account_id"`
	Name           string           `gorm:"type:varchar(512);not null;uniqueIndex:idx_template_account_name_lang,priority:2" json:"name"`
	Language       string           `gorm:"type:varchar(16);not null;uniqueIndex:idx_template_account_name_lang,priority:3" json:"language"`
	Status         TemplateStatus   `gorm:"type:varchar(20)" json:"status"`
	Category       TemplateCategory `gorm:"type:varchar(20)" json:"category"`
	Components     datatypes.JSON   `json:"components"`
	RejectedReason *string          `gorm:"type:text" json:"rejected_reason"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WabaTemplate) TableName() string {
	return "waba_templates"
}

// DeadLetter keeps an inbound message that failed processing.
type DeadLetter struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Payload    datatypes.JSON `json:"payload"`
	Error      string         `gorm:"type:text" json:"error"`
	RetryCount int            `gorm:"default:0" json:"retry_count"`
	NextRetry  time.Time      `gorm:"index" json:"next_retry"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (DeadLetter) TableName() string {
	return "dead_letters"
}

func (d *DeadLetter) BeforeCreate(*gorm.DB) error {
	newID(&d.ID)
	return nil
}

// AutomationRule represents a tenant's auto-reply trigger/action rule
type AutomationRule struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Type       string    `gorm:"type:varchar(50);not null" json:"type"`
	Enabled    bool      `gorm:"default:true" json:"enabled"`
	Priority   int       `gorm:"default:0" json:"priority"`
	Conditions string    `gorm:"type:text" json:"conditions"` // JSON conditions
	Actions    string    `gorm:"type:text" json:"actions"`    // JSON actions
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutomationRule) TableName() string {
	return "automation_rules"
}

// AutomationLog represents a log entry for automation execution
type AutomationLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RuleID       uint      `gorm:"index" json:"rule_id"`
	ContactID    string    `gorm:"type:varchar(36)" json:"contact_id"`
	TriggerType  string    `gorm:"type:varchar(50)" json:"trigger_type"`
	ActionTaken  string    `gorm:"type:text" json:"action_taken"`
	Success      bool      `json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&PhoneNumber{},
		&Contact{},
		&Message{},
		&WabaAccount{},
		&WabaTemplate{},
		&DeadLetter{},
		&AutomationRule{},
		&AutomationLog{},
	}
}
