// Package inbound turns webhook events into tenant data: inbound messages
// become Contact and Message rows, status callbacks update outbound messages.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"whatsapp-inbox/internal/apperr"
	"whatsapp-inbox/internal/media"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repository"
	"whatsapp-inbox/internal/whatsapp"
	wa "whatsapp-inbox/pkg/models"
)

const deadLetterDelay = 5 * time.Minute

type Outcome string

const (
	OutcomeStored       Outcome = "stored"
	OutcomeUpdated      Outcome = "updated"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeFailed       Outcome = "failed"
)

// Result reports what happened to one event. Err is set for every outcome
// except Stored, Updated and Duplicate.
type Result struct {
	Outcome   Outcome
	MessageID string
	Err       error
}

var errDuplicate = errors.New("message already stored")

// PhoneDirectory looks up provider phone number details for auto-provisioning.
type PhoneDirectory interface {
	GetPhoneNumberDetails(ctx context.Context, phoneNumberID string) (*whatsapp.PhoneNumberDetails, error)
}

// MediaFetcher copies a provider media object into blob storage.
type MediaFetcher interface {
	Fetch(ctx context.Context, tenantID, mediaID string) (*media.Stored, error)
}

// Notifier receives every stored inbound message.
type Notifier interface {
	NotifyMessage(ctx context.Context, msg models.Message)
}

// AutoReplier evaluates tenant automation for a stored inbound message.
type AutoReplier interface {
	Evaluate(ctx context.Context, phone *models.PhoneNumber, contact *models.Contact, msg *models.Message) error
}

type Processor struct {
	repo     *repository.Repository
	phones   PhoneDirectory
	media    MediaFetcher
	notifier Notifier
	replier  AutoReplier

	now   func() time.Time
	spawn func(func())
}

// NewProcessor wires a processor. notifier and replier may be nil.
func NewProcessor(repo *repository.Repository, phones PhoneDirectory, fetcher MediaFetcher, notifier Notifier, replier AutoReplier) *Processor {
	return &Processor{
		repo:     repo,
		phones:   phones,
		media:    fetcher,
		notifier: notifier,
		replier:  replier,
		now:      func() time.Time { return time.Now().UTC() },
		spawn:    func(f func()) { go f() },
	}
}

// ProcessIncomingMessage stores one inbound message. It never returns a Go
// error: failures are classified in the Result, and faults are written to
// the dead-letter table before returning.
func (p *Processor) ProcessIncomingMessage(ctx context.Context, msg wa.InboundMessage, contacts []wa.ContactProfile, meta wa.Metadata) (res Result) {
	log := zap.L().With(zap.String("message_id", msg.ID), zap.String("phone_number_id", meta.PhoneNumberID))

	defer func() {
		if r := recover(); r != nil {
			res = p.deadLetter(ctx, &msg, errors.Errorf("panic: %v", r))
		}
	}()

	stored, err := p.ingest(ctx, &msg, contacts, meta)
	switch {
	case err == nil:
		log.Info("Inbound message stored", zap.String("type", string(stored.Type)))
		return Result{Outcome: OutcomeStored, MessageID: stored.ID}
	case errors.Is(err, errDuplicate):
		log.Info("Inbound message already stored, ignored")
		return Result{Outcome: OutcomeDuplicate}
	case apperr.IsMiss(err):
		log.Warn("Inbound message skipped", zap.Error(err))
		return Result{Outcome: OutcomeSkipped, Err: err}
	default:
		return p.deadLetter(ctx, &msg, err)
	}
}

func (p *Processor) ingest(ctx context.Context, msg *wa.InboundMessage, contacts []wa.ContactProfile, meta wa.Metadata) (*models.Message, error) {
	if msg.ID != "" {
		exists, err := p.repo.MessageExists(ctx, msg.ID)
		if err != nil {
			return nil, apperr.Fault("dedup", err)
		}
		if exists {
			return nil, errDuplicate
		}
	}

	phone, err := p.resolvePhoneNumber(ctx, meta)
	if err != nil {
		return nil, err
	}
	tenantID := *phone.UserID

	ts, err := cast.ToInt64E(msg.Timestamp)
	if err != nil {
		return nil, apperr.Fault("parse timestamp", err)
	}

	msgType, content, err := p.buildContent(ctx, tenantID, Classify(msg))
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(content)
	if err != nil {
		return nil, apperr.Fault("encode content", err)
	}

	stored := &models.Message{
		UserID:        tenantID,
		PhoneNumberID: &phone.ID,
		Type:          msgType,
		Content:       datatypes.JSON(body),
		Direction:     models.DirectionInbound,
		Status:        models.StatusDelivered,
		Timestamp:     time.Unix(ts, 0).UTC(),
	}
	if msg.ID != "" {
		stored.ProviderMessageID = &msg.ID
	}

	var contact *models.Contact
	err = p.repo.Transaction(ctx, func(tx *repository.Repository) error {
		for _, c := range contacts {
			if c.WaID == "" {
				continue
			}
			var name *string
			if c.Profile.Name != "" {
				name = &c.Profile.Name
			}
			if _, err := tx.UpsertContact(ctx, tenantID, c.WaID, name); err != nil {
				return err
			}
		}

		found, err := tx.FindContact(ctx, tenantID, msg.From)
		if errors.Is(err, repository.ErrNotFound) {
			// keep the contact upserts, drop the message
			return nil
		}
		if err != nil {
			return err
		}
		contact = found

		stored.ContactID = contact.ID
		if err := tx.CreateMessage(ctx, stored); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return errDuplicate
			}
			return err
		}
		return tx.TouchContact(ctx, contact.ID, p.now())
	})
	if err != nil && !errors.Is(err, errDuplicate) && msg.ID != "" {
		// a concurrent delivery of the same message may have committed first
		if exists, existsErr := p.repo.MessageExists(ctx, msg.ID); existsErr == nil && exists {
			err = errDuplicate
		}
	}
	if errors.Is(err, errDuplicate) {
		return nil, errDuplicate
	}
	if err != nil {
		return nil, apperr.Fault("store message", err)
	}
	if contact == nil {
		return nil, apperr.Miss("resolve contact", "no contact %s for tenant %s", msg.From, tenantID)
	}

	p.afterStore(phone, contact, *stored)
	return stored, nil
}

// resolvePhoneNumber finds the tenant that owns the receiving number,
// provisioning the number for the first admin when it is unknown or unowned.
func (p *Processor) resolvePhoneNumber(ctx context.Context, meta wa.Metadata) (*models.PhoneNumber, error) {
	if meta.PhoneNumberID == "" {
		return nil, apperr.Fault("resolve phone number", errors.New("metadata has no phone_number_id"))
	}

	pn, err := p.repo.FindPhoneNumber(ctx, meta.PhoneNumberID)
	switch {
	case err == nil && pn.UserID != nil:
		return pn, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Fault("resolve phone number", err)
	}

	admin, err := p.repo.FirstAdmin(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Fault("resolve phone number", errors.Errorf("no admin user to own phone number %s", meta.PhoneNumberID))
	}
	if err != nil {
		return nil, apperr.Fault("resolve phone number", err)
	}

	if pn != nil {
		if err := p.repo.AssignPhoneNumber(ctx, pn.ID, admin.ID); err != nil {
			return nil, apperr.Fault("assign phone number", err)
		}
		pn.UserID = &admin.ID
		zap.L().Info("Assigned unowned phone number to admin",
			zap.String("phone_number_id", pn.PhoneNumberID), zap.String("user_id", admin.ID))
		return pn, nil
	}

	details, err := p.phones.GetPhoneNumberDetails(ctx, meta.PhoneNumberID)
	if err != nil {
		return nil, apperr.Fault("fetch phone number details", err)
	}

	pn = &models.PhoneNumber{
		UserID:             &admin.ID,
		PhoneNumberID:      meta.PhoneNumberID,
		DisplayPhoneNumber: details.DisplayPhoneNumber,
		DisplayName:        details.VerifiedName,
		VerificationStatus: verificationStatus(details.CodeVerificationStatus),
	}
	if pn.DisplayPhoneNumber == "" {
		pn.DisplayPhoneNumber = meta.DisplayPhoneNumber
	}
	if pn.VerificationStatus == models.VerificationVerified {
		now := p.now()
		pn.VerifiedAt = &now
	}

	if err := p.repo.CreatePhoneNumber(ctx, pn); err != nil {
		// lost a race with a concurrent event for the same number
		if existing, ferr := p.repo.FindPhoneNumber(ctx, meta.PhoneNumberID); ferr == nil && existing.UserID != nil {
			return existing, nil
		}
		return nil, apperr.Fault("create phone number", err)
	}
	zap.L().Info("Auto-provisioned phone number",
		zap.String("phone_number_id", pn.PhoneNumberID), zap.String("user_id", admin.ID))
	return pn, nil
}

func verificationStatus(s string) models.VerificationStatus {
	switch strings.ToUpper(s) {
	case "VERIFIED":
		return models.VerificationVerified
	case "PENDING":
		return models.VerificationPending
	case "EXPIRED", "FAILED":
		return models.VerificationFailed
	default:
		return models.VerificationNotVerified
	}
}

func (p *Processor) buildContent(ctx context.Context, tenantID string, v Variant) (models.MessageType, any, error) {
	switch v := v.(type) {
	case TextVariant:
		return models.MessageTypeText, TextContent{Text: v.Body}, nil
	case MediaVariant:
		stored, err := p.media.Fetch(ctx, tenantID, v.Media.ID)
		if err != nil {
			return "", nil, apperr.Fault("fetch media", err)
		}
		mimeType := v.Media.MimeType
		if mimeType == "" {
			mimeType = stored.MimeType
		}
		return v.Type, MediaContent{
			URL:      stored.URL,
			MimeType: mimeType,
			Caption:  v.Media.Caption,
			Filename: v.Media.Filename,
		}, nil
	case LocationVariant:
		return models.MessageTypeLocation, LocationContent(v.Location), nil
	case InteractiveVariant:
		return models.MessageTypeInteractive, interactiveContent(v.Interactive), nil
	case ContactsVariant:
		return models.MessageTypeContact, contactsContent(v.Contacts), nil
	case UnknownVariant:
		return models.MessageTypeUnsupported, UnsupportedContent{Unsupported: true, Type: v.Type, RawData: v.Raw}, nil
	default:
		return "", nil, apperr.Fault("build content", errors.Errorf("unhandled variant %T", v))
	}
}

// afterStore runs the notification and auto-reply hooks detached from the
// request. Their failures are logged and never reach the caller.
func (p *Processor) afterStore(phone *models.PhoneNumber, contact *models.Contact, msg models.Message) {
	if p.notifier != nil {
		p.detach("notify", func(ctx context.Context) error {
			p.notifier.NotifyMessage(ctx, msg)
			return nil
		})
	}
	if p.replier != nil {
		p.detach("auto-reply", func(ctx context.Context) error {
			return p.replier.Evaluate(ctx, phone, contact, &msg)
		})
	}
}

func (p *Processor) detach(name string, fn func(ctx context.Context) error) {
	p.spawn(func() {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("Inbound hook panicked", zap.String("hook", name), zap.Any("panic", r))
			}
		}()
		if err := fn(context.Background()); err != nil {
			zap.L().Warn("Inbound hook failed", zap.String("hook", name), zap.Error(err))
		}
	})
}

func (p *Processor) deadLetter(ctx context.Context, msg *wa.InboundMessage, cause error) Result {
	zap.L().Error("Inbound message failed, dead-lettering",
		zap.String("message_id", msg.ID), zap.Error(cause))

	dl := &models.DeadLetter{
		Payload:    datatypes.JSON(msg.RawJSON()),
		Error:      cause.Error(),
		RetryCount: 0,
		NextRetry:  p.now().Add(deadLetterDelay),
	}
	if err := p.repo.CreateDeadLetter(context.WithoutCancel(ctx), dl); err != nil {
		zap.L().Error("Failed to write dead letter",
			zap.String("message_id", msg.ID), zap.Error(err), zap.NamedError("cause", cause))
	}
	return Result{Outcome: OutcomeDeadLettered, Err: cause}
}

// ProcessStatusUpdate applies a delivery receipt to the outbound message it
// refers to. Statuses are applied in arrival order; a late "delivered" can
// overwrite "read".
func (p *Processor) ProcessStatusUpdate(ctx context.Context, update wa.StatusUpdate) (res Result) {
	log := zap.L().With(zap.String("message_id", update.ID), zap.String("status", update.Status))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			log.Error("Status update panicked", zap.Error(err))
			res = Result{Outcome: OutcomeFailed, Err: err}
		}
	}()

	msg, err := p.repo.FindOutboundMessage(ctx, update.ID)
	if errors.Is(err, repository.ErrNotFound) {
		err = apperr.Miss("status update", "no outbound message %s", update.ID)
		log.Warn("Status update for unknown message, ignored")
		return Result{Outcome: OutcomeSkipped, Err: err}
	}
	if err != nil {
		log.Error("Status update lookup failed", zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: apperr.Fault("status update", err)}
	}

	status := MapStatus(update.Status)
	if status == models.StatusFailed && len(update.Errors) > 0 {
		log.Warn("Outbound message failed", zap.Any("errors", update.Errors))
	}

	if err := p.repo.UpdateMessageStatus(ctx, msg.ID, status, p.now()); err != nil {
		log.Error("Status update write failed", zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: apperr.Fault("status update", err)}
	}
	log.Debug("Message status updated", zap.String("from", string(msg.Status)), zap.String("to", string(status)))
	return Result{Outcome: OutcomeUpdated, MessageID: msg.ID}
}

// MapStatus converts a provider status string. Unknown values map to SENT.
func MapStatus(s string) models.MessageStatus {
	switch strings.ToLower(s) {
	case "delivered":
		return models.StatusDelivered
	case "read":
		return models.StatusRead
	case "failed":
		return models.StatusFailed
	default:
		return models.StatusSent
	}
}
