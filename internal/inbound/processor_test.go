package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"whatsapp-inbox/internal/apperr"
	"whatsapp-inbox/internal/media"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repository"
	"whatsapp-inbox/internal/testutil"
	"whatsapp-inbox/internal/whatsapp"
	wa "whatsapp-inbox/pkg/models"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePhones struct {
	details *whatsapp.PhoneNumberDetails
	err     error
	calls   atomic.Int32
}

func (f *fakePhones) GetPhoneNumberDetails(_ context.Context, id string) (*whatsapp.PhoneNumberDetails, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.details != nil {
		return f.details, nil
	}
	return &whatsapp.PhoneNumberDetails{ID: id, DisplayPhoneNumber: "+1 555 000 0001", VerifiedName: "Acme", CodeVerificationStatus: "VERIFIED"}, nil
}

type fakeMedia struct {
	stored          *media.Stored
	err             error
	tenant, mediaID string
}

func (f *fakeMedia) Fetch(_ context.Context, tenantID, mediaID string) (*media.Stored, error) {
	f.tenant, f.mediaID = tenantID, mediaID
	if f.err != nil {
		return nil, f.err
	}
	return f.stored, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []models.Message
	boom bool
}

func (n *recordingNotifier) NotifyMessage(_ context.Context, msg models.Message) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
	if n.boom {
		panic("socket closed")
	}
}

type recordingReplier struct {
	calls   int
	contact *models.Contact
	err     error
}

func (r *recordingReplier) Evaluate(_ context.Context, _ *models.PhoneNumber, contact *models.Contact, _ *models.Message) error {
	r.calls++
	r.contact = contact
	return r.err
}

type harness struct {
	db     *gorm.DB
	repo   *repository.Repository
	admin  *models.User
	phones *fakePhones
	media  *fakeMedia
	proc   *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	h := &harness{
		db:     db,
		repo:   repository.New(db),
		admin:  testutil.SeedAdmin(t, db),
		phones: &fakePhones{},
		media:  &fakeMedia{stored: &media.Stored{URL: "/media/media/t/M1.jpg", MimeType: "image/jpeg"}},
	}
	h.proc = NewProcessor(h.repo, h.phones, h.media, nil, nil)
	h.proc.now = func() time.Time { return fixedNow }
	h.proc.spawn = func(f func()) { f() }
	return h
}

func decodeMessage(t *testing.T, raw string) wa.InboundMessage {
	t.Helper()
	var msg wa.InboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return msg
}

func profile(waID, name string) wa.ContactProfile {
	var c wa.ContactProfile
	c.WaID = waID
	c.Profile.Name = name
	return c
}

var pn1 = wa.Metadata{PhoneNumberID: "PN1", DisplayPhoneNumber: "15550000001"}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestProcessIncomingMessage_TextFromUnknownNumber(t *testing.T) {
	h := newHarness(t)
	msg := decodeMessage(t, `{"id":"wamid.1","from":"15551230000","type":"text","text":{"body":"hi"},"timestamp":"1700000000"}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("15551230000", "Ann")}, pn1)
	require.Equal(t, OutcomeStored, res.Outcome)
	require.NoError(t, res.Err)

	var phones []models.PhoneNumber
	require.NoError(t, h.db.Find(&phones).Error)
	require.Len(t, phones, 1)
	assert.Equal(t, "PN1", phones[0].PhoneNumberID)
	require.NotNil(t, phones[0].UserID)
	assert.Equal(t, h.admin.ID, *phones[0].UserID)
	assert.Equal(t, models.VerificationVerified, phones[0].VerificationStatus)
	assert.NotNil(t, phones[0].VerifiedAt)

	var contacts []models.Contact
	require.NoError(t, h.db.Find(&contacts).Error)
	require.Len(t, contacts, 1)
	assert.Equal(t, "15551230000", contacts[0].PhoneNumber)
	assert.Equal(t, h.admin.ID, contacts[0].UserID)
	require.NotNil(t, contacts[0].LastMessageAt)

	var stored models.Message
	require.NoError(t, h.db.First(&stored, "id = ?", res.MessageID).Error)
	assert.Equal(t, models.MessageTypeText, stored.Type)
	assert.JSONEq(t, `{"text":"hi"}`, string(stored.Content))
	assert.Equal(t, models.DirectionInbound, stored.Direction)
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).Unix(), stored.Timestamp.Unix())
	assert.Equal(t, contacts[0].ID, stored.ContactID)
	require.NotNil(t, stored.ProviderMessageID)
	assert.Equal(t, "wamid.1", *stored.ProviderMessageID)
}

func TestProcessIncomingMessage_ContentKinds(t *testing.T) {
	const head = `"id":"wamid.%s","from":"15551230000","timestamp":"1700000000"`

	tests := []struct {
		name     string
		body     string
		wantType models.MessageType
		wantJSON string
	}{
		{
			name:     "image",
			body:     `"type":"image","image":{"id":"M1","mime_type":"image/jpeg","caption":"look"}`,
			wantType: models.MessageTypeImage,
			wantJSON: `{"url":"/media/media/t/M1.jpg","mimeType":"image/jpeg","caption":"look"}`,
		},
		{
			name:     "video without mime type",
			body:     `"type":"video","video":{"id":"M1"}`,
			wantType: models.MessageTypeVideo,
			wantJSON: `{"url":"/media/media/t/M1.jpg","mimeType":"image/jpeg"}`,
		},
		{
			name:     "audio",
			body:     `"type":"audio","audio":{"id":"M1","mime_type":"audio/ogg"}`,
			wantType: models.MessageTypeAudio,
			wantJSON: `{"url":"/media/media/t/M1.jpg","mimeType":"audio/ogg"}`,
		},
		{
			name:     "document",
			body:     `"type":"document","document":{"id":"M1","mime_type":"application/pdf","filename":"invoice.pdf"}`,
			wantType: models.MessageTypeDocument,
			wantJSON: `{"url":"/media/media/t/M1.jpg","mimeType":"application/pdf","filename":"invoice.pdf"}`,
		},
		{
			name:     "location",
			body:     `"type":"location","location":{"latitude":52.1,"longitude":4.3,"name":"Office"}`,
			wantType: models.MessageTypeLocation,
			wantJSON: `{"latitude":52.1,"longitude":4.3,"name":"Office"}`,
		},
		{
			name:     "button reply",
			body:     `"type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"yes","title":"Yes"}}`,
			wantType: models.MessageTypeInteractive,
			wantJSON: `{"interactiveType":"button_reply","buttonId":"yes","title":"Yes"}`,
		},
		{
			name:     "list reply",
			body:     `"type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"row2","title":"Blue"}}`,
			wantType: models.MessageTypeInteractive,
			wantJSON: `{"interactiveType":"list_reply","listId":"row2","title":"Blue"}`,
		},
		{
			name:     "contacts",
			body:     `"type":"contacts","contacts":[{"name":{"formatted_name":"Bob"},"phones":[{"phone":"+1 555 999"}]}]`,
			wantType: models.MessageTypeContact,
			wantJSON: `{"contacts":[{"name":"Bob","phones":["+1 555 999"]}]}`,
		},
		{
			name:     "text without payload",
			body:     `"type":"text"`,
			wantType: models.MessageTypeUnsupported,
		},
		{
			name:     "sticker",
			body:     `"type":"sticker","sticker":{"id":"ST1"}`,
			wantType: models.MessageTypeUnsupported,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			raw := "{" + fmt.Sprintf(head, fmt.Sprint(i)) + "," + tt.body + "}"
			msg := decodeMessage(t, raw)

			res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("15551230000", "")}, pn1)
			require.Equal(t, OutcomeStored, res.Outcome, "err: %v", res.Err)

			var stored models.Message
			require.NoError(t, h.db.First(&stored, "id = ?", res.MessageID).Error)
			assert.Equal(t, tt.wantType, stored.Type)

			want := tt.wantJSON
			if tt.wantType == models.MessageTypeUnsupported {
				want = fmt.Sprintf(`{"unsupported":true,"type":%q,"rawData":%s}`, msg.Type, raw)
			}
			assert.JSONEq(t, want, string(stored.Content))
		})
	}
}

func TestProcessIncomingMessage_MediaStoredUnderTenant(t *testing.T) {
	h := newHarness(t)
	msg := decodeMessage(t, `{"id":"wamid.m","from":"1555","timestamp":"1700000000","type":"image","image":{"id":"IMG9"}}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "")}, pn1)
	require.Equal(t, OutcomeStored, res.Outcome)
	assert.Equal(t, h.admin.ID, h.media.tenant)
	assert.Equal(t, "IMG9", h.media.mediaID)
}

func TestProcessIncomingMessage_Duplicate(t *testing.T) {
	h := newHarness(t)
	msg := decodeMessage(t, `{"id":"wamid.dup","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)
	contacts := []wa.ContactProfile{profile("1555", "")}

	first := h.proc.ProcessIncomingMessage(context.Background(), msg, contacts, pn1)
	require.Equal(t, OutcomeStored, first.Outcome)

	second := h.proc.ProcessIncomingMessage(context.Background(), msg, contacts, pn1)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.NoError(t, second.Err)

	assert.EqualValues(t, 1, count(t, h.db, &models.Message{}))
	assert.EqualValues(t, 0, count(t, h.db, &models.DeadLetter{}))
	assert.EqualValues(t, 1, h.phones.calls.Load())
}

// gatedPhones holds each lookup until every expected caller has arrived.
type gatedPhones struct {
	fakePhones
	arrived sync.WaitGroup
}

func (g *gatedPhones) GetPhoneNumberDetails(ctx context.Context, id string) (*whatsapp.PhoneNumberDetails, error) {
	g.arrived.Done()
	released := make(chan struct{})
	go func() {
		g.arrived.Wait()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		return nil, errors.New("gate timed out")
	}
	return g.fakePhones.GetPhoneNumberDetails(ctx, id)
}

func TestProcessIncomingMessage_OverlappingRedeliveryIsDuplicate(t *testing.T) {
	h := newHarness(t)
	phones := &gatedPhones{}
	phones.arrived.Add(2)
	proc := NewProcessor(h.repo, phones, h.media, nil, nil)
	proc.now = func() time.Time { return fixedNow }
	proc.spawn = func(f func()) { f() }

	msg := decodeMessage(t, `{"id":"wamid.DUP","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)
	contacts := []wa.ContactProfile{profile("1555", "Ann")}

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = proc.ProcessIncomingMessage(context.Background(), msg, contacts, pn1)
		}(i)
	}
	wg.Wait()

	outcomes := []Outcome{results[0].Outcome, results[1].Outcome}
	assert.ElementsMatch(t, []Outcome{OutcomeStored, OutcomeDuplicate}, outcomes, "errs: %v, %v", results[0].Err, results[1].Err)
	assert.EqualValues(t, 2, phones.calls.Load())
	assert.EqualValues(t, 1, count(t, h.db, &models.Message{}))
	assert.EqualValues(t, 1, count(t, h.db, &models.Contact{}))
	assert.EqualValues(t, 0, count(t, h.db, &models.DeadLetter{}))
}

func TestProcessIncomingMessage_ContactMissingSkipsMessage(t *testing.T) {
	h := newHarness(t)
	msg := decodeMessage(t, `{"id":"wamid.2","from":"1999","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1888", "Other")}, pn1)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, apperr.IsMiss(res.Err))

	assert.EqualValues(t, 0, count(t, h.db, &models.Message{}))
	assert.EqualValues(t, 0, count(t, h.db, &models.DeadLetter{}))
	// the sender profiles in the payload are still recorded
	_, err := h.repo.FindContact(context.Background(), h.admin.ID, "1888")
	assert.NoError(t, err)
}

func TestProcessIncomingMessage_MediaFailureDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.media.err = errors.New("lookaside 403")
	raw := `{"id":"wamid.3","from":"1555","timestamp":"1700000000","type":"image","image":{"id":"IMG1"}}`

	res := h.proc.ProcessIncomingMessage(context.Background(), decodeMessage(t, raw), []wa.ContactProfile{profile("1555", "")}, pn1)
	assert.Equal(t, OutcomeDeadLettered, res.Outcome)
	assert.ErrorContains(t, res.Err, "lookaside 403")

	var letters []models.DeadLetter
	require.NoError(t, h.db.Find(&letters).Error)
	require.Len(t, letters, 1)
	assert.JSONEq(t, raw, string(letters[0].Payload))
	assert.Contains(t, letters[0].Error, "lookaside 403")
	assert.Equal(t, 0, letters[0].RetryCount)
	assert.Equal(t, fixedNow.Add(5*time.Minute).Unix(), letters[0].NextRetry.Unix())

	assert.EqualValues(t, 0, count(t, h.db, &models.Message{}))
}

func TestProcessIncomingMessage_MessageInsertFailureRollsBackContacts(t *testing.T) {
	h := newHarness(t)
	testutil.FailCreatesOn(t, h.db, "messages", errors.New("disk full"))
	msg := decodeMessage(t, `{"id":"wamid.4","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "Ann")}, pn1)
	assert.Equal(t, OutcomeDeadLettered, res.Outcome)
	assert.ErrorContains(t, res.Err, "disk full")

	assert.EqualValues(t, 0, count(t, h.db, &models.Contact{}))
	assert.EqualValues(t, 1, count(t, h.db, &models.DeadLetter{}))
}

func TestProcessIncomingMessage_DeadLetterWriteFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	testutil.FailCreatesOn(t, h.db, "messages", errors.New("disk full"))
	testutil.FailCreatesOn(t, h.db, "dead_letters", errors.New("disk still full"))
	msg := decodeMessage(t, `{"id":"wamid.5","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "")}, pn1)
	assert.Equal(t, OutcomeDeadLettered, res.Outcome)
	assert.EqualValues(t, 0, count(t, h.db, &models.DeadLetter{}))
}

func TestProcessIncomingMessage_NoAdminDeadLetters(t *testing.T) {
	db := testutil.NewDB(t)
	proc := NewProcessor(repository.New(db), &fakePhones{}, &fakeMedia{}, nil, nil)
	msg := decodeMessage(t, `{"id":"wamid.6","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)

	res := proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "")}, pn1)
	assert.Equal(t, OutcomeDeadLettered, res.Outcome)
	assert.ErrorContains(t, res.Err, "no admin user")
	assert.EqualValues(t, 0, count(t, db, &models.PhoneNumber{}))
}

func TestProcessIncomingMessage_PhoneDetailsFailureDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.phones.err = &whatsapp.APIError{StatusCode: 400, Code: 100, Message: "bad id"}
	msg := decodeMessage(t, `{"id":"wamid.7","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "")}, pn1)
	assert.Equal(t, OutcomeDeadLettered, res.Outcome)

	var apiErr *whatsapp.APIError
	assert.True(t, errors.As(res.Err, &apiErr))
}

func TestProcessIncomingMessage_UnownedPhoneNumberAssignedToAdmin(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.repo.CreatePhoneNumber(context.Background(), &models.PhoneNumber{PhoneNumberID: "PN1"}))
	msg := decodeMessage(t, `{"id":"wamid.8","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "")}, pn1)
	require.Equal(t, OutcomeStored, res.Outcome)

	pn, err := h.repo.FindPhoneNumber(context.Background(), "PN1")
	require.NoError(t, err)
	require.NotNil(t, pn.UserID)
	assert.Equal(t, h.admin.ID, *pn.UserID)
	assert.Zero(t, h.phones.calls.Load())
}

func TestProcessIncomingMessage_OwnedPhoneNumberKeepsTenant(t *testing.T) {
	h := newHarness(t)
	other := &models.User{Email: "other@example.com", Role: models.RoleUser}
	require.NoError(t, h.db.Create(other).Error)
	require.NoError(t, h.repo.CreatePhoneNumber(context.Background(), &models.PhoneNumber{PhoneNumberID: "PN1", UserID: &other.ID}))
	msg := decodeMessage(t, `{"id":"wamid.9","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "")}, pn1)
	require.Equal(t, OutcomeStored, res.Outcome)

	var stored models.Message
	require.NoError(t, h.db.First(&stored, "id = ?", res.MessageID).Error)
	assert.Equal(t, other.ID, stored.UserID)
}

func TestProcessIncomingMessage_HooksRunAndCannotFailIngest(t *testing.T) {
	h := newHarness(t)
	notifier := &recordingNotifier{boom: true}
	replier := &recordingReplier{err: errors.New("send failed")}
	h.proc.notifier = notifier
	h.proc.replier = replier
	msg := decodeMessage(t, `{"id":"wamid.10","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`)

	res := h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "")}, pn1)
	require.Equal(t, OutcomeStored, res.Outcome)

	require.Len(t, notifier.msgs, 1)
	assert.Equal(t, res.MessageID, notifier.msgs[0].ID)
	assert.Equal(t, 1, replier.calls)
	require.NotNil(t, replier.contact)
	assert.Equal(t, "1555", replier.contact.PhoneNumber)
}

func TestProcessIncomingMessage_ConcurrentSameSenderOneContact(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := decodeMessage(t, fmt.Sprintf(`{"id":"wamid.c%d","from":"1555","timestamp":"1700000000","type":"text","text":{"body":"x"}}`, i))
			results[i] = h.proc.ProcessIncomingMessage(context.Background(), msg, []wa.ContactProfile{profile("1555", "Ann")}, pn1)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, OutcomeStored, res.Outcome, "err: %v", res.Err)
	}
	assert.EqualValues(t, 1, count(t, h.db, &models.Contact{}))
	assert.EqualValues(t, 1, count(t, h.db, &models.PhoneNumber{}))
	assert.EqualValues(t, len(results), count(t, h.db, &models.Message{}))
}

func TestVerificationStatus(t *testing.T) {
	assert.Equal(t, models.VerificationVerified, verificationStatus("VERIFIED"))
	assert.Equal(t, models.VerificationPending, verificationStatus("pending"))
	assert.Equal(t, models.VerificationFailed, verificationStatus("EXPIRED"))
	assert.Equal(t, models.VerificationFailed, verificationStatus("FAILED"))
	assert.Equal(t, models.VerificationNotVerified, verificationStatus(""))
	assert.Equal(t, models.VerificationNotVerified, verificationStatus("NOT_VERIFIED"))
}

func TestMapStatus(t *testing.T) {
	tests := map[string]models.MessageStatus{
		"sent":      models.StatusSent,
		"delivered": models.StatusDelivered,
		"read":      models.StatusRead,
		"failed":    models.StatusFailed,
		"DELIVERED": models.StatusDelivered,
		"deleted":   models.StatusSent,
		"":          models.StatusSent,
	}
	for in, want := range tests {
		assert.Equal(t, want, MapStatus(in), in)
	}
}

func seedOutbound(t *testing.T, h *harness, providerID string, direction models.Direction) *models.Message {
	t.Helper()
	ctx := context.Background()
	contact, err := h.repo.UpsertContact(ctx, h.admin.ID, "1555", nil)
	require.NoError(t, err)
	msg := &models.Message{
		UserID:            h.admin.ID,
		ContactID:         contact.ID,
		ProviderMessageID: &providerID,
		Type:              models.MessageTypeText,
		Content:           []byte(`{"text":"hello"}`),
		Direction:         direction,
		Status:            models.StatusSent,
		Timestamp:         fixedNow,
	}
	require.NoError(t, h.repo.CreateMessage(ctx, msg))
	return msg
}

func statusOf(t *testing.T, h *harness, id string) models.MessageStatus {
	t.Helper()
	var msg models.Message
	require.NoError(t, h.db.First(&msg, "id = ?", id).Error)
	return msg.Status
}

func TestProcessStatusUpdate_AppliesInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	out := seedOutbound(t, h, "wamid.out", models.DirectionOutbound)
	ctx := context.Background()

	res := h.proc.ProcessStatusUpdate(ctx, wa.StatusUpdate{ID: "wamid.out", Status: "read"})
	require.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, out.ID, res.MessageID)
	assert.Equal(t, models.StatusRead, statusOf(t, h, out.ID))

	// a late delivery receipt still overwrites
	res = h.proc.ProcessStatusUpdate(ctx, wa.StatusUpdate{ID: "wamid.out", Status: "delivered"})
	require.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, models.StatusDelivered, statusOf(t, h, out.ID))
}

func TestProcessStatusUpdate_Failed(t *testing.T) {
	h := newHarness(t)
	out := seedOutbound(t, h, "wamid.out", models.DirectionOutbound)

	core, logs := observer.New(zap.WarnLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	errs := []wa.StatusError{
		{Code: 131026, Title: "Message undeliverable", Message: "Receiver is incapable of receiving this message"},
		{Code: 131047, Title: "Re-engagement message", Message: "More than 24 hours have passed"},
	}
	res := h.proc.ProcessStatusUpdate(context.Background(), wa.StatusUpdate{
		ID:     "wamid.out",
		Status: "failed",
		Errors: errs,
	})
	require.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, models.StatusFailed, statusOf(t, h, out.ID))

	entries := logs.FilterMessage("Outbound message failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, errs, entries[0].ContextMap()["errors"])
}

func TestProcessStatusUpdate_UnknownMessage(t *testing.T) {
	h := newHarness(t)

	res := h.proc.ProcessStatusUpdate(context.Background(), wa.StatusUpdate{ID: "wamid.none", Status: "read"})
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, apperr.IsMiss(res.Err))
}

func TestProcessStatusUpdate_IgnoresInboundMessages(t *testing.T) {
	h := newHarness(t)
	in := seedOutbound(t, h, "wamid.in", models.DirectionInbound)

	res := h.proc.ProcessStatusUpdate(context.Background(), wa.StatusUpdate{ID: "wamid.in", Status: "read"})
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, models.StatusSent, statusOf(t, h, in.ID))
}
