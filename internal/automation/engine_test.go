package automation

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repository"
	"whatsapp-inbox/internal/testutil"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	args := m.Called(ctx, phoneNumberID, to, body)
	return args.String(0), args.Error(1)
}

type fixture struct {
	db      *gorm.DB
	repo    *repository.Repository
	sender  *MockSender
	engine  *Engine
	phone   *models.PhoneNumber
	contact *models.Contact
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	admin := testutil.SeedAdmin(t, db)
	repo := repository.New(db)
	ctx := context.Background()

	phone := &models.PhoneNumber{UserID: &admin.ID, PhoneNumberID: "PN1"}
	require.NoError(t, repo.CreatePhoneNumber(ctx, phone))
	name := "Ann"
	contact, err := repo.UpsertContact(ctx, admin.ID, "15551230000", &name)
	require.NoError(t, err)

	sender := new(MockSender)
	t.Cleanup(func() { sender.AssertExpectations(t) })

	e := NewEngine(repo, sender)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{db: db, repo: repo, sender: sender, engine: e, phone: phone, contact: contact}
}

func (f *fixture) rule(t *testing.T, name string, priority int, conditions, actions string) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.AutomationRule{
		UserID:     f.contact.UserID,
		Name:       name,
		Type:       "keyword",
		Enabled:    true,
		Priority:   priority,
		Conditions: conditions,
		Actions:    actions,
	}).Error)
}

func (f *fixture) inbound(text string) *models.Message {
	return &models.Message{
		ID:        "m1",
		UserID:    f.contact.UserID,
		ContactID: f.contact.ID,
		Type:      models.MessageTypeText,
		Content:   []byte(`{"text":"` + text + `"}`),
		Direction: models.DirectionInbound,
	}
}

func TestEvaluate_SendsAndRecordsReply(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "greeting", 1,
		`[{"type":"keyword","operator":"contains","value":"price"}]`,
		`[{"type":"send_message","params":{"message":"Hi {{contact_name}}, you asked: {{message}}"}}]`)
	f.sender.On("SendText", mock.Anything, "PN1", "15551230000", "Hi Ann, you asked: What is the PRICE?").
		Return("wamid.out1", nil)

	require.NoError(t, f.engine.Evaluate(context.Background(), f.phone, f.contact, f.inbound("What is the PRICE?")))

	out, err := f.repo.FindOutboundMessage(context.Background(), "wamid.out1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, out.Status)
	assert.Equal(t, f.contact.ID, out.ContactID)
	assert.JSONEq(t, `{"text":"Hi Ann, you asked: What is the PRICE?"}`, string(out.Content))

	var logs []models.AutomationLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, "action_executed", logs[0].ActionTaken)
}

func TestEvaluate_FirstMatchByPriorityWins(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "low", 1, `[{"type":"keyword","operator":"contains","value":"hello"}]`, `[{"type":"add_tag","params":{"tag":"low"}}]`)
	f.rule(t, "high", 10, `[{"type":"keyword","operator":"starts_with","value":"hello"}]`, `[{"type":"add_tag","params":{"tag":"high"}}]`)

	require.NoError(t, f.engine.Evaluate(context.Background(), f.phone, f.contact, f.inbound("hello there")))

	stored, err := f.repo.FindContact(context.Background(), f.contact.UserID, f.contact.PhoneNumber)
	require.NoError(t, err)
	assert.JSONEq(t, `["high"]`, stored.Tags)
}

func TestEvaluate_AddTagIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "vip", 1, `[{"type":"keyword","operator":"equals","value":"vip"}]`, `[{"type":"add_tag","params":{"tag":"vip"}}]`)

	require.NoError(t, f.engine.Evaluate(context.Background(), f.phone, f.contact, f.inbound("VIP")))
	require.NoError(t, f.engine.Evaluate(context.Background(), f.phone, f.contact, f.inbound("vip")))

	stored, err := f.repo.FindContact(context.Background(), f.contact.UserID, f.contact.PhoneNumber)
	require.NoError(t, err)
	assert.JSONEq(t, `["vip"]`, stored.Tags)
}

func TestEvaluate_SendFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "echo", 1, `[{"type":"message_type","value":"text"}]`, `[{"type":"send_message","params":{"message":"ok"}}]`)
	f.sender.On("SendText", mock.Anything, "PN1", "15551230000", "ok").Return("", errors.New("rate limited"))

	err := f.engine.Evaluate(context.Background(), f.phone, f.contact, f.inbound("anything"))
	assert.ErrorContains(t, err, "rate limited")

	var logs []models.AutomationLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Contains(t, logs[0].ErrorMessage, "rate limited")
}

func TestEvaluate_NoMatchDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "tagged", 1, `[{"type":"contact_tag","value":"vip"}]`, `[{"type":"send_message","params":{"message":"hi"}}]`)
	f.rule(t, "broken", 2, `not json`, `[]`)

	require.NoError(t, f.engine.Evaluate(context.Background(), f.phone, f.contact, f.inbound("hi")))

	var n int64
	require.NoError(t, f.db.Model(&models.AutomationLog{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestEvaluate_IgnoresOutbound(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "all", 1, `[]`, `[{"type":"send_message","params":{"message":"hi"}}]`)
	msg := f.inbound("x")
	msg.Direction = models.DirectionOutbound

	assert.NoError(t, f.engine.Evaluate(context.Background(), f.phone, f.contact, msg))
}

func TestMatchKeyword(t *testing.T) {
	assert.True(t, matchKeyword("  Hello ", "equals", "hello"))
	assert.True(t, matchKeyword("order 123", "regex", `^order \d+$`))
	assert.False(t, matchKeyword("order", "regex", `(`))
	assert.False(t, matchKeyword("hello", "unknown", "hello"))
}

func TestMessageText(t *testing.T) {
	assert.Equal(t, "hi", messageText(&models.Message{Content: []byte(`{"text":"hi"}`)}))
	assert.Equal(t, "Yes", messageText(&models.Message{Content: []byte(`{"interactiveType":"button_reply","title":"Yes"}`)}))
	assert.Equal(t, "look", messageText(&models.Message{Content: []byte(`{"url":"/m","caption":"look"}`)}))
	assert.Empty(t, messageText(&models.Message{Content: []byte(`[]`)}))
}
