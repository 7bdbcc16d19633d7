package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"whatsapp-inbox/internal/database"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/testutil"
)

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	admin := testutil.SeedAdmin(t, db)
	contact := &models.Contact{UserID: admin.ID, PhoneNumber: "1555", Tags: "[]"}
	require.NoError(t, db.Create(contact).Error)
	require.NoError(t, db.Create(&models.Message{
		UserID:    admin.ID,
		ContactID: contact.ID,
		Type:      models.MessageTypeText,
		Content:   []byte(`{"text":"hi"}`),
		Direction: models.DirectionInbound,
		Status:    models.StatusDelivered,
	}).Error)
	require.NoError(t, db.Create(&models.AutomationRule{UserID: admin.ID, Name: "r", Type: "keyword", Conditions: "[]", Actions: "[]"}).Error)
}

func rows(t *testing.T, results []database.TableResult) map[string]int {
	t.Helper()
	out := map[string]int{}
	for _, r := range results {
		require.NoError(t, r.Err, r.Table)
		out[r.Table] = r.Rows
	}
	return out
}

func TestCopyAll_IsRepeatable(t *testing.T) {
	src := testutil.NewDB(t)
	dst := testutil.NewDB(t)
	seed(t, src)
	ctx := context.Background()

	got := rows(t, database.CopyAll(ctx, src, dst))
	assert.Equal(t, 1, got["users"])
	assert.Equal(t, 1, got["contacts"])
	assert.Equal(t, 1, got["messages"])
	assert.Equal(t, 1, got["automation_rules"])
	assert.Equal(t, 0, got["waba_templates"])

	// a second run skips rows that already exist
	rows(t, database.CopyAll(ctx, src, dst))

	var srcMsg, dstMsg models.Message
	require.NoError(t, src.First(&srcMsg).Error)
	require.NoError(t, dst.First(&dstMsg).Error)
	assert.Equal(t, srcMsg.ID, dstMsg.ID)

	var n int64
	require.NoError(t, dst.Model(&models.Message{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestResetSequences_NoopOnSQLite(t *testing.T) {
	assert.NoError(t, database.ResetSequences(context.Background(), testutil.NewDB(t)))
}
