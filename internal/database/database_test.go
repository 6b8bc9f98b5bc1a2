package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wareply/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func strPtr(s string) *string { return &s }

func inboundMessage(conversationID int64, externalID, content string, ts time.Time) *models.Message {
	return &models.Message{
		ConversationID:    conversationID,
		ExternalMessageID: externalID,
		AuthorType:        models.AuthorExternalContact,
		Content:           content,
		Timestamp:         ts,
	}
}

func TestNewInvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("../../../etc/evil.db")
	assert.Error(t, err)
}

func TestGetOrCreateConversation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", strPtr("Maria Rossi"))
	require.NoError(t, err)
	assert.Equal(t, "393331234567", conv.ContactIdentifier)
	require.NotNil(t, conv.ContactName)
	assert.Equal(t, "Maria Rossi", *conv.ContactName)
	assert.Equal(t, int64(0), conv.UnreadCount)

	// Second resolve returns the same row
	again, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	require.NotNil(t, again.ContactName)
	assert.Equal(t, "Maria Rossi", *again.ContactName)

	// A fresh name refreshes the stored one
	renamed, err := db.GetOrCreateConversation(ctx, "393331234567", strPtr("Maria Bianchi"))
	require.NoError(t, err)
	assert.Equal(t, conv.ID, renamed.ID)
	assert.Equal(t, "Maria Bianchi", *renamed.ContactName)
}

func TestSaveInboundMessage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	ts := time.Now().UTC().Truncate(time.Second)
	msg := inboundMessage(conv.ID, "wamid.001", "Vorrei un appuntamento", ts)

	inserted, err := db.SaveInboundMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, msg.ID)

	updated, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.UnreadCount)
	assert.Equal(t, "Vorrei un appuntamento", updated.LastMessageText)
}

func TestSaveInboundMessageDuplicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	ts := time.Now().UTC()
	first := inboundMessage(conv.ID, "wamid.dup", "hello", ts)
	inserted, err := db.SaveInboundMessage(ctx, first)
	require.NoError(t, err)
	require.True(t, inserted)

	// Redelivery of the same external ID must not create a second row
	// or bump the unread counter
	second := inboundMessage(conv.ID, "wamid.dup", "hello", ts)
	inserted, err = db.SaveInboundMessage(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	messages, err := db.GetRecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	updated, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.UnreadCount)
}

func TestSaveOutboundMessageDoesNotIncrementUnread(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	out := &models.Message{
		ConversationID:    conv.ID,
		ExternalMessageID: "wamid.out.001",
		AuthorType:        models.AuthorAIAgent,
		Content:           "Certo, quando preferisce?",
		Timestamp:         time.Now().UTC(),
	}
	require.NoError(t, db.SaveOutboundMessage(ctx, out))
	assert.NotZero(t, out.ID)

	updated, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.UnreadCount)
	assert.Equal(t, "Certo, quando preferisce?", updated.LastMessageText)
}

func TestSaveOutboundMessageRejectsDuplicateID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	out := &models.Message{
		ConversationID:    conv.ID,
		ExternalMessageID: "wamid.out.dup",
		AuthorType:        models.AuthorAIAgent,
		Content:           "Certo!",
		Timestamp:         time.Now().UTC(),
	}
	require.NoError(t, db.SaveOutboundMessage(ctx, out))

	// A colliding external ID fails instead of being silently skipped,
	// and the conversation summary stays on the stored message
	clash := &models.Message{
		ConversationID:    conv.ID,
		ExternalMessageID: "wamid.out.dup",
		AuthorType:        models.AuthorAIAgent,
		Content:           "Qualcos'altro",
		Timestamp:         time.Now().UTC().Add(time.Minute),
	}
	assert.Error(t, db.SaveOutboundMessage(ctx, clash))

	messages, err := db.GetRecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	updated, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Certo!", updated.LastMessageText)
}

func TestGetRecentMessagesWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := inboundMessage(conv.ID, "wamid."+string(rune('a'+i)), "msg", base.Add(time.Duration(i)*time.Minute))
		msg.Content = "msg-" + string(rune('0'+i))
		_, err := db.SaveInboundMessage(ctx, msg)
		require.NoError(t, err)
	}

	messages, err := db.GetRecentMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// Newest three, in chronological order
	assert.Equal(t, "msg-2", messages[0].Content)
	assert.Equal(t, "msg-3", messages[1].Content)
	assert.Equal(t, "msg-4", messages[2].Content)
}

func TestMarkMessageProcessedSetOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	msg := inboundMessage(conv.ID, "wamid.p1", "ciao", time.Now().UTC())
	_, err = db.SaveInboundMessage(ctx, msg)
	require.NoError(t, err)

	require.NoError(t, db.MarkMessageProcessed(ctx, msg.ID, strPtr("Buongiorno!")))

	stored, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.AIReplyText)
	assert.Equal(t, "Buongiorno!", *stored.AIReplyText)

	// A second mark must not overwrite the recorded reply
	require.NoError(t, db.MarkMessageProcessed(ctx, msg.ID, strPtr("other")))
	stored, err = db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Buongiorno!", *stored.AIReplyText)
}

func TestMarkConversationRead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	_, err = db.SaveInboundMessage(ctx, inboundMessage(conv.ID, "wamid.r1", "hi", time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, db.MarkConversationRead(ctx, conv.ID))

	updated, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.UnreadCount)

	assert.ErrorIs(t, db.MarkConversationRead(ctx, 9999), ErrConversationNotFound)
}

func TestAssignConversation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	require.NoError(t, db.AssignConversation(ctx, conv.ID, strPtr("agent-7")))

	updated, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedAgentRef)
	assert.Equal(t, "agent-7", *updated.AssignedAgentRef)

	assert.ErrorIs(t, db.AssignConversation(ctx, 9999, nil), ErrConversationNotFound)
}

func TestDeleteConversationCascades(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", nil)
	require.NoError(t, err)

	msg := inboundMessage(conv.ID, "wamid.d1", "bye", time.Now().UTC())
	_, err = db.SaveInboundMessage(ctx, msg)
	require.NoError(t, err)

	require.NoError(t, db.DeleteConversation(ctx, conv.ID))

	gone, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	orphan, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan)

	assert.ErrorIs(t, db.DeleteConversation(ctx, conv.ID), ErrConversationNotFound)
}

func TestListConversationsOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	older, err := db.GetOrCreateConversation(ctx, "3933300000001", nil)
	require.NoError(t, err)
	newer, err := db.GetOrCreateConversation(ctx, "3933300000002", nil)
	require.NoError(t, err)

	_, err = db.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = datetime('now', '-1 hour') WHERE id = ?`, older.ID)
	require.NoError(t, err)
	_, err = db.SaveInboundMessage(ctx, inboundMessage(newer.ID, "wamid.n1", "new", time.Now().UTC()))
	require.NoError(t, err)

	conversations, err := db.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, newer.ID, conversations[0].ID)
	assert.Equal(t, older.ID, conversations[1].ID)
}

func TestCleanupOldRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	stale, err := db.GetOrCreateConversation(ctx, "393330000111", nil)
	require.NoError(t, err)
	fresh, err := db.GetOrCreateConversation(ctx, "393330000222", nil)
	require.NoError(t, err)

	_, err = db.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = datetime('now', '-120 days') WHERE id = ?`, stale.ID)
	require.NoError(t, err)
	_, err = db.SaveInboundMessage(ctx, inboundMessage(fresh.ID, "wamid.f1", "hi", time.Now().UTC()))
	require.NoError(t, err)

	deleted, err := db.CleanupOldRecords(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	gone, err := db.GetConversation(ctx, stale.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := db.GetConversation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	_, err = db.CleanupOldRecords(ctx, 0)
	assert.Error(t, err)
}

func TestEncryptionRoundTrip(t *testing.T) {
	t.Setenv("WAREPLY_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAREPLY_ENCRYPTION_SECRET", "test-secret-key-that-is-long-enough-123")

	db := setupTestDB(t)
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "393331234567", strPtr("Maria"))
	require.NoError(t, err)
	assert.Equal(t, "393331234567", conv.ContactIdentifier)

	msg := inboundMessage(conv.ID, "wamid.enc", "contenuto riservato", time.Now().UTC())
	inserted, err := db.SaveInboundMessage(ctx, msg)
	require.NoError(t, err)
	require.True(t, inserted)

	// Duplicate detection still works through deterministic encryption
	inserted, err = db.SaveInboundMessage(ctx, inboundMessage(conv.ID, "wamid.enc", "contenuto riservato", time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "contenuto riservato", stored.Content)
	assert.Equal(t, "wamid.enc", stored.ExternalMessageID)

	// Raw column must not contain the plaintext
	var raw string
	require.NoError(t, db.db.QueryRowContext(ctx,
		`SELECT content FROM messages WHERE id = ?`, msg.ID).Scan(&raw))
	assert.NotEqual(t, "contenuto riservato", raw)
}

func TestEncryptionRequiresSecret(t *testing.T) {
	t.Setenv("WAREPLY_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAREPLY_ENCRYPTION_SECRET", "")

	_, err := New(filepath.Join(t.TempDir(), "test.db"))
	assert.Error(t, err)
}
