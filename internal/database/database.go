package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"wareply/internal/migrations"
	"wareply/internal/models"
	"wareply/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Validate database path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	// Foreign keys must be on for conversation deletes to cascade
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// GetOrCreateConversation resolves the conversation for a contact,
// creating it on first contact. A non-nil contactName refreshes the
// stored name.
func (d *Database) GetOrCreateConversation(ctx context.Context, contactIdentifier string, contactName *string) (*models.Conversation, error) {
	encryptedContact, err := d.encryptor.EncryptForLookupIfEnabled(contactIdentifier)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt contact identifier: %w", err)
	}

	var encryptedName *string
	if contactName != nil {
		encrypted, err := d.encryptor.EncryptIfEnabled(*contactName)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt contact name: %w", err)
		}
		encryptedName = &encrypted
	}

	if _, err := d.db.ExecContext(ctx, UpsertConversationQuery, encryptedContact, encryptedName); err != nil {
		return nil, fmt.Errorf("failed to upsert conversation: %w", err)
	}

	row := d.db.QueryRowContext(ctx, SelectConversationByContactQuery, encryptedContact)
	return d.scanConversation(row)
}

// GetConversation returns the conversation by ID, or nil if it does not exist.
func (d *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx, SelectConversationByIDQuery, id)
	conv, err := d.scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

// ListConversations returns conversations ordered by most recent activity.
func (d *Database) ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	rows, err := d.db.QueryContext(ctx, SelectConversationsQuery, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := d.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

// SaveInboundMessage inserts an inbound message and, when it is new,
// bumps the conversation summary atomically in the same transaction.
// A message whose external ID was already seen is dropped and reported
// with inserted=false; the conversation is left untouched.
func (d *Database) SaveInboundMessage(ctx context.Context, msg *models.Message) (inserted bool, err error) {
	encryptedExternalID, err := d.encryptor.EncryptForLookupIfEnabled(msg.ExternalMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt external message ID: %w", err)
	}
	encryptedContent, err := d.encryptor.EncryptIfEnabled(msg.Content)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt content: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, InsertMessageQuery,
		msg.ConversationID,
		encryptedExternalID,
		msg.AuthorType,
		encryptedContent,
		msg.MediaRef,
		msg.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Duplicate delivery of an already-stored message
		return false, tx.Commit()
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to read message ID: %w", err)
	}
	msg.ID = id

	ts := msg.Timestamp.UTC()
	if _, err := tx.ExecContext(ctx, TouchConversationInboundQuery,
		ts, ts, ts, encryptedContent, msg.ConversationID,
	); err != nil {
		return false, fmt.Errorf("failed to update conversation: %w", err)
	}

	return true, tx.Commit()
}

// SaveOutboundMessage records a message sent to the contact and bumps
// the conversation summary without touching the unread counter. Unlike
// inbound messages, outbound IDs are never deduplicated: a colliding
// external ID is an error, not a redelivery.
func (d *Database) SaveOutboundMessage(ctx context.Context, msg *models.Message) error {
	encryptedExternalID, err := d.encryptor.EncryptForLookupIfEnabled(msg.ExternalMessageID)
	if err != nil {
		return fmt.Errorf("failed to encrypt external message ID: %w", err)
	}
	encryptedContent, err := d.encryptor.EncryptIfEnabled(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, InsertOutboundMessageQuery,
		msg.ConversationID,
		encryptedExternalID,
		msg.AuthorType,
		encryptedContent,
		msg.MediaRef,
		msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message ID: %w", err)
	}
	msg.ID = id

	ts := msg.Timestamp.UTC()
	if _, err := tx.ExecContext(ctx, TouchConversationOutboundQuery,
		ts, ts, ts, encryptedContent, msg.ConversationID,
	); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return tx.Commit()
}

// GetMessage returns the message by ID, or nil if it does not exist.
func (d *Database) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := d.db.QueryRowContext(ctx, SelectMessageByIDQuery, id)
	msg, err := d.scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// GetRecentMessages returns the newest limit messages of a conversation
// in chronological order.
func (d *Database) GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	rows, err := d.db.QueryContext(ctx, SelectRecentMessagesQuery, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []models.Message
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// MarkMessageProcessed marks a message as handled by the pipeline and
// records the reply that was produced for it, if any. Processed is
// set-once; marking an already-processed message is a no-op.
func (d *Database) MarkMessageProcessed(ctx context.Context, messageID int64, aiReplyText *string) error {
	var encryptedReply *string
	if aiReplyText != nil {
		encrypted, err := d.encryptor.EncryptIfEnabled(*aiReplyText)
		if err != nil {
			return fmt.Errorf("failed to encrypt reply text: %w", err)
		}
		encryptedReply = &encrypted
	}

	_, err := d.db.ExecContext(ctx, MarkMessageProcessedQuery, encryptedReply, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// MarkConversationRead resets the unread counter.
func (d *Database) MarkConversationRead(ctx context.Context, conversationID int64) error {
	res, err := d.db.ExecContext(ctx, MarkConversationReadQuery, conversationID)
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// AssignConversation sets or clears the human agent reference.
func (d *Database) AssignConversation(ctx context.Context, conversationID int64, agentRef *string) error {
	res, err := d.db.ExecContext(ctx, AssignConversationQuery, agentRef, conversationID)
	if err != nil {
		return fmt.Errorf("failed to assign conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and, via cascade, its messages.
func (d *Database) DeleteConversation(ctx context.Context, conversationID int64) error {
	res, err := d.db.ExecContext(ctx, DeleteConversationQuery, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// CleanupOldRecords deletes conversations whose last activity is older
// than retentionDays. Messages go with them via cascade.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	res, err := d.db.ExecContext(ctx, CleanupConversationsQuery, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old records: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.ContactIdentifier,
		&conv.ContactName,
		&conv.AssignedAgentRef,
		&conv.LastMessageAt,
		&conv.LastMessageText,
		&conv.UnreadCount,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	if conv.ContactIdentifier, err = d.encryptor.DecryptIfEnabled(conv.ContactIdentifier); err != nil {
		return nil, fmt.Errorf("failed to decrypt contact identifier: %w", err)
	}
	if conv.ContactName != nil {
		decrypted, err := d.encryptor.DecryptIfEnabled(*conv.ContactName)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt contact name: %w", err)
		}
		conv.ContactName = &decrypted
	}
	if conv.LastMessageText, err = d.encryptor.DecryptIfEnabled(conv.LastMessageText); err != nil {
		return nil, fmt.Errorf("failed to decrypt last message text: %w", err)
	}

	return &conv, nil
}

func (d *Database) scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.ExternalMessageID,
		&msg.AuthorType,
		&msg.Content,
		&msg.MediaRef,
		&msg.Processed,
		&msg.AIReplyText,
		&msg.Timestamp,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if msg.ExternalMessageID, err = d.encryptor.DecryptIfEnabled(msg.ExternalMessageID); err != nil {
		return nil, fmt.Errorf("failed to decrypt external message ID: %w", err)
	}
	if msg.Content, err = d.encryptor.DecryptIfEnabled(msg.Content); err != nil {
		return nil, fmt.Errorf("failed to decrypt content: %w", err)
	}
	if msg.AIReplyText != nil {
		decrypted, err := d.encryptor.DecryptIfEnabled(*msg.AIReplyText)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt reply text: %w", err)
		}
		msg.AIReplyText = &decrypted
	}

	return &msg, nil
}
