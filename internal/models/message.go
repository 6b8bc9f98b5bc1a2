package models

import (
	"time"
)

// AuthorType identifies who produced a message.
type AuthorType string

const (
	AuthorExternalContact AuthorType = "EXTERNAL_CONTACT"
	AuthorHumanAgent      AuthorType = "HUMAN_AGENT"
	AuthorAIAgent         AuthorType = "AI_AGENT"
)

// Conversation is a persistent thread tied to one external contact identifier.
type Conversation struct {
	ID                int64      `db:"id"`
	ContactIdentifier string     `db:"contact_identifier"`
	ContactName       *string    `db:"contact_name"`
	AssignedAgentRef  *string    `db:"assigned_agent_ref"`
	LastMessageAt     time.Time  `db:"last_message_at"`
	LastMessageText   string     `db:"last_message_text"`
	UnreadCount       int64      `db:"unread_count"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// Message is a single inbound or outbound communication unit.
// Content is immutable after insert; Processed and AIReplyText are set
// exactly once by the processing pipeline.
type Message struct {
	ID                int64      `db:"id"`
	ConversationID    int64      `db:"conversation_id"`
	ExternalMessageID string     `db:"external_message_id"`
	AuthorType        AuthorType `db:"author_type"`
	Content           string     `db:"content"`
	MediaRef          *string    `db:"media_ref"`
	Processed         bool       `db:"processed"`
	AIReplyText       *string    `db:"ai_reply_text"`
	Timestamp         time.Time  `db:"timestamp"`
	CreatedAt         time.Time  `db:"created_at"`
}
