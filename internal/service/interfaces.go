package service

import (
	"context"

	"wareply/internal/models"
)

// Store is the conversation storage surface the pipeline depends on.
// *database.Database satisfies it.
type Store interface {
	GetOrCreateConversation(ctx context.Context, contactIdentifier string, contactName *string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	SaveInboundMessage(ctx context.Context, msg *models.Message) (bool, error)
	SaveOutboundMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error)
	MarkMessageProcessed(ctx context.Context, messageID int64, aiReplyText *string) error
	CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error)
}

// JobEnqueuer is the slice of the queue manager the gateway needs.
type JobEnqueuer interface {
	Add(ctx context.Context, queueName, jobType string, payload interface{}) (*models.Job, error)
}
