package service

import (
	"context"
	"fmt"
	"time"

	"wareply/internal/metrics"
	"wareply/internal/models"
	"wareply/internal/privacy"
	"wareply/pkg/whatsapp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher is the single outbound choke point. Every reply, whether
// written by the model or typed by a human agent, goes out and gets
// recorded here.
type Dispatcher struct {
	client whatsapp.Client
	store  Store
	bus    *EventBus
	logger *logrus.Logger
}

func NewDispatcher(client whatsapp.Client, store Store, bus *EventBus, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// SendReply sends text to the conversation's contact, persists the
// outbound message and publishes a reply event. The author records who
// wrote the reply.
func (d *Dispatcher) SendReply(ctx context.Context, conv *models.Conversation, text string, author models.AuthorType) (*models.Message, error) {
	resp, err := d.client.SendText(ctx, conv.ContactIdentifier, text)
	if err != nil {
		metrics.IncrementCounter("replies_send_failures_total",
			map[string]string{"author": string(author)}, "outbound sends that failed")
		return nil, fmt.Errorf("failed to send reply: %w", err)
	}

	externalID := resp.MessageID()
	if externalID == "" {
		// Provider did not return an ID; synthesize one so the row
		// still satisfies the unique external ID constraint
		externalID = "local." + uuid.NewString()
	}

	msg := &models.Message{
		ConversationID:    conv.ID,
		ExternalMessageID: externalID,
		AuthorType:        author,
		Content:           text,
		Timestamp:         time.Now().UTC(),
	}
	if err := d.store.SaveOutboundMessage(ctx, msg); err != nil {
		// The reply is already on the wire; log the persistence gap
		// instead of failing the send
		d.logger.WithError(err).WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"message_id":      privacy.MaskMessageID(externalID),
		}).Error("Sent reply but failed to persist it")
		return msg, nil
	}

	metrics.IncrementCounter("replies_sent_total",
		map[string]string{"author": string(author)}, "outbound replies sent")

	d.bus.Publish(Event{
		Type:           EventReplySent,
		ConversationID: conv.ID,
		Message:        msg,
	})

	d.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"author":          author,
		"message_id":      privacy.MaskMessageID(externalID),
	}).Info("Reply dispatched")

	return msg, nil
}
