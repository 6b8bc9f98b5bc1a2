package service

import (
	"context"
	"strconv"
	"time"

	"wareply/internal/metrics"
	"wareply/internal/models"
	"wareply/internal/privacy"
	"wareply/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

// Gateway ingests WhatsApp webhook traffic: it verifies subscription
// challenges, stores inbound messages exactly once and hands them to
// the job queue. When the queue is unavailable it degrades to
// synchronous processing so no message is dropped.
type Gateway struct {
	store     Store
	enqueuer  JobEnqueuer
	processor *Processor
	config    ConfigProvider
	bus       *EventBus
	logger    *logrus.Logger
	now       func() time.Time
}

func NewGateway(store Store, enqueuer JobEnqueuer, processor *Processor, config ConfigProvider, bus *EventBus, logger *logrus.Logger) *Gateway {
	return &Gateway{
		store:     store,
		enqueuer:  enqueuer,
		processor: processor,
		config:    config,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleVerification answers a webhook subscription challenge.
func (g *Gateway) HandleVerification(mode, token, challenge string) (string, bool) {
	expected := g.config.Snapshot().WhatsApp.VerifyToken
	echo, ok := whatsapp.VerifyWebhook(mode, token, challenge, expected)
	if !ok {
		g.logger.WithField("mode", mode).Warn("Webhook verification rejected")
	}
	return echo, ok
}

// IngestWebhook walks a webhook batch and processes every message
// event in it. Malformed events are skipped, never fatal: the channel
// provider only needs a 200 to stop redelivering the batch.
func (g *Gateway) IngestWebhook(ctx context.Context, payload *whatsapp.WebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			names := contactNames(change.Value.Contacts)
			for i := range change.Value.Messages {
				g.ingestMessage(ctx, &change.Value.Messages[i], names)
			}
		}
	}
}

func (g *Gateway) ingestMessage(ctx context.Context, inbound *whatsapp.InboundMessage, names map[string]string) {
	if inbound.ID == "" || inbound.From == "" {
		g.logger.Warn("Skipping malformed message event without ID or sender")
		metrics.IncrementCounter("webhook_events_malformed_total", nil, "malformed webhook message events")
		return
	}

	content, mediaRef := messageContent(inbound)

	var contactName *string
	if name, ok := names[inbound.From]; ok && name != "" {
		contactName = &name
	}

	conv, err := g.store.GetOrCreateConversation(ctx, inbound.From, contactName)
	if err != nil {
		g.logger.WithError(err).WithField("contact", privacy.MaskPhoneNumber(inbound.From)).
			Error("Failed to resolve conversation")
		return
	}

	msg := &models.Message{
		ConversationID:    conv.ID,
		ExternalMessageID: inbound.ID,
		AuthorType:        models.AuthorExternalContact,
		Content:           content,
		MediaRef:          mediaRef,
		Timestamp:         parseTimestamp(inbound.Timestamp, g.now),
	}

	inserted, err := g.store.SaveInboundMessage(ctx, msg)
	if err != nil {
		g.logger.WithError(err).WithField("message_id", privacy.MaskMessageID(inbound.ID)).
			Error("Failed to store inbound message")
		return
	}
	if !inserted {
		g.logger.WithField("message_id", privacy.MaskMessageID(inbound.ID)).
			Debug("Duplicate message delivery ignored")
		metrics.IncrementCounter("webhook_duplicates_total", nil, "duplicate message deliveries")
		return
	}

	metrics.IncrementCounter("messages_received_total",
		map[string]string{"type": inbound.Type}, "inbound messages stored")

	g.bus.Publish(Event{
		Type:           EventMessageReceived,
		ConversationID: conv.ID,
		Message:        msg,
	})

	payload := models.ProcessMessagePayload{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Source:         "whatsapp",
	}

	if _, err := g.enqueuer.Add(ctx, AIQueueName, JobTypeProcessMessage, payload); err != nil {
		// Queue unavailable; process inline so the contact still gets
		// an answer
		g.logger.WithError(err).WithField("conversation_id", conv.ID).
			Warn("Queue unavailable, processing message synchronously")
		metrics.IncrementCounter("gateway_sync_fallbacks_total", nil, "messages processed without the queue")

		if err := g.processor.Process(ctx, payload); err != nil {
			g.logger.WithError(err).WithField("conversation_id", conv.ID).
				Error("Synchronous processing failed")
			g.orchestratorFallback(ctx, payload)
		}
	}
}

func (g *Gateway) orchestratorFallback(ctx context.Context, payload models.ProcessMessagePayload) {
	if g.processor != nil && g.processor.orchestrator != nil {
		g.processor.orchestrator.HandleFailure(ctx, payload)
	}
}

// messageContent maps the typed message body to stored text. Non-text
// messages become a placeholder so the model knows something arrived.
func messageContent(inbound *whatsapp.InboundMessage) (string, *string) {
	switch inbound.Type {
	case "text":
		if inbound.Text != nil {
			return inbound.Text.Body, nil
		}
		return "", nil
	case "image":
		return placeholderWithCaption("[image]", inbound.Image)
	case "audio":
		return placeholderWithCaption("[audio]", inbound.Audio)
	case "video":
		return placeholderWithCaption("[video]", inbound.Video)
	case "document":
		return placeholderWithCaption("[document]", inbound.Document)
	default:
		return "[" + inbound.Type + "]", nil
	}
}

func placeholderWithCaption(placeholder string, media *whatsapp.MediaBody) (string, *string) {
	if media == nil {
		return placeholder, nil
	}
	content := placeholder
	if media.Caption != "" {
		content += " " + media.Caption
	}
	if media.ID == "" {
		return content, nil
	}
	ref := media.ID
	return content, &ref
}

// parseTimestamp decodes the unix-seconds string the Cloud API sends.
// An unparsable value falls back to the current time.
func parseTimestamp(value string, now func() time.Time) time.Time {
	if value == "" {
		return now().UTC()
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return now().UTC()
	}
	return time.Unix(seconds, 0).UTC()
}

func contactNames(contacts []whatsapp.Contact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, contact := range contacts {
		if contact.WaID != "" {
			names[contact.WaID] = contact.Profile.Name
		}
	}
	return names
}
