package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "wareply/internal/errors"
	"wareply/internal/models"

	"github.com/sirupsen/logrus"
)

// JobTypeProcessMessage is the job type the gateway enqueues for each
// new inbound message.
const JobTypeProcessMessage = "process-message"

// AIQueueName is the queue the message processor consumes.
const AIQueueName = "ai"

// Processor bridges the job queue and the orchestrator. It applies the
// business hours gate before any model work happens.
type Processor struct {
	orchestrator *Orchestrator
	dispatcher   *Dispatcher
	store        Store
	config       ConfigProvider
	logger       *logrus.Logger
}

func NewProcessor(orchestrator *Orchestrator, dispatcher *Dispatcher, store Store, config ConfigProvider, logger *logrus.Logger) *Processor {
	return &Processor{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		store:        store,
		config:       config,
		logger:       logger,
	}
}

// HandleJob is the queue handler for process-message jobs. When no
// further attempt will run, either because this was the last one or
// because the error can never succeed, it finalizes the message with
// the fallback reply so the contact is never left without an answer.
func (p *Processor) HandleJob(ctx context.Context, job *models.Job) error {
	var payload models.ProcessMessagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// Malformed payloads can never succeed; log and drop
		p.logger.WithError(err).WithField("job_id", job.ID).Error("Dropping job with malformed payload")
		return nil
	}

	err := p.Process(ctx, payload)
	if err != nil && (job.Attempts >= job.MaxAttempts || permanent(err)) {
		p.orchestrator.HandleFailure(ctx, payload)
	}
	return err
}

// permanent reports whether an error is marked non-retryable, meaning
// the queue will fail the job without scheduling another attempt.
func permanent(err error) bool {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return !appErr.Retryable
	}
	return false
}

// Process handles one inbound message end to end: hours gate first,
// then the model loop.
func (p *Processor) Process(ctx context.Context, payload models.ProcessMessagePayload) error {
	cfg := p.config.Snapshot()

	if !cfg.AI.Enabled {
		p.logger.WithField("conversation_id", payload.ConversationID).
			Debug("AI processing disabled, leaving message for a human agent")
		return nil
	}

	open, err := EvaluateBusinessHours(p.orchestrator.now(), cfg.BusinessHours)
	if err != nil {
		return fmt.Errorf("failed to evaluate business hours: %w", err)
	}
	if !open {
		return p.replyClosed(ctx, cfg, payload)
	}

	return p.orchestrator.ProcessMessage(ctx, payload)
}

// replyClosed answers with the closed message without invoking the
// model, and marks the inbound message processed.
func (p *Processor) replyClosed(ctx context.Context, cfg *models.Config, payload models.ProcessMessagePayload) error {
	conv, err := p.store.GetConversation(ctx, payload.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil
	}

	msg, err := p.store.GetMessage(ctx, payload.MessageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil || msg.Processed {
		return nil
	}

	reply := ClosedReply(cfg.BusinessHours)
	if cfg.AI.AutoReply {
		if _, err := p.dispatcher.SendReply(ctx, conv, reply, models.AuthorAIAgent); err != nil {
			// The reply text is still recorded below so an agent can
			// resend it by hand
			p.logger.WithError(err).WithField("conversation_id", conv.ID).
				Error("Failed to dispatch closed reply")
		}
	}

	if err := p.store.MarkMessageProcessed(ctx, payload.MessageID, &reply); err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}

	p.logger.WithField("conversation_id", conv.ID).Info("Replied with closed message")
	return nil
}
