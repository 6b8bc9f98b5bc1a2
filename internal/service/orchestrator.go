package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "wareply/internal/errors"
	"wareply/internal/metrics"
	"wareply/internal/models"
	"wareply/internal/tools"
	"wareply/internal/tracing"
	"wareply/pkg/llm"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// FallbackReply is sent when the model cannot produce an answer.
const FallbackReply = "Ci scusi, al momento non riusciamo a elaborare la sua richiesta. Un operatore la ricontatterà al più presto."

// emptyReply covers the rare case of a model turn with no usable text.
const emptyReply = "Come posso aiutarla?"

// ConfigProvider supplies the live configuration snapshot.
type ConfigProvider interface {
	Snapshot() *models.Config
}

// PracticeSource supplies the business record for the system prompt.
type PracticeSource interface {
	GetPractice(ctx context.Context) (*models.Practice, error)
}

// Orchestrator runs the bounded tool-calling loop that turns an inbound
// message into a reply.
type Orchestrator struct {
	store      Store
	model      llm.Client
	registry   *tools.Registry
	config     ConfigProvider
	dispatcher *Dispatcher
	practice   PracticeSource
	logger     *logrus.Logger
	now        func() time.Time
}

func NewOrchestrator(store Store, model llm.Client, registry *tools.Registry, config ConfigProvider, dispatcher *Dispatcher, practice PracticeSource, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		model:      model,
		registry:   registry,
		config:     config,
		dispatcher: dispatcher,
		practice:   practice,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessMessage produces and dispatches a reply for one inbound
// message. A conversation or message deleted since enqueue is a clean
// no-op. Model failures return an error so the job layer can retry;
// everything downstream of a successful model exchange is committed.
func (o *Orchestrator) ProcessMessage(ctx context.Context, payload models.ProcessMessagePayload) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.process_message",
		attribute.Int64("conversation.id", payload.ConversationID),
		attribute.String("source", payload.Source),
	)
	defer span.End()

	cfg := o.config.Snapshot()

	conv, err := o.store.GetConversation(ctx, payload.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		o.logger.WithField("conversation_id", payload.ConversationID).
			Info("Conversation deleted before processing, skipping")
		return nil
	}

	msg, err := o.store.GetMessage(ctx, payload.MessageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		o.logger.WithField("message_id", payload.MessageID).
			Info("Message deleted before processing, skipping")
		return nil
	}
	if msg.Processed {
		return nil
	}

	timeout := time.Duration(cfg.AI.ChatTimeoutSec) * time.Second
	if payload.Source == "whatsapp" {
		timeout = time.Duration(cfg.AI.ChannelTimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := o.runModelLoop(ctx, cfg, conv)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	if cfg.AI.AutoReply {
		if _, err := o.dispatcher.SendReply(ctx, conv, reply, models.AuthorAIAgent); err != nil {
			// The reply text is still recorded below so an agent can
			// resend it by hand
			o.logger.WithError(err).WithField("conversation_id", conv.ID).
				Error("Failed to dispatch reply")
		}
	}

	if err := o.store.MarkMessageProcessed(ctx, msg.ID, &reply); err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// HandleFailure finalizes a message whose processing attempts are
// exhausted: the contact gets an apology and the message is marked
// processed so it never loops again.
func (o *Orchestrator) HandleFailure(ctx context.Context, payload models.ProcessMessagePayload) {
	cfg := o.config.Snapshot()

	conv, err := o.store.GetConversation(ctx, payload.ConversationID)
	if err != nil || conv == nil {
		return
	}

	if cfg.AI.AutoReply {
		if _, err := o.dispatcher.SendReply(ctx, conv, FallbackReply, models.AuthorAIAgent); err != nil {
			o.logger.WithError(err).WithField("conversation_id", conv.ID).
				Error("Failed to dispatch fallback reply")
		}
	}

	fallback := FallbackReply
	if err := o.store.MarkMessageProcessed(ctx, payload.MessageID, &fallback); err != nil {
		o.logger.WithError(err).WithField("message_id", payload.MessageID).
			Error("Failed to mark failed message processed")
	}

	metrics.IncrementCounter("orchestrator_fallbacks_total", nil, "messages answered with the fallback reply")
}

func (o *Orchestrator) runModelLoop(ctx context.Context, cfg *models.Config, conv *models.Conversation) (string, error) {
	history, err := o.store.GetRecentMessages(ctx, conv.ID, cfg.AI.ContextWindow)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	messages := []llm.Message{{Role: "system", Content: o.systemPrompt(ctx, conv)}}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: roleFor(m.AuthorType), Content: m.Content})
	}

	definitions := o.registry.Definitions()
	options := map[string]interface{}{"max_tokens": cfg.AI.MaxTokens}
	toolCtx := tools.ToolContext{
		ConversationID: conv.ID,
		ContactPhone:   conv.ContactIdentifier,
	}
	if conv.ContactName != nil {
		toolCtx.ContactName = *conv.ContactName
	}

	var resp *llm.LLMResponse
	for iteration := 0; iteration < cfg.AI.MaxToolIterations; iteration++ {
		start := o.now()
		resp, err = o.model.Chat(ctx, messages, definitions, cfg.AI.Model, options)
		metrics.RecordTimer("model_call_duration", time.Since(start), nil, "model call latency")
		if err != nil {
			metrics.IncrementCounter("model_call_failures_total", nil, "model calls that failed")
			return "", apperrors.WrapRetryable(err, apperrors.ErrCodeModelAPI, "model call failed")
		}

		if len(resp.ToolCalls) == 0 {
			break
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result := o.registry.Execute(ctx, call.Name, call.Arguments, toolCtx)
			content := result.Message
			if !result.Success {
				content = "error: " + content
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    content,
			})
		}
	}

	reply := strings.TrimSpace(llm.StripToolCallsFromText(resp.Content))
	if reply == "" {
		reply = emptyReply
	}
	return reply, nil
}

// systemPrompt frames the assistant as the practice's receptionist.
func (o *Orchestrator) systemPrompt(ctx context.Context, conv *models.Conversation) string {
	var b strings.Builder
	b.WriteString("You are the WhatsApp receptionist of a beauty and wellness practice. ")
	b.WriteString("Answer briefly and politely in the language the caller writes in. ")
	b.WriteString("Use the available tools to look up practice information and to book, list or cancel appointments. ")
	b.WriteString("Never invent appointment details; confirm date and time with the caller before booking.\n")

	if o.practice != nil {
		if practice, err := o.practice.GetPractice(ctx); err == nil && practice != nil {
			fmt.Fprintf(&b, "Practice: %s", practice.Name)
			if practice.Address != "" {
				fmt.Fprintf(&b, ", %s", practice.Address)
			}
			if practice.Info != "" {
				fmt.Fprintf(&b, ". %s", practice.Info)
			}
			b.WriteString("\n")
		}
	}

	if conv.ContactName != nil && *conv.ContactName != "" {
		fmt.Fprintf(&b, "The caller's name is %s.\n", *conv.ContactName)
	}
	fmt.Fprintf(&b, "Today is %s.", o.now().Format("Monday, 2 January 2006"))
	return b.String()
}

func roleFor(author models.AuthorType) string {
	if author == models.AuthorExternalContact {
		return "user"
	}
	return "assistant"
}
