package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wareply/internal/config"
	"wareply/internal/database"
	"wareply/internal/models"
	"wareply/internal/tools"
	"wareply/pkg/llm"
	"wareply/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Chat(ctx context.Context, messages []llm.Message, toolDefs []llm.ToolDefinition, model string, options map[string]interface{}) (*llm.LLMResponse, error) {
	args := m.Called(ctx, messages, toolDefs, model, options)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.LLMResponse), args.Error(1)
}

type mockWhatsApp struct {
	mock.Mock
}

func (m *mockWhatsApp) SendText(ctx context.Context, to, text string) (*whatsapp.SendMessageResponse, error) {
	args := m.Called(ctx, to, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*whatsapp.SendMessageResponse), args.Error(1)
}

type stubEnqueuer struct {
	jobs []models.ProcessMessagePayload
	err  error
}

func (s *stubEnqueuer) Add(ctx context.Context, queueName, jobType string, payload interface{}) (*models.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.jobs = append(s.jobs, payload.(models.ProcessMessagePayload))
	return &models.Job{ID: "job-1", QueueName: queueName, Type: jobType}, nil
}

func sendResponse(id string) *whatsapp.SendMessageResponse {
	resp := &whatsapp.SendMessageResponse{}
	resp.Messages = append(resp.Messages, struct {
		ID string `json:"id"`
	}{ID: id})
	return resp
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testConfig() *models.Config {
	return &models.Config{
		WhatsApp: models.WhatsAppConfig{
			APIBaseURL:    "https://graph.example.test",
			PhoneNumberID: "123456",
			VerifyToken:   "verify-secret",
		},
		AI: models.AIConfig{
			Enabled:           true,
			AutoReply:         true,
			Model:             "claude-sonnet-4-5",
			MaxTokens:         1024,
			ContextWindow:     10,
			MaxToolIterations: 5,
			ChatTimeoutSec:    5,
			ChannelTimeoutSec: 5,
		},
		Database: models.DatabaseConfig{Path: ":memory:"},
	}
}

// pipeline wires a full in-memory processing stack around mock model
// and channel clients.
type pipeline struct {
	db           *database.Database
	bus          *EventBus
	whatsApp     *mockWhatsApp
	model        *mockLLM
	registry     *tools.Registry
	watcher      *config.Watcher
	dispatcher   *Dispatcher
	orchestrator *Orchestrator
	processor    *Processor
	enqueuer     *stubEnqueuer
	gateway      *Gateway
}

func newPipeline(t *testing.T, cfg *models.Config) *pipeline {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	logger := quietLogger()
	bus := NewEventBus()
	wa := &mockWhatsApp{}
	model := &mockLLM{}
	watcher := config.NewStaticWatcher(cfg)

	registry := tools.NewRegistry(logger)
	registry.Register(tools.NewScheduleTool(db, time.UTC))
	registry.Register(tools.NewCancelTool(db))
	registry.Register(tools.NewLookupTool(db, time.UTC))
	registry.Register(tools.NewPracticeTool(db))

	dispatcher := NewDispatcher(wa, db, bus, logger)
	orchestrator := NewOrchestrator(db, model, registry, watcher, dispatcher, db, logger)
	processor := NewProcessor(orchestrator, dispatcher, db, watcher, logger)
	enqueuer := &stubEnqueuer{}
	gateway := NewGateway(db, enqueuer, processor, watcher, bus, logger)

	return &pipeline{
		db:           db,
		bus:          bus,
		whatsApp:     wa,
		model:        model,
		registry:     registry,
		watcher:      watcher,
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		processor:    processor,
		enqueuer:     enqueuer,
		gateway:      gateway,
	}
}

// seedInbound stores one inbound message and returns its payload.
func seedInbound(t *testing.T, db *database.Database, contact, externalID, content string) models.ProcessMessagePayload {
	t.Helper()
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, contact, nil)
	require.NoError(t, err)

	msg := &models.Message{
		ConversationID:    conv.ID,
		ExternalMessageID: externalID,
		AuthorType:        models.AuthorExternalContact,
		Content:           content,
		Timestamp:         time.Now().UTC(),
	}
	inserted, err := db.SaveInboundMessage(ctx, msg)
	require.NoError(t, err)
	require.True(t, inserted)

	return models.ProcessMessagePayload{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Source:         "whatsapp",
	}
}

func textResponse(content string) *llm.LLMResponse {
	return &llm.LLMResponse{Content: content, FinishReason: "stop"}
}

func toolCallResponse(id, name string, arguments map[string]interface{}) *llm.LLMResponse {
	return &llm.LLMResponse{
		FinishReason: "tool_calls",
		ToolCalls: []llm.ToolCall{
			{ID: id, Name: name, Arguments: arguments},
		},
	}
}
