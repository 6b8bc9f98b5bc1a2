package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"wareply/internal/config"
	"wareply/internal/constants"
	"wareply/internal/database"
	"wareply/internal/metrics"
	"wareply/internal/middleware"
	"wareply/internal/models"
	"wareply/internal/service"
	"wareply/pkg/whatsapp"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxWebhookBodyBytes = 1 << 20

// queueController is the slice of the queue manager the admin API needs.
type queueController interface {
	Add(ctx context.Context, queueName, jobType string, payload interface{}) (*models.Job, error)
	Pause(queueName string) error
	Resume(queueName string) error
	Clean(queueName string, state models.JobState, olderThan time.Duration) (int, error)
	PauseAll()
	ResumeAll()
	CleanAll(state models.JobState, olderThan time.Duration) (int, error)
	Status(queueName string) (*models.QueueStatus, error)
	Metrics() *models.QueueMetrics
	Health() *models.QueueHealth
}

type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *config.Watcher
	gateway    *service.Gateway
	dispatcher *service.Dispatcher
	db         *database.Database
	queues     queueController
	bus        *service.EventBus
	server     *http.Server
}

func NewServer(cfg *config.Watcher, gateway *service.Gateway, dispatcher *service.Dispatcher, db *database.Database, queues queueController, bus *service.EventBus, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		gateway:    gateway,
		dispatcher: dispatcher,
		db:         db,
		queues:     queues,
		bus:        bus,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook/whatsapp").Subrouter()
	webhook.Use(middleware.WebhookObservability(s.logger, "whatsapp"))
	webhook.HandleFunc("", s.handleWebhookVerification()).Methods(http.MethodGet)
	webhook.HandleFunc("", s.handleWebhookIngest()).Methods(http.MethodPost)

	adminToken := func() string { return s.cfg.Snapshot().Server.AdminToken }

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(middleware.BearerAuth(adminToken, s.logger))
	api.HandleFunc("/conversations", s.handleListConversations()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id:[0-9]+}/reply", s.handleManualReply()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}/read", s.handleMarkRead()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}/assign", s.handleAssign()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}", s.handleDeleteConversation()).Methods(http.MethodDelete)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.BearerAuth(adminToken, s.logger))
	admin.HandleFunc("/queues/health", s.handleQueueHealth()).Methods(http.MethodGet)
	admin.HandleFunc("/queues/pause", s.handlePauseAll()).Methods(http.MethodPost)
	admin.HandleFunc("/queues/resume", s.handleResumeAll()).Methods(http.MethodPost)
	admin.HandleFunc("/queues/clean", s.handleCleanAll()).Methods(http.MethodPost)
	admin.HandleFunc("/queues/{name}/status", s.handleQueueStatus()).Methods(http.MethodGet)
	admin.HandleFunc("/queues/{name}/pause", s.handleQueuePause()).Methods(http.MethodPost)
	admin.HandleFunc("/queues/{name}/resume", s.handleQueueResume()).Methods(http.MethodPost)
	admin.HandleFunc("/queues/{name}/clean", s.handleQueueClean()).Methods(http.MethodPost)
	admin.HandleFunc("/queues/{name}/jobs", s.handleSubmitJob()).Methods(http.MethodPost)

	ws := s.router.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.BearerAuth(adminToken, s.logger))
	ws.HandleFunc("/events", s.handleEventStream()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	serverCfg := s.cfg.Snapshot().Server

	port := serverCfg.Port
	if port <= 0 {
		port = constants.DefaultServerPort
	}
	readTimeout := serverCfg.ReadTimeoutSec
	if readTimeout <= 0 {
		readTimeout = constants.DefaultServerReadTimeoutSec
	}
	writeTimeout := serverCfg.WriteTimeoutSec
	if writeTimeout <= 0 {
		writeTimeout = constants.DefaultServerWriteTimeout
	}
	idleTimeout := serverCfg.IdleTimeoutSec
	if idleTimeout <= 0 {
		idleTimeout = constants.DefaultServerIdleTimeoutSec
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  time.Duration(idleTimeout) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := s.queues.Health()

		status := http.StatusOK
		statusText := "ok"
		if !health.Healthy {
			status = http.StatusServiceUnavailable
			statusText = "degraded"
		}

		writeJSON(w, status, map[string]interface{}{
			"status": statusText,
			"queues": health.Queues,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"metrics": metrics.GetAllMetrics(),
			"queues":  s.queues.Metrics(),
		})
	}
}

// handleWebhookVerification answers the channel provider's subscription
// handshake by echoing the challenge.
func (s *Server) handleWebhookVerification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		challenge, ok := s.gateway.HandleVerification(
			query.Get("hub.mode"),
			query.Get("hub.verify_token"),
			query.Get("hub.challenge"),
		)
		if !ok {
			http.Error(w, "verification failed", http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
	}
}

// handleWebhookIngest accepts an inbound event batch. It always answers
// 200 for parseable payloads so the provider does not redeliver a batch
// we have already recorded.
func (s *Server) handleWebhookIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

		var payload whatsapp.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.logger.WithError(err).Warn("Failed to decode webhook payload")
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		s.gateway.IngestWebhook(r.Context(), &payload)
		w.WriteHeader(http.StatusOK)
	}
}

type conversationResponse struct {
	ID                int64     `json:"id"`
	ContactIdentifier string    `json:"contactIdentifier"`
	ContactName       *string   `json:"contactName,omitempty"`
	AssignedAgentRef  *string   `json:"assignedAgentRef,omitempty"`
	LastMessageAt     time.Time `json:"lastMessageAt"`
	LastMessageText   string    `json:"lastMessageText"`
	UnreadCount       int64     `json:"unreadCount"`
}

type messageResponse struct {
	ID                int64             `json:"id"`
	ExternalMessageID string            `json:"externalMessageId"`
	AuthorType        models.AuthorType `json:"authorType"`
	Content           string            `json:"content"`
	MediaRef          *string           `json:"mediaRef,omitempty"`
	Processed         bool              `json:"processed"`
	AIReplyText       *string           `json:"aiReplyText,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		conversations, err := s.db.ListConversations(r.Context(), limit, offset)
		if err != nil {
			s.logger.WithError(err).Error("Failed to list conversations")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]conversationResponse, 0, len(conversations))
		for _, conv := range conversations {
			out = append(out, conversationResponse{
				ID:                conv.ID,
				ContactIdentifier: conv.ContactIdentifier,
				ContactName:       conv.ContactName,
				AssignedAgentRef:  conv.AssignedAgentRef,
				LastMessageAt:     conv.LastMessageAt,
				LastMessageText:   conv.LastMessageText,
				UnreadCount:       conv.UnreadCount,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": out})
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.loadConversation(w, r)
		if !ok {
			return
		}

		limit := queryInt(r, "limit", 50)
		messages, err := s.db.GetRecentMessages(r.Context(), conv.ID, limit)
		if err != nil {
			s.logger.WithError(err).Error("Failed to list messages")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]messageResponse, 0, len(messages))
		for _, msg := range messages {
			out = append(out, messageResponse{
				ID:                msg.ID,
				ExternalMessageID: msg.ExternalMessageID,
				AuthorType:        msg.AuthorType,
				Content:           msg.Content,
				MediaRef:          msg.MediaRef,
				Processed:         msg.Processed,
				AIReplyText:       msg.AIReplyText,
				Timestamp:         msg.Timestamp,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
	}
}

// handleManualReply lets a human agent answer through the same dispatch
// path the model uses. Replying also clears the unread counter.
func (s *Server) handleManualReply() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.loadConversation(w, r)
		if !ok {
			return
		}

		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}

		msg, err := s.dispatcher.SendReply(r.Context(), conv, body.Text, models.AuthorHumanAgent)
		if err != nil {
			s.logger.WithError(err).Error("Failed to send manual reply")
			http.Error(w, "failed to send reply", http.StatusBadGateway)
			return
		}

		if err := s.db.MarkConversationRead(r.Context(), conv.ID); err != nil {
			s.logger.WithError(err).Warn("Failed to mark conversation read after reply")
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messageId":         msg.ID,
			"externalMessageId": msg.ExternalMessageID,
		})
	}
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.loadConversation(w, r)
		if !ok {
			return
		}
		if err := s.db.MarkConversationRead(r.Context(), conv.ID); err != nil {
			s.logger.WithError(err).Error("Failed to mark conversation read")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAssign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.loadConversation(w, r)
		if !ok {
			return
		}

		var body struct {
			AgentRef *string `json:"agentRef"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		if err := s.db.AssignConversation(r.Context(), conv.ID, body.AgentRef); err != nil {
			s.logger.WithError(err).Error("Failed to assign conversation")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, ok := s.loadConversation(w, r)
		if !ok {
			return
		}
		if err := s.db.DeleteConversation(r.Context(), conv.ID); err != nil {
			s.logger.WithError(err).Error("Failed to delete conversation")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleQueueHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.queues.Health())
	}
}

func (s *Server) handleQueueStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.queues.Status(mux.Vars(r)["name"])
		if err != nil {
			http.Error(w, "queue not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleQueuePause() http.HandlerFunc {
	return s.queueAction("paused", s.queues.Pause)
}

func (s *Server) handleQueueResume() http.HandlerFunc {
	return s.queueAction("resumed", s.queues.Resume)
}

// handleQueueClean purges a queue's terminal job history, optionally
// narrowed by job state and finish age.
func (s *Server) handleQueueClean() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		state, olderThan, err := cleanParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		removed, err := s.queues.Clean(name, state, olderThan)
		if err != nil {
			http.Error(w, "queue not found", http.StatusNotFound)
			return
		}
		s.logger.WithField("queue", name).WithField("removed", removed).
			Info("Queue cleaned via admin API")
		writeJSON(w, http.StatusOK, map[string]interface{}{"queue": name, "removed": removed})
	}
}

func (s *Server) handlePauseAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.queues.PauseAll()
		s.logger.Info("All queues paused via admin API")
		writeJSON(w, http.StatusOK, map[string]string{"queue": "all", "result": "paused"})
	}
}

func (s *Server) handleResumeAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.queues.ResumeAll()
		s.logger.Info("All queues resumed via admin API")
		writeJSON(w, http.StatusOK, map[string]string{"queue": "all", "result": "resumed"})
	}
}

func (s *Server) handleCleanAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, olderThan, err := cleanParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		removed, err := s.queues.CleanAll(state, olderThan)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.WithField("removed", removed).Info("All queues cleaned via admin API")
		writeJSON(w, http.StatusOK, map[string]interface{}{"queue": "all", "removed": removed})
	}
}

// cleanParams reads the optional state and olderThanMs query filters.
func cleanParams(r *http.Request) (models.JobState, time.Duration, error) {
	state := models.JobState(r.URL.Query().Get("state"))
	switch state {
	case "", models.JobStateCompleted, models.JobStateFailed:
	default:
		return "", 0, fmt.Errorf("state must be completed or failed")
	}
	olderThan := time.Duration(queryInt(r, "olderThanMs", 0)) * time.Millisecond
	return state, olderThan, nil
}

func (s *Server) queueAction(verb string, action func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if err := action(name); err != nil {
			http.Error(w, "queue not found", http.StatusNotFound)
			return
		}
		s.logger.WithField("queue", name).Infof("Queue %s via admin API", verb)
		writeJSON(w, http.StatusOK, map[string]string{"queue": name, "result": verb})
	}
}

// handleSubmitJob lets an operator push a synthetic job, mostly to
// verify a queue is draining after an incident.
func (s *Server) handleSubmitJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Type == "" {
			http.Error(w, "type is required", http.StatusBadRequest)
			return
		}

		job, err := s.queues.Add(r.Context(), mux.Vars(r)["name"], body.Type, body.Payload)
		if err != nil {
			http.Error(w, "failed to enqueue job", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
	}
}

// handleEventStream pushes pipeline events to a websocket client so an
// agent console can update live.
func (s *Server) handleEventStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept websocket connection")
			return
		}
		defer conn.Close(websocket.StatusInternalError, "stream closed")

		subID, events := s.bus.Subscribe()
		defer s.bus.Unsubscribe(subID)

		// CloseRead cancels the context when the peer disconnects
		ctx := conn.CloseRead(r.Context())

		s.logger.WithField("subscriber", subID).Debug("Event stream client connected")

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case event, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "")
					return
				}
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(writeCtx, conn, event)
				cancel()
				if err != nil {
					s.logger.WithError(err).Debug("Event stream write failed, dropping client")
					return
				}
			}
		}
	}
}

// loadConversation resolves the {id} path variable. It writes the error
// response itself and returns ok=false when the conversation is missing.
func (s *Server) loadConversation(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return nil, false
	}

	conv, err := s.db.GetConversation(r.Context(), id)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load conversation")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if conv == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return nil, false
	}
	return conv, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
