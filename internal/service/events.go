package service

import (
	"sync"
	"time"

	"wareply/internal/models"
)

// Event types pushed to websocket subscribers.
const (
	EventMessageReceived = "message.received"
	EventReplySent       = "reply.sent"
)

// Event is a notification about conversation activity.
type Event struct {
	Type           string          `json:"type"`
	ConversationID int64           `json:"conversationId"`
	Message        *models.Message `json:"message,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// EventBus fans conversation events out to subscribers. Delivery is
// best effort: a subscriber that stops draining loses events rather
// than blocking the pipeline.
type EventBus struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int64]chan Event)}
}

// Subscribe registers a new subscriber and returns its ID and channel.
func (b *EventBus) Subscribe() (int64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Event, 32)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// SubscriberCount reports how many subscribers are attached.
func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers an event to all subscribers without blocking.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
