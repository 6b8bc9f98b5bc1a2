package models

import (
	"encoding/json"
	"time"
)

// JobState tracks a job through the queue lifecycle.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateDelayed   JobState = "delayed"
)

// Job is a unit of deferred work placed on a named queue.
type Job struct {
	ID          string          `json:"id"`
	QueueName   string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	State       JobState        `json:"state"`
	LastError   string          `json:"lastError,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// QueueStatus holds per-state job counts for one queue.
type QueueStatus struct {
	Name      string `json:"name"`
	Paused    bool   `json:"paused"`
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Delayed   int    `json:"delayed"`
}

// QueueMetrics aggregates status across all queues.
type QueueMetrics struct {
	Queues      map[string]QueueStatus `json:"queues"`
	TotalJobs   int64                  `json:"totalJobs"`
	SuccessRate float64                `json:"successRate"`
	FailureRate float64                `json:"failureRate"`
}

// QueueHealth reports overall queue system health.
type QueueHealth struct {
	Healthy bool                   `json:"healthy"`
	Queues  map[string]QueueDetail `json:"queues"`
}

// QueueDetail is the per-queue portion of a health report.
type QueueDetail struct {
	Paused      bool `json:"paused"`
	Workers     int  `json:"workers"`
	WorkersLive int  `json:"workersLive"`
	Waiting     int  `json:"waiting"`
	Active      int  `json:"active"`
}

// ProcessMessagePayload is the payload of a process-message job.
type ProcessMessagePayload struct {
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	Source         string `json:"source"`
}
