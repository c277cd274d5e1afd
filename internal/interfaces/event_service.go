package interfaces

import (
	"context"
	"time"
)

// EventType identifies job lifecycle events published to subscribers
type EventType string

const (
	EventJobCreated   EventType = "job_created"
	EventJobStarted   EventType = "job_started"
	EventJobProgress  EventType = "job_progress"
	EventJobLog       EventType = "job_log"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
)

// IsTerminal reports whether the event ends a job's event stream.
func (t EventType) IsTerminal() bool {
	return t == EventJobCompleted || t == EventJobFailed || t == EventJobCancelled
}

// Event is a job lifecycle notification. Events are advisory: durable state
// lives in storage and subscribers that lag may miss events.
type Event struct {
	Type      EventType              `json:"type"`
	JobID     string                 `json:"job_id"`
	Kind      string                 `json:"model_type,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event Event) error

// EventService provides pub/sub for job lifecycle events. Handler
// subscriptions receive every event of a type; stream subscriptions
// receive buffered per-job or per-kind feeds for WebSocket clients.
type EventService interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish sends an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync sends an event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// SubscribeJob opens a buffered event stream scoped to one job. The
	// stream carries no events published before the call, drops events when
	// the buffer is full, and is closed after the job's terminal event.
	// The returned func cancels the subscription.
	SubscribeJob(jobID string, buffer int) (<-chan Event, func())

	// SubscribeKind opens a buffered event stream for all jobs of a kind.
	SubscribeKind(kind string, buffer int) (<-chan Event, func())

	// SubscribeAll opens a buffered event stream for every job event.
	SubscribeAll(buffer int) (<-chan Event, func())

	// Close shuts down the event service and closes all streams
	Close() error
}
