package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task event types published on mutations for downstream consumers.
const (
	EventTaskCreated       = "task-created"
	EventTaskStatusChanged = "task-status-changed"
	EventTaskDeleted       = "task-deleted"
)

// TaskEvent is the envelope published to the task-events queue.
type TaskEvent struct {
	Type    string    `json:"type"`
	TaskID  string    `json:"taskId"`
	ActorID string    `json:"actorId"`
	Status  Status    `json:"status,omitempty"`
	At      time.Time `json:"at"`
}

// EventPublisher delivers task events to an external queue. Publishing is
// fire-and-forget from the engine's perspective; failures never fail the
// mutation that produced the event.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, ev TaskEvent) error
}

func newID() string { return uuid.NewString() }
