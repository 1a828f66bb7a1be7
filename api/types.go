package api

import (
	"context"

	"taskflow-api/domain"
)

// Tasks abstracts the task lifecycle service for handlers.
type Tasks interface {
	Create(ctx context.Context, actor domain.Actor, draft domain.TaskDraft) (*domain.TaskView, error)
	Get(ctx context.Context, actor domain.Actor, id string) (*domain.TaskView, error)
	List(ctx context.Context, actor domain.Actor, opts domain.ListOptions) (*domain.TaskPage, error)
	Update(ctx context.Context, actor domain.Actor, id string, patch domain.TaskPatch) (*domain.TaskView, error)
	ChangeStatus(ctx context.Context, actor domain.Actor, id string, status domain.Status) (*domain.TaskView, error)
	Delete(ctx context.Context, actor domain.Actor, id string) error
}

// Users abstracts the identity service for handlers.
type Users interface {
	List(ctx context.Context, actor domain.Actor) ([]domain.UserView, error)
	Create(ctx context.Context, actor domain.Actor, draft domain.UserDraft) (*domain.UserView, error)
	Delete(ctx context.Context, actor domain.Actor, id string) error
}

// Analytics abstracts the dashboard aggregation service for handlers.
type Analytics interface {
	DashboardStats(ctx context.Context, actor domain.Actor) (*domain.DashboardStats, error)
}

// Authenticator is implemented by types able to extract the calling actor
// from Authorization headers.
type Authenticator interface {
	ActorFromAuthHeader(string) (domain.Actor, error)
}

// envelope is the uniform response shape for every endpoint.
type envelope struct {
	Success bool                `json:"success"`
	Data    any                 `json:"data,omitempty"`
	Message string              `json:"message,omitempty"`
	Errors  []domain.FieldError `json:"errors,omitempty"`
}

func ok(data any) envelope {
	return envelope{Success: true, Data: data}
}

func okMessage(message string) envelope {
	return envelope{Success: true, Message: message}
}
