package api

import (
	"context"

	"todo-app/domain"
	"todo-app/todo"
)

// TodoService is the todo API used by the handlers.
type TodoService interface {
	Add(ctx context.Context, f domain.TodoFields) (string, bool)
	Replace(ctx context.Context, id string, f domain.TodoFields) error
	Delete(ctx context.Context, id string, mirror todo.Mirror) bool
	List(ctx context.Context) ([]domain.Todo, error)
	Subscribe(ctx context.Context) (*todo.Feed, error)
}

// Deduper prevents a create from being processed twice.
type Deduper interface {
	// Claim reserves key. If it is already held, Claim returns false and the
	// id created under it, or "" while that create is in flight.
	Claim(ctx context.Context, key string) (claimed bool, id string, err error)
	// Complete records the id created under a claimed key.
	Complete(ctx context.Context, key, id string) error
	// Release frees a claimed key after a failed create.
	Release(ctx context.Context, key string) error
}

type todosResponse struct {
	Todos []domain.Todo `json:"todos"`
}

type createResponse struct {
	ID string `json:"id"`
}

type todoRequest struct {
	Title   string `json:"title"`
	Details string `json:"details"`
	DueDate string `json:"dueDate"`
}

func (r todoRequest) fields() domain.TodoFields {
	return domain.TodoFields{Title: r.Title, Details: r.Details, DueDate: r.DueDate}
}
