package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Collection is the record store collection holding todos.
const Collection = "todos"

// Stored field names.
const (
	FieldTitle     = "title"
	FieldDetails   = "details"
	FieldDueDate   = "dueDate"
	FieldCreatedAt = "createdAt"
)

// DueDateLayout is the calendar date format used for due dates.
const DueDateLayout = "2006-01-02"

// ErrInvalidTodo is returned when a required todo field is missing or malformed.
var ErrInvalidTodo = errors.New("invalid todo")

// Todo is a single task record as mirrored from the store.
type Todo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Details   string    `json:"details"`
	DueDate   string    `json:"dueDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// TodoFields carries the user editable part of a todo.
type TodoFields struct {
	Title   string `json:"title"`
	Details string `json:"details"`
	DueDate string `json:"dueDate"`
}

// Fields returns the editable fields of t.
func (t Todo) Fields() TodoFields {
	return TodoFields{Title: t.Title, Details: t.Details, DueDate: t.DueDate}
}

// Validate checks the required fields. Details may be empty.
func (f TodoFields) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTodo)
	}
	if f.DueDate == "" {
		return fmt.Errorf("%w: dueDate is required", ErrInvalidTodo)
	}
	if _, err := time.Parse(DueDateLayout, f.DueDate); err != nil {
		return fmt.Errorf("%w: dueDate must be YYYY-MM-DD", ErrInvalidTodo)
	}
	return nil
}

// IsZero reports whether no field has been filled in.
func (f TodoFields) IsZero() bool {
	return f == TodoFields{}
}
