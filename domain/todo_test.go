package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTodoFieldsValidate(t *testing.T) {
	tests := map[string]struct {
		fields  TodoFields
		wantErr string
	}{
		"valid":            {fields: TodoFields{Title: "Buy milk", Details: "2%", DueDate: "2024-01-01"}},
		"empty details ok": {fields: TodoFields{Title: "Buy milk", DueDate: "2024-01-01"}},
		"missing title":    {fields: TodoFields{DueDate: "2024-01-01"}, wantErr: "title"},
		"blank title":      {fields: TodoFields{Title: "   ", DueDate: "2024-01-01"}, wantErr: "title"},
		"missing due date": {fields: TodoFields{Title: "x"}, wantErr: "dueDate"},
		"bad due date":     {fields: TodoFields{Title: "x", DueDate: "01/02/2024"}, wantErr: "YYYY-MM-DD"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.fields.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTodo) {
				t.Fatalf("expected ErrInvalidTodo, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error to mention %q, got %q", tt.wantErr, err)
			}
		})
	}
}

func TestTodoMarshalKeepsEmptyDetails(t *testing.T) {
	payload, err := sonic.Marshal(Todo{ID: "t1", Title: "Title", DueDate: "2024-01-01"})
	if err != nil {
		t.Fatalf("marshal todo: %v", err)
	}
	if !strings.Contains(string(payload), `"details":""`) {
		t.Fatalf("expected details field to be present, got %s", payload)
	}
}
