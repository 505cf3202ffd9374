package todo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"todo-app/domain"
	"todo-app/storage"
)

// flakyBackend fails every call while fail is set, like an unreachable store.
type flakyBackend struct {
	storage.Backend
	fail atomic.Bool
}

var errUnavailable = errors.New("store unavailable")

func (f *flakyBackend) Insert(ctx context.Context, collection, id string, fields storage.Fields) error {
	if f.fail.Load() {
		return errUnavailable
	}
	return f.Backend.Insert(ctx, collection, id, fields)
}

func (f *flakyBackend) Merge(ctx context.Context, collection, id string, fields storage.Fields) error {
	if f.fail.Load() {
		return errUnavailable
	}
	return f.Backend.Merge(ctx, collection, id, fields)
}

func (f *flakyBackend) Delete(ctx context.Context, collection, id string) error {
	if f.fail.Load() {
		return errUnavailable
	}
	return f.Backend.Delete(ctx, collection, id)
}

type fixture struct {
	svc     *Service
	backend *flakyBackend
	hook    *test.Hook
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "todos.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	backend := &flakyBackend{Backend: db}
	client := storage.New(backend)
	t.Cleanup(func() { client.Close() })

	logger, hook := test.NewNullLogger()
	return fixture{svc: NewService(client, logger, opts...), backend: backend, hook: hook}
}

func nextTodos(t *testing.T, f *Feed) []domain.Todo {
	t.Helper()
	select {
	case todos, ok := <-f.C:
		if !ok {
			t.Fatal("feed closed")
		}
		return todos
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return nil
}

func waitTodos(t *testing.T, f *Feed, cond func([]domain.Todo) bool) []domain.Todo {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if todos := nextTodos(t, f); cond(todos) {
			return todos
		}
	}
	t.Fatal("condition not met before deadline")
	return nil
}

func TestAddAppearsAtHeadOfSubscribedList(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	if _, ok := fx.svc.Add(ctx, domain.TodoFields{Title: "Older", DueDate: "2023-12-31"}); !ok {
		t.Fatal("seed add failed")
	}

	feed, err := fx.svc.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer feed.Close()
	if todos := nextTodos(t, feed); len(todos) != 1 {
		t.Fatalf("expected 1 todo, got %d", len(todos))
	}

	id, ok := fx.svc.Add(ctx, domain.TodoFields{Title: "Buy milk", Details: "2%", DueDate: "2024-01-01"})
	if !ok || id == "" {
		t.Fatalf("add failed: id=%q ok=%v", id, ok)
	}
	todos := waitTodos(t, feed, func(ts []domain.Todo) bool { return len(ts) == 2 })
	head := todos[0]
	if head.ID != id || head.Title != "Buy milk" || head.Details != "2%" || head.DueDate != "2024-01-01" {
		t.Fatalf("unexpected head: %#v", head)
	}
	if head.CreatedAt.IsZero() {
		t.Fatal("expected createdAt to be set by the store")
	}
}

func TestSnapshotsOrderedNewestFirst(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	for _, title := range []string{"a", "b", "c", "d"} {
		if _, ok := fx.svc.Add(ctx, domain.TodoFields{Title: title, DueDate: "2024-01-01"}); !ok {
			t.Fatalf("add %s failed", title)
		}
	}
	todos, err := fx.svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(todos) != 4 {
		t.Fatalf("expected 4 todos, got %d", len(todos))
	}
	for i := 1; i < len(todos); i++ {
		if todos[i-1].CreatedAt.Before(todos[i].CreatedAt) {
			t.Fatalf("todo %d (%v) is older than todo %d (%v)", i-1, todos[i-1].CreatedAt, i, todos[i].CreatedAt)
		}
	}
	if todos[0].Title != "d" {
		t.Fatalf("expected newest first, got %q", todos[0].Title)
	}
}

func TestUpdateKeepsIdentityAndPosition(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	target, _ := fx.svc.Add(ctx, domain.TodoFields{Title: "target", Details: "d", DueDate: "2024-01-01"})
	fx.svc.Add(ctx, domain.TodoFields{Title: "newer", DueDate: "2024-01-02"})

	before, err := fx.svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !fx.svc.Update(ctx, target, domain.TodoFields{Title: "renamed", Details: "", DueDate: "2024-02-02"}) {
		t.Fatal("update failed")
	}
	after, err := fx.svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != 2 || after[1].ID != target {
		t.Fatalf("expected target to keep its position, got %#v", after)
	}
	got := after[1]
	if got.Title != "renamed" || got.Details != "" || got.DueDate != "2024-02-02" {
		t.Fatalf("unexpected fields: %#v", got)
	}
	if !got.CreatedAt.Equal(before[1].CreatedAt) {
		t.Fatalf("createdAt changed from %v to %v", before[1].CreatedAt, got.CreatedAt)
	}
}

func TestUpdateMissingTodoFails(t *testing.T) {
	fx := newFixture(t)
	if fx.svc.Update(context.Background(), "missing", domain.TodoFields{Title: "x", DueDate: "2024-01-01"}) {
		t.Fatal("expected update of missing todo to fail")
	}
	entry := fx.hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel || entry.Data["op"] != "update" || entry.Data["todo_id"] != "missing" {
		t.Fatalf("expected logged update failure, got %#v", entry)
	}
}

func TestReplaceReportsCause(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	err := fx.svc.Replace(ctx, "missing", domain.TodoFields{Title: "x", DueDate: "2024-01-01"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := fx.svc.Replace(ctx, "missing", domain.TodoFields{Title: "x"}); !errors.Is(err, domain.ErrInvalidTodo) {
		t.Fatalf("expected ErrInvalidTodo, got %v", err)
	}

	id, ok := fx.svc.Add(ctx, domain.TodoFields{Title: "x", DueDate: "2024-01-01"})
	if !ok {
		t.Fatal("add failed")
	}
	if err := fx.svc.Replace(ctx, id, domain.TodoFields{Title: "y", DueDate: "2024-01-02"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
}

type mirror struct {
	mu      sync.Mutex
	removed []string
}

func (m *mirror) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
}

func TestDeleteRemovesFromMirror(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id, _ := fx.svc.Add(ctx, domain.TodoFields{Title: "x", DueDate: "2024-01-01"})

	m := &mirror{}
	if !fx.svc.Delete(ctx, id, m) {
		t.Fatal("delete failed")
	}
	if len(m.removed) != 1 || m.removed[0] != id {
		t.Fatalf("expected mirror removal of %s, got %v", id, m.removed)
	}
	todos, _ := fx.svc.List(ctx)
	if len(todos) != 0 {
		t.Fatalf("expected empty list, got %#v", todos)
	}
}

func TestDeleteFailureKeepsMirror(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id, _ := fx.svc.Add(ctx, domain.TodoFields{Title: "x", DueDate: "2024-01-01"})

	fx.backend.fail.Store(true)
	m := &mirror{}
	if fx.svc.Delete(ctx, id, m) {
		t.Fatal("expected delete to fail")
	}
	if len(m.removed) != 0 {
		t.Fatalf("mirror must not change on failure, got %v", m.removed)
	}
	if entry := fx.hook.LastEntry(); entry == nil || entry.Data["op"] != "delete" {
		t.Fatalf("expected logged delete failure, got %#v", entry)
	}
}

func TestAddFailureIsLoggedAndReported(t *testing.T) {
	fx := newFixture(t)
	fx.backend.fail.Store(true)

	id, ok := fx.svc.Add(context.Background(), domain.TodoFields{Title: "x", DueDate: "2024-01-01"})
	if ok || id != "" {
		t.Fatalf("expected failure, got id=%q ok=%v", id, ok)
	}
	entry := fx.hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error log entry, got %#v", entry)
	}
	if entry.Data["op"] != "add" || entry.Data["error"] != errUnavailable.Error() {
		t.Fatalf("unexpected log fields: %#v", entry.Data)
	}
}

func TestAddRejectsMissingRequiredFields(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	if _, ok := fx.svc.Add(ctx, domain.TodoFields{Details: "no title", DueDate: "2024-01-01"}); ok {
		t.Fatal("expected missing title to be rejected")
	}
	if _, ok := fx.svc.Add(ctx, domain.TodoFields{Title: "no date"}); ok {
		t.Fatal("expected missing due date to be rejected")
	}
	todos, _ := fx.svc.List(ctx)
	if len(todos) != 0 {
		t.Fatalf("nothing should be stored, got %#v", todos)
	}
}

func TestFeedCloseEndsStream(t *testing.T) {
	fx := newFixture(t)
	feed, err := fx.svc.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	feed.Close()
	feed.Close()
	for range feed.C {
	}
}

func TestOperationsRecordSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := context.Background()
	fx := newFixture(t, WithTracerProvider(tp))
	id, _ := fx.svc.Add(ctx, domain.TodoFields{Title: "x", DueDate: "2024-01-01"})
	fx.backend.fail.Store(true)
	fx.svc.Delete(ctx, id, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "todo.add" || spans[0].Status.Code == codes.Error {
		t.Fatalf("unexpected add span: %s %v", spans[0].Name, spans[0].Status)
	}
	if spans[1].Name != "todo.delete" || spans[1].Status.Code != codes.Error {
		t.Fatalf("unexpected delete span: %s %v", spans[1].Name, spans[1].Status)
	}
}
