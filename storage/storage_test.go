package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"todo-app/domain"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "todos.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Emit(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

type failingNotifier struct{ Broker }

func (*failingNotifier) Publish(context.Context, domain.Event) error {
	return errors.New("redis down")
}

var byCreatedDesc = Order{Field: "createdAt", Direction: Descending}

func TestClientCreateResolvesServerTimestamp(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(openTestSQLite(t), WithClock(func() time.Time { return fixed }))

	id, err := c.Create(ctx, "todos", Fields{"title": "Buy milk", "createdAt": ServerTimestamp})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("expected a record id")
	}
	recs, err := c.List(ctx, "todos", byCreatedDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != id {
		t.Fatalf("unexpected records: %#v", recs)
	}
	got, ok := recs[0].Fields["createdAt"].(time.Time)
	if !ok || !got.Equal(fixed) {
		t.Fatalf("expected createdAt %v, got %#v", fixed, recs[0].Fields["createdAt"])
	}
	if recs[0].Fields["title"] != "Buy milk" {
		t.Fatalf("unexpected title: %#v", recs[0].Fields["title"])
	}
}

func TestClientListOrdersByCreatedAtDescending(t *testing.T) {
	ctx := context.Background()
	c := New(openTestSQLite(t))

	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		id, err := c.Create(ctx, "todos", Fields{"title": title, "createdAt": ServerTimestamp})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		ids = append(ids, id)
	}
	recs, err := c.List(ctx, "todos", byCreatedDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		if recs[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, recs[i].ID)
		}
	}
}

func TestClientUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	c := New(openTestSQLite(t))

	id, err := c.Create(ctx, "todos", Fields{"title": "old", "details": "keep", "createdAt": ServerTimestamp})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := c.List(ctx, "todos", byCreatedDesc)

	if err := c.Update(ctx, "todos", id, Fields{"title": "new"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	after, err := c.List(ctx, "todos", byCreatedDesc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if after[0].Fields["title"] != "new" || after[0].Fields["details"] != "keep" {
		t.Fatalf("unexpected fields after update: %#v", after[0].Fields)
	}
	if !after[0].Fields["createdAt"].(time.Time).Equal(before[0].Fields["createdAt"].(time.Time)) {
		t.Fatalf("createdAt changed: %v -> %v", before[0].Fields["createdAt"], after[0].Fields["createdAt"])
	}
}

func TestClientUpdateMissingRecord(t *testing.T) {
	c := New(openTestSQLite(t))
	err := c.Update(context.Background(), "todos", "missing", Fields{"title": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientDeleteMissingRecordSucceeds(t *testing.T) {
	c := New(openTestSQLite(t))
	if err := c.Delete(context.Background(), "todos", "missing"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestClientEmitsChangeEvents(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	c := New(openTestSQLite(t), WithEventSink(sink))

	id, err := c.Create(ctx, "todos", Fields{"title": "a", "createdAt": ServerTimestamp})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.Update(ctx, "todos", id, Fields{"title": "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Delete(ctx, "todos", id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	events := sink.Events()
	want := []string{domain.RecordCreated, domain.RecordUpdated, domain.RecordDeleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Type != want[i] || ev.RecordID != id || ev.Collection != "todos" || ev.ID == "" {
			t.Fatalf("unexpected event %d: %#v", i, ev)
		}
	}
}

func TestClientNotificationFailureDoesNotFailWrite(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := New(openTestSQLite(t),
		WithNotifier(&failingNotifier{}),
		WithEventSink(&recordingSink{err: errors.New("queue down")}),
		WithLogger(logger))

	if _, err := c.Create(context.Background(), "todos", Fields{"title": "a"}); err != nil {
		t.Fatalf("create should succeed, got %v", err)
	}
	if len(hook.AllEntries()) != 2 {
		t.Fatalf("expected two warnings, got %d", len(hook.AllEntries()))
	}
	if entry := hook.LastEntry(); entry.Data["type"] != domain.RecordCreated {
		t.Fatalf("unexpected log fields: %#v", entry.Data)
	}
}
