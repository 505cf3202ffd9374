package todo

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"todo-app/domain"
)

func countingHub(fx fixture) (*Hub, *atomic.Int32) {
	hub := NewHub(fx.svc)
	var opened atomic.Int32
	hub.source = func(ctx context.Context) (*Feed, error) {
		opened.Add(1)
		return fx.svc.Subscribe(ctx)
	}
	return hub, &opened
}

func TestHubSharesOneUpstream(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	hub, opened := countingHub(fx)

	feeds := make([]*Feed, 5)
	for i := range feeds {
		f, err := hub.Subscribe(ctx)
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		defer f.Close()
		feeds[i] = f
	}
	if n := opened.Load(); n != 1 {
		t.Fatalf("expected one upstream subscription, got %d", n)
	}
	if n := hub.Subscribers(); n != 5 {
		t.Fatalf("expected 5 subscribers, got %d", n)
	}

	if _, ok := hub.Add(ctx, domain.TodoFields{Title: "shared", DueDate: "2024-01-01"}); !ok {
		t.Fatal("add failed")
	}
	for i, f := range feeds {
		todos := waitTodos(t, f, func(todos []domain.Todo) bool { return len(todos) == 1 })
		if todos[0].Title != "shared" {
			t.Fatalf("feed %d: unexpected todo %#v", i, todos[0])
		}
	}
}

func TestHubLateSubscriberGetsLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	if _, ok := fx.svc.Add(ctx, domain.TodoFields{Title: "x", DueDate: "2024-01-01"}); !ok {
		t.Fatal("seed add failed")
	}
	hub := NewHub(fx.svc)

	first, err := hub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer first.Close()
	nextTodos(t, first)

	late, err := hub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer late.Close()
	select {
	case todos := <-late.C:
		if len(todos) != 1 {
			t.Fatalf("expected the cached snapshot, got %#v", todos)
		}
	default:
		t.Fatal("late subscriber should start with the latest snapshot")
	}
}

func TestHubReleasesUpstreamWithLastFeed(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	hub, opened := countingHub(fx)

	a, _ := hub.Subscribe(ctx)
	b, _ := hub.Subscribe(ctx)
	a.Close()
	a.Close()
	for range a.C {
		// a closed feed drains and ends
	}
	if hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber left, got %d", hub.Subscribers())
	}
	b.Close()
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Subscribers())
	}

	c, err := hub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	defer c.Close()
	if n := opened.Load(); n != 2 {
		t.Fatalf("expected the upstream to reopen, got %d opens", n)
	}
	nextTodos(t, c)
}

func TestHubUpstreamOutlivesSubscribeContext(t *testing.T) {
	fx := newFixture(t)
	hub := NewHub(fx.svc)

	ctx, cancel := context.WithCancel(context.Background())
	f, err := hub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer f.Close()
	nextTodos(t, f)
	cancel()

	time.Sleep(20 * time.Millisecond)
	if _, ok := fx.svc.Add(context.Background(), domain.TodoFields{Title: "after", DueDate: "2024-01-01"}); !ok {
		t.Fatal("add failed")
	}
	waitTodos(t, f, func(todos []domain.Todo) bool { return len(todos) == 1 })
}
