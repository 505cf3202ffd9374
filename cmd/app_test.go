package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"

	"todo-app/config"
	"todo-app/domain"
	"todo-app/todo"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "todos.db"))
	c, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return c
}

func TestOpenAppSQLite(t *testing.T) {
	c := loadConfig(t)
	logger, _ := test.NewNullLogger()
	a, err := openApp(context.Background(), c, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.redis != nil {
		t.Fatal("redis should stay off without a connection string")
	}

	svc := todo.NewService(a.store, logger)
	if _, ok := svc.Add(context.Background(), domain.TodoFields{Title: "x", DueDate: "2024-01-01"}); !ok {
		t.Fatal("add failed")
	}
	todos, err := svc.List(context.Background())
	if err != nil || len(todos) != 1 {
		t.Fatalf("unexpected todos %#v: %v", todos, err)
	}
}

func TestOpenAppWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_CONNECTION_STRING", mr.Addr())
	c := loadConfig(t)

	logger, _ := test.NewNullLogger()
	a, err := openApp(context.Background(), c, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.redis == nil {
		t.Fatal("expected a redis client")
	}

	svc := todo.NewService(a.store, logger)
	if _, ok := svc.Add(context.Background(), domain.TodoFields{Title: "x", DueDate: "2024-01-01"}); !ok {
		t.Fatal("add failed")
	}
	if _, err := svc.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mr.Keys()) == 0 {
		t.Fatal("expected the list to be cached in redis")
	}
}

func TestOpenAppRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	t.Setenv("REDIS_CONNECTION_STRING", addr)
	c := loadConfig(t)

	logger, _ := test.NewNullLogger()
	if _, err := openApp(context.Background(), c, logger); err == nil {
		t.Fatal("expected an error for an unreachable redis")
	}
}
