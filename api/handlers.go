package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-app/domain"
	"todo-app/storage"
)

// HeaderIdempotencyKey names the request header used to dedupe creates.
const HeaderIdempotencyKey = "Idempotency-Key"

const healthTimeout = 2 * time.Second

// Register wires up all API routes on the provided Echo instance. deduper may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, svc TodoService, deduper Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.JSONSerializer = SonicSerializer{}

	e.GET("/api/todos", getTodos(svc, logger))
	e.POST("/api/todos", postTodo(svc, deduper))
	e.PUT("/api/todos/:id", putTodo(svc))
	e.DELETE("/api/todos/:id", deleteTodo(svc))
	e.GET("/api/todos/stream", streamTodos(svc, logger))
	e.GET("/api/todos/ws", socketTodos(svc, logger))
	e.GET("/healthz", healthz(svc))
}

func healthz(svc TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if _, err := svc.List(ctx); err != nil {
			return c.String(http.StatusServiceUnavailable, "store unavailable")
		}
		return c.NoContent(http.StatusOK)
	}
}

func getTodos(svc TodoService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := startListMetrics(logger)
		defer func() {
			metrics.log(c.Response().Status, err)
		}()

		fetchStart := time.Now()
		todos, fetchErr := svc.List(c.Request().Context())
		metrics.fetched(time.Since(fetchStart), len(todos))
		if fetchErr != nil {
			metrics.failed("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, "failed to list todos")
			return err
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, todosResponse{Todos: todos})
		metrics.encoded(time.Since(encodeStart))
		if err != nil {
			metrics.failed("encode_response")
		}
		return err
	}
}

func bindTodo(c echo.Context) (domain.TodoFields, error) {
	var req todoRequest
	if err := c.Bind(&req); err != nil {
		return domain.TodoFields{}, echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	f := req.fields()
	if err := f.Validate(); err != nil {
		return f, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return f, nil
}

func postTodo(svc TodoService, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := bindTodo(c)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()

		key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
		dedupe := deduper != nil && key != ""
		if dedupe {
			claimed, prior, err := deduper.Claim(ctx, key)
			if err != nil {
				c.Logger().Errorf("dedupe %s: %v", key, err)
				return c.String(http.StatusInternalServerError, "failed to check idempotency key")
			}
			if !claimed {
				if prior != "" {
					return c.JSON(http.StatusConflict, createResponse{ID: prior})
				}
				return c.String(http.StatusConflict, "duplicate request")
			}
		}

		id, ok := svc.Add(ctx, f)
		if !ok {
			if dedupe {
				if err := deduper.Release(ctx, key); err != nil {
					c.Logger().Errorf("release idempotency key %s: %v", key, err)
				}
			}
			return c.String(http.StatusInternalServerError, "failed to add todo")
		}
		if dedupe {
			if err := deduper.Complete(ctx, key, id); err != nil {
				c.Logger().Errorf("complete idempotency key %s: %v", key, err)
			}
		}
		return c.JSON(http.StatusCreated, createResponse{ID: id})
	}
}

func putTodo(svc TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := bindTodo(c)
		if err != nil {
			return err
		}
		err = svc.Replace(c.Request().Context(), c.Param("id"), f)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return c.String(http.StatusNotFound, "todo not found")
		case errors.Is(err, domain.ErrInvalidTodo):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case err != nil:
			return c.String(http.StatusInternalServerError, "failed to update todo")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTodo(svc TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !svc.Delete(c.Request().Context(), c.Param("id"), nil) {
			return c.String(http.StatusInternalServerError, "failed to delete todo")
		}
		return c.NoContent(http.StatusNoContent)
	}
}
