package todo

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"todo-app/domain"
	"todo-app/storage"
)

const tracerName = "todo-app/todo"

// Store is the subset of the record store client used by the service.
type Store interface {
	Create(ctx context.Context, collection string, fields storage.Fields) (string, error)
	Update(ctx context.Context, collection, id string, fields storage.Fields) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string, order storage.Order) ([]storage.Record, error)
	Subscribe(ctx context.Context, collection string, order storage.Order) (*storage.Subscription, error)
}

// Mirror is a locally held list of todos that can drop an item ahead of the
// next snapshot.
type Mirror interface {
	Remove(id string)
}

// newestFirst is the live query order of the todo list.
var newestFirst = storage.Order{Field: domain.FieldCreatedAt, Direction: storage.Descending}

// Service exposes the todo operations. Store failures are logged here and
// reported to callers as a false result.
type Service struct {
	store  Store
	logger *log.Logger
	tracer trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the provider used for operation spans. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewService creates a Service backed by store.
func NewService(store Store, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Service{store: store, logger: logger, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add creates a todo stamped with the store's creation time.
func (s *Service) Add(ctx context.Context, f domain.TodoFields) (string, bool) {
	ctx, span := s.tracer.Start(ctx, "todo.add")
	defer span.End()

	if err := f.Validate(); err != nil {
		s.fail(span, "add", "", err)
		return "", false
	}
	id, err := s.store.Create(ctx, domain.Collection, storage.Fields{
		domain.FieldTitle:     f.Title,
		domain.FieldDetails:   f.Details,
		domain.FieldDueDate:   f.DueDate,
		domain.FieldCreatedAt: storage.ServerTimestamp,
	})
	if err != nil {
		s.fail(span, "add", "", err)
		return "", false
	}
	span.SetAttributes(attribute.String("todo.id", id))
	s.logger.WithField("todo_id", id).Info("todo added")
	return id, true
}

// Update replaces the title, details and due date of an existing todo.
func (s *Service) Update(ctx context.Context, id string, f domain.TodoFields) bool {
	return s.Replace(ctx, id, f) == nil
}

// Replace is Update reporting why it failed. The error wraps
// domain.ErrInvalidTodo or storage.ErrNotFound where they apply.
func (s *Service) Replace(ctx context.Context, id string, f domain.TodoFields) error {
	ctx, span := s.tracer.Start(ctx, "todo.update", trace.WithAttributes(attribute.String("todo.id", id)))
	defer span.End()

	if err := f.Validate(); err != nil {
		s.fail(span, "update", id, err)
		return err
	}
	err := s.store.Update(ctx, domain.Collection, id, storage.Fields{
		domain.FieldTitle:   f.Title,
		domain.FieldDetails: f.Details,
		domain.FieldDueDate: f.DueDate,
	})
	if err != nil {
		s.fail(span, "update", id, err)
		return fmt.Errorf("update todo %s: %w", id, err)
	}
	s.logger.WithField("todo_id", id).Info("todo updated")
	return nil
}

// Delete removes a todo. On success the item is also dropped from mirror, if
// given, without waiting for the next snapshot.
func (s *Service) Delete(ctx context.Context, id string, mirror Mirror) bool {
	ctx, span := s.tracer.Start(ctx, "todo.delete", trace.WithAttributes(attribute.String("todo.id", id)))
	defer span.End()

	if err := s.store.Delete(ctx, domain.Collection, id); err != nil {
		s.fail(span, "delete", id, err)
		return false
	}
	if mirror != nil {
		mirror.Remove(id)
	}
	s.logger.WithField("todo_id", id).Info("todo deleted")
	return true
}

// List returns the current todos, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Todo, error) {
	ctx, span := s.tracer.Start(ctx, "todo.list")
	defer span.End()

	recs, err := s.store.List(ctx, domain.Collection, newestFirst)
	if err != nil {
		s.fail(span, "list", "", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("todo.count", len(recs)))
	return fromRecords(recs), nil
}

// Subscribe opens a live feed of the todo list, newest first.
func (s *Service) Subscribe(ctx context.Context) (*Feed, error) {
	_, span := s.tracer.Start(ctx, "todo.subscribe")
	defer span.End()

	sub, err := s.store.Subscribe(ctx, domain.Collection, newestFirst)
	if err != nil {
		s.fail(span, "subscribe", "", err)
		return nil, err
	}
	return newFeed(sub), nil
}

func (s *Service) fail(span trace.Span, op, id string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	fields := log.Fields{"op": op, "error": err.Error()}
	if id != "" {
		fields["todo_id"] = id
	}
	s.logger.WithFields(fields).Error("todo operation failed")
}

func fromRecords(recs []storage.Record) []domain.Todo {
	todos := make([]domain.Todo, 0, len(recs))
	for _, r := range recs {
		todos = append(todos, fromRecord(r))
	}
	return todos
}

func fromRecord(r storage.Record) domain.Todo {
	t := domain.Todo{ID: r.ID}
	t.Title, _ = r.Fields[domain.FieldTitle].(string)
	t.Details, _ = r.Fields[domain.FieldDetails].(string)
	t.DueDate, _ = r.Fields[domain.FieldDueDate].(string)
	t.CreatedAt, _ = r.Fields[domain.FieldCreatedAt].(time.Time)
	return t
}
