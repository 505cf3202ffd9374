package storage

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-app/domain"
)

// ErrNotFound is returned when an update targets a record that does not exist.
var ErrNotFound = errors.New("record not found")

// Fields holds the stored properties of a record.
type Fields map[string]any

// Record is a stored document keyed by its store-assigned ID.
type Record struct {
	ID     string
	Fields Fields
}

type serverTimestamp struct{}

// ServerTimestamp may be used as a field value on Create or Update. The client
// replaces it with the store time of the write.
var ServerTimestamp any = serverTimestamp{}

// Backend is the persistence contract implemented by the table and sqlite stores.
type Backend interface {
	Insert(ctx context.Context, collection, id string, fields Fields) error
	// Merge overwrites the given fields of an existing record, returning
	// ErrNotFound when it is missing.
	Merge(ctx context.Context, collection, id string, fields Fields) error
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, collection, id string) error
	Scan(ctx context.Context, collection string) ([]Record, error)
	Close() error
}

// Client is the record store client used by services. It writes through the
// backend, keeps the read cache coherent and publishes change notifications
// for live subscriptions.
type Client struct {
	backend  Backend
	store    Backend
	notifier Notifier
	sink     EventSink
	logger   *log.Logger
	now      func() time.Time
	closers  []io.Closer
}

// Option configures a Client.
type Option func(*Client)

// WithCache routes reads and writes through a read-through cache. Live
// subscriptions keep reading the backend directly.
func WithCache(c *Cache) Option {
	return func(cl *Client) {
		if c != nil {
			cl.store = c
		}
	}
}

// WithNotifier sets the change notifier. Defaults to an in-process Broker.
func WithNotifier(n Notifier) Option {
	return func(c *Client) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithEventSink forwards every change event to sink.
func WithEventSink(sink EventSink) Option {
	return func(c *Client) { c.sink = sink }
}

// WithLogger sets the logger used for non fatal notification failures.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the server timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCloser registers a resource closed together with the client.
func WithCloser(cl io.Closer) Option {
	return func(c *Client) {
		if cl != nil {
			c.closers = append(c.closers, cl)
		}
	}
}

// New creates a Client on top of backend.
func New(backend Backend, opts ...Option) *Client {
	if backend == nil {
		panic("storage.New: backend is nil")
	}
	c := &Client{
		backend: backend,
		store:   backend,
		logger:  log.StandardLogger(),
		now:     nextServerTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = NewBroker()
	}
	return c
}

// Create stores fields as a new record and returns its ID.
func (c *Client) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	id := uuid.NewString()
	if err := c.store.Insert(ctx, collection, id, c.resolve(fields)); err != nil {
		return "", err
	}
	c.changed(ctx, collection, id, domain.RecordCreated)
	return id, nil
}

// Update merges fields into the record with the given ID.
func (c *Client) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := c.store.Merge(ctx, collection, id, c.resolve(fields)); err != nil {
		return err
	}
	c.changed(ctx, collection, id, domain.RecordUpdated)
	return nil
}

// Delete removes the record with the given ID.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := c.store.Delete(ctx, collection, id); err != nil {
		return err
	}
	c.changed(ctx, collection, id, domain.RecordDeleted)
	return nil
}

// List returns the records of collection sorted by order. Records without the
// order field are left out.
func (c *Client) List(ctx context.Context, collection string, order Order) ([]Record, error) {
	recs, err := c.store.Scan(ctx, collection)
	if err != nil {
		return nil, err
	}
	return sortRecords(recs, order), nil
}

// Close releases the backend and any registered resources.
func (c *Client) Close() error {
	err := c.backend.Close()
	for _, cl := range c.closers {
		if cerr := cl.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (c *Client) snapshot(ctx context.Context, collection string, order Order) ([]Record, error) {
	recs, err := c.backend.Scan(ctx, collection)
	if err != nil {
		return nil, err
	}
	return sortRecords(recs, order), nil
}

func (c *Client) resolve(fields Fields) Fields {
	out := make(Fields, len(fields))
	var ts time.Time
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			if ts.IsZero() {
				ts = c.now().UTC()
			}
			out[k] = ts
			continue
		}
		out[k] = v
	}
	return out
}

func (c *Client) changed(ctx context.Context, collection, id, kind string) {
	ev := domain.Event{
		ID:         uuid.NewString(),
		Collection: collection,
		RecordID:   id,
		Type:       kind,
		Time:       time.Now().UnixNano(),
	}
	if err := c.notifier.Publish(ctx, ev); err != nil {
		c.logger.WithFields(log.Fields{"collection": collection, "record": id, "type": kind}).
			Warnf("publish change: %v", err)
	}
	if c.sink != nil {
		if err := c.sink.Emit(ctx, ev); err != nil {
			c.logger.WithFields(log.Fields{"collection": collection, "record": id, "type": kind}).
				Warnf("emit change event: %v", err)
		}
	}
}

var lastServerTime int64

// nextServerTime returns strictly increasing microsecond timestamps so records
// created by one process never share a creation time.
func nextServerTime() time.Time {
	for {
		now := time.Now().UnixMicro()
		last := atomic.LoadInt64(&lastServerTime)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastServerTime, last, now) {
			return time.UnixMicro(now).UTC()
		}
	}
}
